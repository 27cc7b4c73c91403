package hptdc

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	BadMagic ErrorKind = iota
	UnknownMode
	CorruptTable
	NoAlignment
	CorruptStepTable
	CorruptParamBlock
	EmptyStep
)

var errorKindStrings = []string{
	"BadMagic",
	"UnknownMode",
	"CorruptTable",
	"NoAlignment",
	"CorruptStepTable",
	"CorruptParamBlock",
	"EmptyStep",
}

func (k ErrorKind) String() string {
	if k < BadMagic || k > EmptyStep {
		return "Unknown"
	}
	return errorKindStrings[k]
}

// Fatal reports whether an anomaly of this kind aborts the current file.
func (k ErrorKind) Fatal() bool {
	switch k {
	case BadMagic, UnknownMode, NoAlignment, CorruptStepTable:
		return true
	default:
		return false
	}
}

// DecodeError is an anomaly found while decoding one file. Offset is the
// byte position the anomaly refers to, or -1 when it has none.
type DecodeError struct {
	Kind   ErrorKind
	File   string
	Offset int64
	Msg    string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %s (file %q, offset %d)", e.Kind, e.Msg, e.File, e.Offset)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(kind ErrorKind, offset int64, msg string, err error) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Msg: msg, Err: err}
}

// IsKind reports whether err carries a DecodeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Kind == kind
	}
	return false
}

// Warning is a recoverable anomaly attached to a file's processing result.
type Warning struct {
	Kind    ErrorKind
	File    string
	Offset  int64
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at offset %d in %s: %s", w.Kind, w.Offset, w.File, w.Message)
}

func warningFromError(e *DecodeError) Warning {
	return Warning{Kind: e.Kind, File: e.File, Offset: e.Offset, Message: e.Msg}
}

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error {
	return e.Err
}

// ErrCreateGroup represents an error when creating a group.
type ErrCreateGroup struct {
	GroupName string
	Err       error
}

func (e *ErrCreateGroup) Error() string {
	return fmt.Sprintf("error creating group %q: %v", e.GroupName, e.Err)
}

func (e *ErrCreateGroup) Unwrap() error {
	return e.Err
}

// ErrCreateTable represents an error when creating a table.
type ErrCreateTable struct {
	TableName string
	Err       error
}

func (e *ErrCreateTable) Error() string {
	return fmt.Sprintf("error creating table %q: %v", e.TableName, e.Err)
}

func (e *ErrCreateTable) Unwrap() error {
	return e.Err
}

// ErrWriteAttribute represents an error when writing a group attribute.
type ErrWriteAttribute struct {
	GroupName string
	Key       string
	Err       error
}

func (e *ErrWriteAttribute) Error() string {
	return fmt.Sprintf("error writing attribute %q on group %q: %v", e.Key, e.GroupName, e.Err)
}

func (e *ErrWriteAttribute) Unwrap() error {
	return e.Err
}
