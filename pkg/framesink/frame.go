// Package framesink stores decoder output as a stream of length prefixed
// msgpack frames, for machines without the HDF5 library.
package framesink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the big endian length prefix.
	LengthPrefixSize = 4
)

// FrameType discriminates the frames of an archive.
type FrameType string

const (
	FrameGroup   FrameType = "group"
	FrameAttr    FrameType = "attr"
	FrameDataset FrameType = "dataset"
	FrameChunk   FrameType = "chunk"
	FrameClose   FrameType = "close"
)

// Frame is one record of an archive. Fields not used by a frame type are
// left empty.
type Frame struct {
	Type     FrameType `msgpack:"type"`
	Group    string    `msgpack:"group,omitempty"`
	Name     string    `msgpack:"name,omitempty"`
	Key      string    `msgpack:"key,omitempty"`
	Value    string    `msgpack:"value,omitempty"`
	Dataset  uint32    `msgpack:"dataset,omitempty"`
	Kind     string    `msgpack:"kind,omitempty"`
	Shape    []int     `msgpack:"shape,omitempty"`
	Compress bool      `msgpack:"compress,omitempty"`
	Start    int       `msgpack:"start,omitempty"`
	// Payload is the msgpack encoded chunk, zstd compressed when the
	// dataset is compressed.
	Payload []byte `msgpack:"payload,omitempty"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack or zstd decoding error.
	FrameErrorDecode
	// FrameErrorSequence indicates a frame referring to an unknown dataset.
	FrameErrorSequence
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError reports whether err is a FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == kind
	}
	return false
}

// WriteFrame encodes one frame with its length prefix.
func WriteFrame(w io.Writer, frame *Frame) error {
	payload, err := msgpack.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", frame.Type, err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// FrameDecoder decodes length prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads the next frame. It returns io.EOF when the stream ends
// cleanly between two frames.
func (d *FrameDecoder) ReadFrame() (*Frame, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	var frame Frame
	if err := msgpack.Unmarshal(payload, &frame); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame",
			Err:  err,
		}
	}
	return &frame, nil
}
