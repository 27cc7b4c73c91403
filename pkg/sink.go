package hptdc

import (
	"fmt"
	"strings"
)

// DatasetKind is the record type stored in a dataset.
type DatasetKind int

const (
	RawWordData DatasetKind = iota
	DecodedWordData
	HitData
	Int32Data
	TextData
)

var datasetKindStrings = []string{"raw", "decoded", "hits", "int32", "text"}

func (k DatasetKind) String() string {
	if k < RawWordData || k > TextData {
		return "unknown"
	}
	return datasetKindStrings[k]
}

func ParseDatasetKind(s string) (DatasetKind, error) {
	for i, name := range datasetKindStrings {
		if name == s {
			return DatasetKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown dataset kind %q", s)
}

// Columns is the number of fields of one record, used as second dimension
// of empty step datasets.
func (k DatasetKind) Columns() int {
	switch k {
	case DecodedWordData, HitData:
		return 4
	default:
		return 1
	}
}

// ItemSize is the stored size of one element in bytes, zero for text.
func (k DatasetKind) ItemSize() int {
	switch k {
	case RawWordData, Int32Data:
		return 4
	case DecodedWordData:
		return DecodedWordSize
	case HitData:
		return HitRecordSize
	default:
		return 0
	}
}

// DatasetSpec fixes the type and shape of a dataset at creation.
type DatasetSpec struct {
	Kind     DatasetKind
	Shape    []int
	Compress bool
}

// Len is the number of elements of the flattened dataset.
func (s DatasetSpec) Len() int {
	if len(s.Shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range s.Shape {
		n *= dim
	}
	return n
}

// Chunk carries consecutive elements for one dataset. Only the field
// matching the dataset kind is set.
type Chunk struct {
	Raw   []uint32
	Words []DecodedWord
	Hits  []HitRecord
	Int32 []int32
	Text  []string
}

func (c Chunk) Len() int {
	return len(c.Raw) + len(c.Words) + len(c.Hits) + len(c.Int32) + len(c.Text)
}

// Sink is the output container of a file. Group paths are slash separated
// and parents are created before their children.
type Sink interface {
	CreateGroup(path string) error
	WriteAttribute(group, key, value string) error
	CreateDataset(group, name string, spec DatasetSpec) (Dataset, error)
}

// Dataset receives the content of a fixed shape dataset. start is the
// position of the first element of chunk in the flattened dataset.
type Dataset interface {
	Write(start int, chunk Chunk) error
	Close() error
}

func GroupPath(parts ...string) string {
	return strings.Join(parts, "/")
}

// CheckWrite validates a write against the dataset declaration.
func CheckWrite(spec DatasetSpec, start int, chunk Chunk) error {
	if start < 0 || start+chunk.Len() > spec.Len() {
		return fmt.Errorf("write of %d elements at %d exceeds dataset of %d", chunk.Len(), start, spec.Len())
	}
	var got int
	switch spec.Kind {
	case RawWordData:
		got = len(chunk.Raw)
	case DecodedWordData:
		got = len(chunk.Words)
	case HitData:
		got = len(chunk.Hits)
	case Int32Data:
		got = len(chunk.Int32)
	case TextData:
		got = len(chunk.Text)
	}
	if got != chunk.Len() {
		return fmt.Errorf("chunk does not match %s dataset", spec.Kind)
	}
	return nil
}
