package hptdc

import (
	"fmt"
	"io"
	"strings"
)

// WordFormat selects how group words are stored.
type WordFormat string

const (
	FormatRaw     WordFormat = "raw"
	FormatDecoded WordFormat = "decoded"
)

func ParseWordFormat(s string) (WordFormat, error) {
	switch WordFormat(strings.ToLower(s)) {
	case FormatRaw:
		return FormatRaw, nil
	case FormatDecoded:
		return FormatDecoded, nil
	default:
		return "", fmt.Errorf("unknown word format %q, expected raw or decoded", s)
	}
}

const (
	DefaultChunkSize         = 10000
	DefaultCompressThreshold = 1024
)

// Options controls the processing of one file.
type Options struct {
	// ChunkSize is the number of records read at once. It does not change
	// the output.
	ChunkSize    int
	WordFormat   WordFormat
	IgnoreTables bool
	// Datasets of at least this many bytes are compressed; a negative
	// value disables compression.
	CompressThreshold int
	Classify          bool
	DetectionMode     DetectionMode
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:         DefaultChunkSize,
		WordFormat:        FormatRaw,
		CompressThreshold: DefaultCompressThreshold,
		DetectionMode:     DetectEP,
	}
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.WordFormat == "" {
		o.WordFormat = FormatRaw
	}
	if o.DetectionMode == "" {
		o.DetectionMode = DetectEP
	}
	return o
}

// StepPlan is a validated step entry.
type StepPlan struct {
	Entry   StepEntry
	Records int
	// Trailing bytes after the last complete record, dropped.
	Trailing int64
}

// Streamer reads the records of steps from one file. Chunks passed to the
// callback reuse their storage between calls.
type Streamer struct {
	r         io.ReadSeeker
	layout    Layout
	chunkSize int
	buf       []byte
	raw       []uint32
	hits      []HitRecord
}

func NewStreamer(r io.ReadSeeker, layout Layout, chunkSize int) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Streamer{
		r:         r,
		layout:    layout,
		chunkSize: chunkSize,
		buf:       make([]byte, chunkSize*layout.RecordSize),
	}
}

func validLabel(label string) bool {
	if label == "" {
		return false
	}
	for i := 0; i < len(label); i++ {
		if label[i] > 0x7F {
			return false
		}
	}
	return true
}

// Plan checks a step entry before any of its data is written.
func (s *Streamer) Plan(entry StepEntry) (StepPlan, error) {
	if !validLabel(entry.Value) {
		msg := fmt.Sprintf("invalid step label %q", entry.Value)
		return StepPlan{}, newDecodeError(CorruptStepTable, entry.DataOffset, msg, nil)
	}
	dataLen := entry.DataSize - int64(len(s.layout.StepMarker))
	if dataLen < 0 {
		msg := fmt.Sprintf("step %q has data size %d below the marker length", entry.Value, entry.DataSize)
		return StepPlan{}, newDecodeError(CorruptStepTable, entry.DataOffset, msg, nil)
	}
	width := int64(s.layout.RecordSize)
	return StepPlan{
		Entry:    entry,
		Records:  int(dataLen / width),
		Trailing: dataLen % width,
	}, nil
}

// Stream reads the records of a planned step in chunks and passes each
// chunk with the index of its first record to fn.
func (s *Streamer) Stream(plan StepPlan, fn func(start int, chunk Chunk) error) error {
	if plan.Records == 0 {
		return nil
	}
	dataStart := plan.Entry.DataOffset + int64(len(s.layout.StepMarker))
	if _, err := s.r.Seek(dataStart, io.SeekStart); err != nil {
		return fmt.Errorf("error seeking to step %q: %w", plan.Entry.Value, err)
	}

	for start := 0; start < plan.Records; start += s.chunkSize {
		n := min(s.chunkSize, plan.Records-start)
		buf := s.buf[:n*s.layout.RecordSize]
		if _, err := io.ReadFull(s.r, buf); err != nil {
			return fmt.Errorf("error reading step %q at record %d: %w", plan.Entry.Value, start, err)
		}

		var chunk Chunk
		if s.layout.Mode == ModeHits {
			s.hits = DecodeHits(s.hits, buf)
			chunk.Hits = s.hits
		} else {
			s.raw = DecodeRawWords(s.raw, buf)
			chunk.Raw = s.raw
		}
		if err := fn(start, chunk); err != nil {
			return err
		}
	}
	return nil
}
