package framesink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	hptdc "github.com/metro-exp/hptdc_go/pkg"
)

// Chunks are split so that a single frame stays well below MaxFrameSize.
const maxChunkElements = 1 << 18

// Sink writes frames to an underlying writer.
type Sink struct {
	mu       sync.Mutex
	out      *bufio.Writer
	closer   io.Closer
	encoder  *zstd.Encoder
	groups   map[string]bool
	datasets uint32
	Filename string
}

var _ hptdc.Sink = (*Sink)(nil)

// Create opens a new archive file. compressionLevel follows the gzip
// scale and is mapped onto the zstd levels.
func Create(filename string, compressionLevel int) (*Sink, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, &hptdc.ErrOpenFile{Filename: filename, Err: err}
	}
	sink, err := NewSink(file, compressionLevel)
	if err != nil {
		file.Close()
		return nil, err
	}
	sink.closer = file
	sink.Filename = filename
	return sink, nil
}

// NewSink writes frames to w. Closing the sink does not close w.
func NewSink(w io.Writer, compressionLevel int) (*Sink, error) {
	level := zstd.EncoderLevelFromZstd(max(compressionLevel, 1))
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Sink{
		out:     bufio.NewWriter(w),
		encoder: encoder,
		groups:  make(map[string]bool),
	}, nil
}

func (s *Sink) CreateGroup(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[path] {
		return nil
	}
	if err := WriteFrame(s.out, &Frame{Type: FrameGroup, Group: path}); err != nil {
		return &hptdc.ErrCreateGroup{GroupName: path, Err: err}
	}
	s.groups[path] = true
	return nil
}

func (s *Sink) WriteAttribute(group, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.groups[group] {
		return &hptdc.ErrWriteAttribute{GroupName: group, Key: key, Err: fmt.Errorf("no such group")}
	}
	if err := WriteFrame(s.out, &Frame{Type: FrameAttr, Group: group, Key: key, Value: value}); err != nil {
		return &hptdc.ErrWriteAttribute{GroupName: group, Key: key, Err: err}
	}
	return nil
}

func (s *Sink) CreateDataset(group, name string, spec hptdc.DatasetSpec) (hptdc.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.groups[group] {
		return nil, &hptdc.ErrCreateTable{TableName: hptdc.GroupPath(group, name), Err: fmt.Errorf("no such group")}
	}
	s.datasets++
	frame := &Frame{
		Type:     FrameDataset,
		Group:    group,
		Name:     name,
		Dataset:  s.datasets,
		Kind:     spec.Kind.String(),
		Shape:    spec.Shape,
		Compress: spec.Compress,
	}
	if err := WriteFrame(s.out, frame); err != nil {
		return nil, &hptdc.ErrCreateTable{TableName: hptdc.GroupPath(group, name), Err: err}
	}
	return &dataset{sink: s, id: s.datasets, name: name, spec: spec}, nil
}

// Close flushes the buffered frames and closes the file opened by Create.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if err := s.out.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("error flushing frames: %w", err))
	}
	if err := s.encoder.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing file %q: %w", s.Filename, err))
		}
	}
	return errors.Join(errs...)
}

type dataset struct {
	sink *Sink
	id   uint32
	name string
	spec hptdc.DatasetSpec
}

func (d *dataset) Write(start int, chunk hptdc.Chunk) error {
	if err := hptdc.CheckWrite(d.spec, start, chunk); err != nil {
		return fmt.Errorf("dataset %q: %w", d.name, err)
	}
	for from := 0; from < chunk.Len(); from += maxChunkElements {
		to := min(from+maxChunkElements, chunk.Len())
		if err := d.writeFrame(start+from, sliceChunk(chunk, from, to)); err != nil {
			return fmt.Errorf("dataset %q: %w", d.name, err)
		}
	}
	return nil
}

func (d *dataset) writeFrame(start int, chunk hptdc.Chunk) error {
	payload, err := msgpack.Marshal(&chunk)
	if err != nil {
		return fmt.Errorf("failed to encode chunk: %w", err)
	}

	d.sink.mu.Lock()
	defer d.sink.mu.Unlock()
	if d.spec.Compress {
		payload = d.sink.encoder.EncodeAll(payload, nil)
	}
	frame := &Frame{Type: FrameChunk, Dataset: d.id, Start: start, Compress: d.spec.Compress, Payload: payload}
	return WriteFrame(d.sink.out, frame)
}

func (d *dataset) Close() error {
	d.sink.mu.Lock()
	defer d.sink.mu.Unlock()
	return WriteFrame(d.sink.out, &Frame{Type: FrameClose, Dataset: d.id})
}

func sliceChunk(c hptdc.Chunk, from, to int) hptdc.Chunk {
	switch {
	case c.Raw != nil:
		return hptdc.Chunk{Raw: c.Raw[from:to]}
	case c.Words != nil:
		return hptdc.Chunk{Words: c.Words[from:to]}
	case c.Hits != nil:
		return hptdc.Chunk{Hits: c.Hits[from:to]}
	case c.Int32 != nil:
		return hptdc.Chunk{Int32: c.Int32[from:to]}
	default:
		return hptdc.Chunk{Text: c.Text[from:to]}
	}
}
