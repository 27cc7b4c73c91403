package hptdc

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// MemorySink keeps everything written to it in memory.
type MemorySink struct {
	mu     sync.Mutex
	groups map[string]*MemoryGroup
	order  []string
}

type MemoryGroup struct {
	Path     string
	Attrs    map[string]string
	Datasets map[string]*MemoryDataset
	names    []string
}

type MemoryDataset struct {
	Name   string
	Spec   DatasetSpec
	Raw    []uint32
	Words  []DecodedWord
	Hits   []HitRecord
	Int32  []int32
	Text   []string
	Closed bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{groups: make(map[string]*MemoryGroup)}
}

func parentOf(path string) (string, bool) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], true
		}
	}
	return "", false
}

// CreateGroup creates path, or does nothing if it exists already.
func (s *MemorySink) CreateGroup(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == "" {
		return &ErrCreateGroup{GroupName: path, Err: fmt.Errorf("empty group name")}
	}
	if _, ok := s.groups[path]; ok {
		return nil
	}
	if parent, ok := parentOf(path); ok {
		if _, exists := s.groups[parent]; !exists {
			return &ErrCreateGroup{GroupName: path, Err: fmt.Errorf("parent group %q does not exist", parent)}
		}
	}
	s.groups[path] = &MemoryGroup{
		Path:     path,
		Attrs:    make(map[string]string),
		Datasets: make(map[string]*MemoryDataset),
	}
	s.order = append(s.order, path)
	return nil
}

func (s *MemorySink) WriteAttribute(group, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return &ErrWriteAttribute{GroupName: group, Key: key, Err: fmt.Errorf("no such group")}
	}
	g.Attrs[key] = value
	return nil
}

func (s *MemorySink) CreateDataset(group, name string, spec DatasetSpec) (Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return nil, &ErrCreateTable{TableName: GroupPath(group, name), Err: fmt.Errorf("no such group")}
	}
	if _, exists := g.Datasets[name]; exists {
		return nil, &ErrCreateTable{TableName: GroupPath(group, name), Err: fmt.Errorf("dataset exists")}
	}
	dataset := &MemoryDataset{Name: name, Spec: spec}
	n := spec.Len()
	switch spec.Kind {
	case RawWordData:
		dataset.Raw = make([]uint32, n)
	case DecodedWordData:
		dataset.Words = make([]DecodedWord, n)
	case HitData:
		dataset.Hits = make([]HitRecord, n)
	case Int32Data:
		dataset.Int32 = make([]int32, n)
	case TextData:
		dataset.Text = make([]string, n)
	}
	g.Datasets[name] = dataset
	g.names = append(g.names, name)
	return &memoryWriter{sink: s, dataset: dataset}, nil
}

// Group returns the group at path, or nil.
func (s *MemorySink) Group(path string) *MemoryGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[path]
}

// Groups lists the group paths in creation order.
func (s *MemorySink) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Dataset returns the named dataset of a group, or nil.
func (s *MemorySink) Dataset(group, name string) *MemoryDataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	return g.Datasets[name]
}

// DatasetNames lists the datasets of a group in creation order.
func (g *MemoryGroup) DatasetNames() []string {
	return slices.Clone(g.names)
}

type memoryWriter struct {
	sink    *MemorySink
	dataset *MemoryDataset
}

func (w *memoryWriter) Write(start int, chunk Chunk) error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	d := w.dataset
	if d.Closed {
		return fmt.Errorf("dataset %q is closed", d.Name)
	}
	if err := CheckWrite(d.Spec, start, chunk); err != nil {
		return fmt.Errorf("dataset %q: %w", d.Name, err)
	}
	switch d.Spec.Kind {
	case RawWordData:
		copy(d.Raw[start:], chunk.Raw)
	case DecodedWordData:
		copy(d.Words[start:], chunk.Words)
	case HitData:
		copy(d.Hits[start:], chunk.Hits)
	case Int32Data:
		copy(d.Int32[start:], chunk.Int32)
	case TextData:
		copy(d.Text[start:], chunk.Text)
	}
	return nil
}

func (w *memoryWriter) Close() error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.dataset.Closed = true
	return nil
}
