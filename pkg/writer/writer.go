package writer

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	hdf5 "github.com/jmbenlloch/go-hdf5"
	hptdc "github.com/metro-exp/hptdc_go/pkg"
)

// libhdf5 is built without thread safety, every call goes through this
// lock even with one writer per worker.
var hdf5Lock sync.Mutex

// Writer stores the output of one file in an HDF5 container.
type Writer struct {
	File             *hdf5.File
	Filename         string
	CompressionLevel int
	groups           map[string]*hdf5.Group
	order            []string
}

var _ hptdc.Sink = (*Writer)(nil)

func NewWriter(filename string, compressionLevel int) (*Writer, error) {
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()

	file, err := hdf5.CreateFile(filename, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &hptdc.ErrOpenFile{Filename: filename, Err: err}
	}
	writer := &Writer{
		File:             file,
		Filename:         filename,
		CompressionLevel: compressionLevel,
		groups:           make(map[string]*hdf5.Group),
	}
	return writer, nil
}

// CreateGroup creates the group at path. Existing groups are kept.
func (w *Writer) CreateGroup(groupPath string) error {
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()

	if _, ok := w.groups[groupPath]; ok {
		return nil
	}
	dir, name := path.Split(groupPath)
	dir = strings.TrimSuffix(dir, "/")

	var group *hdf5.Group
	var err error
	if dir == "" {
		group, err = w.File.CreateGroup(name)
	} else {
		parent, ok := w.groups[dir]
		if !ok {
			return &hptdc.ErrCreateGroup{GroupName: groupPath, Err: fmt.Errorf("parent group %q does not exist", dir)}
		}
		group, err = parent.CreateGroup(name)
	}
	if err != nil {
		return &hptdc.ErrCreateGroup{GroupName: groupPath, Err: err}
	}
	w.groups[groupPath] = group
	w.order = append(w.order, groupPath)
	return nil
}

func (w *Writer) WriteAttribute(group, key, value string) error {
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()

	g, ok := w.groups[group]
	if !ok {
		return &hptdc.ErrWriteAttribute{GroupName: group, Key: key, Err: fmt.Errorf("no such group")}
	}
	if err := writeStringAttribute(g, key, value); err != nil {
		return &hptdc.ErrWriteAttribute{GroupName: group, Key: key, Err: err}
	}
	return nil
}

func writeStringAttribute(group *hdf5.Group, key, value string) error {
	dataspace, err := hdf5.CreateScalarDataspace()
	if err != nil {
		return err
	}
	defer dataspace.Close()

	attribute, err := group.CreateAttribute(key, hdf5.T_GO_STRING, dataspace)
	if err != nil {
		return err
	}
	defer attribute.Close()

	return attribute.Write(&value, hdf5.T_GO_STRING)
}

// CreateDataset creates a fixed shape dataset. Text datasets are created
// when closed, stored as the newline separated bytes of their lines.
func (w *Writer) CreateDataset(group, name string, spec hptdc.DatasetSpec) (hptdc.Dataset, error) {
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()

	g, ok := w.groups[group]
	if !ok {
		return nil, &hptdc.ErrCreateTable{TableName: hptdc.GroupPath(group, name), Err: fmt.Errorf("no such group")}
	}
	if spec.Kind == hptdc.TextData {
		return &textWriter{writer: w, group: g, name: name, spec: spec, lines: make([]string, spec.Len())}, nil
	}

	dset, err := createDataset(g, name, spec, w.CompressionLevel)
	if err != nil {
		return nil, &hptdc.ErrCreateTable{TableName: hptdc.GroupPath(group, name), Err: err}
	}
	return &datasetWriter{dataset: dset, name: name, spec: spec}, nil
}

// Close releases all groups and the file.
func (w *Writer) Close() error {
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()

	var errs []error
	for i := len(w.order) - 1; i >= 0; i-- {
		if err := w.groups[w.order[i]].Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing group %q: %w", w.order[i], err))
		}
	}
	w.groups = map[string]*hdf5.Group{}
	w.order = nil
	if err := w.File.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing file %q: %w", w.Filename, err))
	}
	return errors.Join(errs...)
}
