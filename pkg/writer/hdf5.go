package writer

import (
	"fmt"
	"strings"

	hdf5 "github.com/jmbenlloch/go-hdf5"
	hptdc "github.com/metro-exp/hptdc_go/pkg"
)

type DecodedWordHDF5 struct {
	wordType [2]byte
	arg1     int8
	arg2     int8
	arg3     int32
}

type HitHDF5 struct {
	time    int64
	channel uint8
	hitType uint8
	bin     uint16
	align   int32
}

const maxChunkRows = 32768

func datatypeOf(kind hptdc.DatasetKind) (*hdf5.Datatype, error) {
	switch kind {
	case hptdc.RawWordData:
		return hdf5.T_NATIVE_UINT32, nil
	case hptdc.Int32Data:
		return hdf5.T_NATIVE_INT32, nil
	case hptdc.TextData:
		return hdf5.T_NATIVE_UINT8, nil
	case hptdc.DecodedWordData:
		return hdf5.NewDatatypeFromValue(DecodedWordHDF5{})
	case hptdc.HitData:
		return hdf5.NewDatatypeFromValue(HitHDF5{})
	default:
		return nil, fmt.Errorf("unsupported dataset kind %v", kind)
	}
}

func toUint(values []int) []uint {
	dims := make([]uint, len(values))
	for i, v := range values {
		dims[i] = uint(v)
	}
	return dims
}

func createDataset(group *hdf5.Group, name string, spec hptdc.DatasetSpec, compressionLevel int) (*hdf5.Dataset, error) {
	dims := toUint(spec.Shape)
	if len(dims) == 0 {
		dims = []uint{0}
	}
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return nil, err
	}
	defer fileSpace.Close()

	// create property list
	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, err
	}
	defer plist.Close()

	// Chunked layout is only possible for non empty datasets
	if spec.Compress && dims[0] > 0 {
		chunks := append([]uint{min(dims[0], maxChunkRows)}, dims[1:]...)
		if err := plist.SetChunk(chunks); err != nil {
			return nil, err
		}
		if err := plist.SetDeflate(compressionLevel); err != nil {
			return nil, err
		}
	}

	dtype, err := datatypeOf(spec.Kind)
	if err != nil {
		return nil, err
	}
	return group.CreateDatasetWith(name, dtype, fileSpace, plist)
}

// datasetWriter writes chunks of records into a hyperslab of a dataset.
type datasetWriter struct {
	dataset *hdf5.Dataset
	name    string
	spec    hptdc.DatasetSpec
}

func (d *datasetWriter) columns() int {
	n := 1
	for _, dim := range d.spec.Shape[1:] {
		n *= dim
	}
	return max(n, 1)
}

func (d *datasetWriter) Write(start int, chunk hptdc.Chunk) error {
	if err := hptdc.CheckWrite(d.spec, start, chunk); err != nil {
		return fmt.Errorf("dataset %q: %w", d.name, err)
	}
	if chunk.Len() == 0 {
		return nil
	}
	columns := d.columns()
	if start%columns != 0 || chunk.Len()%columns != 0 {
		return fmt.Errorf("dataset %q: write of %d elements at %d does not cover whole rows", d.name, chunk.Len(), start)
	}

	var data interface{}
	switch d.spec.Kind {
	case hptdc.RawWordData:
		data = &chunk.Raw
	case hptdc.Int32Data:
		data = &chunk.Int32
	case hptdc.DecodedWordData:
		words := make([]DecodedWordHDF5, len(chunk.Words))
		for i, w := range chunk.Words {
			words[i] = DecodedWordHDF5{wordType: w.Type.Tag(), arg1: w.Arg1, arg2: w.Arg2, arg3: w.Arg3}
		}
		data = &words
	case hptdc.HitData:
		hits := make([]HitHDF5, len(chunk.Hits))
		for i, h := range chunk.Hits {
			hits[i] = HitHDF5{time: h.Time, channel: h.Channel, hitType: h.Type, bin: h.Bin}
		}
		data = &hits
	}

	offset := make([]uint, len(d.spec.Shape))
	count := toUint(d.spec.Shape)
	offset[0] = uint(start / columns)
	count[0] = uint(chunk.Len() / columns)
	return writeHyperslab(d.dataset, data, offset, count)
}

func writeHyperslab(dataset *hdf5.Dataset, data interface{}, offset []uint, count []uint) error {
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()

	memspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return err
	}
	defer memspace.Close()

	filespace := dataset.Space()
	defer filespace.Close()
	if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return err
	}
	return dataset.WriteSubset(data, memspace, filespace)
}

func (d *datasetWriter) Close() error {
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()
	return d.dataset.Close()
}

// textWriter collects lines until Close, as their byte length is not known
// when the dataset is declared.
type textWriter struct {
	writer *Writer
	group  *hdf5.Group
	name   string
	spec   hptdc.DatasetSpec
	lines  []string
}

func (t *textWriter) Write(start int, chunk hptdc.Chunk) error {
	if err := hptdc.CheckWrite(t.spec, start, chunk); err != nil {
		return fmt.Errorf("dataset %q: %w", t.name, err)
	}
	copy(t.lines[start:], chunk.Text)
	return nil
}

func (t *textWriter) Close() error {
	content := []byte(strings.Join(t.lines, "\n"))
	spec := hptdc.DatasetSpec{Kind: hptdc.TextData, Shape: []int{len(content)}}

	hdf5Lock.Lock()
	dataset, err := createDataset(t.group, t.name, spec, t.writer.CompressionLevel)
	hdf5Lock.Unlock()
	if err != nil {
		return &hptdc.ErrCreateTable{TableName: t.name, Err: err}
	}
	if len(content) > 0 {
		if err := writeHyperslab(dataset, &content, []uint{0}, []uint{uint(len(content))}); err != nil {
			hdf5Lock.Lock()
			dataset.Close()
			hdf5Lock.Unlock()
			return err
		}
	}
	hdf5Lock.Lock()
	defer hdf5Lock.Unlock()
	return dataset.Close()
}
