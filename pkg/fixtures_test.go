package hptdc

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

type testStep struct {
	label   string
	records []byte
}

// testFile describes a synthetic tdc file.
type testFile struct {
	generation Generation
	mode       Mode
	headerSize int32  // modern only, 32 when zero
	modeTag    string // modern only, overrides the tag of mode
	scans      [][]testStep
	params     string
	noTables   bool
}

type builtFile struct {
	data        []byte
	tables      []ScanTable
	dataBegin   int64
	tableOffset int64
	paramOffset int64
}

func groupWords(words ...uint32) []byte {
	buf := make([]byte, 0, len(words)*RawWordSize)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

func hitRecords(hits ...HitRecord) []byte {
	var buf []byte
	for _, h := range hits {
		buf = EncodeHit(buf, h)
	}
	return buf
}

func fl(channel int8, position int32) uint32 {
	return EncodeWord(DecodedWord{Type: WordFL, Arg1: channel, Arg3: position})
}

func gr(value int32) uint32 {
	return EncodeWord(DecodedWord{Type: WordGR, Arg3: value})
}

func rl(value int32) uint32 {
	return EncodeWord(DecodedWord{Type: WordRL, Arg3: value})
}

func label32(s string) [stepLabelSize]byte {
	var label [stepLabelSize]byte
	copy(label[:], s)
	return label
}

func (f testFile) build(t *testing.T) builtFile {
	t.Helper()
	layout := f.mode.Layout()
	headerSize := f.headerSize
	if headerSize == 0 {
		headerSize = modernBaseSize
	}

	var buf bytes.Buffer
	buf.Write(Magic)
	headerAt := buf.Len()
	if f.generation == GenerationModern {
		buf.Write(make([]byte, modernFixedSize+int(headerSize-modernBaseSize)))
		buf.Write(SectionMarker)
	} else {
		buf.Write(make([]byte, legacyHeaderSize))
	}

	built := builtFile{dataBegin: int64(buf.Len())}
	for _, scan := range f.scans {
		buf.Write(layout.ScanMarker)
		table := ScanTable{}
		for _, step := range scan {
			offset := int64(buf.Len())
			buf.Write(layout.StepMarker)
			buf.Write(step.records)
			table = append(table, StepEntry{
				Value:      step.label,
				DataOffset: offset,
				DataSize:   int64(len(layout.StepMarker) + len(step.records)),
			})
		}
		built.tables = append(built.tables, table)
	}

	if !f.noTables {
		built.tableOffset = int64(buf.Len())
		for _, scan := range built.tables {
			var rows bytes.Buffer
			for _, entry := range scan {
				var row interface{}
				if f.generation == GenerationModern {
					row = stepEntry64{Value: label32(entry.Value), DataOffset: entry.DataOffset, DataSize: entry.DataSize}
				} else {
					row = stepEntry32{Value: label32(entry.Value), DataOffset: int32(entry.DataOffset), DataSize: int32(entry.DataSize)}
				}
				if err := binary.Write(&rows, binary.LittleEndian, row); err != nil {
					t.Fatalf("writing step row: %v", err)
				}
			}
			header := stepTableHeader{StepCount: int32(len(scan)), StepTableSize: int32(rows.Len())}
			if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
				t.Fatalf("writing step table header: %v", err)
			}
			buf.Write(rows.Bytes())
		}
	}

	if f.params != "" {
		built.paramOffset = int64(buf.Len())
		buf.WriteString(f.params)
	}

	var header bytes.Buffer
	if f.generation == GenerationModern {
		h := modernHeader{
			HeaderSize:       headerSize,
			Version:          1,
			ScanTableOffset:  built.tableOffset,
			ScanCount:        int32(len(f.scans)),
			ParamTableOffset: built.paramOffset,
			ParamTableSize:   int32(len(f.params)),
		}
		tag := f.modeTag
		if tag == "" {
			tag = f.mode.String()
		}
		copy(h.Mode[:], tag)
		binary.Write(&header, binary.LittleEndian, h)
	} else {
		h := legacyHeader{
			ScanTableOffset:  int32(built.tableOffset),
			ScanCount:        int32(len(f.scans)),
			ParamTableOffset: int32(built.paramOffset),
			ParamTableSize:   int32(len(f.params)),
			Mode:             'H',
		}
		if f.mode == ModeGroups {
			h.Mode = 'G'
		}
		binary.Write(&header, binary.LittleEndian, h)
	}
	built.data = buf.Bytes()
	copy(built.data[headerAt:], header.Bytes())
	return built
}

// write stores the file in a temporary directory and returns its path.
func (b builtFile) write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0042_scan_tdc#groups.tdc")
	if err := os.WriteFile(path, b.data, 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	return path
}

func (b builtFile) reader() *bytes.Reader {
	return bytes.NewReader(b.data)
}

// withSyntheticLabels returns the tables as a rebuild would label them.
func withSyntheticLabels(tables []ScanTable) []ScanTable {
	relabelled := make([]ScanTable, len(tables))
	for i, scan := range tables {
		relabelled[i] = make(ScanTable, len(scan))
		for j, entry := range scan {
			entry.Value = strconv.Itoa(j)
			relabelled[i][j] = entry
		}
	}
	return relabelled
}

func equalTables(a, b []ScanTable) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

// groupStepWords is a short event stream used by several tests.
var groupStepWords = []uint32{
	gr(1), fl(1, 10), fl(1, 20), rl(2),
	gr(3), fl(1, 5), fl(2, 9), rl(4),
	gr(5), rl(6),
}

func sampleGroupFile(generation Generation) testFile {
	return testFile{
		generation: generation,
		mode:       ModeGroups,
		scans: [][]testStep{
			{
				{label: "1.5", records: groupWords(groupStepWords...)},
				{label: "2.5", records: groupWords(fl(1, 7), rl(1))},
			},
			{
				{label: "1.5", records: groupWords(fl(2, 3), fl(2, 4), rl(9))},
			},
		},
		params: "Operator test\nVoltage 1200\n",
	}
}
