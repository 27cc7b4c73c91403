package hptdc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// StepEntry locates the data of one step. DataOffset points at the step
// marker and DataSize includes it.
type StepEntry struct {
	Value      string
	DataOffset int64
	DataSize   int64
}

// ScanTable is the ordered list of steps of one scan.
type ScanTable []StepEntry

// Tables is the scan index of a file, as stored or as rebuilt from markers.
type Tables struct {
	Scans     []ScanTable
	Recovered bool
}

func (t Tables) StepCount() int {
	n := 0
	for _, scan := range t.Scans {
		n += len(scan)
	}
	return n
}

const stepTableHeaderSize = 8

type stepTableHeader struct {
	StepCount     int32
	StepTableSize int32
}

type stepEntry64 struct {
	Value      [stepLabelSize]byte
	DataOffset int64
	DataSize   int64
}

type stepEntry32 struct {
	Value      [stepLabelSize]byte
	DataOffset int32
	DataSize   int32
}

func labelString(raw [stepLabelSize]byte) string {
	return string(bytes.TrimRight(raw[:], "\x00"))
}

// ReadTables loads the scan tables stored at info.ScanTableOffset. Any
// inconsistency is reported as a CorruptTable error.
func ReadTables(r io.ReadSeeker, size int64, info HeaderInfo) ([]ScanTable, error) {
	if info.ScanTableOffset <= 0 || info.ScanTableOffset >= size {
		msg := fmt.Sprintf("scan table offset %d outside of file (%d bytes)", info.ScanTableOffset, size)
		return nil, newDecodeError(CorruptTable, info.ScanTableOffset, msg, nil)
	}
	if info.ScanCount < 0 {
		msg := fmt.Sprintf("negative scan count %d", info.ScanCount)
		return nil, newDecodeError(CorruptTable, info.ScanTableOffset, msg, nil)
	}
	// Every scan carries at least its step table header.
	if maxScans := (size - info.ScanTableOffset) / stepTableHeaderSize; int64(info.ScanCount) > maxScans {
		msg := fmt.Sprintf("scan count %d does not fit in %d table bytes", info.ScanCount, size-info.ScanTableOffset)
		return nil, newDecodeError(CorruptTable, info.ScanTableOffset, msg, nil)
	}
	if _, err := r.Seek(info.ScanTableOffset, io.SeekStart); err != nil {
		return nil, newDecodeError(CorruptTable, info.ScanTableOffset, "cannot seek to scan table", err)
	}

	layout := info.Layout()
	entrySize := info.EntrySize()
	position := info.ScanTableOffset
	scans := make([]ScanTable, 0, info.ScanCount)

	for scanIdx := 0; scanIdx < int(info.ScanCount); scanIdx++ {
		var header stepTableHeader
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			msg := fmt.Sprintf("truncated step table header for scan %d", scanIdx)
			return nil, newDecodeError(CorruptTable, position, msg, err)
		}
		position += stepTableHeaderSize

		if header.StepCount < 0 || header.StepTableSize < 0 ||
			int64(header.StepTableSize) < int64(header.StepCount)*int64(entrySize) ||
			position+int64(header.StepTableSize) > size {
			msg := fmt.Sprintf("invalid step table for scan %d (%d steps in %d bytes)",
				scanIdx, header.StepCount, header.StepTableSize)
			return nil, newDecodeError(CorruptTable, position, msg, nil)
		}

		raw := make([]byte, header.StepTableSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			msg := fmt.Sprintf("truncated step table for scan %d", scanIdx)
			return nil, newDecodeError(CorruptTable, position, msg, err)
		}

		scan, err := parseStepTable(raw, int(header.StepCount), info.Generation)
		if err != nil {
			return nil, newDecodeError(CorruptTable, position, fmt.Sprintf("scan %d", scanIdx), err)
		}
		for stepIdx, entry := range scan {
			if err := validateEntry(entry, layout, size); err != nil {
				msg := fmt.Sprintf("invalid entry for step %d of scan %d: %v", stepIdx, scanIdx, err)
				return nil, newDecodeError(CorruptTable, position+int64(stepIdx*entrySize), msg, nil)
			}
		}
		scans = append(scans, scan)
		position += int64(header.StepTableSize)
	}
	return scans, nil
}

func parseStepTable(raw []byte, count int, generation Generation) (ScanTable, error) {
	reader := bytes.NewReader(raw)
	scan := make(ScanTable, 0, count)

	for i := 0; i < count; i++ {
		var entry StepEntry
		if generation == GenerationModern {
			var row stepEntry64
			if err := binary.Read(reader, binary.LittleEndian, &row); err != nil {
				return nil, err
			}
			entry = StepEntry{Value: labelString(row.Value), DataOffset: row.DataOffset, DataSize: row.DataSize}
		} else {
			var row stepEntry32
			if err := binary.Read(reader, binary.LittleEndian, &row); err != nil {
				return nil, err
			}
			entry = StepEntry{Value: labelString(row.Value), DataOffset: int64(row.DataOffset), DataSize: int64(row.DataSize)}
		}
		scan = append(scan, entry)
	}
	return scan, nil
}

func validateEntry(entry StepEntry, layout Layout, size int64) error {
	if entry.DataSize < 0 || entry.DataSize%int64(layout.RecordSize) != 0 {
		return fmt.Errorf("data size %d is not a multiple of %d", entry.DataSize, layout.RecordSize)
	}
	if entry.DataOffset < 0 || entry.DataOffset+entry.DataSize > size {
		return fmt.Errorf("data range %d+%d outside of file", entry.DataOffset, entry.DataSize)
	}
	return nil
}

// LoadTables returns the tables to stream: the stored ones when they are
// present and valid, otherwise the ones rebuilt by scanning for markers.
// A stored table that had to be discarded is reported as a warning.
func LoadTables(r io.ReadSeeker, size int64, info HeaderInfo, opts Options) (Tables, []Warning, error) {
	var warnings []Warning

	if !opts.IgnoreTables {
		if info.ScanTableOffset > 0 {
			scans, err := ReadTables(r, size, info)
			if err == nil {
				return Tables{Scans: scans}, nil, nil
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				return Tables{}, nil, err
			}
			warnings = append(warnings, warningFromError(decodeErr))
			logger.Warn(fmt.Sprintf("Ignoring stored tables: %v", err), "tables")
		} else {
			warnings = append(warnings, Warning{
				Kind:    CorruptTable,
				Offset:  info.ScanTableOffset,
				Message: "no scan table offset, file was probably not closed",
			})
			logger.Warn("Tables are probably corrupted, trying to rebuild", "tables")
		}
	}

	// An unclosed file has its data running up to the end
	dataEnd := size
	if info.ScanTableOffset > 0 && info.ScanTableOffset < size {
		dataEnd = info.ScanTableOffset
	}

	scans, err := RebuildTables(r, info.Layout(), dataEnd, opts.ChunkSize)
	if err != nil {
		return Tables{}, warnings, err
	}
	return Tables{Scans: scans, Recovered: true}, warnings, nil
}
