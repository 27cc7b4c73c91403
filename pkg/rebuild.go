package hptdc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// The first scan marker has to appear within this many bytes after the
// magic code.
const alignmentWindow = 2048

type marker struct {
	offset int64
	scan   bool
}

// markerScanner finds scan and step markers in a byte stream. Only matches
// aligned to the record width relative to the first scan marker count.
type markerScanner struct {
	layout    Layout
	dataBegin int64
}

func (s *markerScanner) aligned(offset int64) bool {
	return (offset-s.dataBegin)%int64(s.layout.RecordSize) == 0
}

// index returns the position of the first aligned occurrence of pattern in
// buf at or after from, where buf starts at the absolute offset base.
func (s *markerScanner) index(buf []byte, from int, base int64, pattern []byte) int {
	for from <= len(buf)-len(pattern) {
		i := bytes.Index(buf[from:], pattern)
		if i < 0 {
			return -1
		}
		at := from + i
		if s.aligned(base + int64(at)) {
			return at
		}
		from = at + 1
	}
	return -1
}

// scan reads r until EOF in windows of the given size, starting at the
// absolute offset base, and returns every marker in order of appearance.
func (s *markerScanner) scan(r io.Reader, base int64, window int) ([]marker, error) {
	maxLen := s.layout.MaxMarkerLen()
	if window < maxLen {
		window = maxLen
	}

	var markers []marker
	chunk := make([]byte, window)
	buf := make([]byte, 0, window+maxLen)
	eof := false

	for !eof {
		n, err := io.ReadFull(r, chunk)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			eof = true
		} else if err != nil {
			return nil, err
		}
		buf = append(buf, chunk[:n]...)

		pos := 0
		// -2 means not searched yet, -1 means absent from the rest of buf
		scanAt, stepAt := -2, -2
		for {
			if scanAt != -1 && scanAt < pos {
				scanAt = s.index(buf, pos, base, s.layout.ScanMarker)
			}
			if stepAt != -1 && stepAt < pos {
				stepAt = s.index(buf, pos, base, s.layout.StepMarker)
			}
			if scanAt < 0 && stepAt < 0 {
				break
			}
			if scanAt >= 0 && (stepAt < 0 || scanAt < stepAt) {
				markers = append(markers, marker{offset: base + int64(scanAt), scan: true})
				pos = scanAt + len(s.layout.ScanMarker)
			} else {
				markers = append(markers, marker{offset: base + int64(stepAt)})
				pos = stepAt + len(s.layout.StepMarker)
			}
			if configuration.Verbosity > 2 {
				last := markers[len(markers)-1]
				logger.Info(fmt.Sprintf("Marker at %d (scan: %t)", last.offset, last.scan), "rebuild")
			}
		}

		// A marker may straddle the window boundary, keep enough of the
		// unsearched tail to find it with the next read.
		keep := max(pos, len(buf)-maxLen)
		if keep < 0 {
			keep = 0
		}
		remaining := copy(buf, buf[keep:])
		buf = buf[:remaining]
		base += int64(keep)
	}
	return markers, nil
}

// RebuildTables reconstructs the scan tables by scanning the data section
// for markers. The last step ends at dataEnd. Rebuilt steps are labelled
// "0", "1", ... within each scan.
func RebuildTables(r io.ReadSeeker, layout Layout, dataEnd int64, chunkSize int) ([]ScanTable, error) {
	logger.Warn("Scanning for markers", "rebuild")

	start := int64(len(Magic))
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	head := make([]byte, alignmentWindow)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	idx := bytes.Index(head[:n], layout.ScanMarker)
	if idx < 0 {
		return nil, newDecodeError(NoAlignment, start, "could not find first scan marker", nil)
	}
	dataBegin := start + int64(idx)
	if dataEnd < dataBegin {
		msg := fmt.Sprintf("data end %d before first scan marker at %d", dataEnd, dataBegin)
		return nil, newDecodeError(NoAlignment, dataBegin, msg, nil)
	}

	if _, err := r.Seek(dataBegin, io.SeekStart); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	scanner := &markerScanner{layout: layout, dataBegin: dataBegin}
	markers, err := scanner.scan(io.LimitReader(r, dataEnd-dataBegin), dataBegin, layout.MaxMarkerLen()*chunkSize)
	if err != nil {
		return nil, fmt.Errorf("error scanning for markers: %w", err)
	}

	scans := reduceMarkers(markers, dataEnd)
	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Rebuilt %d scans from %d markers", len(scans), len(markers))
		logger.Info(message, "rebuild")
	}
	return scans, nil
}

// reduceMarkers turns an ordered marker list into scan tables. Every step
// extends up to the next marker of either kind.
func reduceMarkers(markers []marker, dataEnd int64) []ScanTable {
	var scans []ScanTable
	for i, m := range markers {
		if m.scan {
			scans = append(scans, ScanTable{})
			continue
		}
		if len(scans) == 0 {
			continue
		}
		end := dataEnd
		if i+1 < len(markers) {
			end = markers[i+1].offset
		}
		current := &scans[len(scans)-1]
		*current = append(*current, StepEntry{
			Value:      strconv.Itoa(len(*current)),
			DataOffset: m.offset,
			DataSize:   end - m.offset,
		})
	}
	return scans
}
