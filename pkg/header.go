package hptdc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type Generation int

const (
	GenerationLegacy Generation = iota
	GenerationModern
)

func (g Generation) String() string {
	switch g {
	case GenerationLegacy:
		return "legacy"
	case GenerationModern:
		return "modern"
	default:
		return "unknown"
	}
}

// Mode is the acquisition mode of a file: a stream of 32 bit group words or
// a stream of fixed size hit records.
type Mode int

const (
	ModeGroups Mode = iota
	ModeHits
)

func (m Mode) String() string {
	switch m {
	case ModeGroups:
		return "GRPS"
	case ModeHits:
		return "HITS"
	default:
		return "UNKNOWN"
	}
}

var (
	Magic         = []byte("HPTDC")
	SectionMarker = []byte("DATA")

	GroupScanMarker = []byte{0x00, 0x00, 0x00, 0x00, 0xA0, 0x00, 0x00, 0x00}
	GroupStepMarker = []byte{0x00, 0x00, 0x00, 0x00, 0xB0, 0x00, 0x00, 0x00}

	HitScanMarker = []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xA0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	HitStepMarker = []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xB0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

const (
	// A modern header above this size is taken as garbage.
	MaxHeaderSize = 4096

	modernFixedSize  = 36
	modernBaseSize   = 32
	legacyHeaderSize = 17

	stepLabelSize    = 32
	ModernEntrySize  = stepLabelSize + 16
	LegacyEntrySize  = stepLabelSize + 8
	legacyGroupsFlag = 'G'
)

// Layout collects everything that depends on the acquisition mode.
type Layout struct {
	Mode       Mode
	RecordSize int
	ScanMarker []byte
	StepMarker []byte
}

func (l Layout) MaxMarkerLen() int {
	return max(len(l.ScanMarker), len(l.StepMarker))
}

func (m Mode) Layout() Layout {
	if m == ModeHits {
		return Layout{Mode: ModeHits, RecordSize: HitRecordSize, ScanMarker: HitScanMarker, StepMarker: HitStepMarker}
	}
	return Layout{Mode: ModeGroups, RecordSize: RawWordSize, ScanMarker: GroupScanMarker, StepMarker: GroupStepMarker}
}

type HeaderInfo struct {
	Generation       Generation
	Mode             Mode
	Version          int32
	HeaderSize       int32
	ScanTableOffset  int64
	ScanCount        int32
	ParamTableOffset int64
	ParamTableSize   int32
	// DataOffset is the first byte after the header.
	DataOffset int64
}

func (h HeaderInfo) Layout() Layout {
	return h.Mode.Layout()
}

// EntrySize is the width of one step table row: 64 bit offsets for modern
// files, 32 bit for legacy ones.
func (h HeaderInfo) EntrySize() int {
	if h.Generation == GenerationModern {
		return ModernEntrySize
	}
	return LegacyEntrySize
}

type modernHeader struct {
	HeaderSize       int32
	Version          int32
	Mode             [4]byte
	ScanTableOffset  int64
	ScanCount        int32
	ParamTableOffset int64
	ParamTableSize   int32
}

type legacyHeader struct {
	ScanTableOffset  int32
	ScanCount        int32
	ParamTableOffset int32
	ParamTableSize   int32
	Mode             byte
}

// ReadHeader resolves the header generation and acquisition mode of a
// file. The reader is left positioned at HeaderInfo.DataOffset.
func ReadHeader(r io.ReadSeeker) (HeaderInfo, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return HeaderInfo{}, err
	}
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, Magic) {
		return HeaderInfo{}, newDecodeError(BadMagic, 0, fmt.Sprintf("invalid magic code %q", magic), err)
	}

	info, ok, err := readModernHeader(r)
	if err != nil {
		return HeaderInfo{}, err
	}
	if ok {
		return info, nil
	}
	return readLegacyHeader(r)
}

func readModernHeader(r io.ReadSeeker) (HeaderInfo, bool, error) {
	var header modernHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		// Too short for a modern header, may still be a legacy one
		return HeaderInfo{}, false, nil
	}
	if header.HeaderSize > MaxHeaderSize || header.HeaderSize < modernBaseSize {
		if configuration.Verbosity > 2 {
			message := fmt.Sprintf("Header size %d out of range, using legacy layout", header.HeaderSize)
			logger.Info(message, "header")
		}
		return HeaderInfo{}, false, nil
	}
	if _, err := r.Seek(int64(header.HeaderSize-modernBaseSize), io.SeekCurrent); err != nil {
		return HeaderInfo{}, false, nil
	}
	section := make([]byte, len(SectionMarker))
	if _, err := io.ReadFull(r, section); err != nil || !bytes.Equal(section, SectionMarker) {
		if configuration.Verbosity > 2 {
			logger.Info("No section marker after header, using legacy layout", "header")
		}
		return HeaderInfo{}, false, nil
	}

	info := HeaderInfo{
		Generation:       GenerationModern,
		Version:          header.Version,
		HeaderSize:       header.HeaderSize,
		ScanTableOffset:  header.ScanTableOffset,
		ScanCount:        header.ScanCount,
		ParamTableOffset: header.ParamTableOffset,
		ParamTableSize:   header.ParamTableSize,
		DataOffset:       int64(len(Magic)+modernFixedSize) + int64(header.HeaderSize-modernBaseSize) + int64(len(SectionMarker)),
	}
	switch string(header.Mode[:]) {
	case "GRPS":
		info.Mode = ModeGroups
	case "HITS":
		info.Mode = ModeHits
	default:
		offset := int64(len(Magic) + 8)
		return HeaderInfo{}, false, newDecodeError(UnknownMode, offset, fmt.Sprintf("unknown TDC mode %q", header.Mode[:]), nil)
	}
	logHeader(info)
	return info, true, nil
}

func readLegacyHeader(r io.ReadSeeker) (HeaderInfo, error) {
	if _, err := r.Seek(int64(len(Magic)), io.SeekStart); err != nil {
		return HeaderInfo{}, err
	}
	var header legacyHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return HeaderInfo{}, fmt.Errorf("error reading legacy header: %w", err)
	}
	info := HeaderInfo{
		Generation:       GenerationLegacy,
		Mode:             ModeHits,
		ScanTableOffset:  int64(header.ScanTableOffset),
		ScanCount:        header.ScanCount,
		ParamTableOffset: int64(header.ParamTableOffset),
		ParamTableSize:   header.ParamTableSize,
		DataOffset:       int64(len(Magic) + legacyHeaderSize),
	}
	// Files without an explicit mode flag are hit streams
	if header.Mode == legacyGroupsFlag {
		info.Mode = ModeGroups
	}
	logHeader(info)
	return info, nil
}

func logHeader(info HeaderInfo) {
	if configuration.Verbosity > 1 {
		message := fmt.Sprintf("%s header, mode %s, %d scans, scan table at %d",
			info.Generation, info.Mode, info.ScanCount, info.ScanTableOffset)
		logger.Info(message, "header")
	}
	if configuration.Verbosity > 2 {
		message := fmt.Sprintf("Version: %d, header size: %d, params at %d (%d bytes), data at %d",
			info.Version, info.HeaderSize, info.ParamTableOffset, info.ParamTableSize, info.DataOffset)
		logger.Info(message, "header")
	}
}
