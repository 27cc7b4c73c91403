package hptdc

import (
	"fmt"
	"io"
	"strings"
)

// ParamEntry is one "key value" line of the parameter block.
type ParamEntry struct {
	Key   string
	Value string
}

// ReadParams parses the trailing parameter block. Every problem is
// reported as a CorruptParamBlock error; the block is then omitted as a
// whole. An empty block yields no entries and no error.
func ReadParams(r io.ReadSeeker, size int64, info HeaderInfo) ([]ParamEntry, error) {
	offset := info.ParamTableOffset
	if offset <= 0 || info.ParamTableSize <= 0 {
		msg := fmt.Sprintf("no parameter block (offset %d, size %d)", offset, info.ParamTableSize)
		return nil, newDecodeError(CorruptParamBlock, offset, msg, nil)
	}
	// The last byte is the closing newline
	length := int64(info.ParamTableSize) - 1
	if offset+length > size {
		msg := fmt.Sprintf("parameter block %d+%d outside of file (%d bytes)", offset, length, size)
		return nil, newDecodeError(CorruptParamBlock, offset, msg, nil)
	}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, newDecodeError(CorruptParamBlock, offset, "cannot seek to parameter block", err)
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, newDecodeError(CorruptParamBlock, offset, "truncated parameter block", err)
	}
	for i, b := range raw {
		if b > 0x7F {
			msg := fmt.Sprintf("non ASCII byte 0x%02x", b)
			return nil, newDecodeError(CorruptParamBlock, offset+int64(i), msg, nil)
		}
	}
	return parseParams(string(raw), offset)
}

func parseParams(text string, offset int64) ([]ParamEntry, error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, nil
	}
	params := make([]ParamEntry, 0, len(lines))
	position := offset
	for i, line := range lines {
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			msg := fmt.Sprintf("line %d is not a key value pair: %q", i, line)
			return nil, newDecodeError(CorruptParamBlock, position, msg, nil)
		}
		params = append(params, ParamEntry{Key: parts[0], Value: parts[1]})
		position += int64(len(line)) + 1
	}
	return params, nil
}
