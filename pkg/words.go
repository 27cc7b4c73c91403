package hptdc

import "fmt"

// WordType is the type tag of a decoded group-mode word.
type WordType uint8

const (
	WordUnknown WordType = iota
	WordFL
	WordRS
	WordER
	WordGR
	WordRL
	WordLV
)

var wordTypeStrings = []string{"??", "FL", "RS", "ER", "GR", "RL", "LV"}

func (t WordType) String() string {
	if int(t) >= len(wordTypeStrings) {
		return "??"
	}
	return wordTypeStrings[t]
}

// Tag returns the two character tag as stored in decoded datasets.
func (t WordType) Tag() [2]byte {
	s := t.String()
	return [2]byte{s[0], s[1]}
}

func ParseWordType(tag string) (WordType, error) {
	for i, s := range wordTypeStrings {
		if s == tag {
			return WordType(i), nil
		}
	}
	return WordUnknown, fmt.Errorf("unknown word type tag %q", tag)
}

// bitRange is an inclusive (high, low) bit range of a 32 bit word.
type bitRange struct {
	high uint8
	low  uint8
	used bool
}

func bits(high, low uint8) bitRange {
	return bitRange{high: high, low: low, used: true}
}

var unused = bitRange{}

func (r bitRange) width() uint8 {
	if !r.used {
		return 0
	}
	return r.high - r.low + 1
}

func (r bitRange) mask() uint32 {
	if !r.used {
		return 0
	}
	if r.width() == 32 {
		return 0xFFFFFFFF
	}
	return ((uint32(1) << r.width()) - 1) << r.low
}

func (r bitRange) extract(raw uint32) uint32 {
	return (raw & r.mask()) >> r.low
}

func (r bitRange) insert(value uint32) uint32 {
	return (value << r.low) & r.mask()
}

type wordDefinition struct {
	wtype   WordType
	typeLen uint8
	typeVal uint32
	arg1    bitRange
	arg2    bitRange
	arg3    bitRange
}

func (d wordDefinition) matches(raw uint32) bool {
	return raw>>(32-d.typeLen) == d.typeVal
}

// Lookup order is fixed; the prefixes are mutually exclusive so the first
// match is the only match.
var wordDefinitions = []wordDefinition{
	{wtype: WordFL, typeLen: 2, typeVal: 2, arg1: bits(29, 24), arg2: unused, arg3: bits(23, 0)},
	{wtype: WordRS, typeLen: 2, typeVal: 3, arg1: bits(29, 24), arg2: unused, arg3: bits(23, 0)},
	{wtype: WordER, typeLen: 2, typeVal: 1, arg1: bits(29, 24), arg2: bits(23, 16), arg3: bits(15, 0)},
	{wtype: WordGR, typeLen: 4, typeVal: 0, arg1: bits(27, 24), arg2: unused, arg3: bits(23, 0)},
	{wtype: WordRL, typeLen: 8, typeVal: 16, arg1: unused, arg2: unused, arg3: bits(23, 0)},
	{wtype: WordLV, typeLen: 5, typeVal: 3, arg1: bits(26, 21), arg2: unused, arg3: bits(20, 0)},
}

func definitionOf(t WordType) (wordDefinition, bool) {
	for _, def := range wordDefinitions {
		if def.wtype == t {
			return def, true
		}
	}
	return wordDefinition{}, false
}

// DecodedWord is a group-mode word split into its type and arguments.
type DecodedWord struct {
	Type WordType
	Arg1 int8
	Arg2 int8
	Arg3 int32
}

func (w DecodedWord) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)", w.Type, w.Arg1, w.Arg2, w.Arg3)
}

// DecodeWord decodes one raw word. Words matching no definition decode to
// WordUnknown carrying the raw value as a signed Arg3.
func DecodeWord(raw uint32) DecodedWord {
	for _, def := range wordDefinitions {
		if !def.matches(raw) {
			continue
		}
		return DecodedWord{
			Type: def.wtype,
			Arg1: int8(uint8(def.arg1.extract(raw))),
			Arg2: int8(uint8(def.arg2.extract(raw))),
			Arg3: int32(def.arg3.extract(raw)),
		}
	}
	return DecodedWord{Type: WordUnknown, Arg3: int32(raw)}
}

// DecodeWords decodes raw into dst, reusing its storage.
func DecodeWords(dst []DecodedWord, raw []uint32) []DecodedWord {
	if cap(dst) < len(raw) {
		dst = make([]DecodedWord, len(raw))
	}
	dst = dst[:len(raw)]
	for i, word := range raw {
		dst[i] = DecodeWord(word)
	}
	return dst
}

// EncodeWord is the inverse of DecodeWord. Arguments wider than their bit
// range are truncated to it.
func EncodeWord(w DecodedWord) uint32 {
	def, ok := definitionOf(w.Type)
	if !ok {
		return uint32(w.Arg3)
	}
	raw := def.typeVal << (32 - def.typeLen)
	raw |= def.arg1.insert(uint32(uint8(w.Arg1)))
	raw |= def.arg2.insert(uint32(uint8(w.Arg2)))
	raw |= def.arg3.insert(uint32(w.Arg3))
	return raw
}
