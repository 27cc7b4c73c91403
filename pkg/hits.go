package hptdc

import "encoding/binary"

const (
	RawWordSize   = 4
	HitRecordSize = 16
	// DecodedWordSize is the size of a decoded word record in the output:
	// 2 byte tag, two int8 arguments and an aligned int32.
	DecodedWordSize = 8
)

// HitRecord is one hit-mode record. The on-disk record carries four
// trailing padding bytes that are dropped.
type HitRecord struct {
	Time    int64
	Channel uint8
	Type    uint8
	Bin     uint16
}

func DecodeHit(buf []byte) HitRecord {
	_ = buf[HitRecordSize-1]
	return HitRecord{
		Time:    int64(binary.LittleEndian.Uint64(buf[0:8])),
		Channel: buf[8],
		Type:    buf[9],
		Bin:     binary.LittleEndian.Uint16(buf[10:12]),
	}
}

// DecodeHits decodes every complete record of buf into dst.
func DecodeHits(dst []HitRecord, buf []byte) []HitRecord {
	n := len(buf) / HitRecordSize
	if cap(dst) < n {
		dst = make([]HitRecord, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = DecodeHit(buf[i*HitRecordSize:])
	}
	return dst
}

// EncodeHit appends the on-disk form of h, padding included.
func EncodeHit(dst []byte, h HitRecord) []byte {
	var rec [HitRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:8], uint64(h.Time))
	rec[8] = h.Channel
	rec[9] = h.Type
	binary.LittleEndian.PutUint16(rec[10:12], h.Bin)
	return append(dst, rec[:]...)
}

// DecodeRawWords interprets buf as little endian 32 bit words.
func DecodeRawWords(dst []uint32, buf []byte) []uint32 {
	n := len(buf) / RawWordSize
	if cap(dst) < n {
		dst = make([]uint32, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = binary.LittleEndian.Uint32(buf[i*RawWordSize:])
	}
	return dst
}
