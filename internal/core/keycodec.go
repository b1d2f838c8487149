package core

import (
	"encoding/binary"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// Order-preserving key encoding
// ───────────────────────────────────────────────────────────────────────────
//
// Index keys are byte strings whose lexicographic order equals the value
// order within a comparison class. Composite keys concatenate per-value
// encodings; variable-length payloads are escaped and terminated so a value
// boundary can never be confused with payload bytes:
//
//   0x00 in payload  →  0x00 0xFF
//   terminator       →  0x00 0x00
//
// "a" sorts before "a\x00b" because 0x00 0x00 < 0x00 0xFF. The terminator
// also acts as the composite separator, and a full-value encoding is always
// a prefix of every composite key extending it, which is what makes B-tree
// prefix scans work.
//
// Numeric payloads are big-endian with the sign bit flipped (integers) or
// the IEEE total-order transform (floats), preceded by a kind byte so keys
// of different classes never interleave.

const (
	keyTagNull   byte = 0x01
	keyTagBool   byte = 0x02
	keyTagInt    byte = 0x03
	keyTagFloat  byte = 0x04
	keyTagDec    byte = 0x05
	keyTagText   byte = 0x06
	keyTagTime   byte = 0x07
	keyTagUuid   byte = 0x08
	keyTagBytes  byte = 0x09
)

// EncodeKey builds the composite key for values, in order.
func EncodeKey(values []Value) []byte {
	var buf []byte
	for _, v := range values {
		buf = encodeKeyValue(buf, v)
	}
	return buf
}

// EncodeKeyValue encodes a single value (convenience for one-column keys).
func EncodeKeyValue(v Value) []byte {
	return encodeKeyValue(nil, v)
}

func encodeKeyValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindNull:
		return append(buf, keyTagNull)
	case KindBoolean:
		buf = append(buf, keyTagBool)
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	case KindSmallInt, KindInteger:
		buf = append(buf, keyTagInt)
		return appendUint64(buf, uint64(v.Int)^(1<<63))
	case KindReal:
		buf = append(buf, keyTagFloat)
		return appendUint64(buf, floatSortBits(v.Float))
	case KindNumeric:
		buf = append(buf, keyTagDec)
		// Approximate order via the float image, then the exact string as a
		// tiebreaker so distinct decimals never collide.
		f, _ := v.Dec.Float64()
		buf = appendUint64(buf, floatSortBits(f))
		return appendEscaped(buf, []byte(v.Dec.String()))
	case KindText, KindChar, KindJson, KindEnum:
		buf = append(buf, keyTagText)
		return appendEscaped(buf, []byte(v.Str))
	case KindDate, KindTimestamp, KindTimestampTz:
		buf = append(buf, keyTagTime)
		return appendUint64(buf, uint64(v.Time.UnixMicro())^(1<<63))
	case KindUuid:
		buf = append(buf, keyTagUuid)
		return append(buf, v.UUID[:]...)
	case KindBytea:
		buf = append(buf, keyTagBytes)
		return appendEscaped(buf, v.Bytes)
	default:
		return append(buf, keyTagNull)
	}
}

func appendUint64(buf []byte, u uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], u)
	return append(buf, b[:]...)
}

// floatSortBits maps a float64 to a uint64 whose unsigned order equals the
// float order: flip the sign bit for positives, all bits for negatives.
func floatSortBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func appendEscaped(buf, payload []byte) []byte {
	for _, b := range payload {
		if b == 0x00 {
			buf = append(buf, 0x00, 0xFF)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, 0x00, 0x00)
}
