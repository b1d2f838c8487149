package core

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ───────────────────────────────────────────────────────────────────────────
// Binary row codec
// ───────────────────────────────────────────────────────────────────────────
//
// Rows are stored inside page slots in a compact tagged binary format:
//
//   [0:8]   Xmin (uint64 LE)
//   [8:16]  Xmax (uint64 LE, 0 = not set)
//   [16:18] ValueCount (uint16 LE)
//   For each value:
//     [0]   Kind tag (uint8, = ValueKind)
//     [1..] Payload (fixed width for numerics/time/uuid,
//            uint32 LE length prefix for strings and bytes)
//
// The format round-trips every Value kind losslessly; times are stored as
// Unix microseconds, decimals as their canonical string.

// MarshalRow encodes a row version into its slot payload.
func MarshalRow(r Row) []byte {
	buf := make([]byte, 0, 18+len(r.Values)*9)
	buf = appendU64(buf, r.Xmin)
	buf = appendU64(buf, r.Xmax)
	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], uint16(len(r.Values)))
	buf = append(buf, cnt[:]...)
	for _, v := range r.Values {
		buf = appendValue(buf, v)
	}
	return buf
}

func appendU64(buf []byte, u uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], u)
	return append(buf, b[:]...)
}

func appendStr(buf []byte, s string) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	buf = append(buf, b[:]...)
	return append(buf, s...)
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindSmallInt, KindInteger:
		buf = appendU64(buf, uint64(v.Int))
	case KindReal:
		buf = appendU64(buf, floatBits(v.Float))
	case KindNumeric:
		buf = appendStr(buf, v.Dec.String())
	case KindText, KindChar, KindJson:
		buf = appendStr(buf, v.Str)
	case KindBoolean:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindDate, KindTimestamp, KindTimestampTz:
		buf = appendU64(buf, uint64(v.Time.UnixMicro()))
	case KindUuid:
		buf = append(buf, v.UUID[:]...)
	case KindBytea:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(v.Bytes)))
		buf = append(buf, b[:]...)
		buf = append(buf, v.Bytes...)
	case KindEnum:
		buf = appendStr(buf, v.EnumName)
		buf = appendStr(buf, v.Str)
	}
	return buf
}

// UnmarshalRow decodes a slot payload back into a row version.
func UnmarshalRow(data []byte) (Row, error) {
	var r Row
	if len(data) < 18 {
		return r, Corruption("row payload too short")
	}
	r.Xmin = binary.LittleEndian.Uint64(data[0:8])
	r.Xmax = binary.LittleEndian.Uint64(data[8:16])
	count := int(binary.LittleEndian.Uint16(data[16:18]))
	off := 18
	r.Values = make([]Value, count)
	for i := 0; i < count; i++ {
		v, n, err := decodeValue(data[off:])
		if err != nil {
			return r, fmt.Errorf("value %d: %w", i, err)
		}
		r.Values[i] = v
		off += n
	}
	return r, nil
}

func decodeValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, Corruption("truncated value tag")
	}
	kind := ValueKind(data[0])
	off := 1
	switch kind {
	case KindNull:
		return Null(), off, nil
	case KindSmallInt, KindInteger:
		if len(data) < off+8 {
			return Value{}, 0, Corruption("truncated integer")
		}
		return Value{Kind: kind, Int: int64(binary.LittleEndian.Uint64(data[off:]))}, off + 8, nil
	case KindReal:
		if len(data) < off+8 {
			return Value{}, 0, Corruption("truncated real")
		}
		return NewReal(floatFromBits(binary.LittleEndian.Uint64(data[off:]))), off + 8, nil
	case KindNumeric:
		s, n, err := decodeStr(data[off:])
		if err != nil {
			return Value{}, 0, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, 0, Corruption("bad numeric payload " + s)
		}
		return NewNumeric(d), off + n, nil
	case KindText, KindChar, KindJson:
		s, n, err := decodeStr(data[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: kind, Str: s}, off + n, nil
	case KindBoolean:
		if len(data) < off+1 {
			return Value{}, 0, Corruption("truncated boolean")
		}
		return NewBoolean(data[off] != 0), off + 1, nil
	case KindDate, KindTimestamp, KindTimestampTz:
		if len(data) < off+8 {
			return Value{}, 0, Corruption("truncated time")
		}
		us := int64(binary.LittleEndian.Uint64(data[off:]))
		t := time.UnixMicro(us).UTC()
		return Value{Kind: kind, Time: t}, off + 8, nil
	case KindUuid:
		if len(data) < off+16 {
			return Value{}, 0, Corruption("truncated uuid")
		}
		var u uuid.UUID
		copy(u[:], data[off:off+16])
		return NewUuid(u), off + 16, nil
	case KindBytea:
		if len(data) < off+4 {
			return Value{}, 0, Corruption("truncated bytea length")
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if len(data) < off+n {
			return Value{}, 0, Corruption("truncated bytea payload")
		}
		b := make([]byte, n)
		copy(b, data[off:off+n])
		return NewBytea(b), off + n, nil
	case KindEnum:
		name, n1, err := decodeStr(data[off:])
		if err != nil {
			return Value{}, 0, err
		}
		label, n2, err := decodeStr(data[off+n1:])
		if err != nil {
			return Value{}, 0, err
		}
		return NewEnum(name, label), off + n1 + n2, nil
	default:
		return Value{}, 0, Corruption(fmt.Sprintf("unknown value tag 0x%02x", data[0]))
	}
}

func decodeStr(data []byte) (string, int, error) {
	if len(data) < 4 {
		return "", 0, Corruption("truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+n {
		return "", 0, Corruption("truncated string payload")
	}
	return string(data[4 : 4+n]), 4 + n, nil
}

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(u uint64) float64 { return math.Float64frombits(u) }
