package server

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minipg/minipg/internal/core"
	"github.com/shopspring/decimal"
)

// ───────────────────────────────────────────────────────────────────────────
// PostgreSQL binary COPY codec
// ───────────────────────────────────────────────────────────────────────────
//
// Bit-exact with the PostgreSQL binary COPY format:
//
//   Header:  "PGCOPY\n\xff\r\n\0" (11 bytes), int32 flags = 0,
//            int32 extension area length = 0
//   Row:     int16 field count, then per field int32 length (-1 = NULL)
//            followed by that many payload bytes
//   Trailer: int16 -1
//
// Field payloads use the PostgreSQL binary send formats: big-endian
// integers, 8-byte float bits, dates as days since 2000-01-01, timestamps
// as microseconds since 2000-01-01T00:00:00, uuids as 16 raw bytes, and
// numerics as base-10000 digit groups.

// copySignature is the 11-byte fixed header.
var copySignature = []byte("PGCOPY\n\xff\r\n\x00")

// postgresEpoch is the reference instant for binary dates and timestamps.
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	numericPos = 0x0000
	numericNeg = 0x4000
	numericNaN = 0xC000
)

// CopyEncoder writes binary COPY data for rows of a fixed column schema.
type CopyEncoder struct {
	w       io.Writer
	columns []core.Column
	started bool
}

// NewCopyEncoder builds an encoder for the given column schema.
func NewCopyEncoder(w io.Writer, columns []core.Column) *CopyEncoder {
	return &CopyEncoder{w: w, columns: columns}
}

// WriteHeader emits the signature, flags, and extension area.
func (e *CopyEncoder) WriteHeader() error {
	if _, err := e.w.Write(copySignature); err != nil {
		return err
	}
	var buf [8]byte // flags + extension length, both zero
	if _, err := e.w.Write(buf[:]); err != nil {
		return err
	}
	e.started = true
	return nil
}

// WriteRow emits one row. Values must align with the schema positionally.
func (e *CopyEncoder) WriteRow(values []core.Value) error {
	if !e.started {
		if err := e.WriteHeader(); err != nil {
			return err
		}
	}
	if len(values) != len(e.columns) {
		return fmt.Errorf("%w: row has %d values, schema has %d columns",
			core.ErrColumnCountMismatch, len(values), len(e.columns))
	}

	var buf bytes.Buffer
	var n16 [2]byte
	binary.BigEndian.PutUint16(n16[:], uint16(len(values)))
	buf.Write(n16[:])

	for i, v := range values {
		if v.IsNull() {
			var neg [4]byte
			binary.BigEndian.PutUint32(neg[:], 0xFFFFFFFF)
			buf.Write(neg[:])
			continue
		}
		payload, err := encodeCopyField(&e.columns[i], v)
		if err != nil {
			return err
		}
		var ln [4]byte
		binary.BigEndian.PutUint32(ln[:], uint32(len(payload)))
		buf.Write(ln[:])
		buf.Write(payload)
	}

	_, err := e.w.Write(buf.Bytes())
	return err
}

// WriteTrailer emits the end-of-data marker.
func (e *CopyEncoder) WriteTrailer() error {
	var t [2]byte
	binary.BigEndian.PutUint16(t[:], 0xFFFF)
	_, err := e.w.Write(t[:])
	return err
}

func encodeCopyField(col *core.Column, v core.Value) ([]byte, error) {
	switch col.Type.Name {
	case core.TypeBoolean:
		if v.Kind != core.KindBoolean {
			return nil, copyTypeError(col, v)
		}
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case core.TypeSmallInt:
		n, ok := v.AsInt()
		if !ok {
			return nil, copyTypeError(col, v)
		}
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, uint16(int16(n)))
		return out, nil

	case core.TypeInteger, core.TypeBigInt, core.TypeSerial, core.TypeBigSerial:
		n, ok := v.AsInt()
		if !ok {
			return nil, copyTypeError(col, v)
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(n))
		return out, nil

	case core.TypeReal:
		if v.Kind != core.KindReal {
			return nil, copyTypeError(col, v)
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, math.Float64bits(v.Float))
		return out, nil

	case core.TypeText, core.TypeVarchar, core.TypeChar, core.TypeJson, core.TypeJsonb, core.TypeEnum:
		s, ok := v.AsText()
		if !ok {
			return nil, copyTypeError(col, v)
		}
		return []byte(s), nil

	case core.TypeBytea:
		if v.Kind != core.KindBytea {
			return nil, copyTypeError(col, v)
		}
		return v.Bytes, nil

	case core.TypeUuid:
		if v.Kind != core.KindUuid {
			return nil, copyTypeError(col, v)
		}
		out := make([]byte, 16)
		copy(out, v.UUID[:])
		return out, nil

	case core.TypeDate:
		if v.Kind != core.KindDate {
			return nil, copyTypeError(col, v)
		}
		days := int32(v.Time.Sub(postgresEpoch).Hours() / 24)
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(days))
		return out, nil

	case core.TypeTimestamp, core.TypeTimestampTz:
		if v.Kind != core.KindTimestamp && v.Kind != core.KindTimestampTz {
			return nil, copyTypeError(col, v)
		}
		micros := v.Time.Sub(postgresEpoch).Microseconds()
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(micros))
		return out, nil

	case core.TypeNumeric:
		if v.Kind != core.KindNumeric {
			return nil, copyTypeError(col, v)
		}
		return encodeNumeric(v.Dec), nil

	default:
		return nil, fmt.Errorf("binary COPY does not support type %s", col.Type)
	}
}

func copyTypeError(col *core.Column, v core.Value) error {
	return core.TypeMismatch(fmt.Sprintf(
		"COPY column %q expects %s, row holds %s", col.Name, col.Type, v.Kind))
}

// encodeNumeric renders a decimal in PostgreSQL's base-10000 wire format:
// int16 ndigits, weight, sign, dscale, then ndigits int16 digit groups.
func encodeNumeric(d decimal.Decimal) []byte {
	sign := uint16(numericPos)
	if d.IsNegative() {
		sign = numericNeg
		d = d.Neg()
	}

	dscale := 0
	if d.Exponent() < 0 {
		dscale = int(-d.Exponent())
	}

	// Align the digit string to a multiple of 4 around the decimal point.
	text := d.String()
	intPart, fracPart, _ := strings.Cut(text, ".")
	for len(intPart)%4 != 0 {
		intPart = "0" + intPart
	}
	for len(fracPart)%4 != 0 {
		fracPart += "0"
	}
	allDigits := intPart + fracPart

	var groups []uint16
	for i := 0; i < len(allDigits); i += 4 {
		var g uint16
		for j := 0; j < 4; j++ {
			g = g*10 + uint16(allDigits[i+j]-'0')
		}
		groups = append(groups, g)
	}

	weight := len(intPart)/4 - 1
	// Strip leading and trailing zero groups, adjusting the weight.
	for len(groups) > 0 && groups[0] == 0 {
		groups = groups[1:]
		weight--
	}
	for len(groups) > 0 && groups[len(groups)-1] == 0 {
		groups = groups[:len(groups)-1]
	}
	if len(groups) == 0 {
		weight = 0
		sign = numericPos
	}

	out := make([]byte, 8+2*len(groups))
	binary.BigEndian.PutUint16(out[0:], uint16(len(groups)))
	binary.BigEndian.PutUint16(out[2:], uint16(int16(weight)))
	binary.BigEndian.PutUint16(out[4:], sign)
	binary.BigEndian.PutUint16(out[6:], uint16(dscale))
	for i, g := range groups {
		binary.BigEndian.PutUint16(out[8+2*i:], g)
	}
	return out
}

// CopyDecoder reads binary COPY data against a fixed column schema.
type CopyDecoder struct {
	r          io.Reader
	columns    []core.Column
	headerRead bool
}

// NewCopyDecoder builds a decoder for the given column schema.
func NewCopyDecoder(r io.Reader, columns []core.Column) *CopyDecoder {
	return &CopyDecoder{r: r, columns: columns}
}

// ReadHeader consumes and validates the signature, flags, and extension
// area.
func (d *CopyDecoder) ReadHeader() error {
	sig := make([]byte, len(copySignature))
	if _, err := io.ReadFull(d.r, sig); err != nil {
		return fmt.Errorf("read COPY signature: %w", err)
	}
	if !bytes.Equal(sig, copySignature) {
		return core.Corruption("bad binary COPY signature")
	}
	var head [8]byte
	if _, err := io.ReadFull(d.r, head[:]); err != nil {
		return fmt.Errorf("read COPY header: %w", err)
	}
	extLen := binary.BigEndian.Uint32(head[4:])
	if extLen > 0 {
		if _, err := io.CopyN(io.Discard, d.r, int64(extLen)); err != nil {
			return fmt.Errorf("skip COPY extension area: %w", err)
		}
	}
	d.headerRead = true
	return nil
}

// ReadRow decodes the next row. The trailer returns io.EOF.
func (d *CopyDecoder) ReadRow() ([]core.Value, error) {
	if !d.headerRead {
		if err := d.ReadHeader(); err != nil {
			return nil, err
		}
	}
	var cnt [2]byte
	if _, err := io.ReadFull(d.r, cnt[:]); err != nil {
		return nil, err
	}
	fieldCount := int16(binary.BigEndian.Uint16(cnt[:]))
	if fieldCount == -1 {
		return nil, io.EOF
	}
	if int(fieldCount) != len(d.columns) {
		return nil, fmt.Errorf("%w: row has %d fields, schema has %d columns",
			core.ErrColumnCountMismatch, fieldCount, len(d.columns))
	}

	values := make([]core.Value, fieldCount)
	for i := 0; i < int(fieldCount); i++ {
		var lnBuf [4]byte
		if _, err := io.ReadFull(d.r, lnBuf[:]); err != nil {
			return nil, err
		}
		ln := int32(binary.BigEndian.Uint32(lnBuf[:]))
		if ln == -1 {
			values[i] = core.Null()
			continue
		}
		payload := make([]byte, ln)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return nil, err
		}
		v, err := decodeCopyField(&d.columns[i], payload)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func decodeCopyField(col *core.Column, payload []byte) (core.Value, error) {
	switch col.Type.Name {
	case core.TypeBoolean:
		if len(payload) != 1 {
			return core.Value{}, core.Corruption("bad bool field length")
		}
		return core.NewBoolean(payload[0] != 0), nil

	case core.TypeSmallInt:
		if len(payload) != 2 {
			return core.Value{}, core.Corruption("bad smallint field length")
		}
		return core.NewSmallInt(int16(binary.BigEndian.Uint16(payload))), nil

	case core.TypeInteger, core.TypeBigInt, core.TypeSerial, core.TypeBigSerial:
		if len(payload) != 8 {
			return core.Value{}, core.Corruption("bad integer field length")
		}
		return core.NewInteger(int64(binary.BigEndian.Uint64(payload))), nil

	case core.TypeReal:
		if len(payload) != 8 {
			return core.Value{}, core.Corruption("bad real field length")
		}
		return core.NewReal(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil

	case core.TypeText, core.TypeVarchar:
		return core.NewText(string(payload)), nil
	case core.TypeChar:
		return core.NewChar(string(payload)), nil
	case core.TypeJson, core.TypeJsonb:
		return core.NewJson(string(payload)), nil
	case core.TypeEnum:
		return core.NewEnum(col.Type.EnumName, string(payload)), nil

	case core.TypeBytea:
		return core.NewBytea(append([]byte(nil), payload...)), nil

	case core.TypeUuid:
		if len(payload) != 16 {
			return core.Value{}, core.Corruption("bad uuid field length")
		}
		var u uuid.UUID
		copy(u[:], payload)
		return core.NewUuid(u), nil

	case core.TypeDate:
		if len(payload) != 4 {
			return core.Value{}, core.Corruption("bad date field length")
		}
		days := int32(binary.BigEndian.Uint32(payload))
		return core.NewDate(postgresEpoch.AddDate(0, 0, int(days))), nil

	case core.TypeTimestamp, core.TypeTimestampTz:
		if len(payload) != 8 {
			return core.Value{}, core.Corruption("bad timestamp field length")
		}
		micros := int64(binary.BigEndian.Uint64(payload))
		t := postgresEpoch.Add(time.Duration(micros) * time.Microsecond)
		if col.Type.Name == core.TypeTimestampTz {
			return core.NewTimestampTz(t), nil
		}
		return core.NewTimestamp(t), nil

	case core.TypeNumeric:
		return decodeNumeric(payload)

	default:
		return core.Value{}, fmt.Errorf("binary COPY does not support type %s", col.Type)
	}
}

func decodeNumeric(payload []byte) (core.Value, error) {
	if len(payload) < 8 {
		return core.Value{}, core.Corruption("bad numeric field length")
	}
	ndigits := int(binary.BigEndian.Uint16(payload[0:]))
	weight := int(int16(binary.BigEndian.Uint16(payload[2:])))
	sign := binary.BigEndian.Uint16(payload[4:])
	dscale := int(binary.BigEndian.Uint16(payload[6:]))

	if sign == numericNaN {
		return core.Value{}, core.TypeMismatch("numeric NaN is not supported")
	}
	if len(payload) != 8+2*ndigits {
		return core.Value{}, core.Corruption("numeric digit count mismatch")
	}

	// Each group i carries value group_i * 10000^(weight-i).
	result := decimal.Zero
	for i := 0; i < ndigits; i++ {
		g := int64(binary.BigEndian.Uint16(payload[8+2*i:]))
		exp := int32(4 * (weight - i))
		result = result.Add(decimal.New(g, exp))
	}
	if sign == numericNeg {
		result = result.Neg()
	}
	// dscale is display-only; keep at most that many fractional digits.
	if result.Exponent() < -int32(dscale) {
		result = result.Truncate(int32(dscale))
	}
	return core.NewNumeric(result), nil
}
