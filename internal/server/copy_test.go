package server

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minipg/minipg/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyHeaderBytes(t *testing.T) {
	var buf bytes.Buffer
	enc := NewCopyEncoder(&buf, nil)
	require.NoError(t, enc.WriteHeader())
	require.NoError(t, enc.WriteTrailer())

	want := append([]byte("PGCOPY\n\xff\r\n\x00"),
		0, 0, 0, 0, // flags
		0, 0, 0, 0, // extension area length
		0xFF, 0xFF, // trailer
	)
	assert.Equal(t, want, buf.Bytes())
}

func TestCopyRoundTripBasicRow(t *testing.T) {
	columns := []core.Column{
		{Name: "a", Type: core.IntegerType(), Nullable: true},
		{Name: "b", Type: core.IntegerType()},
		{Name: "c", Type: core.TextType()},
		{Name: "d", Type: core.BooleanType()},
	}
	row := []core.Value{
		core.Null(),
		core.NewInteger(42),
		core.NewText("hello"),
		core.NewBoolean(true),
	}

	var buf bytes.Buffer
	enc := NewCopyEncoder(&buf, columns)
	require.NoError(t, enc.WriteHeader())
	require.NoError(t, enc.WriteRow(row))
	require.NoError(t, enc.WriteTrailer())

	dec := NewCopyDecoder(&buf, columns)
	got, err := dec.ReadRow()
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := range row {
		assert.True(t, row[i].Equal(got[i]), "field %d: %v != %v", i, row[i], got[i])
	}

	_, err = dec.ReadRow()
	assert.Equal(t, io.EOF, err)
}

func TestCopyFieldEncodings(t *testing.T) {
	columns := []core.Column{{Name: "n", Type: core.IntegerType()}}
	var buf bytes.Buffer
	enc := NewCopyEncoder(&buf, columns)
	require.NoError(t, enc.WriteHeader())
	require.NoError(t, enc.WriteRow([]core.Value{core.NewInteger(1)}))

	raw := buf.Bytes()
	// Skip the 19-byte header: field count (2), length (4), then the
	// big-endian int64 payload.
	body := raw[19:]
	assert.Equal(t, []byte{0, 1}, body[:2])
	assert.Equal(t, []byte{0, 0, 0, 8}, body[2:6])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, body[6:14])
}

func TestCopyRoundTripAllTypes(t *testing.T) {
	d, _ := decimal.NewFromString("-1234.5678")
	u := uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)

	columns := []core.Column{
		{Name: "sm", Type: core.SmallIntType()},
		{Name: "r", Type: core.RealType()},
		{Name: "num", Type: core.NumericType(12, 4)},
		{Name: "by", Type: core.ByteaType()},
		{Name: "u", Type: core.UuidType()},
		{Name: "dt", Type: core.DateType()},
		{Name: "ts", Type: core.TimestampType()},
		{Name: "js", Type: core.JsonType()},
	}
	row := []core.Value{
		core.NewSmallInt(-7),
		core.NewReal(2.5),
		core.NewNumeric(d),
		core.NewBytea([]byte{0x00, 0xAB}),
		core.NewUuid(u),
		core.NewDate(date),
		core.NewTimestamp(ts),
		core.NewJson(`{"x":1}`),
	}

	var buf bytes.Buffer
	enc := NewCopyEncoder(&buf, columns)
	require.NoError(t, enc.WriteHeader())
	require.NoError(t, enc.WriteRow(row))
	require.NoError(t, enc.WriteTrailer())

	dec := NewCopyDecoder(&buf, columns)
	got, err := dec.ReadRow()
	require.NoError(t, err)
	for i := range row {
		assert.True(t, row[i].Equal(got[i]), "field %d: %v != %v", i, row[i], got[i])
	}
}

func TestCopyDateEncodingEpoch(t *testing.T) {
	columns := []core.Column{{Name: "d", Type: core.DateType()}}
	var buf bytes.Buffer
	enc := NewCopyEncoder(&buf, columns)
	require.NoError(t, enc.WriteHeader())
	// 2000-01-02 is exactly one day after the PostgreSQL epoch.
	require.NoError(t, enc.WriteRow([]core.Value{
		core.NewDate(time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)),
	}))
	raw := buf.Bytes()
	payload := raw[len(raw)-4:]
	assert.Equal(t, []byte{0, 0, 0, 1}, payload)
}

func TestCopyNumericWire(t *testing.T) {
	// 1.5 encodes as one integer group (1) at weight 0 and one fractional
	// group (5000), dscale 1.
	d, _ := decimal.NewFromString("1.5")
	payload := encodeNumeric(d)
	require.Len(t, payload, 8+2*2)
	assert.Equal(t, []byte{0, 2}, payload[0:2])    // ndigits
	assert.Equal(t, []byte{0, 0}, payload[2:4])    // weight
	assert.Equal(t, []byte{0, 0}, payload[4:6])    // sign +
	assert.Equal(t, []byte{0, 1}, payload[6:8])    // dscale
	assert.Equal(t, []byte{0, 1}, payload[8:10])   // group 1
	assert.Equal(t, []byte{0x13, 0x88}, payload[10:12]) // group 5000

	v, err := decodeNumeric(payload)
	require.NoError(t, err)
	assert.True(t, v.Equal(core.NewNumeric(d)))
}

func TestCopyDecoderRejectsBadSignature(t *testing.T) {
	dec := NewCopyDecoder(bytes.NewReader([]byte("NOTPGCOPY..garbage")), nil)
	err := dec.ReadHeader()
	assert.Error(t, err)
}

func TestCopyColumnCountMismatch(t *testing.T) {
	columns := []core.Column{{Name: "a", Type: core.IntegerType()}}
	var buf bytes.Buffer
	enc := NewCopyEncoder(&buf, columns)
	require.NoError(t, enc.WriteHeader())
	err := enc.WriteRow([]core.Value{core.NewInteger(1), core.NewInteger(2)})
	assert.ErrorIs(t, err, core.ErrColumnCountMismatch)
}
