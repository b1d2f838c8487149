package core

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowCodecRoundTrip(t *testing.T) {
	d, _ := decimal.NewFromString("12345.6789")
	u := uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")
	ts := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

	row := Row{
		Values: []Value{
			Null(),
			NewSmallInt(-12),
			NewInteger(1 << 40),
			NewReal(3.25),
			NewNumeric(d),
			NewText("hello, мир"),
			NewChar("ab "),
			NewBoolean(true),
			NewDate(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)),
			NewTimestamp(ts),
			NewTimestampTz(ts),
			NewUuid(u),
			NewJson(`{"k":[1,2]}`),
			NewBytea([]byte{0, 1, 2, 0xFF}),
			NewEnum("mood", "happy"),
		},
		Xmin: 7,
		Xmax: 9,
	}

	decoded, err := UnmarshalRow(MarshalRow(row))
	require.NoError(t, err)
	assert.Equal(t, row.Xmin, decoded.Xmin)
	assert.Equal(t, row.Xmax, decoded.Xmax)
	require.Len(t, decoded.Values, len(row.Values))
	for i := range row.Values {
		assert.True(t, row.Values[i].Equal(decoded.Values[i]),
			"value %d: %v != %v", i, row.Values[i], decoded.Values[i])
	}
}

func TestRowCodecSameSizeAfterDelete(t *testing.T) {
	// DeleteWhere rewrites a version in place; the payload size must not
	// change when only xmax does.
	row := NewRow([]Value{NewInteger(1), NewText("abc")}, 3)
	before := MarshalRow(row)
	row.MarkDeleted(9)
	after := MarshalRow(row)
	assert.Equal(t, len(before), len(after))
}

func TestRowCodecRejectsTruncated(t *testing.T) {
	row := NewRow([]Value{NewText("payload")}, 1)
	raw := MarshalRow(row)
	_, err := UnmarshalRow(raw[:len(raw)-3])
	assert.ErrorIs(t, err, ErrBinaryCorruption)

	_, err = UnmarshalRow([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBinaryCorruption)
}

func TestKeyCodecOrderPreserving(t *testing.T) {
	pairs := []struct {
		lo, hi Value
	}{
		{NewInteger(-5), NewInteger(3)},
		{NewInteger(3), NewInteger(4)},
		{NewReal(-1.5), NewReal(0.25)},
		{NewText("abc"), NewText("abd")},
		{NewText("a"), NewText("a\x00b")},
		{NewBoolean(false), NewBoolean(true)},
	}
	for _, p := range pairs {
		lo := EncodeKeyValue(p.lo)
		hi := EncodeKeyValue(p.hi)
		assert.Negative(t, bytes.Compare(lo, hi), "%v should sort before %v", p.lo, p.hi)
	}
}

func TestKeyCodecCompositePrefix(t *testing.T) {
	full := EncodeKey([]Value{NewText("a"), NewInteger(1)})
	prefix := EncodeKey([]Value{NewText("a")})
	assert.True(t, bytes.HasPrefix(full, prefix))

	other := EncodeKey([]Value{NewText("ab"), NewInteger(1)})
	assert.False(t, bytes.HasPrefix(other, prefix))
}
