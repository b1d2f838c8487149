package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCompareWithinClass(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int eq", NewInteger(5), NewInteger(5), 0},
		{"int lt", NewInteger(3), NewInteger(5), -1},
		{"int gt", NewInteger(9), NewInteger(5), 1},
		{"smallint vs integer", NewSmallInt(7), NewInteger(7), 0},
		{"text", NewText("abc"), NewText("abd"), -1},
		{"bool", NewBoolean(false), NewBoolean(true), -1},
		{"real", NewReal(1.5), NewReal(1.25), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Compare(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueCompareCrossClassFails(t *testing.T) {
	_, err := NewInteger(1).Compare(NewText("1"))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = NewBoolean(true).Compare(NewInteger(1))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = NewInteger(1).Compare(Null())
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestValueEqualStructural(t *testing.T) {
	assert.True(t, NewText("x").Equal(NewText("x")))
	assert.False(t, NewText("x").Equal(NewText("y")))
	assert.True(t, Null().Equal(Null()))
	assert.False(t, Null().Equal(NewInteger(0)))

	d1, _ := decimal.NewFromString("1.50")
	d2, _ := decimal.NewFromString("1.5")
	assert.True(t, NewNumeric(d1).Equal(NewNumeric(d2)))
}

func TestValueFormat(t *testing.T) {
	u := uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")
	assert.Equal(t, "42", NewInteger(42).Format())
	assert.Equal(t, "true", NewBoolean(true).Format())
	assert.Equal(t, "NULL", Null().Format())
	assert.Equal(t, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", NewUuid(u).Format())
	assert.Equal(t, "\\x0102ff", NewBytea([]byte{1, 2, 255}).Format())
}
