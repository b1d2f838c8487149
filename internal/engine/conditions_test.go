package engine

import (
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var condColumns = []core.Column{
	{Name: "id", Type: core.IntegerType()},
	{Name: "name", Type: core.TextType(), Nullable: true},
	{Name: "age", Type: core.SmallIntType(), Nullable: true},
}

func condRow(id int64, name string, age any) core.Row {
	values := []core.Value{core.NewInteger(id), core.NewText(name)}
	if age == nil {
		values = append(values, core.Null())
	} else {
		values = append(values, core.NewSmallInt(int16(age.(int))))
	}
	return core.Row{Values: values}
}

func TestConditionComparisons(t *testing.T) {
	row := condRow(5, "alice", 30)
	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"eq true", &Condition{Op: CondEq, Column: "id", Value: core.NewInteger(5)}, true},
		{"eq false", &Condition{Op: CondEq, Column: "id", Value: core.NewInteger(6)}, false},
		{"ne", &Condition{Op: CondNe, Column: "id", Value: core.NewInteger(6)}, true},
		{"gt", &Condition{Op: CondGt, Column: "id", Value: core.NewInteger(4)}, true},
		{"lt", &Condition{Op: CondLt, Column: "id", Value: core.NewInteger(4)}, false},
		{"ge edge", &Condition{Op: CondGe, Column: "id", Value: core.NewInteger(5)}, true},
		{"le edge", &Condition{Op: CondLe, Column: "id", Value: core.NewInteger(5)}, true},
		{"between", &Condition{Op: CondBetween, Column: "id", Low: core.NewInteger(1), High: core.NewInteger(9)}, true},
		{"between out", &Condition{Op: CondBetween, Column: "id", Low: core.NewInteger(6), High: core.NewInteger(9)}, false},
		{"in", &Condition{Op: CondIn, Column: "id", Values: []core.Value{core.NewInteger(3), core.NewInteger(5)}}, true},
		{"in miss", &Condition{Op: CondIn, Column: "id", Values: []core.Value{core.NewInteger(3)}}, false},
		// Integer widths compare across classes.
		{"smallint vs integer literal", &Condition{Op: CondGt, Column: "age", Value: core.NewInteger(20)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(condColumns, &row, tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionTypeMismatch(t *testing.T) {
	row := condRow(5, "alice", 30)
	_, err := EvaluateCondition(condColumns, &row, &Condition{
		Op: CondGt, Column: "name", Value: core.NewInteger(1),
	})
	assert.ErrorIs(t, err, core.ErrTypeMismatch)
}

func TestConditionNullSemantics(t *testing.T) {
	row := condRow(1, "bob", nil)

	got, err := EvaluateCondition(condColumns, &row, &Condition{Op: CondIsNull, Column: "age"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateCondition(condColumns, &row, &Condition{Op: CondIsNotNull, Column: "age"})
	require.NoError(t, err)
	assert.False(t, got)

	// A NULL column never compares equal to a value.
	got, err = EvaluateCondition(condColumns, &row, &Condition{
		Op: CondEq, Column: "age", Value: core.NewSmallInt(30),
	})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestConditionAndOr(t *testing.T) {
	row := condRow(5, "alice", 30)
	and := &Condition{
		Op:    CondAnd,
		Left:  &Condition{Op: CondEq, Column: "id", Value: core.NewInteger(5)},
		Right: &Condition{Op: CondEq, Column: "name", Value: core.NewText("alice")},
	}
	got, err := EvaluateCondition(condColumns, &row, and)
	require.NoError(t, err)
	assert.True(t, got)

	or := &Condition{
		Op:    CondOr,
		Left:  &Condition{Op: CondEq, Column: "id", Value: core.NewInteger(99)},
		Right: &Condition{Op: CondEq, Column: "name", Value: core.NewText("alice")},
	}
	got, err = EvaluateCondition(condColumns, &row, or)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestLikeMatching(t *testing.T) {
	tests := []struct {
		s, pattern string
		want       bool
	}{
		{"hello", "hello", true},
		{"hello", "h%", true},
		{"hello", "%llo", true},
		{"hello", "h_llo", true},
		{"hello", "h_l", false},
		{"hello", "%", true},
		{"", "%", true},
		{"", "_", false},
		{"abc", "a%c", true},
		{"abc", "a%d", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, likeMatch(tt.s, tt.pattern), "%q LIKE %q", tt.s, tt.pattern)
	}
}
