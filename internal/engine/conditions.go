package engine

import (
	"fmt"
	"strings"

	"github.com/minipg/minipg/internal/core"
)

// CondOp enumerates the condition tree node kinds.
type CondOp uint8

const (
	CondEq CondOp = iota
	CondNe
	CondGt
	CondLt
	CondGe
	CondLe
	CondBetween
	CondLike
	CondIn
	CondIsNull
	CondIsNotNull
	CondAnd
	CondOr
)

// Condition is one node of a WHERE tree. Leaf nodes name a column and carry
// comparison values; And/Or carry children. An IN node may hold a one-column
// subquery instead of a literal list; the executor materializes it before
// evaluation.
type Condition struct {
	Op     CondOp
	Column string

	Value  core.Value   // Eq..Le, Like (pattern in Value.Str)
	Low    core.Value   // Between
	High   core.Value   // Between
	Values []core.Value // In

	Subquery *SelectStmt // In (SELECT ...), materialized into Values

	Left  *Condition // And, Or
	Right *Condition
}

// EvaluateCondition evaluates cond against one row given its columns. SQL
// NULL semantics: any comparison against NULL is false (IS NULL / IS NOT
// NULL are the only NULL-aware tests). Incomparable types are an error.
func EvaluateCondition(columns []core.Column, row *core.Row, cond *Condition) (bool, error) {
	switch cond.Op {
	case CondAnd:
		l, err := EvaluateCondition(columns, row, cond.Left)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return EvaluateCondition(columns, row, cond.Right)
	case CondOr:
		l, err := EvaluateCondition(columns, row, cond.Left)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return EvaluateCondition(columns, row, cond.Right)
	}

	idx := columnIndex(columns, cond.Column)
	if idx < 0 {
		return false, core.ColumnNotFound(cond.Column)
	}
	val := row.Values[idx]

	switch cond.Op {
	case CondIsNull:
		return val.IsNull(), nil
	case CondIsNotNull:
		return !val.IsNull(), nil
	}

	if val.IsNull() {
		return false, nil
	}

	switch cond.Op {
	case CondEq:
		return compareOp(val, cond.Value, func(c int) bool { return c == 0 })
	case CondNe:
		return compareOp(val, cond.Value, func(c int) bool { return c != 0 })
	case CondGt:
		return compareOp(val, cond.Value, func(c int) bool { return c > 0 })
	case CondLt:
		return compareOp(val, cond.Value, func(c int) bool { return c < 0 })
	case CondGe:
		return compareOp(val, cond.Value, func(c int) bool { return c >= 0 })
	case CondLe:
		return compareOp(val, cond.Value, func(c int) bool { return c <= 0 })
	case CondBetween:
		low, err := compareOp(val, cond.Low, func(c int) bool { return c >= 0 })
		if err != nil || !low {
			return false, err
		}
		return compareOp(val, cond.High, func(c int) bool { return c <= 0 })
	case CondLike:
		text, ok := val.AsText()
		if !ok {
			return false, core.TypeMismatch(fmt.Sprintf("LIKE needs a text value, got %s", val.Kind))
		}
		pattern, _ := cond.Value.AsText()
		return likeMatch(text, pattern), nil
	case CondIn:
		for _, candidate := range cond.Values {
			if candidate.IsNull() {
				continue
			}
			eq, err := compareOp(val, candidate, func(c int) bool { return c == 0 })
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, core.TypeMismatch(fmt.Sprintf("unsupported condition op %d", cond.Op))
	}
}

func compareOp(a, b core.Value, pred func(int) bool) (bool, error) {
	if b.IsNull() {
		return false, nil
	}
	c, err := a.Compare(b)
	if err != nil {
		return false, err
	}
	return pred(c), nil
}

func columnIndex(columns []core.Column, name string) int {
	// Accept table-qualified names by matching the bare suffix.
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		name = name[dot+1:]
	}
	for i := range columns {
		if columns[i].Name == name {
			return i
		}
	}
	return -1
}

// likeMatch implements SQL LIKE: % matches any run (including empty), _
// matches exactly one character, anchored to the whole string.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		// Try every split point for this %.
		for i := 0; i <= len(s); i++ {
			if likeMatchRunes(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		return len(s) > 0 && likeMatchRunes(s[1:], p[1:])
	default:
		return len(s) > 0 && s[0] == p[0] && likeMatchRunes(s[1:], p[1:])
	}
}

// formatCondition renders a condition for EXPLAIN output.
func formatCondition(c *Condition) string {
	if c == nil {
		return ""
	}
	switch c.Op {
	case CondEq:
		return fmt.Sprintf("%s = %s", c.Column, c.Value)
	case CondNe:
		return fmt.Sprintf("%s <> %s", c.Column, c.Value)
	case CondGt:
		return fmt.Sprintf("%s > %s", c.Column, c.Value)
	case CondLt:
		return fmt.Sprintf("%s < %s", c.Column, c.Value)
	case CondGe:
		return fmt.Sprintf("%s >= %s", c.Column, c.Value)
	case CondLe:
		return fmt.Sprintf("%s <= %s", c.Column, c.Value)
	case CondBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", c.Column, c.Low, c.High)
	case CondLike:
		return fmt.Sprintf("%s LIKE '%s'", c.Column, c.Value.Str)
	case CondIn:
		parts := make([]string, len(c.Values))
		for i, v := range c.Values {
			parts[i] = v.String()
		}
		return fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(parts, ", "))
	case CondIsNull:
		return fmt.Sprintf("%s IS NULL", c.Column)
	case CondIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", c.Column)
	case CondAnd:
		return fmt.Sprintf("(%s AND %s)", formatCondition(c.Left), formatCondition(c.Right))
	case CondOr:
		return fmt.Sprintf("(%s OR %s)", formatCondition(c.Left), formatCondition(c.Right))
	default:
		return "?"
	}
}
