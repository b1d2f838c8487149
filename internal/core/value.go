// Package core defines the data model shared by every subsystem: typed
// values, columns, rows with MVCC metadata, tables, databases, and the
// server instance with its users and roles.
//
// What: A tagged Value sum type covering the supported SQL types, plus the
// schema objects built from it.
// How: Value carries a kind tag and one populated payload field; comparison
// is defined per class (numeric, text, bool, date, uuid) and fails across
// classes. Schema objects are plain structs so they gob-encode cleanly for
// snapshots and WAL records.
// Why: Keeping the model free of storage or execution concerns lets the
// heap, the indexes, and the executor all share one vocabulary.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValueKind tags the active variant of a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindSmallInt
	KindInteger
	KindReal
	KindNumeric
	KindText
	KindChar
	KindBoolean
	KindDate
	KindTimestamp
	KindTimestampTz
	KindUuid
	KindJson
	KindBytea
	KindEnum
)

// String returns the SQL-ish name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindSmallInt:
		return "smallint"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindChar:
		return "char"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindTimestampTz:
		return "timestamptz"
	case KindUuid:
		return "uuid"
	case KindJson:
		return "json"
	case KindBytea:
		return "bytea"
	case KindEnum:
		return "enum"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single SQL value. Exactly one payload field is meaningful,
// selected by Kind. All fields are exported so values round-trip through
// encoding/gob inside rows, WAL records, and snapshots.
type Value struct {
	Kind ValueKind

	Int   int64           // SmallInt, Integer
	Float float64         // Real
	Dec   decimal.Decimal // Numeric
	Str   string          // Text, Char, Json, Enum label
	Bool  bool            // Boolean
	Time  time.Time       // Date, Timestamp, TimestampTz
	UUID  uuid.UUID       // Uuid
	Bytes []byte          // Bytea

	// EnumName names the enum type for KindEnum values.
	EnumName string
}

// Constructors.

func Null() Value                 { return Value{Kind: KindNull} }
func NewSmallInt(v int16) Value   { return Value{Kind: KindSmallInt, Int: int64(v)} }
func NewInteger(v int64) Value    { return Value{Kind: KindInteger, Int: v} }
func NewReal(v float64) Value     { return Value{Kind: KindReal, Float: v} }
func NewText(s string) Value      { return Value{Kind: KindText, Str: s} }
func NewChar(s string) Value      { return Value{Kind: KindChar, Str: s} }
func NewBoolean(b bool) Value     { return Value{Kind: KindBoolean, Bool: b} }
func NewJson(s string) Value      { return Value{Kind: KindJson, Str: s} }
func NewBytea(b []byte) Value     { return Value{Kind: KindBytea, Bytes: b} }
func NewUuid(u uuid.UUID) Value   { return Value{Kind: KindUuid, UUID: u} }
func NewDate(t time.Time) Value   { return Value{Kind: KindDate, Time: t} }
func NewTimestamp(t time.Time) Value {
	return Value{Kind: KindTimestamp, Time: t}
}
func NewTimestampTz(t time.Time) Value {
	return Value{Kind: KindTimestampTz, Time: t.UTC()}
}
func NewNumeric(d decimal.Decimal) Value {
	return Value{Kind: KindNumeric, Dec: d}
}
func NewEnum(enumName, label string) Value {
	return Value{Kind: KindEnum, Str: label, EnumName: enumName}
}

// IsNull reports whether the value is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsInt returns the integer payload for integer-class values.
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindSmallInt, KindInteger:
		return v.Int, true
	default:
		return 0, false
	}
}

// AsText returns the string payload for text-class values.
func (v Value) AsText() (string, bool) {
	switch v.Kind {
	case KindText, KindChar, KindJson, KindEnum:
		return v.Str, true
	default:
		return "", false
	}
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.Kind == KindBoolean {
		return v.Bool, true
	}
	return false, false
}

// comparisonClass groups kinds that may be compared with each other.
type comparisonClass uint8

const (
	classNone comparisonClass = iota
	classInt
	classFloat
	classNumeric
	classText
	classBool
	classTime
	classUuid
	classBytes
)

func (v Value) class() comparisonClass {
	switch v.Kind {
	case KindSmallInt, KindInteger:
		return classInt
	case KindReal:
		return classFloat
	case KindNumeric:
		return classNumeric
	case KindText, KindChar, KindJson, KindEnum:
		return classText
	case KindBoolean:
		return classBool
	case KindDate, KindTimestamp, KindTimestampTz:
		return classTime
	case KindUuid:
		return classUuid
	case KindBytea:
		return classBytes
	default:
		return classNone
	}
}

// Equal reports structural equality. NULL equals NULL here; SQL three-valued
// logic is the condition evaluator's concern, not the model's.
func (v Value) Equal(o Value) bool {
	if v.Kind == KindNull || o.Kind == KindNull {
		return v.Kind == o.Kind
	}
	c, err := v.Compare(o)
	if err != nil {
		return false
	}
	return c == 0
}

// Compare orders v against o within one comparison class. Integer widths
// compare freely with each other; every other cross-class comparison is a
// type mismatch.
func (v Value) Compare(o Value) (int, error) {
	if v.Kind == KindNull || o.Kind == KindNull {
		return 0, TypeMismatch("cannot compare NULL values")
	}
	cv, co := v.class(), o.class()
	if cv != co {
		return 0, TypeMismatch(fmt.Sprintf("cannot compare %s with %s", v.Kind, o.Kind))
	}
	switch cv {
	case classInt:
		return cmpOrdered(v.Int, o.Int), nil
	case classFloat:
		return cmpOrdered(v.Float, o.Float), nil
	case classNumeric:
		return v.Dec.Cmp(o.Dec), nil
	case classText:
		return strings.Compare(v.Str, o.Str), nil
	case classBool:
		return cmpBool(v.Bool, o.Bool), nil
	case classTime:
		if v.Time.Equal(o.Time) {
			return 0, nil
		}
		if v.Time.Before(o.Time) {
			return -1, nil
		}
		return 1, nil
	case classUuid:
		return strings.Compare(v.UUID.String(), o.UUID.String()), nil
	case classBytes:
		return strings.Compare(string(v.Bytes), string(o.Bytes)), nil
	default:
		return 0, TypeMismatch(fmt.Sprintf("cannot compare %s values", v.Kind))
	}
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// Format renders the value the way it appears in a DataRow: PostgreSQL text
// output format.
func (v Value) Format() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindSmallInt, KindInteger:
		return fmt.Sprintf("%d", v.Int)
	case KindReal:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v.Float), "0"), ".")
	case KindNumeric:
		return v.Dec.String()
	case KindText, KindChar, KindJson, KindEnum:
		return v.Str
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindDate:
		return v.Time.Format("2006-01-02")
	case KindTimestamp:
		return v.Time.Format("2006-01-02 15:04:05")
	case KindTimestampTz:
		return v.Time.UTC().Format("2006-01-02 15:04:05+00")
	case KindUuid:
		return v.UUID.String()
	case KindBytea:
		return fmt.Sprintf("\\x%x", v.Bytes)
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}

// String implements fmt.Stringer; identical to Format.
func (v Value) String() string { return v.Format() }
