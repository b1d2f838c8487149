package core

import (
	"fmt"
	"strings"
)

// TypeName enumerates the column types a table may declare.
type TypeName uint8

const (
	TypeSmallInt TypeName = iota
	TypeInteger
	TypeBigInt
	TypeReal
	TypeNumeric
	TypeSerial
	TypeBigSerial
	TypeText
	TypeVarchar
	TypeChar
	TypeBoolean
	TypeDate
	TypeTimestamp
	TypeTimestampTz
	TypeUuid
	TypeJson
	TypeJsonb
	TypeBytea
	TypeEnum
)

// DataType is the declared shape of a column value. Parameterized types
// carry their parameters alongside the name.
type DataType struct {
	Name TypeName

	// Numeric(p, s)
	Precision uint8
	Scale     uint8

	// Varchar(n)
	MaxLength int

	// Char(n)
	Length int

	// Enum type name and its labels, resolved at CREATE TABLE time.
	EnumName   string
	EnumLabels []string
}

// Simple constructors for the unparameterized types.

func SmallIntType() DataType    { return DataType{Name: TypeSmallInt} }
func IntegerType() DataType     { return DataType{Name: TypeInteger} }
func BigIntType() DataType      { return DataType{Name: TypeBigInt} }
func RealType() DataType        { return DataType{Name: TypeReal} }
func TextType() DataType        { return DataType{Name: TypeText} }
func BooleanType() DataType     { return DataType{Name: TypeBoolean} }
func DateType() DataType        { return DataType{Name: TypeDate} }
func TimestampType() DataType   { return DataType{Name: TypeTimestamp} }
func TimestampTzType() DataType { return DataType{Name: TypeTimestampTz} }
func UuidType() DataType        { return DataType{Name: TypeUuid} }
func JsonType() DataType        { return DataType{Name: TypeJson} }
func ByteaType() DataType       { return DataType{Name: TypeBytea} }

func NumericType(precision, scale uint8) DataType {
	return DataType{Name: TypeNumeric, Precision: precision, Scale: scale}
}
func VarcharType(maxLen int) DataType { return DataType{Name: TypeVarchar, MaxLength: maxLen} }
func CharType(length int) DataType    { return DataType{Name: TypeChar, Length: length} }
func EnumType(name string, labels []string) DataType {
	return DataType{Name: TypeEnum, EnumName: name, EnumLabels: labels}
}

// IsSerial reports whether the type auto-assigns from a per-column sequence.
func (t DataType) IsSerial() bool {
	return t.Name == TypeSerial || t.Name == TypeBigSerial
}

// IsTextLike reports whether values of this type are carried as strings.
func (t DataType) IsTextLike() bool {
	switch t.Name {
	case TypeText, TypeVarchar, TypeChar, TypeJson, TypeJsonb, TypeEnum:
		return true
	}
	return false
}

// ValueKind maps the declared type to the kind its stored values carry.
func (t DataType) ValueKind() ValueKind {
	switch t.Name {
	case TypeSmallInt:
		return KindSmallInt
	case TypeInteger, TypeBigInt, TypeSerial, TypeBigSerial:
		return KindInteger
	case TypeReal:
		return KindReal
	case TypeNumeric:
		return KindNumeric
	case TypeText, TypeVarchar:
		return KindText
	case TypeChar:
		return KindChar
	case TypeBoolean:
		return KindBoolean
	case TypeDate:
		return KindDate
	case TypeTimestamp:
		return KindTimestamp
	case TypeTimestampTz:
		return KindTimestampTz
	case TypeUuid:
		return KindUuid
	case TypeJson, TypeJsonb:
		return KindJson
	case TypeBytea:
		return KindBytea
	case TypeEnum:
		return KindEnum
	default:
		return KindNull
	}
}

// String renders the type the way pg_catalog and error messages show it.
func (t DataType) String() string {
	switch t.Name {
	case TypeSmallInt:
		return "smallint"
	case TypeInteger:
		return "integer"
	case TypeBigInt:
		return "bigint"
	case TypeReal:
		return "real"
	case TypeNumeric:
		if t.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
		}
		return "numeric"
	case TypeSerial:
		return "serial"
	case TypeBigSerial:
		return "bigserial"
	case TypeText:
		return "text"
	case TypeVarchar:
		if t.MaxLength > 0 {
			return fmt.Sprintf("character varying(%d)", t.MaxLength)
		}
		return "character varying"
	case TypeChar:
		return fmt.Sprintf("character(%d)", t.Length)
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeTimestamp:
		return "timestamp without time zone"
	case TypeTimestampTz:
		return "timestamp with time zone"
	case TypeUuid:
		return "uuid"
	case TypeJson:
		return "json"
	case TypeJsonb:
		return "jsonb"
	case TypeBytea:
		return "bytea"
	case TypeEnum:
		return t.EnumName
	default:
		return fmt.Sprintf("type(%d)", uint8(t.Name))
	}
}

// HasLabel reports whether label is one of the enum's declared labels.
func (t DataType) HasLabel(label string) bool {
	for _, l := range t.EnumLabels {
		if l == label {
			return true
		}
	}
	return false
}

// ParseTypeName resolves a SQL type keyword (already lower-cased) to an
// unparameterized DataType. Parameterized forms are assembled by the parser.
func ParseTypeName(name string) (DataType, bool) {
	switch strings.ToLower(name) {
	case "smallint", "int2":
		return SmallIntType(), true
	case "integer", "int", "int4":
		return IntegerType(), true
	case "bigint", "int8":
		return BigIntType(), true
	case "real", "float", "float8", "double precision":
		return RealType(), true
	case "numeric", "decimal":
		return NumericType(0, 0), true
	case "serial":
		return DataType{Name: TypeSerial}, true
	case "bigserial":
		return DataType{Name: TypeBigSerial}, true
	case "text":
		return TextType(), true
	case "varchar", "character varying":
		return VarcharType(0), true
	case "char", "character":
		return CharType(1), true
	case "boolean", "bool":
		return BooleanType(), true
	case "date":
		return DateType(), true
	case "timestamp":
		return TimestampType(), true
	case "timestamptz":
		return TimestampTzType(), true
	case "uuid":
		return UuidType(), true
	case "json":
		return JsonType(), true
	case "jsonb":
		return DataType{Name: TypeJsonb}, true
	case "bytea":
		return ByteaType(), true
	default:
		return DataType{}, false
	}
}
