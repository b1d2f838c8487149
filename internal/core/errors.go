package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure an operation can produce wraps one of these
// sentinels, so callers branch with errors.Is and the wire layer maps the
// sentinel to an ErrorResponse.
var (
	ErrTableNotFound    = errors.New("table not found")
	ErrColumnNotFound   = errors.New("column not found")
	ErrDatabaseNotFound = errors.New("database not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrRoleNotFound     = errors.New("role not found")
	ErrIndexNotFound    = errors.New("index not found")
	ErrViewNotFound     = errors.New("view not found")

	ErrTableAlreadyExists    = errors.New("table already exists")
	ErrDatabaseAlreadyExists = errors.New("database already exists")
	ErrUserAlreadyExists     = errors.New("user already exists")
	ErrRoleAlreadyExists     = errors.New("role already exists")
	ErrIndexAlreadyExists    = errors.New("index already exists")

	ErrColumnCountMismatch  = errors.New("column count mismatch")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrForeignKeyViolation  = errors.New("foreign key constraint violation")
	ErrUniqueViolation      = errors.New("unique constraint violation")
	ErrNotNullViolation     = errors.New("not-null constraint violation")
	ErrConstraint           = errors.New("constraint violation")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrPermissionDenied     = errors.New("permission denied")

	ErrPageFull         = errors.New("page full")
	ErrSlotNotFound     = errors.New("slot not found")
	ErrBinaryCorruption = errors.New("binary corruption")
	ErrParse            = errors.New("parse error")

	ErrTxFailed = errors.New("current transaction is aborted, commands ignored until end of transaction block")
)

// Wrapping constructors. Each returns an error that satisfies errors.Is
// against its sentinel and carries the offending name in the message.

func TableNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrTableNotFound, name)
}

func ColumnNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

func DatabaseNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrDatabaseNotFound, name)
}

func UserNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrUserNotFound, name)
}

func RoleNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrRoleNotFound, name)
}

func IndexNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
}

func TableAlreadyExists(name string) error {
	return fmt.Errorf("%w: %q", ErrTableAlreadyExists, name)
}

func DatabaseAlreadyExists(name string) error {
	return fmt.Errorf("%w: %q", ErrDatabaseAlreadyExists, name)
}

func UserAlreadyExists(name string) error {
	return fmt.Errorf("%w: %q", ErrUserAlreadyExists, name)
}

func RoleAlreadyExists(name string) error {
	return fmt.Errorf("%w: %q", ErrRoleAlreadyExists, name)
}

func IndexAlreadyExists(name string) error {
	return fmt.Errorf("%w: %q", ErrIndexAlreadyExists, name)
}

func TypeMismatch(detail string) error {
	return fmt.Errorf("%w: %s", ErrTypeMismatch, detail)
}

func UniqueViolation(column string, value Value) error {
	return fmt.Errorf("%w: column %q already contains value %s", ErrUniqueViolation, column, value)
}

func ForeignKeyViolation(detail string) error {
	return fmt.Errorf("%w: %s", ErrForeignKeyViolation, detail)
}

func NotNullViolation(column string) error {
	return fmt.Errorf("%w: column %q", ErrNotNullViolation, column)
}

func PermissionDenied(detail string) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
}

func ParseError(detail string) error {
	return fmt.Errorf("%w: %s", ErrParse, detail)
}

func Corruption(detail string) error {
	return fmt.Errorf("%w: %s", ErrBinaryCorruption, detail)
}
