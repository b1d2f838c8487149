package engine

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/storage"
)

// niladicBuiltins are the keyword-style functions usable without parens.
var niladicBuiltins = map[string]bool{
	"current_user": true, "current_schema": true, "current_database": true,
	"session_user": true,
}

// evalScalarFunc evaluates a non-aggregate, non-window function call.
func evalScalarFunc(ctx *Context, columns []core.Column, row *core.Row, call *FuncCall) (core.Value, error) {
	if call.Over != nil {
		// Filled in by the window pass; callers never reach here for them.
		return core.Null(), nil
	}
	switch call.Name {
	case "version":
		return core.NewText(versionString()), nil
	case "current_database":
		return core.NewText(ctx.DB.Name), nil
	case "current_schema":
		return core.NewText("public"), nil
	case "current_user", "session_user":
		return core.NewText(ctx.currentUser()), nil
	case "pg_backend_pid":
		return core.NewInteger(int64(os.Getpid())), nil
	case "pg_encoding_to_char":
		return core.NewText("UTF8"), nil
	case "pg_table_size":
		if len(call.Args) != 1 {
			return core.Value{}, core.ParseError("pg_table_size() requires a table name argument")
		}
		arg, err := evalExpr(ctx, columns, row, call.Args[0])
		if err != nil {
			return core.Value{}, err
		}
		name, _ := arg.AsText()
		return pgTableSize(ctx, name)
	case "upper":
		return textFunc(ctx, columns, row, call, strings.ToUpper)
	case "lower":
		return textFunc(ctx, columns, row, call, strings.ToLower)
	case "length":
		if len(call.Args) != 1 {
			return core.Value{}, core.ParseError("length() takes one argument")
		}
		v, err := evalExpr(ctx, columns, row, call.Args[0])
		if err != nil {
			return core.Value{}, err
		}
		if v.IsNull() {
			return core.Null(), nil
		}
		s, ok := v.AsText()
		if !ok {
			return core.Value{}, core.TypeMismatch("length() needs a text value")
		}
		return core.NewInteger(int64(len([]rune(s)))), nil
	default:
		return core.Value{}, core.ParseError(fmt.Sprintf("unknown function %q", call.Name))
	}
}

func textFunc(ctx *Context, columns []core.Column, row *core.Row, call *FuncCall, fn func(string) string) (core.Value, error) {
	if len(call.Args) != 1 {
		return core.Value{}, core.ParseError(fmt.Sprintf("%s() takes one argument", call.Name))
	}
	v, err := evalExpr(ctx, columns, row, call.Args[0])
	if err != nil {
		return core.Value{}, err
	}
	if v.IsNull() {
		return core.Null(), nil
	}
	s, ok := v.AsText()
	if !ok {
		return core.Value{}, core.TypeMismatch(fmt.Sprintf("%s() needs a text value", call.Name))
	}
	return core.NewText(fn(s)), nil
}

func (ctx *Context) currentUser() string {
	if ctx.Username != "" {
		return ctx.Username
	}
	return core.DefaultSuperuser
}

func versionString() string {
	return fmt.Sprintf("PostgreSQL 14.0 (minipg 0.1.0) on %s-%s, compiled by Go %s",
		runtime.GOARCH, runtime.GOOS, runtime.Version())
}

// pgTableSize reports the on-disk page bytes of a table.
func pgTableSize(ctx *Context, name string) (core.Value, error) {
	if _, err := ctx.DB.Table(name); err != nil {
		return core.Value{}, err
	}
	heap, err := ctx.Store.Heap(name)
	if err != nil {
		return core.Value{}, err
	}
	return core.NewInteger(int64(heap.PageCount()) * storage.PageSize), nil
}
