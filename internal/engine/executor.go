package engine

import (
	"fmt"
	"strings"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/storage"
	"github.com/minipg/minipg/internal/txn"
	"github.com/minipg/minipg/internal/wal"
)

// maxNestingDepth bounds view and subquery recursion so mutually recursive
// views terminate with an error instead of a stack overflow.
const maxNestingDepth = 32

// RowStore is the capability set the executor needs from a table's row
// storage. The paged heap is the production implementation; tests use an
// in-memory store.
type RowStore interface {
	Insert(core.Row) error
	GetAllRows() []core.Row
	UpdateWhere(predicate func(*core.Row) bool, updater func(*core.Row) core.Row, tx uint64) (int, error)
	DeleteWhere(predicate func(*core.Row) bool, tx uint64) (int, error)
	Vacuum(oldestTx uint64) (int, error)
	AbortTransaction(tx uint64) (int, error)
	RowCount() int
	Truncate() error
}

var _ RowStore = (*storage.PagedTable)(nil)

// Result is what a statement produces: a column header, value rows, and a
// command tag.
type Result struct {
	Columns      []string
	Rows         [][]core.Value
	Tag          string
	RowsAffected int
}

// StringRows renders every cell in text format; NULL cells become "NULL".
func (r *Result) StringRows() [][]string {
	out := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = v.Format()
		}
		out[i] = cells
	}
	return out
}

// Context carries everything one statement execution needs. TxID is zero
// for auto-commit statements; Snapshot is the session's BEGIN snapshot
// inside a transaction block and is refreshed per statement otherwise.
type Context struct {
	Instance *core.ServerInstance
	DB       *core.Database
	Store    *storage.DBStore
	WAL      *wal.Manager // nil in WAL-less tests
	Txm      *txn.Manager

	TxID     uint64
	Snapshot core.Snapshot
	Username string

	depth int
}

// snapshot returns the visibility snapshot for this statement.
func (ctx *Context) snapshot() core.Snapshot {
	if ctx.TxID != core.InvalidTxID {
		return ctx.Snapshot
	}
	return ctx.Txm.Snapshot()
}

// writeTxID returns the transaction id stamped onto row versions: the open
// transaction's id, or the allocator's current id for auto-commit.
func (ctx *Context) writeTxID() uint64 {
	if ctx.TxID != core.InvalidTxID {
		return ctx.TxID
	}
	return ctx.Txm.CurrentTxID()
}

// heap resolves the row store for a table.
func (ctx *Context) heap(table string) (RowStore, error) {
	pt, err := ctx.Store.Heap(table)
	if err != nil {
		return nil, err
	}
	return pt, nil
}

// logWAL appends an operation when a WAL is attached.
func (ctx *Context) logWAL(op wal.Operation) error {
	if ctx.WAL == nil {
		return nil
	}
	_, err := ctx.WAL.Append(op)
	return err
}

// Execute runs one parsed statement. A DML statement outside a transaction
// block gets an implicit single-statement transaction: a real id is
// allocated, committed on success, and physically undone on failure so the
// failed statement leaves the database unchanged.
func Execute(ctx *Context, stmt Statement) (*Result, error) {
	if ctx.TxID == core.InvalidTxID && isDML(stmt) {
		txID, snap := ctx.Txm.BeginTransaction()
		sub := *ctx
		sub.TxID = txID
		sub.Snapshot = snap
		res, err := dispatch(&sub, stmt)
		if err != nil {
			if table := dmlTable(stmt); table != "" {
				if heap, herr := ctx.heap(table); herr == nil {
					heap.AbortTransaction(txID)
				}
				rebuildTableIndexes(&sub, table)
			}
			ctx.Txm.RollbackTransaction(txID)
			return nil, err
		}
		ctx.Txm.CommitTransaction(txID)
		return res, nil
	}
	return dispatch(ctx, stmt)
}

func isDML(stmt Statement) bool {
	switch stmt.(type) {
	case *InsertStmt, *UpdateStmt, *DeleteStmt:
		return true
	}
	return false
}

func dmlTable(stmt Statement) string {
	switch s := stmt.(type) {
	case *InsertStmt:
		return s.Table
	case *UpdateStmt:
		return s.Table
	case *DeleteStmt:
		return s.Table
	}
	return ""
}

func dispatch(ctx *Context, stmt Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *CreateTableStmt:
		return execCreateTable(ctx, s)
	case *DropTableStmt:
		return execDropTable(ctx, s)
	case *AlterTableStmt:
		return execAlterTable(ctx, s)
	case *CreateTypeStmt:
		return execCreateType(ctx, s)
	case *CreateIndexStmt:
		return execCreateIndex(ctx, s)
	case *DropIndexStmt:
		return execDropIndex(ctx, s)
	case *CreateViewStmt:
		return execCreateView(ctx, s)
	case *DropViewStmt:
		return execDropView(ctx, s)
	case *InsertStmt:
		return execInsert(ctx, s)
	case *UpdateStmt:
		return execUpdate(ctx, s)
	case *DeleteStmt:
		return execDelete(ctx, s)
	case *SelectStmt:
		return execSelect(ctx, s)
	case *VacuumStmt:
		return execVacuum(ctx, s)
	case *ExplainStmt:
		return execExplain(ctx, s)
	case *ShowStmt:
		return execShow(ctx, s)
	default:
		return nil, core.ParseError(fmt.Sprintf("statement %T is not handled by the executor", stmt))
	}
}

// evalExpr evaluates a non-aggregate expression against one row.
func evalExpr(ctx *Context, columns []core.Column, row *core.Row, expr Expr) (core.Value, error) {
	switch e := expr.(type) {
	case *Literal:
		return e.Val, nil
	case *ColumnRef:
		idx := columnIndex(columns, e.Name)
		if idx < 0 {
			// Keyword-style builtins (current_user) parse as bare columns.
			if e.Table == "" && niladicBuiltins[e.Name] {
				return evalScalarFunc(ctx, columns, row, &FuncCall{Name: e.Name})
			}
			return core.Value{}, core.ColumnNotFound(e.Name)
		}
		return row.Values[idx], nil
	case *FuncCall:
		return evalScalarFunc(ctx, columns, row, e)
	case *CaseExpr:
		return evalCase(ctx, columns, row, e)
	default:
		return core.Value{}, core.ParseError(fmt.Sprintf("unsupported expression %T", expr))
	}
}

func evalCase(ctx *Context, columns []core.Column, row *core.Row, e *CaseExpr) (core.Value, error) {
	for _, arm := range e.Whens {
		matched := false
		if arm.Cond != nil {
			ok, err := EvaluateCondition(columns, row, arm.Cond)
			if err != nil {
				return core.Value{}, err
			}
			matched = ok
		} else {
			operand, err := evalExpr(ctx, columns, row, e.Operand)
			if err != nil {
				return core.Value{}, err
			}
			match, err := evalExpr(ctx, columns, row, arm.Match)
			if err != nil {
				return core.Value{}, err
			}
			matched = operand.Equal(match)
		}
		if matched {
			return evalExpr(ctx, columns, row, arm.Then)
		}
	}
	if e.Else != nil {
		return evalExpr(ctx, columns, row, e.Else)
	}
	return core.Null(), nil
}

// exprLabel names a projected expression for the result header.
func exprLabel(item *SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *ColumnRef:
		return e.Name
	case *FuncCall:
		if e.Star {
			return e.Name
		}
		return e.Name
	case *CaseExpr:
		return "case"
	case *Literal:
		return "?column?"
	default:
		return "?column?"
	}
}

// materializeSubqueries resolves every IN (SELECT ...) in the tree into a
// literal value list by running the subquery.
func materializeSubqueries(ctx *Context, cond *Condition) error {
	if cond == nil {
		return nil
	}
	if cond.Op == CondAnd || cond.Op == CondOr {
		if err := materializeSubqueries(ctx, cond.Left); err != nil {
			return err
		}
		return materializeSubqueries(ctx, cond.Right)
	}
	if cond.Op == CondIn && cond.Subquery != nil {
		if ctx.depth >= maxNestingDepth {
			return core.ParseError("subquery nesting too deep")
		}
		sub := *ctx
		sub.depth = ctx.depth + 1
		res, err := execSelect(&sub, cond.Subquery)
		if err != nil {
			return err
		}
		if len(res.Columns) != 1 {
			return core.TypeMismatch("subquery in IN must return exactly one column")
		}
		cond.Values = cond.Values[:0]
		for _, row := range res.Rows {
			cond.Values = append(cond.Values, row[0])
		}
		cond.Subquery = nil
	}
	return nil
}

func commandTag(verb string, n int) string {
	switch strings.ToUpper(verb) {
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", n)
	case "SELECT":
		return fmt.Sprintf("SELECT %d", n)
	default:
		return fmt.Sprintf("%s %d", strings.ToUpper(verb), n)
	}
}
