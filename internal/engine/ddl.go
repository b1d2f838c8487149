package engine

import (
	"fmt"
	"strings"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/index"
	"github.com/minipg/minipg/internal/wal"
)

// resolveColumnDef turns a parsed column definition into a schema column,
// resolving enum type names against the catalog and validating foreign
// keys against existing tables.
func resolveColumnDef(db *core.Database, def *ColumnDef) (core.Column, error) {
	col := core.Column{
		Name:       def.Name,
		Nullable:   !def.NotNull && !def.PrimaryKey,
		PrimaryKey: def.PrimaryKey,
		Unique:     def.Unique,
		ForeignKey: def.References,
	}

	dt, ok := core.ParseTypeName(def.TypeName)
	if !ok {
		if labels, isEnum := db.Enums[def.TypeName]; isEnum {
			dt = core.EnumType(def.TypeName, labels)
		} else {
			return col, core.ParseError(fmt.Sprintf("unknown type %q", def.TypeName))
		}
	}
	switch dt.Name {
	case core.TypeNumeric:
		if len(def.TypeArgs) > 0 {
			dt.Precision = uint8(def.TypeArgs[0])
		}
		if len(def.TypeArgs) > 1 {
			dt.Scale = uint8(def.TypeArgs[1])
		}
	case core.TypeVarchar:
		if len(def.TypeArgs) > 0 {
			dt.MaxLength = def.TypeArgs[0]
		}
	case core.TypeChar:
		if len(def.TypeArgs) > 0 {
			dt.Length = def.TypeArgs[0]
		}
	}
	col.Type = dt

	if fk := def.References; fk != nil {
		refTable, err := db.Table(fk.ReferencedTable)
		if err != nil {
			return col, core.ForeignKeyViolation(fmt.Sprintf("referenced table %q does not exist", fk.ReferencedTable))
		}
		refCol := refTable.Column(fk.ReferencedColumn)
		if refCol == nil {
			return col, core.ForeignKeyViolation(fmt.Sprintf("referenced column %q does not exist", fk.ReferencedColumn))
		}
		if !refCol.PrimaryKey {
			return col, core.ForeignKeyViolation(fmt.Sprintf(
				"referenced column %s.%s is not a primary key", fk.ReferencedTable, fk.ReferencedColumn))
		}
	}
	return col, nil
}

func execCreateTable(ctx *Context, stmt *CreateTableStmt) (*Result, error) {
	if _, ok := ctx.DB.Tables[stmt.Name]; ok {
		return nil, core.TableAlreadyExists(stmt.Name)
	}
	columns := make([]core.Column, 0, len(stmt.Columns))
	for i := range stmt.Columns {
		col, err := resolveColumnDef(ctx.DB, &stmt.Columns[i])
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}

	owner := ctx.Username
	if owner == "" {
		owner = core.DefaultSuperuser
	}
	table := core.NewTable(stmt.Name, columns, owner)
	if err := ctx.DB.CreateTable(table); err != nil {
		return nil, err
	}
	if err := ctx.Store.CreateTable(stmt.Name); err != nil {
		ctx.DB.DropTable(stmt.Name)
		return nil, err
	}
	if err := ctx.logWAL(wal.Operation{Type: wal.OpCreateTable, TableName: stmt.Name, Table: table}); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE TABLE"}, nil
}

func execDropTable(ctx *Context, stmt *DropTableStmt) (*Result, error) {
	if _, ok := ctx.DB.Tables[stmt.Name]; !ok {
		if stmt.IfExists {
			return &Result{Tag: "DROP TABLE"}, nil
		}
		return nil, core.TableNotFound(stmt.Name)
	}
	if err := ctx.DB.DropTable(stmt.Name); err != nil {
		return nil, err
	}
	if err := ctx.Store.DropTable(stmt.Name); err != nil {
		return nil, err
	}
	if err := ctx.logWAL(wal.Operation{Type: wal.OpDropTable, TableName: stmt.Name}); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP TABLE"}, nil
}

func execAlterTable(ctx *Context, stmt *AlterTableStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.Table)
	if err != nil {
		return nil, err
	}

	switch stmt.Action {
	case AlterAddColumn:
		col, err := resolveColumnDef(ctx.DB, stmt.Column)
		if err != nil {
			return nil, err
		}
		if table.ColumnIndex(col.Name) >= 0 {
			return nil, core.ParseError(fmt.Sprintf("column %q already exists", col.Name))
		}
		// A NOT NULL column with no default cannot be added once rows exist:
		// every existing row would hold NULL in it.
		if !col.Nullable {
			heap, err := ctx.heap(stmt.Table)
			if err == nil && heap.RowCount() > 0 {
				return nil, fmt.Errorf("%w: cannot add NOT NULL column %q to non-empty table",
					core.ErrConstraint, col.Name)
			}
		}
		table.Columns = append(table.Columns, col)
		if heap, err := ctx.heap(stmt.Table); err == nil {
			if err := rewriteHeap(heap, func(values []core.Value) []core.Value {
				return append(values, core.Null())
			}); err != nil {
				return nil, err
			}
		}
		if err := ctx.logWAL(wal.Operation{Type: wal.OpAlterAddColumn, TableName: stmt.Table, Column: &col}); err != nil {
			return nil, err
		}

	case AlterDropColumn:
		idx := table.ColumnIndex(stmt.ColumnName)
		if idx < 0 {
			return nil, core.ColumnNotFound(stmt.ColumnName)
		}
		table.Columns = append(table.Columns[:idx], table.Columns[idx+1:]...)
		delete(table.Sequences, stmt.ColumnName)
		if heap, err := ctx.heap(stmt.Table); err == nil {
			if err := rewriteHeap(heap, func(values []core.Value) []core.Value {
				if idx >= len(values) {
					return values
				}
				return append(values[:idx], values[idx+1:]...)
			}); err != nil {
				return nil, err
			}
		}
		if err := ctx.logWAL(wal.Operation{Type: wal.OpAlterDropColumn, TableName: stmt.Table, ColumnName: stmt.ColumnName}); err != nil {
			return nil, err
		}

	case AlterRenameColumn:
		idx := table.ColumnIndex(stmt.ColumnName)
		if idx < 0 {
			return nil, core.ColumnNotFound(stmt.ColumnName)
		}
		table.Columns[idx].Name = stmt.NewName
		if seq, ok := table.Sequences[stmt.ColumnName]; ok {
			delete(table.Sequences, stmt.ColumnName)
			table.Sequences[stmt.NewName] = seq
		}
		if err := ctx.logWAL(wal.Operation{Type: wal.OpAlterRenameColumn, TableName: stmt.Table, ColumnName: stmt.ColumnName, NewName: stmt.NewName}); err != nil {
			return nil, err
		}

	case AlterRenameTable:
		if _, ok := ctx.DB.Tables[stmt.NewName]; ok {
			return nil, core.TableAlreadyExists(stmt.NewName)
		}
		delete(ctx.DB.Tables, stmt.Table)
		table.Name = stmt.NewName
		ctx.DB.Tables[stmt.NewName] = table
		if meta, ok := ctx.DB.TableMetadata[stmt.Table]; ok {
			delete(ctx.DB.TableMetadata, stmt.Table)
			meta.TableName = stmt.NewName
			ctx.DB.TableMetadata[stmt.NewName] = meta
		}
		if err := ctx.Store.RenameTable(stmt.Table, stmt.NewName); err != nil {
			return nil, err
		}
		if err := ctx.logWAL(wal.Operation{Type: wal.OpAlterRenameTable, TableName: stmt.Table, NewName: stmt.NewName}); err != nil {
			return nil, err
		}
	}

	rebuildTableIndexes(ctx, stmt.Table)
	return &Result{Tag: "ALTER TABLE"}, nil
}

func rewriteHeap(heap RowStore, transform func([]core.Value) []core.Value) error {
	rows := heap.GetAllRows()
	if err := heap.Truncate(); err != nil {
		return err
	}
	for _, row := range rows {
		row.Values = transform(row.Values)
		if err := heap.Insert(row); err != nil {
			return err
		}
	}
	return nil
}

func execCreateType(ctx *Context, stmt *CreateTypeStmt) (*Result, error) {
	if err := ctx.DB.CreateEnum(stmt.Name, stmt.Labels); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE TYPE"}, nil
}

func execCreateIndex(ctx *Context, stmt *CreateIndexStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.Table)
	if err != nil {
		return nil, err
	}
	colIdxs := make([]int, 0, len(stmt.Columns))
	for _, col := range stmt.Columns {
		idx := table.ColumnIndex(col)
		if idx < 0 {
			return nil, core.ColumnNotFound(col)
		}
		colIdxs = append(colIdxs, idx)
	}

	kind := index.KindBTree
	if stmt.Using == "hash" {
		kind = index.KindHash
	}
	ix := index.New(kind, stmt.Name, stmt.Table, stmt.Columns, stmt.Unique)

	// Populate from the live heap in one pass.
	heap, err := ctx.heap(stmt.Table)
	if err != nil {
		return nil, err
	}
	snap := ctx.snapshot()
	pos := 0
	for _, row := range heap.GetAllRows() {
		r := row
		if r.VisibleTo(snap) {
			key := indexKeyFor(&r, colIdxs)
			if err := ix.Insert(key, pos); err != nil {
				return nil, core.UniqueViolation(strings.Join(stmt.Columns, ","), r.Values[colIdxs[0]])
			}
		}
		pos++
	}

	if err := ctx.DB.SetIndex(ix); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE INDEX"}, nil
}

func execDropIndex(ctx *Context, stmt *DropIndexStmt) (*Result, error) {
	if err := ctx.DB.DropIndex(stmt.Name); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP INDEX"}, nil
}

func execCreateView(ctx *Context, stmt *CreateViewStmt) (*Result, error) {
	if _, ok := ctx.DB.Views[stmt.Name]; ok {
		return nil, core.ParseError(fmt.Sprintf("view %q already exists", stmt.Name))
	}
	ctx.DB.Views[stmt.Name] = stmt.Query
	return &Result{Tag: "CREATE VIEW"}, nil
}

func execDropView(ctx *Context, stmt *DropViewStmt) (*Result, error) {
	if _, ok := ctx.DB.Views[stmt.Name]; !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrViewNotFound, stmt.Name)
	}
	delete(ctx.DB.Views, stmt.Name)
	return &Result{Tag: "DROP VIEW"}, nil
}

// indexKeyFor builds the encoded key for a row over the given column
// positions.
func indexKeyFor(row *core.Row, colIdxs []int) []byte {
	values := make([]core.Value, len(colIdxs))
	for i, idx := range colIdxs {
		values[i] = row.Values[idx]
	}
	return core.EncodeKey(values)
}

// rebuildTableIndexes repopulates every index of a table from the live
// heap. Used after VACUUM and schema changes, where stored positions move.
func rebuildTableIndexes(ctx *Context, tableName string) {
	table, err := ctx.DB.Table(tableName)
	if err != nil {
		return
	}
	heap, err := ctx.heap(tableName)
	if err != nil {
		return
	}
	snap := ctx.snapshot()
	for _, ix := range ctx.DB.IndexesOn(tableName) {
		colIdxs := make([]int, 0, len(ix.ColumnNames))
		ok := true
		for _, col := range ix.ColumnNames {
			idx := table.ColumnIndex(col)
			if idx < 0 {
				ok = false
				break
			}
			colIdxs = append(colIdxs, idx)
		}
		ix.Clear()
		if !ok {
			continue
		}
		pos := 0
		for _, row := range heap.GetAllRows() {
			r := row
			if r.VisibleTo(snap) {
				_ = ix.Insert(indexKeyFor(&r, colIdxs), pos)
			}
			pos++
		}
	}
}
