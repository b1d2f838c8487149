package engine

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/goccy/go-json"
	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/wal"
	"github.com/shopspring/decimal"
)

// coerceValue adapts a parsed literal to the column's declared type,
// validating lengths, labels, and formats. NULLs pass through; nullability
// is checked separately.
func coerceValue(db *core.Database, col *core.Column, v core.Value) (core.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch col.Type.Name {
	case core.TypeSmallInt:
		if n, ok := v.AsInt(); ok {
			if n < -32768 || n > 32767 {
				return v, core.TypeMismatch(fmt.Sprintf("value %d out of range for smallint", n))
			}
			return core.NewSmallInt(int16(n)), nil
		}
	case core.TypeInteger, core.TypeBigInt, core.TypeSerial, core.TypeBigSerial:
		if n, ok := v.AsInt(); ok {
			return core.NewInteger(n), nil
		}
	case core.TypeReal:
		if v.Kind == core.KindReal {
			return v, nil
		}
		if n, ok := v.AsInt(); ok {
			return core.NewReal(float64(n)), nil
		}
	case core.TypeNumeric:
		switch v.Kind {
		case core.KindNumeric:
			return v, nil
		case core.KindInteger, core.KindSmallInt:
			return core.NewNumeric(decimal.NewFromInt(v.Int)), nil
		case core.KindReal:
			return core.NewNumeric(decimal.NewFromFloat(v.Float)), nil
		case core.KindText:
			d, err := decimal.NewFromString(v.Str)
			if err != nil {
				return v, core.TypeMismatch(fmt.Sprintf("invalid numeric %q", v.Str))
			}
			return core.NewNumeric(d), nil
		}
	case core.TypeText:
		if s, ok := v.AsText(); ok {
			return core.NewText(s), nil
		}
	case core.TypeVarchar:
		if s, ok := v.AsText(); ok {
			if col.Type.MaxLength > 0 && len([]rune(s)) > col.Type.MaxLength {
				return v, core.TypeMismatch(fmt.Sprintf(
					"value too long for character varying(%d)", col.Type.MaxLength))
			}
			return core.NewText(s), nil
		}
	case core.TypeChar:
		if s, ok := v.AsText(); ok {
			runes := []rune(s)
			if len(runes) > col.Type.Length {
				return v, core.TypeMismatch(fmt.Sprintf("value too long for character(%d)", col.Type.Length))
			}
			if pad := col.Type.Length - len(runes); pad > 0 {
				s += strings.Repeat(" ", pad)
			}
			return core.NewChar(s), nil
		}
	case core.TypeBoolean:
		if v.Kind == core.KindBoolean {
			return v, nil
		}
	case core.TypeDate:
		if v.Kind == core.KindDate {
			return v, nil
		}
		if s, ok := v.AsText(); ok {
			t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
			if err != nil {
				return v, core.TypeMismatch(fmt.Sprintf("invalid date %q", s))
			}
			return core.NewDate(t), nil
		}
	case core.TypeTimestamp, core.TypeTimestampTz:
		if v.Kind == core.KindTimestamp || v.Kind == core.KindTimestampTz {
			return v, nil
		}
		if s, ok := v.AsText(); ok {
			t, err := parseTimestamp(s)
			if err != nil {
				return v, core.TypeMismatch(fmt.Sprintf("invalid timestamp %q", s))
			}
			if col.Type.Name == core.TypeTimestampTz {
				return core.NewTimestampTz(t), nil
			}
			return core.NewTimestamp(t), nil
		}
	case core.TypeUuid:
		if v.Kind == core.KindUuid {
			return v, nil
		}
		if s, ok := v.AsText(); ok {
			u, err := uuid.Parse(s)
			if err != nil {
				return v, core.TypeMismatch(fmt.Sprintf("invalid uuid %q", s))
			}
			return core.NewUuid(u), nil
		}
	case core.TypeJson, core.TypeJsonb:
		if s, ok := v.AsText(); ok {
			if !json.Valid([]byte(s)) {
				return v, core.TypeMismatch(fmt.Sprintf("invalid json %q", s))
			}
			return core.NewJson(s), nil
		}
	case core.TypeBytea:
		if v.Kind == core.KindBytea {
			return v, nil
		}
		if s, ok := v.AsText(); ok {
			if b, err := decodeByteaLiteral(s); err == nil {
				return core.NewBytea(b), nil
			}
			return core.NewBytea([]byte(s)), nil
		}
	case core.TypeEnum:
		label := ""
		if v.Kind == core.KindEnum {
			label = v.Str
		} else if s, ok := v.AsText(); ok {
			label = s
		} else {
			break
		}
		if !col.Type.HasLabel(label) {
			return v, core.TypeMismatch(fmt.Sprintf(
				"invalid input value for enum %s: %q", col.Type.EnumName, label))
		}
		return core.NewEnum(col.Type.EnumName, label), nil
	}
	return v, core.TypeMismatch(fmt.Sprintf(
		"column %q is of type %s but the value is %s", col.Name, col.Type, v.Kind))
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func decodeByteaLiteral(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "\\x") {
		return nil, fmt.Errorf("not a hex bytea literal")
	}
	return hex.DecodeString(s[2:])
}

func execInsert(ctx *Context, stmt *InsertStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.Table)
	if err != nil {
		return nil, err
	}
	heap, err := ctx.heap(stmt.Table)
	if err != nil {
		return nil, err
	}
	snap := ctx.snapshot()
	writeTx := ctx.writeTxID()

	inserted := 0
	for _, exprRow := range stmt.Rows {
		values, err := buildInsertValues(ctx, table, stmt.Columns, exprRow)
		if err != nil {
			return nil, err
		}

		// SERIAL columns left NULL take the sequence's current value.
		for i := range table.Columns {
			col := &table.Columns[i]
			if col.Type.IsSerial() && values[i].IsNull() {
				v := table.Sequences[col.Name]
				if v < 1 {
					v = 1
				}
				values[i] = core.NewInteger(v)
			}
		}

		for i := range table.Columns {
			col := &table.Columns[i]
			if values[i].IsNull() {
				if !col.Nullable {
					return nil, core.NotNullViolation(col.Name)
				}
				continue
			}
			coerced, err := coerceValue(ctx.DB, col, values[i])
			if err != nil {
				return nil, err
			}
			values[i] = coerced
		}

		if err := checkForeignKeys(ctx, table, values, snap); err != nil {
			return nil, err
		}
		if err := checkUnique(ctx, table, heap, values, snap, -1); err != nil {
			return nil, err
		}

		row := core.NewRow(values, writeTx)
		if err := ctx.logWAL(wal.Operation{Type: wal.OpInsert, TableName: stmt.Table, Row: &row}); err != nil {
			return nil, err
		}
		if err := heap.Insert(row); err != nil {
			return nil, err
		}
		pos := heap.RowCount() - 1
		if err := insertIndexEntries(ctx, table, &row, pos); err != nil {
			return nil, err
		}

		// Advance sequences past both auto-assigned and explicit values.
		for i := range table.Columns {
			col := &table.Columns[i]
			if !col.Type.IsSerial() {
				continue
			}
			if n, ok := values[i].AsInt(); ok {
				table.AdvanceSequence(col.Name, n)
			}
		}
		inserted++
	}

	return &Result{Tag: commandTag("INSERT", inserted), RowsAffected: inserted}, nil
}

// buildInsertValues evaluates the VALUES expressions and lays them out
// positionally against the schema; columns missing from an explicit column
// list default to NULL.
func buildInsertValues(ctx *Context, table *core.Table, columns []string, exprRow []Expr) ([]core.Value, error) {
	raw := make([]core.Value, len(exprRow))
	for i, expr := range exprRow {
		v, err := evalExpr(ctx, table.Columns, &core.Row{Values: make([]core.Value, len(table.Columns))}, expr)
		if err != nil {
			return nil, err
		}
		raw[i] = v
	}

	if len(columns) == 0 {
		if len(raw) != len(table.Columns) {
			return nil, fmt.Errorf("%w: table %q has %d columns but %d values were supplied",
				core.ErrColumnCountMismatch, table.Name, len(table.Columns), len(raw))
		}
		return raw, nil
	}

	if len(columns) != len(raw) {
		return nil, fmt.Errorf("%w: %d columns named but %d values supplied",
			core.ErrColumnCountMismatch, len(columns), len(raw))
	}
	values := make([]core.Value, len(table.Columns))
	for i := range values {
		values[i] = core.Null()
	}
	for i, name := range columns {
		idx := table.ColumnIndex(name)
		if idx < 0 {
			return nil, core.ColumnNotFound(name)
		}
		values[idx] = raw[i]
	}
	return values, nil
}

// checkForeignKeys verifies every FK value against visible rows of the
// referenced table.
func checkForeignKeys(ctx *Context, table *core.Table, values []core.Value, snap core.Snapshot) error {
	for i := range table.Columns {
		col := &table.Columns[i]
		fk := col.ForeignKey
		if fk == nil || values[i].IsNull() {
			continue
		}
		refTable, err := ctx.DB.Table(fk.ReferencedTable)
		if err != nil {
			return core.ForeignKeyViolation(fmt.Sprintf("referenced table %q missing", fk.ReferencedTable))
		}
		refIdx := refTable.ColumnIndex(fk.ReferencedColumn)
		if refIdx < 0 {
			return core.ForeignKeyViolation(fmt.Sprintf("referenced column %q missing", fk.ReferencedColumn))
		}
		refHeap, err := ctx.heap(fk.ReferencedTable)
		if err != nil {
			return err
		}
		found := false
		for _, row := range refHeap.GetAllRows() {
			r := row
			if r.VisibleTo(snap) && r.Values[refIdx].Equal(values[i]) {
				found = true
				break
			}
		}
		if !found {
			return core.ForeignKeyViolation(fmt.Sprintf(
				"key (%s)=(%s) is not present in table %q", col.Name, values[i], fk.ReferencedTable))
		}
	}
	return nil
}

// checkUnique verifies UNIQUE and PRIMARY KEY columns against visible rows.
// skipPos excludes one heap position (the old version during UPDATE).
func checkUnique(ctx *Context, table *core.Table, heap RowStore, values []core.Value, snap core.Snapshot, skipPos int) error {
	for i := range table.Columns {
		col := &table.Columns[i]
		if !col.IsUniqueLike() || values[i].IsNull() {
			continue
		}
		pos := 0
		for _, row := range heap.GetAllRows() {
			r := row
			if pos != skipPos && r.VisibleTo(snap) && r.Values[i].Equal(values[i]) {
				return core.UniqueViolation(col.Name, values[i])
			}
			pos++
		}
	}
	return nil
}

// insertIndexEntries adds the new row to every index over its table.
func insertIndexEntries(ctx *Context, table *core.Table, row *core.Row, pos int) error {
	for _, ix := range ctx.DB.IndexesOn(table.Name) {
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
		if !ok {
			continue
		}
		if err := ix.Insert(indexKeyFor(row, colIdxs), pos); err != nil {
			return core.UniqueViolation(strings.Join(ix.ColumnNames, ","), row.Values[colIdxs[0]])
		}
	}
	return nil
}

// deleteIndexEntries removes the row's keys from every index.
func deleteIndexEntries(ctx *Context, table *core.Table, row *core.Row, pos int) {
	for _, ix := range ctx.DB.IndexesOn(table.Name) {
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
		if !ok {
			continue
		}
		ix.Delete(indexKeyFor(row, colIdxs), pos)
	}
}

func execUpdate(ctx *Context, stmt *UpdateStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.Table)
	if err != nil {
		return nil, err
	}
	heap, err := ctx.heap(stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := materializeSubqueries(ctx, stmt.Where); err != nil {
		return nil, err
	}
	snap := ctx.snapshot()
	writeTx := ctx.writeTxID()

	matches := func(r *core.Row) (bool, error) {
		if !r.VisibleTo(snap) {
			return false, nil
		}
		if stmt.Where == nil {
			return true, nil
		}
		return EvaluateCondition(table.Columns, r, stmt.Where)
	}

	applySet := func(r *core.Row) ([]core.Value, error) {
		values := r.CloneValues()
		for _, set := range stmt.Set {
			idx := table.ColumnIndex(set.Column)
			if idx < 0 {
				return nil, core.ColumnNotFound(set.Column)
			}
			v, err := evalExpr(ctx, table.Columns, r, set.Value)
			if err != nil {
				return nil, err
			}
			if !v.IsNull() {
				v, err = coerceValue(ctx.DB, &table.Columns[idx], v)
				if err != nil {
					return nil, err
				}
			} else if !table.Columns[idx].Nullable {
				return nil, core.NotNullViolation(set.Column)
			}
			values[idx] = v
		}
		return values, nil
	}

	// Collect matching versions and validate the new images before
	// mutating anything.
	type match struct {
		pos int
		old core.Row
		new []core.Value
	}
	var matched []match
	var evalErr error
	rows := heap.GetAllRows()
	for pos, row := range rows {
		r := row
		ok, err := matches(&r)
		if err != nil {
			evalErr = err
			break
		}
		if !ok {
			continue
		}
		newValues, err := applySet(&r)
		if err != nil {
			evalErr = err
			break
		}
		if err := checkForeignKeys(ctx, table, newValues, snap); err != nil {
			evalErr = err
			break
		}
		if err := checkUnique(ctx, table, heap, newValues, snap, pos); err != nil {
			evalErr = err
			break
		}
		matched = append(matched, match{pos: pos, old: r, new: newValues})
	}
	if evalErr != nil {
		return nil, evalErr
	}
	if len(matched) == 0 {
		return &Result{Tag: commandTag("UPDATE", 0)}, nil
	}

	for _, m := range matched {
		newRow := core.NewRow(m.new, writeTx)
		if err := ctx.logWAL(wal.Operation{
			Type: wal.OpUpdate, TableName: stmt.Table, RowIndex: m.pos, Row: &newRow,
		}); err != nil {
			return nil, err
		}
	}

	startPos := heap.RowCount()
	// One MVCC rewrite pass: mark old versions, append new ones.
	updated, err := heap.UpdateWhere(
		func(r *core.Row) bool {
			ok, err := matches(r)
			return err == nil && ok
		},
		func(r *core.Row) core.Row {
			values, _ := applySet(r)
			return core.NewRow(values, writeTx)
		},
		writeTx,
	)
	if err != nil {
		return nil, err
	}

	for n, m := range matched {
		deleteIndexEntries(ctx, table, &m.old, m.pos)
		newRow := core.NewRow(m.new, writeTx)
		if err := insertIndexEntries(ctx, table, &newRow, startPos+n); err != nil {
			return nil, err
		}
	}

	return &Result{Tag: commandTag("UPDATE", updated), RowsAffected: updated}, nil
}

func execDelete(ctx *Context, stmt *DeleteStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.Table)
	if err != nil {
		return nil, err
	}
	heap, err := ctx.heap(stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := materializeSubqueries(ctx, stmt.Where); err != nil {
		return nil, err
	}
	snap := ctx.snapshot()
	writeTx := ctx.writeTxID()

	matches := func(r *core.Row) (bool, error) {
		if !r.VisibleTo(snap) {
			return false, nil
		}
		if stmt.Where == nil {
			return true, nil
		}
		return EvaluateCondition(table.Columns, r, stmt.Where)
	}

	type match struct {
		pos int
		row core.Row
	}
	var matched []match
	var evalErr error
	for pos, row := range heap.GetAllRows() {
		r := row
		ok, err := matches(&r)
		if err != nil {
			evalErr = err
			break
		}
		if ok {
			matched = append(matched, match{pos: pos, row: r})
		}
	}
	if evalErr != nil {
		return nil, evalErr
	}

	for _, m := range matched {
		if err := ctx.logWAL(wal.Operation{Type: wal.OpDelete, TableName: stmt.Table, RowIndex: m.pos}); err != nil {
			return nil, err
		}
	}

	deleted, err := heap.DeleteWhere(func(r *core.Row) bool {
		ok, err := matches(r)
		return err == nil && ok
	}, writeTx)
	if err != nil {
		return nil, err
	}

	for _, m := range matched {
		deleteIndexEntries(ctx, table, &m.row, m.pos)
	}

	return &Result{Tag: commandTag("DELETE", deleted), RowsAffected: deleted}, nil
}
