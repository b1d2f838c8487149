package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/index"
)

// aggregate function names; a FuncCall with one of these (and no OVER) is
// an aggregate.
var aggregateFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
}

// windowFuncs are the supported window functions.
var windowFuncs = map[string]bool{
	"row_number": true, "rank": true, "dense_rank": true,
}

func isAggregate(e Expr) bool {
	call, ok := e.(*FuncCall)
	return ok && call.Over == nil && aggregateFuncs[call.Name]
}

func hasAggregates(items []SelectItem) bool {
	for i := range items {
		if items[i].Expr != nil && isAggregate(items[i].Expr) {
			return true
		}
	}
	return false
}

// execSelect routes a SELECT: set ops first, then system catalogs, views,
// joins, grouped and scalar aggregates, and finally the regular scan.
func execSelect(ctx *Context, stmt *SelectStmt) (*Result, error) {
	if stmt.SetOp != nil {
		return execSetOp(ctx, stmt)
	}
	if stmt.From == "" {
		return execNoFrom(ctx, stmt)
	}
	if isSystemCatalog(stmt.From) {
		return execCatalogSelect(ctx, stmt)
	}
	if _, isView := ctx.DB.Views[stmt.From]; isView {
		return execViewSelect(ctx, stmt)
	}
	if stmt.Join != nil {
		return execJoinSelect(ctx, stmt)
	}
	if len(stmt.GroupBy) > 0 {
		return execGroupBy(ctx, stmt)
	}
	if hasAggregates(stmt.Items) {
		return execScalarAggregate(ctx, stmt)
	}
	return execScan(ctx, stmt)
}

// execNoFrom evaluates projections with no table (SELECT version()).
func execNoFrom(ctx *Context, stmt *SelectStmt) (*Result, error) {
	res := &Result{}
	row := core.Row{}
	var cells []core.Value
	for i := range stmt.Items {
		item := &stmt.Items[i]
		if item.Star {
			return nil, core.ParseError("SELECT * needs a FROM clause")
		}
		v, err := evalExpr(ctx, nil, &row, item.Expr)
		if err != nil {
			return nil, err
		}
		res.Columns = append(res.Columns, exprLabel(item))
		cells = append(cells, v)
	}
	res.Rows = [][]core.Value{cells}
	res.Tag = commandTag("SELECT", 1)
	return res, nil
}

// accessPath describes how a scan will fetch candidate rows.
type accessPath struct {
	scanType  string // "seq", "index", "unique-index"
	indexName string
	indexKind string
	positions []int // candidate heap positions; nil for full scan
}

// chooseAccessPath picks an index when the WHERE reduces to equality on all
// columns of some existing index; otherwise a full scan.
func chooseAccessPath(ctx *Context, table *core.Table, where *Condition) accessPath {
	if where == nil {
		return accessPath{scanType: "seq"}
	}
	eq, conjunctive := extractEqualities(where)
	if !conjunctive || len(eq) == 0 {
		return accessPath{scanType: "seq"}
	}
	var chosen *index.Index
	ctx.DB.Indexes(func(ix *index.Index) {
		if ix.TableName != table.Name || chosen != nil {
			return
		}
		for _, col := range ix.ColumnNames {
			if _, ok := eq[col]; !ok {
				return
			}
		}
		chosen = ix
	})
	if chosen == nil {
		return accessPath{scanType: "seq"}
	}
	values := make([]core.Value, len(chosen.ColumnNames))
	for i, col := range chosen.ColumnNames {
		values[i] = eq[col]
	}
	positions := chosen.Search(core.EncodeKey(values))
	if positions == nil {
		positions = []int{}
	}
	st := "index"
	if chosen.Unique {
		st = "unique-index"
	}
	return accessPath{
		scanType:  st,
		indexName: chosen.Name,
		indexKind: chosen.Kind().String(),
		positions: positions,
	}
}

// extractEqualities flattens a pure conjunction of equality leaves into a
// column -> value map. Any OR or non-equality node disqualifies the tree.
func extractEqualities(cond *Condition) (map[string]core.Value, bool) {
	eq := make(map[string]core.Value)
	ok := collectEqualities(cond, eq)
	return eq, ok
}

func collectEqualities(cond *Condition, eq map[string]core.Value) bool {
	if cond == nil {
		return true
	}
	switch cond.Op {
	case CondAnd:
		return collectEqualities(cond.Left, eq) && collectEqualities(cond.Right, eq)
	case CondEq:
		name := cond.Column
		if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
			name = name[dot+1:]
		}
		eq[name] = cond.Value
		return true
	default:
		return false
	}
}

// visibleRows returns the visible row versions, optionally restricted to
// candidate heap positions.
func visibleRows(heap RowStore, snap core.Snapshot, candidates []int) []core.Row {
	all := heap.GetAllRows()
	var rows []core.Row
	if candidates != nil {
		seen := make(map[int]struct{}, len(candidates))
		for _, pos := range candidates {
			if _, dup := seen[pos]; dup {
				continue
			}
			seen[pos] = struct{}{}
			if pos >= 0 && pos < len(all) {
				r := all[pos]
				if r.VisibleTo(snap) {
					rows = append(rows, r)
				}
			}
		}
		return rows
	}
	for _, r := range all {
		row := r
		if row.VisibleTo(snap) {
			rows = append(rows, row)
		}
	}
	return rows
}

// execScan is the regular SELECT path: snapshot, access path, visibility,
// WHERE, projection, ORDER BY, DISTINCT, OFFSET, LIMIT.
func execScan(ctx *Context, stmt *SelectStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.From)
	if err != nil {
		return nil, err
	}
	heap, err := ctx.heap(stmt.From)
	if err != nil {
		return nil, err
	}
	if err := materializeSubqueries(ctx, stmt.Where); err != nil {
		return nil, err
	}

	snap := ctx.snapshot()
	path := chooseAccessPath(ctx, table, stmt.Where)
	rows := visibleRows(heap, snap, path.positions)

	filtered := rows[:0:0]
	for i := range rows {
		r := rows[i]
		if stmt.Where != nil {
			ok, err := EvaluateCondition(table.Columns, &r, stmt.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		filtered = append(filtered, r)
	}

	// ORDER BY runs on the underlying rows, before projection.
	if len(stmt.OrderBy) > 0 {
		if err := sortRowsBy(table.Columns, filtered, stmt.OrderBy); err != nil {
			return nil, err
		}
	}

	res, err := projectRows(ctx, table.Columns, filtered, stmt.Items)
	if err != nil {
		return nil, err
	}
	if err := applyWindowFuncs(ctx, table.Columns, filtered, stmt.Items, res); err != nil {
		return nil, err
	}

	finishSelect(res, stmt)
	return res, nil
}

// sortRowsBy orders rows by the named underlying columns.
func sortRowsBy(columns []core.Column, rows []core.Row, order []OrderItem) error {
	idxs := make([]int, len(order))
	for i, item := range order {
		idx := columnIndex(columns, item.Column)
		if idx < 0 {
			return core.ColumnNotFound(item.Column)
		}
		idxs[i] = idx
	}
	var sortErr error
	sort.SliceStable(rows, func(a, b int) bool {
		for i, item := range order {
			va, vb := rows[a].Values[idxs[i]], rows[b].Values[idxs[i]]
			if va.IsNull() || vb.IsNull() {
				if va.IsNull() && vb.IsNull() {
					continue
				}
				// NULLs sort last ascending, first descending.
				less := vb.IsNull()
				if item.Desc {
					less = !less
				}
				return less
			}
			c, err := va.Compare(vb)
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if item.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

// projectRows evaluates the non-window projections for every row.
func projectRows(ctx *Context, columns []core.Column, rows []core.Row, items []SelectItem) (*Result, error) {
	res := &Result{}
	for i := range items {
		item := &items[i]
		if item.Star {
			for _, col := range columns {
				res.Columns = append(res.Columns, col.Name)
			}
		} else {
			res.Columns = append(res.Columns, exprLabel(item))
		}
	}

	for r := range rows {
		row := rows[r]
		var cells []core.Value
		for i := range items {
			item := &items[i]
			if item.Star {
				cells = append(cells, row.Values...)
				continue
			}
			if call, ok := item.Expr.(*FuncCall); ok && call.Over != nil {
				// Window placeholder, filled by applyWindowFuncs.
				cells = append(cells, core.Null())
				continue
			}
			v, err := evalExpr(ctx, columns, &row, item.Expr)
			if err != nil {
				return nil, err
			}
			cells = append(cells, v)
		}
		res.Rows = append(res.Rows, cells)
	}
	return res, nil
}

// applyWindowFuncs fills window-function cells: ROW_NUMBER, RANK,
// DENSE_RANK over PARTITION BY / ORDER BY.
func applyWindowFuncs(ctx *Context, columns []core.Column, rows []core.Row, items []SelectItem, res *Result) error {
	cellIdx := 0
	for i := range items {
		item := &items[i]
		width := 1
		if item.Star {
			width = len(columns)
		}
		call, isCall := item.Expr.(*FuncCall)
		if !item.Star && isCall && call.Over != nil {
			if !windowFuncs[call.Name] {
				return core.ParseError(fmt.Sprintf("unsupported window function %q", call.Name))
			}
			if err := fillWindowColumn(columns, rows, call, res, cellIdx); err != nil {
				return err
			}
		}
		cellIdx += width
	}
	return nil
}

func fillWindowColumn(columns []core.Column, rows []core.Row, call *FuncCall, res *Result, cellIdx int) error {
	// Partition rows by the PARTITION BY values.
	partIdxs := make([]int, len(call.Over.PartitionBy))
	for i, col := range call.Over.PartitionBy {
		idx := columnIndex(columns, col)
		if idx < 0 {
			return core.ColumnNotFound(col)
		}
		partIdxs[i] = idx
	}
	orderIdxs := make([]int, len(call.Over.OrderBy))
	for i, item := range call.Over.OrderBy {
		idx := columnIndex(columns, item.Column)
		if idx < 0 {
			return core.ColumnNotFound(item.Column)
		}
		orderIdxs[i] = idx
	}

	type member struct{ rowPos int }
	partitions := make(map[string][]member)
	var partOrder []string
	for pos := range rows {
		var sb strings.Builder
		for _, idx := range partIdxs {
			sb.WriteString(rows[pos].Values[idx].Format())
			sb.WriteByte(0)
		}
		key := sb.String()
		if _, ok := partitions[key]; !ok {
			partOrder = append(partOrder, key)
		}
		partitions[key] = append(partitions[key], member{rowPos: pos})
	}

	for _, key := range partOrder {
		members := partitions[key]
		sort.SliceStable(members, func(a, b int) bool {
			ra, rb := rows[members[a].rowPos], rows[members[b].rowPos]
			for i, item := range call.Over.OrderBy {
				va, vb := ra.Values[orderIdxs[i]], rb.Values[orderIdxs[i]]
				if va.IsNull() || vb.IsNull() {
					if va.IsNull() == vb.IsNull() {
						continue
					}
					return vb.IsNull() != item.Desc
				}
				c, err := va.Compare(vb)
				if err != nil || c == 0 {
					continue
				}
				if item.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})

		rank, denseRank := 0, 0
		var prevKey string
		for n, m := range members {
			var sb strings.Builder
			for _, idx := range orderIdxs {
				sb.WriteString(rows[m.rowPos].Values[idx].Format())
				sb.WriteByte(0)
			}
			curKey := sb.String()
			if n == 0 || curKey != prevKey {
				rank = n + 1
				denseRank++
			}
			prevKey = curKey

			var v int64
			switch call.Name {
			case "row_number":
				v = int64(n + 1)
			case "rank":
				v = int64(rank)
			case "dense_rank":
				v = int64(denseRank)
			}
			res.Rows[m.rowPos][cellIdx] = core.NewInteger(v)
		}
	}
	return nil
}

// finishSelect applies DISTINCT, OFFSET, and LIMIT, and stamps the tag.
func finishSelect(res *Result, stmt *SelectStmt) {
	if stmt.Distinct {
		res.Rows = dedupeRows(res.Rows)
	}
	if stmt.Offset != nil {
		off := *stmt.Offset
		if off >= len(res.Rows) {
			res.Rows = nil
		} else {
			res.Rows = res.Rows[off:]
		}
	}
	if stmt.Limit != nil && *stmt.Limit < len(res.Rows) {
		res.Rows = res.Rows[:*stmt.Limit]
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
}

// dedupeRows removes duplicates by formatted cells, preserving the first
// occurrence.
func dedupeRows(rows [][]core.Value) [][]core.Value {
	seen := make(map[string]struct{}, len(rows))
	var out [][]core.Value
	for _, row := range rows {
		key := rowKey(row)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

func rowKey(row []core.Value) string {
	var sb strings.Builder
	for _, v := range row {
		if v.IsNull() {
			sb.WriteString("\x01NULL")
		} else {
			sb.WriteString(v.Format())
		}
		sb.WriteByte(0)
	}
	return sb.String()
}

// execViewSelect re-parses the stored view text and runs the outer SELECT
// over the view's result set.
func execViewSelect(ctx *Context, stmt *SelectStmt) (*Result, error) {
	if ctx.depth >= maxNestingDepth {
		return nil, core.ParseError(fmt.Sprintf("view nesting exceeds %d levels", maxNestingDepth))
	}
	viewSQL := ctx.DB.Views[stmt.From]
	inner, err := NewParser(viewSQL).parseSelect()
	if err != nil {
		return nil, core.ParseError(fmt.Sprintf("stored view %q is invalid: %v", stmt.From, err))
	}
	sub := *ctx
	sub.depth = ctx.depth + 1
	innerRes, err := execSelect(&sub, inner)
	if err != nil {
		return nil, err
	}
	return selectOverResult(ctx, innerRes, stmt)
}

// selectOverResult runs the outer pipeline over a materialized result set,
// inferring a pseudo-schema from the result values.
func selectOverResult(ctx *Context, base *Result, stmt *SelectStmt) (*Result, error) {
	columns := make([]core.Column, len(base.Columns))
	for i, name := range base.Columns {
		columns[i] = core.Column{Name: name, Type: core.TextType(), Nullable: true}
	}
	rows := make([]core.Row, len(base.Rows))
	for i, cells := range base.Rows {
		rows[i] = core.Row{Values: cells}
	}

	if err := materializeSubqueries(ctx, stmt.Where); err != nil {
		return nil, err
	}
	var filtered []core.Row
	for i := range rows {
		r := rows[i]
		if stmt.Where != nil {
			ok, err := EvaluateCondition(columns, &r, stmt.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		filtered = append(filtered, r)
	}
	if len(stmt.OrderBy) > 0 {
		if err := sortRowsBy(columns, filtered, stmt.OrderBy); err != nil {
			return nil, err
		}
	}
	res, err := projectRows(ctx, columns, filtered, stmt.Items)
	if err != nil {
		return nil, err
	}
	if err := applyWindowFuncs(ctx, columns, filtered, stmt.Items, res); err != nil {
		return nil, err
	}
	finishSelect(res, stmt)
	return res, nil
}

// execJoinSelect runs the nested-loop join handler: one JOIN per query,
// equality on a table.column pair, INNER/LEFT/RIGHT.
func execJoinSelect(ctx *Context, stmt *SelectStmt) (*Result, error) {
	leftTable, err := ctx.DB.Table(stmt.From)
	if err != nil {
		return nil, err
	}
	rightTable, err := ctx.DB.Table(stmt.Join.Table)
	if err != nil {
		return nil, err
	}
	leftHeap, err := ctx.heap(stmt.From)
	if err != nil {
		return nil, err
	}
	rightHeap, err := ctx.heap(stmt.Join.Table)
	if err != nil {
		return nil, err
	}
	if err := materializeSubqueries(ctx, stmt.Where); err != nil {
		return nil, err
	}
	snap := ctx.snapshot()

	leftRows := visibleRows(leftHeap, snap, nil)
	rightRows := visibleRows(rightHeap, snap, nil)

	leftIdx, rightIdx, err := resolveJoinColumns(leftTable, rightTable, stmt.Join)
	if err != nil {
		return nil, err
	}

	combined := make([]core.Column, 0, len(leftTable.Columns)+len(rightTable.Columns))
	combined = append(combined, leftTable.Columns...)
	combined = append(combined, rightTable.Columns...)

	nullLeft := nullValues(len(leftTable.Columns))
	nullRight := nullValues(len(rightTable.Columns))

	var joined []core.Row
	switch stmt.Join.Type {
	case JoinRight:
		for _, rr := range rightRows {
			matchedAny := false
			for _, lr := range leftRows {
				if lr.Values[leftIdx].Equal(rr.Values[rightIdx]) && !lr.Values[leftIdx].IsNull() {
					joined = append(joined, combineRows(lr.Values, rr.Values))
					matchedAny = true
				}
			}
			if !matchedAny {
				joined = append(joined, combineRows(nullLeft, rr.Values))
			}
		}
	default:
		for _, lr := range leftRows {
			matchedAny := false
			for _, rr := range rightRows {
				if lr.Values[leftIdx].Equal(rr.Values[rightIdx]) && !lr.Values[leftIdx].IsNull() {
					joined = append(joined, combineRows(lr.Values, rr.Values))
					matchedAny = true
				}
			}
			if !matchedAny && stmt.Join.Type == JoinLeft {
				joined = append(joined, combineRows(lr.Values, nullRight))
			}
		}
	}

	var filtered []core.Row
	for i := range joined {
		r := joined[i]
		if stmt.Where != nil {
			ok, err := EvaluateCondition(combined, &r, stmt.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		filtered = append(filtered, r)
	}

	if len(stmt.OrderBy) > 0 {
		if err := sortRowsBy(combined, filtered, stmt.OrderBy); err != nil {
			return nil, err
		}
	}
	res, err := projectRows(ctx, combined, filtered, stmt.Items)
	if err != nil {
		return nil, err
	}
	finishSelect(res, stmt)
	return res, nil
}

// resolveJoinColumns maps the ON equality's two references onto a column of
// the left table and a column of the right table, in either written order.
func resolveJoinColumns(leftTable, rightTable *core.Table, join *JoinClause) (int, int, error) {
	locate := func(ref ColumnRef) (onLeft bool, idx int, err error) {
		switch ref.Table {
		case leftTable.Name:
			if i := leftTable.ColumnIndex(ref.Name); i >= 0 {
				return true, i, nil
			}
		case rightTable.Name:
			if i := rightTable.ColumnIndex(ref.Name); i >= 0 {
				return false, i, nil
			}
		case "":
			if i := leftTable.ColumnIndex(ref.Name); i >= 0 {
				return true, i, nil
			}
			if i := rightTable.ColumnIndex(ref.Name); i >= 0 {
				return false, i, nil
			}
		}
		return false, 0, core.ColumnNotFound(ref.Name)
	}

	aLeft, aIdx, err := locate(join.LeftCol)
	if err != nil {
		return 0, 0, err
	}
	bLeft, bIdx, err := locate(join.RightCol)
	if err != nil {
		return 0, 0, err
	}
	if aLeft == bLeft {
		return 0, 0, core.ParseError("join condition must compare columns of both tables")
	}
	if aLeft {
		return aIdx, bIdx, nil
	}
	return bIdx, aIdx, nil
}

func nullValues(n int) []core.Value {
	out := make([]core.Value, n)
	for i := range out {
		out[i] = core.Null()
	}
	return out
}

func combineRows(left, right []core.Value) core.Row {
	values := make([]core.Value, 0, len(left)+len(right))
	values = append(values, left...)
	values = append(values, right...)
	return core.Row{Values: values}
}

// execScalarAggregate computes aggregates over the whole filtered set.
func execScalarAggregate(ctx *Context, stmt *SelectStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.From)
	if err != nil {
		return nil, err
	}
	heap, err := ctx.heap(stmt.From)
	if err != nil {
		return nil, err
	}
	if err := materializeSubqueries(ctx, stmt.Where); err != nil {
		return nil, err
	}
	snap := ctx.snapshot()

	var rows []core.Row
	for _, r := range visibleRows(heap, snap, nil) {
		row := r
		if stmt.Where != nil {
			ok, err := EvaluateCondition(table.Columns, &row, stmt.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		rows = append(rows, row)
	}

	res := &Result{}
	var cells []core.Value
	for i := range stmt.Items {
		item := &stmt.Items[i]
		call, ok := item.Expr.(*FuncCall)
		if !ok || !isAggregate(call) {
			return nil, core.ParseError(
				"non-aggregate columns in an aggregate query need GROUP BY")
		}
		v, err := computeAggregate(table.Columns, rows, call)
		if err != nil {
			return nil, err
		}
		res.Columns = append(res.Columns, exprLabel(item))
		cells = append(cells, v)
	}
	res.Rows = [][]core.Value{cells}
	res.Tag = commandTag("SELECT", 1)
	return res, nil
}

// computeAggregate evaluates one aggregate over rows. NULLs are skipped for
// every function except COUNT(*).
func computeAggregate(columns []core.Column, rows []core.Row, call *FuncCall) (core.Value, error) {
	if call.Star {
		if call.Name != "count" {
			return core.Value{}, core.ParseError(fmt.Sprintf("%s(*) is not defined", call.Name))
		}
		return core.NewInteger(int64(len(rows))), nil
	}
	if len(call.Args) != 1 {
		return core.Value{}, core.ParseError(fmt.Sprintf("%s takes exactly one argument", call.Name))
	}
	ref, ok := call.Args[0].(*ColumnRef)
	if !ok {
		return core.Value{}, core.ParseError("aggregate argument must be a column")
	}
	idx := columnIndex(columns, ref.Name)
	if idx < 0 {
		return core.Value{}, core.ColumnNotFound(ref.Name)
	}

	var nonNull []core.Value
	for i := range rows {
		if v := rows[i].Values[idx]; !v.IsNull() {
			nonNull = append(nonNull, v)
		}
	}

	switch call.Name {
	case "count":
		return core.NewInteger(int64(len(nonNull))), nil
	case "sum", "avg":
		if len(nonNull) == 0 {
			return core.Null(), nil
		}
		isFloat := false
		var sumInt int64
		var sumFloat float64
		for _, v := range nonNull {
			switch v.Kind {
			case core.KindSmallInt, core.KindInteger:
				sumInt += v.Int
				sumFloat += float64(v.Int)
			case core.KindReal:
				isFloat = true
				sumFloat += v.Float
			case core.KindNumeric:
				isFloat = true
				f, _ := v.Dec.Float64()
				sumFloat += f
			default:
				return core.Value{}, core.TypeMismatch(fmt.Sprintf("%s over %s values", call.Name, v.Kind))
			}
		}
		if call.Name == "sum" {
			if isFloat {
				return core.NewReal(sumFloat), nil
			}
			return core.NewInteger(sumInt), nil
		}
		return core.NewReal(sumFloat / float64(len(nonNull))), nil
	case "min", "max":
		if len(nonNull) == 0 {
			return core.Null(), nil
		}
		best := nonNull[0]
		for _, v := range nonNull[1:] {
			c, err := v.Compare(best)
			if err != nil {
				return core.Value{}, err
			}
			if (call.Name == "min" && c < 0) || (call.Name == "max" && c > 0) {
				best = v
			}
		}
		return best, nil
	default:
		return core.Value{}, core.ParseError(fmt.Sprintf("unknown aggregate %q", call.Name))
	}
}

// execGroupBy groups the filtered rows and evaluates aggregates per group.
// Every non-aggregate projection must appear in the group list.
func execGroupBy(ctx *Context, stmt *SelectStmt) (*Result, error) {
	table, err := ctx.DB.Table(stmt.From)
	if err != nil {
		return nil, err
	}
	heap, err := ctx.heap(stmt.From)
	if err != nil {
		return nil, err
	}
	if err := materializeSubqueries(ctx, stmt.Where); err != nil {
		return nil, err
	}
	snap := ctx.snapshot()

	groupIdxs := make([]int, len(stmt.GroupBy))
	groupSet := make(map[string]struct{}, len(stmt.GroupBy))
	for i, col := range stmt.GroupBy {
		idx := table.ColumnIndex(col)
		if idx < 0 {
			return nil, core.ColumnNotFound(col)
		}
		groupIdxs[i] = idx
		groupSet[col] = struct{}{}
	}

	// Validate projections: group columns or aggregates only.
	for i := range stmt.Items {
		item := &stmt.Items[i]
		if item.Star {
			return nil, core.ParseError("SELECT * is not allowed with GROUP BY")
		}
		switch e := item.Expr.(type) {
		case *ColumnRef:
			if _, ok := groupSet[e.Name]; !ok {
				return nil, core.ParseError(fmt.Sprintf(
					"column %q must appear in the GROUP BY clause or be used in an aggregate function", e.Name))
			}
		case *FuncCall:
			if !isAggregate(e) {
				return nil, core.ParseError(fmt.Sprintf(
					"function %q is not an aggregate", e.Name))
			}
		default:
			return nil, core.ParseError("GROUP BY projections must be group columns or aggregates")
		}
	}

	var rows []core.Row
	for _, r := range visibleRows(heap, snap, nil) {
		row := r
		if stmt.Where != nil {
			ok, err := EvaluateCondition(table.Columns, &row, stmt.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		rows = append(rows, row)
	}

	groups := make(map[string][]core.Row)
	var order []string
	for i := range rows {
		var sb strings.Builder
		for _, idx := range groupIdxs {
			sb.WriteString(rows[i].Values[idx].Format())
			sb.WriteByte(0)
		}
		key := sb.String()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rows[i])
	}

	res := &Result{}
	for i := range stmt.Items {
		res.Columns = append(res.Columns, exprLabel(&stmt.Items[i]))
	}

	for _, key := range order {
		members := groups[key]
		var cells []core.Value
		for i := range stmt.Items {
			item := &stmt.Items[i]
			switch e := item.Expr.(type) {
			case *ColumnRef:
				idx := columnIndex(table.Columns, e.Name)
				cells = append(cells, members[0].Values[idx])
			case *FuncCall:
				v, err := computeAggregate(table.Columns, members, e)
				if err != nil {
					return nil, err
				}
				cells = append(cells, v)
			}
		}

		if stmt.Having != nil {
			pseudoCols := make([]core.Column, len(res.Columns))
			for i, name := range res.Columns {
				pseudoCols[i] = core.Column{Name: name, Nullable: true}
			}
			pseudoRow := core.Row{Values: cells}
			ok, err := EvaluateCondition(pseudoCols, &pseudoRow, stmt.Having)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		res.Rows = append(res.Rows, cells)
	}

	if len(stmt.OrderBy) > 0 {
		pseudoCols := make([]core.Column, len(res.Columns))
		for i, name := range res.Columns {
			pseudoCols[i] = core.Column{Name: name, Nullable: true}
		}
		pseudoRows := make([]core.Row, len(res.Rows))
		for i := range res.Rows {
			pseudoRows[i] = core.Row{Values: res.Rows[i]}
		}
		if err := sortRowsBy(pseudoCols, pseudoRows, stmt.OrderBy); err != nil {
			return nil, err
		}
		for i := range pseudoRows {
			res.Rows[i] = pseudoRows[i].Values
		}
	}

	finishSelect(res, stmt)
	return res, nil
}

// execSetOp evaluates both sides and combines on formatted rows. Both
// sides must project the same number of columns.
func execSetOp(ctx *Context, stmt *SelectStmt) (*Result, error) {
	left := *stmt
	left.SetOp = nil
	leftRes, err := execSelect(ctx, &left)
	if err != nil {
		return nil, err
	}
	rightRes, err := execSelect(ctx, stmt.SetOp.Right)
	if err != nil {
		return nil, err
	}
	if len(leftRes.Columns) != len(rightRes.Columns) {
		return nil, core.TypeMismatch(fmt.Sprintf(
			"each %s query must have the same number of columns", stmt.SetOp.Op))
	}

	res := &Result{Columns: leftRes.Columns}
	switch stmt.SetOp.Op {
	case SetUnion:
		if stmt.SetOp.All {
			res.Rows = append(leftRes.Rows, rightRes.Rows...)
		} else {
			res.Rows = dedupeRows(append(leftRes.Rows, rightRes.Rows...))
		}
	case SetIntersect:
		rightKeys := make(map[string]struct{}, len(rightRes.Rows))
		for _, row := range rightRes.Rows {
			rightKeys[rowKey(row)] = struct{}{}
		}
		seen := make(map[string]struct{})
		for _, row := range leftRes.Rows {
			key := rowKey(row)
			if _, inRight := rightKeys[key]; !inRight {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Rows = append(res.Rows, row)
		}
	case SetExcept:
		rightKeys := make(map[string]struct{}, len(rightRes.Rows))
		for _, row := range rightRes.Rows {
			rightKeys[rowKey(row)] = struct{}{}
		}
		seen := make(map[string]struct{})
		for _, row := range leftRes.Rows {
			key := rowKey(row)
			if _, inRight := rightKeys[key]; inRight {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Rows = append(res.Rows, row)
		}
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}
