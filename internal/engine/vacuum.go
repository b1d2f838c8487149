package engine

import (
	"fmt"
)

// execVacuum physically reclaims dead versions at the oldest-active-tx
// horizon, then repopulates the affected indexes (stored positions move
// when slots are reclaimed).
func execVacuum(ctx *Context, stmt *VacuumStmt) (*Result, error) {
	oldest := ctx.Txm.OldestActiveTx()

	var tables []string
	if stmt.Table != "" {
		if _, err := ctx.DB.Table(stmt.Table); err != nil {
			return nil, err
		}
		tables = []string{stmt.Table}
	} else {
		for name := range ctx.DB.Tables {
			tables = append(tables, name)
		}
	}

	total := 0
	for _, name := range tables {
		heap, err := ctx.heap(name)
		if err != nil {
			continue
		}
		removed, err := heap.Vacuum(oldest)
		if err != nil {
			return nil, err
		}
		total += removed
		rebuildTableIndexes(ctx, name)
	}

	return &Result{Tag: fmt.Sprintf("VACUUM: removed %d dead row version(s)", total), RowsAffected: total}, nil
}
