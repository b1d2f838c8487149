package storage

import (
	"fmt"
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *PagedTable {
	t.Helper()
	pm, err := NewPageManager(t.TempDir(), 100)
	require.NoError(t, err)
	return NewPagedTable(1, pm)
}

func TestPagedTableInsertAndReadBack(t *testing.T) {
	pt := newTestHeap(t)
	const n = 50
	for i := 0; i < n; i++ {
		row := core.NewRow([]core.Value{core.NewInteger(int64(i)), core.NewText(fmt.Sprintf("user%d", i))}, 1)
		require.NoError(t, pt.Insert(row))
	}
	assert.Equal(t, n, pt.RowCount())

	rows := pt.GetAllRows()
	require.Len(t, rows, n)
	for i, row := range rows {
		got, _ := row.Values[0].AsInt()
		assert.Equal(t, int64(i), got)
	}
}

func TestPagedTableSpillsToMultiplePages(t *testing.T) {
	pt := newTestHeap(t)
	long := make([]byte, 512)
	for i := 0; i < 100; i++ {
		row := core.NewRow([]core.Value{core.NewInteger(int64(i)), core.NewBytea(long)}, 1)
		require.NoError(t, pt.Insert(row))
	}
	assert.Greater(t, pt.PageCount(), uint32(1))
	assert.Len(t, pt.GetAllRows(), 100)
}

func TestPagedTableDeleteWhereMarksOnly(t *testing.T) {
	pt := newTestHeap(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, pt.Insert(core.NewRow([]core.Value{core.NewInteger(int64(i))}, 1)))
	}
	deleted, err := pt.DeleteWhere(func(r *core.Row) bool {
		n, _ := r.Values[0].AsInt()
		return n > 5
	}, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
	// Versions are marked, not removed.
	assert.Equal(t, 10, pt.RowCount())

	marked := 0
	for _, row := range pt.GetAllRows() {
		if row.Xmax == 100 {
			marked++
		}
	}
	assert.Equal(t, 4, marked)
}

func TestPagedTableUpdateWhereWritesNewVersions(t *testing.T) {
	pt := newTestHeap(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, pt.Insert(core.NewRow([]core.Value{core.NewInteger(int64(i)), core.NewText("old")}, 1)))
	}
	updated, err := pt.UpdateWhere(
		func(r *core.Row) bool { return !r.HasXmax() },
		func(r *core.Row) core.Row {
			return core.Row{Values: []core.Value{r.Values[0], core.NewText("new")}}
		},
		7,
	)
	require.NoError(t, err)
	assert.Equal(t, 5, updated)
	// Old versions marked with xmax=7, new versions appended with xmin=7.
	assert.Equal(t, 10, pt.RowCount())

	olds, news := 0, 0
	for _, row := range pt.GetAllRows() {
		switch {
		case row.Xmax == 7:
			olds++
		case row.Xmin == 7:
			news++
			assert.True(t, row.Values[1].Equal(core.NewText("new")))
		}
	}
	assert.Equal(t, 5, olds)
	assert.Equal(t, 5, news)
}

func TestPagedTableVacuumReclaimsDead(t *testing.T) {
	pt := newTestHeap(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, pt.Insert(core.NewRow([]core.Value{core.NewInteger(int64(i))}, 1)))
	}
	_, err := pt.DeleteWhere(func(r *core.Row) bool {
		n, _ := r.Values[0].AsInt()
		return n == 2
	}, 1)
	require.NoError(t, err)

	removed, err := pt.Vacuum(1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, pt.RowCount())

	var ids []int64
	for _, row := range pt.GetAllRows() {
		n, _ := row.Values[0].AsInt()
		ids = append(ids, n)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestPagedTableVacuumRespectsHorizon(t *testing.T) {
	pt := newTestHeap(t)
	require.NoError(t, pt.Insert(core.NewRow([]core.Value{core.NewInteger(1)}, 1)))
	_, err := pt.DeleteWhere(func(*core.Row) bool { return true }, 50)
	require.NoError(t, err)

	// A transaction older than the delete could still see the version.
	removed, err := pt.Vacuum(49)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = pt.Vacuum(50)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestPagedTableAbortTransaction(t *testing.T) {
	pt := newTestHeap(t)
	require.NoError(t, pt.Insert(core.NewRow([]core.Value{core.NewInteger(1)}, 1)))

	// Transaction 5 updates the row: mark old, insert new.
	_, err := pt.UpdateWhere(
		func(r *core.Row) bool { return !r.HasXmax() },
		func(r *core.Row) core.Row {
			return core.Row{Values: []core.Value{core.NewInteger(2)}}
		},
		5,
	)
	require.NoError(t, err)

	undone, err := pt.AbortTransaction(5)
	require.NoError(t, err)
	assert.Equal(t, 2, undone)

	rows := pt.GetAllRows()
	require.Len(t, rows, 1)
	n, _ := rows[0].Values[0].AsInt()
	assert.Equal(t, int64(1), n)
	assert.False(t, rows[0].HasXmax())
}

func TestPagedTablePersistence(t *testing.T) {
	dir := t.TempDir()
	pm, err := NewPageManager(dir, 100)
	require.NoError(t, err)
	pt := NewPagedTable(1, pm)
	for i := 0; i < 10; i++ {
		require.NoError(t, pt.Insert(core.NewRow([]core.Value{core.NewInteger(int64(i))}, 1)))
	}
	require.NoError(t, pt.Flush())

	pm2, err := NewPageManager(dir, 100)
	require.NoError(t, err)
	pt2 := NewPagedTable(1, pm2)
	assert.Equal(t, 10, pt2.RowCount())
	assert.Len(t, pt2.GetAllRows(), 10)
}
