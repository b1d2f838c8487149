package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *core.Table {
	return core.NewTable("users", []core.Column{
		{Name: "id", Type: core.IntegerType(), PrimaryKey: true},
		{Name: "name", Type: core.TextType(), Nullable: true},
	}, "postgres")
}

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()

	seq, err := m.Append(Operation{Type: OpCreateTable, TableName: "users", Table: testTable()})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	row := core.NewRow([]core.Value{core.NewInteger(1), core.NewText("ada")}, 1)
	seq, err = m.Append(Operation{Type: OpInsert, TableName: "users", Row: &row})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	logs, err := m.ReadAllLogs()
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, OpCreateTable, logs[0].Operation.Type)
	assert.Equal(t, OpInsert, logs[1].Operation.Type)
	assert.Equal(t, "ada", logs[1].Operation.Row.Values[1].Str)
}

func TestSequenceRecoveredAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	_, err = m.Append(Operation{Type: OpDropTable, TableName: "a"})
	require.NoError(t, err)
	_, err = m.Append(Operation{Type: OpDropTable, TableName: "b"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := NewManager(dir)
	require.NoError(t, err)
	defer m2.Close()
	assert.Equal(t, uint64(2), m2.Sequence())

	seq, err := m2.Append(Operation{Type: OpDropTable, TableName: "c"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestPartialTrailingRecordDiscarded(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	_, err = m.Append(Operation{Type: OpDropTable, TableName: "keep"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	// Simulate a crash mid-write: a frame header promising more bytes than
	// the file holds.
	walDir := filepath.Join(dir, "wal")
	entries, err := os.ReadDir(walDir)
	require.NoError(t, err)
	var seg string
	for _, e := range entries {
		info, _ := e.Info()
		if info.Size() > 0 {
			seg = filepath.Join(walDir, e.Name())
		}
	}
	require.NotEmpty(t, seg)
	f, err := os.OpenFile(seg, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x00, 0x00, 0x00, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m2, err := NewManager(dir)
	require.NoError(t, err)
	defer m2.Close()
	logs, err := m2.ReadAllLogs()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "keep", logs[0].Operation.TableName)
}

func TestSegmentRotationAndCleanup(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()
	m.SetMaxSegmentSize(256)

	for i := 0; i < 20; i++ {
		row := core.NewRow([]core.Value{core.NewInteger(int64(i)), core.NewText("padding-padding-padding")}, 1)
		_, err := m.Append(Operation{Type: OpInsert, TableName: "users", Row: &row})
		require.NoError(t, err)
	}

	walDir := filepath.Join(dir, "wal")
	before := countSegments(t, walDir)
	assert.Greater(t, before, 2)

	require.NoError(t, m.CleanupOldLogs(2))
	after := countSegments(t, walDir)
	assert.LessOrEqual(t, after, 3) // keep + possibly the fresh active segment

	// Every surviving record still decodes.
	_, err = m.ReadAllLogs()
	require.NoError(t, err)
}

func countSegments(t *testing.T, walDir string) int {
	t.Helper()
	entries, err := os.ReadDir(walDir)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".wal" {
			n++
		}
	}
	return n
}

func TestApplyReplaysOperations(t *testing.T) {
	dir := t.TempDir()
	ds, err := storage.NewDatabaseStorage(dir, 50)
	require.NoError(t, err)
	store := ds.ForDatabase("testdb")
	db := core.NewDatabase("testdb")

	table := testTable()
	require.NoError(t, Apply(db, store, &Operation{Type: OpCreateTable, TableName: "users", Table: table}))
	require.Contains(t, db.Tables, "users")

	// Idempotent: replaying CreateTable again is a no-op.
	require.NoError(t, Apply(db, store, &Operation{Type: OpCreateTable, TableName: "users", Table: table}))

	for i := 1; i <= 3; i++ {
		row := core.NewRow([]core.Value{core.NewInteger(int64(i)), core.NewText("original-name")}, 1)
		require.NoError(t, Apply(db, store, &Operation{Type: OpInsert, TableName: "users", Row: &row}))
	}
	heap, err := store.Heap("users")
	require.NoError(t, err)
	assert.Equal(t, 3, heap.RowCount())

	// The replacement payload is no larger, so it lands in place.
	newRow := core.NewRow([]core.Value{core.NewInteger(2), core.NewText("renamed")}, 2)
	require.NoError(t, Apply(db, store, &Operation{Type: OpUpdate, TableName: "users", RowIndex: 1, Row: &newRow}))
	rows := heap.GetAllRows()
	assert.Equal(t, "renamed", rows[1].Values[1].Str)

	require.NoError(t, Apply(db, store, &Operation{Type: OpDelete, TableName: "users", RowIndex: 0}))
	assert.Equal(t, 2, heap.RowCount())

	col := core.Column{Name: "age", Type: core.IntegerType(), Nullable: true}
	require.NoError(t, Apply(db, store, &Operation{Type: OpAlterAddColumn, TableName: "users", Column: &col}))
	assert.Len(t, db.Tables["users"].Columns, 3)
	for _, row := range heap.GetAllRows() {
		require.Len(t, row.Values, 3)
		assert.True(t, row.Values[2].IsNull())
	}

	require.NoError(t, Apply(db, store, &Operation{Type: OpAlterRenameTable, TableName: "users", NewName: "people"}))
	assert.Contains(t, db.Tables, "people")
	assert.NotContains(t, db.Tables, "users")
	assert.True(t, store.HasTable("people"))
}
