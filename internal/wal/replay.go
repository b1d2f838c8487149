package wal

import (
	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/storage"
)

// Apply replays one operation against the database catalog and its heaps,
// mirroring normal execution. Replay is idempotence-friendly: CreateTable
// is skipped when the table already exists, DropTable and row operations on
// missing targets are ignored.
func Apply(db *core.Database, store *storage.DBStore, op *Operation) error {
	switch op.Type {
	case OpCreateTable:
		if _, ok := db.Tables[op.TableName]; ok {
			return nil
		}
		if op.Table == nil {
			return nil
		}
		if err := db.CreateTable(op.Table.Clone()); err != nil {
			return err
		}
		if !store.HasTable(op.TableName) {
			return store.CreateTable(op.TableName)
		}
		return nil

	case OpDropTable:
		if _, ok := db.Tables[op.TableName]; !ok {
			return nil
		}
		if err := db.DropTable(op.TableName); err != nil {
			return err
		}
		if store.HasTable(op.TableName) {
			return store.DropTable(op.TableName)
		}
		return nil

	case OpInsert:
		if op.Row == nil {
			return nil
		}
		heap, err := store.Heap(op.TableName)
		if err != nil {
			return nil
		}
		return heap.Insert(*op.Row)

	case OpUpdate:
		if op.Row == nil {
			return nil
		}
		heap, err := store.Heap(op.TableName)
		if err != nil {
			return nil
		}
		if op.RowIndex >= heap.RowCount() {
			return nil
		}
		return heap.ReplaceAt(op.RowIndex, *op.Row)

	case OpDelete:
		heap, err := store.Heap(op.TableName)
		if err != nil {
			return nil
		}
		if op.RowIndex >= heap.RowCount() {
			return nil
		}
		return heap.DeleteAt(op.RowIndex)

	case OpCheckpoint:
		// Marker only; the snapshot it refers to was already loaded.
		return nil

	case OpAlterAddColumn:
		table, ok := db.Tables[op.TableName]
		if !ok || op.Column == nil {
			return nil
		}
		table.Columns = append(table.Columns, *op.Column)
		return rewriteRows(store, op.TableName, func(values []core.Value) []core.Value {
			return append(values, core.Null())
		})

	case OpAlterDropColumn:
		table, ok := db.Tables[op.TableName]
		if !ok {
			return nil
		}
		idx := table.ColumnIndex(op.ColumnName)
		if idx < 0 {
			return nil
		}
		table.Columns = append(table.Columns[:idx], table.Columns[idx+1:]...)
		return rewriteRows(store, op.TableName, func(values []core.Value) []core.Value {
			if idx >= len(values) {
				return values
			}
			return append(values[:idx], values[idx+1:]...)
		})

	case OpAlterRenameColumn:
		table, ok := db.Tables[op.TableName]
		if !ok {
			return nil
		}
		if idx := table.ColumnIndex(op.ColumnName); idx >= 0 {
			table.Columns[idx].Name = op.NewName
		}
		return nil

	case OpAlterRenameTable:
		table, ok := db.Tables[op.TableName]
		if !ok {
			return nil
		}
		delete(db.Tables, op.TableName)
		table.Name = op.NewName
		db.Tables[op.NewName] = table
		if meta, ok := db.TableMetadata[op.TableName]; ok {
			delete(db.TableMetadata, op.TableName)
			meta.TableName = op.NewName
			db.TableMetadata[op.NewName] = meta
		}
		if store.HasTable(op.TableName) {
			return store.RenameTable(op.TableName, op.NewName)
		}
		return nil
	}
	return nil
}

// rewriteRows reads every stored version, transforms its values, and
// rebuilds the heap in the same order.
func rewriteRows(store *storage.DBStore, tableName string, transform func([]core.Value) []core.Value) error {
	heap, err := store.Heap(tableName)
	if err != nil {
		return nil
	}
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
