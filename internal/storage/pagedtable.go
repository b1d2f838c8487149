package storage

import (
	"github.com/minipg/minipg/internal/core"
)

// PagedTable is the per-table row store: a sequence of pages holding every
// row version of one table. Positions handed to callers (and recorded in
// indexes) are enumeration indexes over pages in order and used slots in
// slot order; they stay stable until VACUUM reclaims slots.
type PagedTable struct {
	TableID uint32

	pm        *PageManager
	pageCount uint32
	rowCount  int // all versions, not just visible rows
}

// NewPagedTable attaches a heap for tableID, recovering the page count (and
// stored version count) from disk so reopened tables keep their data.
func NewPagedTable(tableID uint32, pm *PageManager) *PagedTable {
	pt := &PagedTable{TableID: tableID, pm: pm}
	pt.pageCount = uint32(pm.PageCount(tableID))
	if pt.pageCount > 0 {
		pt.rowCount = len(pt.GetAllRows())
	}
	return pt
}

// PageCount returns the number of allocated pages.
func (pt *PagedTable) PageCount() uint32 { return pt.pageCount }

// RowCount returns the cached count of stored versions.
func (pt *PagedTable) RowCount() int { return pt.rowCount }

// Insert places the row version into the first page that fits, allocating a
// new page when none does.
func (pt *PagedTable) Insert(row core.Row) error {
	payload := core.MarshalRow(row)

	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		id := NewPageID(pt.TableID, pageNum)
		inserted := false
		err := pt.pm.WithPageMut(id, func(p *Page) error {
			if !p.CanFit(len(payload)) {
				return nil
			}
			if _, err := p.InsertRow(row); err != nil {
				return err
			}
			inserted = true
			return nil
		})
		if err != nil {
			return err
		}
		if inserted {
			pt.rowCount++
			return nil
		}
	}

	id, err := pt.pm.CreatePage(pt.TableID, pt.pageCount)
	if err != nil {
		return err
	}
	if err := pt.pm.WithPageMut(id, func(p *Page) error {
		_, err := p.InsertRow(row)
		return err
	}); err != nil {
		return err
	}
	pt.pageCount++
	pt.rowCount++
	return nil
}

// GetAllRows returns every stored version, alive and MVCC-dead alike;
// visibility filtering is the executor's job.
func (pt *PagedTable) GetAllRows() []core.Row {
	var rows []core.Row
	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		_ = pt.pm.WithPage(NewPageID(pt.TableID, pageNum), func(p *Page) error {
			rows = append(rows, p.GetAllRows()...)
			return nil
		})
	}
	return rows
}

// Scan walks every stored version with its heap position. Returning false
// from fn stops the scan.
func (pt *PagedTable) Scan(fn func(pos int, row core.Row) bool) error {
	pos := 0
	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		stop := false
		err := pt.pm.WithPage(NewPageID(pt.TableID, pageNum), func(p *Page) error {
			for slotIdx := range p.Slots {
				if !p.Slots[slotIdx].Used {
					continue
				}
				row, err := p.GetRow(slotIdx)
				if err != nil {
					return err
				}
				if !fn(pos, row) {
					stop = true
					return nil
				}
				pos++
			}
			return nil
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// DeleteWhere marks every matching version with xmax = tx. Nothing is
// physically removed. Returns the number of versions marked.
func (pt *PagedTable) DeleteWhere(predicate func(*core.Row) bool, tx uint64) (int, error) {
	deleted := 0
	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		err := pt.pm.WithPageMut(NewPageID(pt.TableID, pageNum), func(p *Page) error {
			for slotIdx := range p.Slots {
				if !p.Slots[slotIdx].Used {
					continue
				}
				row, err := p.GetRow(slotIdx)
				if err != nil {
					continue
				}
				if !predicate(&row) {
					continue
				}
				row.MarkDeleted(tx)
				// Same payload size (xmax lives in the fixed prefix), so the
				// in-place rewrite always fits.
				if _, err := p.UpdateRow(slotIdx, row); err != nil {
					return err
				}
				deleted++
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// UpdateWhere performs the MVCC rewrite: pass one marks each matching
// version with xmax = tx and collects a replacement built by updater (with
// xmin = tx); pass two inserts the replacements.
func (pt *PagedTable) UpdateWhere(predicate func(*core.Row) bool, updater func(*core.Row) core.Row, tx uint64) (int, error) {
	var newRows []core.Row
	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		err := pt.pm.WithPageMut(NewPageID(pt.TableID, pageNum), func(p *Page) error {
			for slotIdx := range p.Slots {
				if !p.Slots[slotIdx].Used {
					continue
				}
				row, err := p.GetRow(slotIdx)
				if err != nil {
					continue
				}
				if !predicate(&row) {
					continue
				}
				newRow := updater(&row)
				newRow.Xmin = tx
				newRow.Xmax = core.InvalidTxID

				row.MarkDeleted(tx)
				if _, err := p.UpdateRow(slotIdx, row); err != nil {
					return err
				}
				newRows = append(newRows, newRow)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	for _, row := range newRows {
		if err := pt.Insert(row); err != nil {
			return 0, err
		}
	}
	return len(newRows), nil
}

// Vacuum frees every slot whose version is dead at the given horizon: the
// slot is marked unused and the version no longer reads back. The page is
// not compacted, so its free space does not grow. Returns the number of
// versions removed.
func (pt *PagedTable) Vacuum(oldestTx uint64) (int, error) {
	removed := 0
	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		err := pt.pm.WithPageMut(NewPageID(pt.TableID, pageNum), func(p *Page) error {
			for slotIdx := range p.Slots {
				if !p.Slots[slotIdx].Used {
					continue
				}
				row, err := p.GetRow(slotIdx)
				if err != nil {
					continue
				}
				if row.IsDead(oldestTx) {
					if err := p.DeleteRow(slotIdx); err != nil {
						return err
					}
					removed++
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}
	pt.rowCount -= removed
	return removed, nil
}

// ReplaceAt overwrites the version at heap position pos. When the new
// payload does not fit in place, the old slot is freed and the version
// re-inserted. Used by WAL replay.
func (pt *PagedTable) ReplaceAt(pos int, row core.Row) error {
	found := false
	var err2 error
	err := pt.withSlotAt(pos, func(p *Page, slotIdx int) {
		found = true
		fit, err := p.UpdateRow(slotIdx, row)
		if err != nil {
			err2 = err
			return
		}
		if !fit {
			err2 = p.DeleteRow(slotIdx)
		}
	})
	if err != nil {
		return err
	}
	if err2 != nil {
		return err2
	}
	if !found {
		return core.ErrSlotNotFound
	}
	// Re-insert when the in-place rewrite did not fit (slot now unused).
	exists := false
	_ = pt.Scan(func(i int, r core.Row) bool {
		if i == pos {
			exists = true
			return false
		}
		return true
	})
	if !exists {
		pt.rowCount--
		return pt.Insert(row)
	}
	return nil
}

// DeleteAt frees the slot at heap position pos. Used by WAL replay.
func (pt *PagedTable) DeleteAt(pos int) error {
	found := false
	var err2 error
	err := pt.withSlotAt(pos, func(p *Page, slotIdx int) {
		found = true
		err2 = p.DeleteRow(slotIdx)
	})
	if err != nil {
		return err
	}
	if err2 != nil {
		return err2
	}
	if !found {
		return core.ErrSlotNotFound
	}
	pt.rowCount--
	return nil
}

// withSlotAt locates the used slot at enumeration position pos and runs fn
// on it under the page mutation lock.
func (pt *PagedTable) withSlotAt(pos int, fn func(p *Page, slotIdx int)) error {
	cur := 0
	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		done := false
		err := pt.pm.WithPageMut(NewPageID(pt.TableID, pageNum), func(p *Page) error {
			for slotIdx := range p.Slots {
				if !p.Slots[slotIdx].Used {
					continue
				}
				if cur == pos {
					fn(p, slotIdx)
					done = true
					return nil
				}
				cur++
			}
			return nil
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// AbortTransaction physically undoes tx's writes: versions it created are
// removed, and xmax marks it placed on older versions are cleared.
func (pt *PagedTable) AbortTransaction(tx uint64) (int, error) {
	undone := 0
	for pageNum := uint32(0); pageNum < pt.pageCount; pageNum++ {
		err := pt.pm.WithPageMut(NewPageID(pt.TableID, pageNum), func(p *Page) error {
			for slotIdx := range p.Slots {
				if !p.Slots[slotIdx].Used {
					continue
				}
				row, err := p.GetRow(slotIdx)
				if err != nil {
					continue
				}
				switch {
				case row.Xmin == tx:
					if err := p.DeleteRow(slotIdx); err != nil {
						return err
					}
					undone++
				case row.Xmax == tx:
					row.Xmax = 0
					if _, err := p.UpdateRow(slotIdx, row); err != nil {
						return err
					}
					undone++
				}
			}
			return nil
		})
		if err != nil {
			return undone, err
		}
	}
	pt.rowCount = len(pt.GetAllRows())
	return undone, nil
}

// Truncate drops every page of the table, resetting it to empty. The table
// id (and so the directory name) is kept.
func (pt *PagedTable) Truncate() error {
	if err := pt.pm.DeleteTablePages(pt.TableID); err != nil {
		return err
	}
	pt.pageCount = 0
	pt.rowCount = 0
	return nil
}

// Flush delegates a checkpoint to the page manager.
func (pt *PagedTable) Flush() error {
	_, err := pt.pm.Checkpoint()
	return err
}
