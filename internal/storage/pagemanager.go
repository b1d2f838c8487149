package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PageManager translates page ids to files under
// <dataDir>/table_<id>/page_<number>.dat and mediates all page I/O through
// the buffer pool. One mutex guards the pool; it is never held across disk
// reads or writes.
type PageManager struct {
	dataDir string

	mu   sync.Mutex
	pool *BufferPool
}

// NewPageManager builds a manager rooted at dataDir with a pool of
// poolCapacity pages.
func NewPageManager(dataDir string, poolCapacity int) (*PageManager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &PageManager{dataDir: dataDir, pool: NewBufferPool(poolCapacity)}, nil
}

func (pm *PageManager) tableDir(tableID uint32) string {
	return filepath.Join(pm.dataDir, fmt.Sprintf("table_%d", tableID))
}

func (pm *PageManager) pagePath(id PageID) string {
	return filepath.Join(pm.tableDir(id.TableID), fmt.Sprintf("page_%08d.dat", id.PageNumber))
}

func (pm *PageManager) readPageFromDisk(id PageID) (*Page, error) {
	path := pm.pagePath(id)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPage(id), nil
		}
		return nil, fmt.Errorf("read page %s: %w", id, err)
	}
	return FromBytes(buf)
}

// writePageToDisk writes the full page image durably: temp file, sync,
// rename. A failed write leaves the old file bytes intact.
func (pm *PageManager) writePageToDisk(p *Page) error {
	dir := pm.tableDir(p.Header.PageID.TableID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	path := pm.pagePath(p.Header.PageID)
	tmp, err := os.CreateTemp(dir, "page_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp page file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(p.ToBytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write page %s: %w", p.Header.PageID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync page %s: %w", p.Header.PageID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close page %s: %w", p.Header.PageID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename page %s: %w", p.Header.PageID, err)
	}
	return nil
}

// ensureCached loads the page into the pool (reading from disk on a miss,
// creating an empty page if the file does not exist) and flushes any dirty
// eviction victim. pm.mu is released before it returns; callers lock pm.mu
// again before touching the page and never do I/O under it.
func (pm *PageManager) ensureCached(id PageID) (*Page, error) {
	pm.mu.Lock()
	if p := pm.pool.GetPage(id); p != nil {
		pm.mu.Unlock()
		return p, nil
	}
	pm.mu.Unlock()

	p, err := pm.readPageFromDisk(id)
	if err != nil {
		return nil, err
	}

	pm.mu.Lock()
	victim := pm.pool.InsertPage(p)
	pm.mu.Unlock()

	if victim != nil {
		if err := pm.writePageToDisk(victim); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// GetPage returns a clone of the page, loading it on a miss.
func (pm *PageManager) GetPage(id PageID) (*Page, error) {
	p, err := pm.ensureCached(id)
	if err != nil {
		return nil, err
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return p.Clone(), nil
}

// WithPage runs fn against the cached page read-only.
func (pm *PageManager) WithPage(id PageID, fn func(*Page) error) error {
	if _, err := pm.ensureCached(id); err != nil {
		return err
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p := pm.pool.GetPage(id)
	if p == nil {
		return fmt.Errorf("page %s fell out of the pool", id)
	}
	return fn(p)
}

// WithPageMut runs fn against the cached page and marks it dirty.
func (pm *PageManager) WithPageMut(id PageID, fn func(*Page) error) error {
	if _, err := pm.ensureCached(id); err != nil {
		return err
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p := pm.pool.GetPageMut(id)
	if p == nil {
		return fmt.Errorf("page %s fell out of the pool", id)
	}
	return fn(p)
}

// CreatePage writes a fresh empty page to disk and caches it.
func (pm *PageManager) CreatePage(tableID, pageNumber uint32) (PageID, error) {
	id := NewPageID(tableID, pageNumber)
	p := NewPage(id)
	if err := pm.writePageToDisk(p); err != nil {
		return id, err
	}
	pm.mu.Lock()
	victim := pm.pool.InsertPage(p)
	pm.mu.Unlock()
	if victim != nil {
		if err := pm.writePageToDisk(victim); err != nil {
			return id, err
		}
	}
	return id, nil
}

// FlushPage writes the current image to disk and clears the dirty flag.
func (pm *PageManager) FlushPage(id PageID) error {
	pm.mu.Lock()
	p := pm.pool.GetPage(id)
	var clone *Page
	if p != nil {
		clone = p.Clone()
		pm.pool.ClearDirty(id)
	}
	pm.mu.Unlock()
	if clone == nil {
		return nil
	}
	return pm.writePageToDisk(clone)
}

// Checkpoint atomically snapshots the dirty set, clears all dirty flags,
// and writes every dirty page. Returns the number written.
func (pm *PageManager) Checkpoint() (int, error) {
	pm.mu.Lock()
	dirty := pm.pool.FlushAll()
	pm.pool.ClearAllDirty()
	pm.mu.Unlock()

	for _, p := range dirty {
		if err := pm.writePageToDisk(p); err != nil {
			return 0, err
		}
	}
	return len(dirty), nil
}

// PageCount counts the .dat files under the table's directory.
func (pm *PageManager) PageCount(tableID uint32) int {
	entries, err := os.ReadDir(pm.tableDir(tableID))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".dat") {
			n++
		}
	}
	return n
}

// DeleteTablePages removes the table directory and drops its cached pages.
func (pm *PageManager) DeleteTablePages(tableID uint32) error {
	pm.mu.Lock()
	for _, id := range pm.cachedPagesOf(tableID) {
		pm.pool.RemovePage(id)
	}
	pm.mu.Unlock()

	dir := pm.tableDir(tableID)
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove table dir: %w", err)
		}
	}
	return nil
}

func (pm *PageManager) cachedPagesOf(tableID uint32) []PageID {
	var out []PageID
	for id := range pm.pool.pages {
		if id.TableID == tableID {
			out = append(out, id)
		}
	}
	return out
}

// Stats returns buffer pool counters.
func (pm *PageManager) Stats() (hits, misses uint64, size, dirtyCount int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.pool.Stats()
}

// HitRate returns the pool hit rate.
func (pm *PageManager) HitRate() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.pool.HitRate()
}
