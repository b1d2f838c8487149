package storage

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/minipg/minipg/internal/core"
)

// catalogFileName holds the table-name -> table-id map so heaps reattach to
// their page files across restarts.
const catalogFileName = "storage_catalog.db"

// storageCatalog is the gob-serialized facade state.
type storageCatalog struct {
	TableIDs    map[string]uint32
	NextTableID uint32
}

// DatabaseStorage is the single owner of the page cache for one data
// directory: it holds the page manager and every table's paged heap, and is
// used behind one exclusive lock by the executor.
type DatabaseStorage struct {
	mu sync.Mutex

	dataDir string
	pm      *PageManager

	tables      map[string]*PagedTable
	tableIDs    map[string]uint32
	nextTableID uint32
}

// NewDatabaseStorage opens (or creates) the storage rooted at dataDir.
// Existing heaps are reattached from the persisted catalog.
func NewDatabaseStorage(dataDir string, poolCapacity int) (*DatabaseStorage, error) {
	pm, err := NewPageManager(dataDir, poolCapacity)
	if err != nil {
		return nil, err
	}
	ds := &DatabaseStorage{
		dataDir:     dataDir,
		pm:          pm,
		tables:      make(map[string]*PagedTable),
		tableIDs:    make(map[string]uint32),
		nextTableID: 1,
	}
	if err := ds.loadCatalog(); err != nil {
		return nil, err
	}
	for name, id := range ds.tableIDs {
		ds.tables[name] = NewPagedTable(id, pm)
	}
	return ds, nil
}

func (ds *DatabaseStorage) catalogPath() string {
	return filepath.Join(ds.dataDir, catalogFileName)
}

func (ds *DatabaseStorage) loadCatalog() error {
	f, err := os.Open(ds.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open storage catalog: %w", err)
	}
	defer f.Close()

	var cat storageCatalog
	if err := gob.NewDecoder(f).Decode(&cat); err != nil {
		return fmt.Errorf("decode storage catalog: %w", err)
	}
	ds.tableIDs = cat.TableIDs
	if ds.tableIDs == nil {
		ds.tableIDs = make(map[string]uint32)
	}
	ds.nextTableID = cat.NextTableID
	if ds.nextTableID < 1 {
		ds.nextTableID = 1
	}
	return nil
}

func (ds *DatabaseStorage) saveCatalog() error {
	tmp, err := os.CreateTemp(ds.dataDir, "catalog_*.tmp")
	if err != nil {
		return fmt.Errorf("create catalog temp: %w", err)
	}
	tmpName := tmp.Name()
	cat := storageCatalog{TableIDs: ds.tableIDs, NextTableID: ds.nextTableID}
	if err := gob.NewEncoder(tmp).Encode(&cat); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode storage catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync storage catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, ds.catalogPath())
}

// CreateTable allocates a heap for a new table.
func (ds *DatabaseStorage) CreateTable(tableName string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.tables[tableName]; ok {
		return core.TableAlreadyExists(tableName)
	}
	id := ds.nextTableID
	ds.nextTableID++
	ds.tableIDs[tableName] = id
	ds.tables[tableName] = NewPagedTable(id, ds.pm)
	return ds.saveCatalog()
}

// EnsureTable attaches (or creates) a heap for tableName. Used by recovery
// when the snapshot knows a table the catalog file predates.
func (ds *DatabaseStorage) EnsureTable(tableName string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.tables[tableName]; ok {
		return nil
	}
	id := ds.nextTableID
	ds.nextTableID++
	ds.tableIDs[tableName] = id
	ds.tables[tableName] = NewPagedTable(id, ds.pm)
	return ds.saveCatalog()
}

// DropTable removes the heap and all its page files.
func (ds *DatabaseStorage) DropTable(tableName string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	pt, ok := ds.tables[tableName]
	if !ok {
		return core.TableNotFound(tableName)
	}
	delete(ds.tables, tableName)
	delete(ds.tableIDs, tableName)
	if err := ds.pm.DeleteTablePages(pt.TableID); err != nil {
		return err
	}
	return ds.saveCatalog()
}

// RenameTable moves a heap under a new name, keeping its table id.
func (ds *DatabaseStorage) RenameTable(oldName, newName string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	pt, ok := ds.tables[oldName]
	if !ok {
		return core.TableNotFound(oldName)
	}
	if _, ok := ds.tables[newName]; ok {
		return core.TableAlreadyExists(newName)
	}
	delete(ds.tables, oldName)
	ds.tables[newName] = pt
	id := ds.tableIDs[oldName]
	delete(ds.tableIDs, oldName)
	ds.tableIDs[newName] = id
	return ds.saveCatalog()
}

// Heap returns the paged heap for tableName.
func (ds *DatabaseStorage) Heap(tableName string) (*PagedTable, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if pt, ok := ds.tables[tableName]; ok {
		return pt, nil
	}
	return nil, core.TableNotFound(tableName)
}

// HasTable reports whether a heap exists for tableName.
func (ds *DatabaseStorage) HasTable(tableName string) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	_, ok := ds.tables[tableName]
	return ok
}

// TableID returns the heap id for tableName (0 if absent).
func (ds *DatabaseStorage) TableID(tableName string) uint32 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.tableIDs[tableName]
}

// ListTables returns the heap names in sorted order.
func (ds *DatabaseStorage) ListTables() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	names := make([]string, 0, len(ds.tables))
	for name := range ds.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Checkpoint flushes every dirty page and persists the catalog. Returns the
// number of pages written.
func (ds *DatabaseStorage) Checkpoint() (int, error) {
	ds.mu.Lock()
	if err := ds.saveCatalog(); err != nil {
		ds.mu.Unlock()
		return 0, err
	}
	ds.mu.Unlock()
	return ds.pm.Checkpoint()
}

// PageManager exposes the underlying manager (stats, tests).
func (ds *DatabaseStorage) PageManager() *PageManager { return ds.pm }

// DBStore scopes the facade to one database: heap names are prefixed with
// the database name so two databases can both hold a table "t".
type DBStore struct {
	ds     *DatabaseStorage
	prefix string
}

// ForDatabase returns the facade scoped to dbName.
func (ds *DatabaseStorage) ForDatabase(dbName string) *DBStore {
	return &DBStore{ds: ds, prefix: dbName + "/"}
}

// CreateTable allocates a heap for a table of this database.
func (s *DBStore) CreateTable(table string) error { return s.ds.CreateTable(s.prefix + table) }

// EnsureTable attaches or creates the heap.
func (s *DBStore) EnsureTable(table string) error { return s.ds.EnsureTable(s.prefix + table) }

// DropTable removes the heap and its pages.
func (s *DBStore) DropTable(table string) error { return s.ds.DropTable(s.prefix + table) }

// RenameTable moves the heap under a new name.
func (s *DBStore) RenameTable(oldName, newName string) error {
	return s.ds.RenameTable(s.prefix+oldName, s.prefix+newName)
}

// Heap returns the paged heap for a table of this database.
func (s *DBStore) Heap(table string) (*PagedTable, error) { return s.ds.Heap(s.prefix + table) }

// HasTable reports whether the heap exists.
func (s *DBStore) HasTable(table string) bool { return s.ds.HasTable(s.prefix + table) }

// TableID returns the heap id (0 if absent).
func (s *DBStore) TableID(table string) uint32 { return s.ds.TableID(s.prefix + table) }

// Checkpoint flushes every dirty page of the whole store.
func (s *DBStore) Checkpoint() (int, error) { return s.ds.Checkpoint() }

// ListTables returns this database's heap names.
func (s *DBStore) ListTables() []string {
	var out []string
	for _, name := range s.ds.ListTables() {
		if len(name) > len(s.prefix) && name[:len(s.prefix)] == s.prefix {
			out = append(out, name[len(s.prefix):])
		}
	}
	return out
}
