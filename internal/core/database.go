package core

import (
	"fmt"

	"github.com/minipg/minipg/internal/index"
)

// TableMetadata carries per-table ownership and access rights. The owner
// implicitly holds All.
type TableMetadata struct {
	TableName  string
	Owner      string
	Privileges map[string]PrivilegeSet
}

// NewTableMetadata builds metadata granting All to the owner.
func NewTableMetadata(table, owner string) *TableMetadata {
	m := &TableMetadata{
		TableName:  table,
		Owner:      owner,
		Privileges: map[string]PrivilegeSet{owner: {}},
	}
	m.Privileges[owner].Add(PrivAll)
	return m
}

// Grant adds a privilege for grantee.
func (m *TableMetadata) Grant(grantee string, p Privilege) {
	if m.Privileges[grantee] == nil {
		m.Privileges[grantee] = PrivilegeSet{}
	}
	m.Privileges[grantee].Add(p)
}

// Revoke removes a privilege from grantee, dropping the entry when empty.
func (m *TableMetadata) Revoke(grantee string, p Privilege) {
	if set, ok := m.Privileges[grantee]; ok {
		set.Remove(p)
		if len(set) == 0 {
			delete(m.Privileges, grantee)
		}
	}
}

// HasPrivilege reports whether grantee holds p directly (role expansion
// happens at the server-instance level).
func (m *TableMetadata) HasPrivilege(grantee string, p Privilege) bool {
	if set, ok := m.Privileges[grantee]; ok {
		return set.Has(p)
	}
	return false
}

// IsOwner reports whether username owns the table.
func (m *TableMetadata) IsOwner(username string) bool { return m.Owner == username }

// DatabaseMetadata mirrors TableMetadata at the database level.
type DatabaseMetadata struct {
	Name       string
	Owner      string
	Privileges map[string]PrivilegeSet
}

// NewDatabaseMetadata builds metadata granting All to the owner.
func NewDatabaseMetadata(name, owner string) *DatabaseMetadata {
	m := &DatabaseMetadata{
		Name:       name,
		Owner:      owner,
		Privileges: map[string]PrivilegeSet{owner: {}},
	}
	m.Privileges[owner].Add(PrivAll)
	return m
}

// Grant adds a privilege for username.
func (m *DatabaseMetadata) Grant(username string, p Privilege) {
	if m.Privileges[username] == nil {
		m.Privileges[username] = PrivilegeSet{}
	}
	m.Privileges[username].Add(p)
}

// Revoke removes a privilege from username.
func (m *DatabaseMetadata) Revoke(username string, p Privilege) {
	if set, ok := m.Privileges[username]; ok {
		set.Remove(p)
	}
}

// HasPrivilege reports whether username holds p.
func (m *DatabaseMetadata) HasPrivilege(username string, p Privilege) bool {
	if set, ok := m.Privileges[username]; ok {
		return set.Has(p)
	}
	return false
}

// IndexDef is the serialized shape of an index: enough to rebuild the
// structure from the heap after a snapshot load.
type IndexDef struct {
	Name        string
	TableName   string
	ColumnNames []string
	Unique      bool
	Hash        bool
}

// Database is one database's catalog: table schemas, enum types, views, and
// per-table metadata. Row payloads live in the paged heap. Index structures
// are kept unexported so snapshots skip them; their definitions persist in
// IndexDefs and the structures are rebuilt from the heap after load.
type Database struct {
	Name          string
	Tables        map[string]*Table
	Enums         map[string][]string
	Views         map[string]string
	TableMetadata map[string]*TableMetadata
	IndexDefs     map[string]IndexDef

	indexes map[string]*index.Index
}

// NewDatabase builds an empty database.
func NewDatabase(name string) *Database {
	return &Database{
		Name:          name,
		Tables:        make(map[string]*Table),
		Enums:         make(map[string][]string),
		Views:         make(map[string]string),
		TableMetadata: make(map[string]*TableMetadata),
		IndexDefs:     make(map[string]IndexDef),
		indexes:       make(map[string]*index.Index),
	}
}

// EnsureIndexMap re-creates the unexported index registry after a gob load.
func (db *Database) EnsureIndexMap() {
	if db.indexes == nil {
		db.indexes = make(map[string]*index.Index)
	}
	if db.IndexDefs == nil {
		db.IndexDefs = make(map[string]IndexDef)
	}
}

// CreateEnum registers an enum type.
func (db *Database) CreateEnum(name string, labels []string) error {
	if _, ok := db.Enums[name]; ok {
		return ParseError(fmt.Sprintf("type %q already exists", name))
	}
	db.Enums[name] = labels
	return nil
}

// CreateTable registers a table schema plus its metadata.
func (db *Database) CreateTable(t *Table) error {
	if _, ok := db.Tables[t.Name]; ok {
		return TableAlreadyExists(t.Name)
	}
	db.Tables[t.Name] = t
	db.TableMetadata[t.Name] = NewTableMetadata(t.Name, t.Owner)
	return nil
}

// Table returns the named table schema, or an error.
func (db *Database) Table(name string) (*Table, error) {
	if t, ok := db.Tables[name]; ok {
		return t, nil
	}
	return nil, TableNotFound(name)
}

// DropTable removes a table schema, its metadata, and its indexes.
func (db *Database) DropTable(name string) error {
	if _, ok := db.Tables[name]; !ok {
		return TableNotFound(name)
	}
	delete(db.Tables, name)
	delete(db.TableMetadata, name)
	for idxName, ix := range db.indexes {
		if ix.TableName == name {
			delete(db.indexes, idxName)
		}
	}
	for idxName, def := range db.IndexDefs {
		if def.TableName == name {
			delete(db.IndexDefs, idxName)
		}
	}
	return nil
}

// Index returns the named index, or nil.
func (db *Database) Index(name string) *index.Index {
	db.EnsureIndexMap()
	return db.indexes[name]
}

// SetIndex registers an index under its name, recording its definition for
// snapshot persistence.
func (db *Database) SetIndex(ix *index.Index) error {
	db.EnsureIndexMap()
	if _, ok := db.indexes[ix.Name]; ok {
		return IndexAlreadyExists(ix.Name)
	}
	db.indexes[ix.Name] = ix
	db.IndexDefs[ix.Name] = IndexDef{
		Name:        ix.Name,
		TableName:   ix.TableName,
		ColumnNames: append([]string(nil), ix.ColumnNames...),
		Unique:      ix.Unique,
		Hash:        ix.Kind() == index.KindHash,
	}
	return nil
}

// DropIndex removes an index by name.
func (db *Database) DropIndex(name string) error {
	db.EnsureIndexMap()
	if _, ok := db.indexes[name]; !ok {
		return IndexNotFound(name)
	}
	delete(db.indexes, name)
	delete(db.IndexDefs, name)
	return nil
}

// IndexesOn returns every index over the named table.
func (db *Database) IndexesOn(table string) []*index.Index {
	db.EnsureIndexMap()
	var out []*index.Index
	for _, ix := range db.indexes {
		if ix.TableName == table {
			out = append(out, ix)
		}
	}
	return out
}

// Indexes walks every registered index.
func (db *Database) Indexes(fn func(*index.Index)) {
	db.EnsureIndexMap()
	for _, ix := range db.indexes {
		fn(ix)
	}
}

// IndexCount returns the number of registered indexes.
func (db *Database) IndexCount() int {
	db.EnsureIndexMap()
	return len(db.indexes)
}

// Clone deep-copies the catalog, sharing nothing with the original. Indexes
// are NOT cloned; the caller rebuilds them (the clone is used for rollback
// images, after which indexes are repopulated from the restored heap).
func (db *Database) Clone() *Database {
	out := NewDatabase(db.Name)
	for name, t := range db.Tables {
		out.Tables[name] = t.Clone()
	}
	for name, labels := range db.Enums {
		out.Enums[name] = append([]string(nil), labels...)
	}
	for name, sql := range db.Views {
		out.Views[name] = sql
	}
	for name, def := range db.IndexDefs {
		def.ColumnNames = append([]string(nil), def.ColumnNames...)
		out.IndexDefs[name] = def
	}
	for name, meta := range db.TableMetadata {
		m := &TableMetadata{
			TableName:  meta.TableName,
			Owner:      meta.Owner,
			Privileges: make(map[string]PrivilegeSet, len(meta.Privileges)),
		}
		for grantee, set := range meta.Privileges {
			cp := PrivilegeSet{}
			for p := range set {
				cp.Add(p)
			}
			m.Privileges[grantee] = cp
		}
		out.TableMetadata[name] = m
	}
	return out
}
