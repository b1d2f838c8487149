// Package index provides the in-memory secondary indexes kept alongside the
// paged heap: an ordered B-tree variant and an equality-only hash variant.
//
// What: Maps from an encoded key to the list of heap row positions holding
// that key, with optional UNIQUE enforcement.
// How: Keys arrive already encoded as order-preserving byte strings (see the
// key codec in internal/core), so the B-tree needs nothing but bytes.Compare
// and the hash index a plain map. Posting lists are small int slices.
// Why: Indexes are rebuilt from the heap after load, so they can stay purely
// in memory and purely by-value; nothing here touches disk.
package index

import (
	"errors"
	"fmt"
)

// ErrUniqueKey is returned when a UNIQUE index already holds the key.
var ErrUniqueKey = errors.New("duplicate key violates unique index")

// Kind selects the index structure.
type Kind uint8

const (
	KindBTree Kind = iota
	KindHash
)

// String renders the kind as pg_catalog shows it.
func (k Kind) String() string {
	if k == KindHash {
		return "hash"
	}
	return "btree"
}

// Index is the wrapper the catalog stores: one of the two variants plus the
// shared metadata.
type Index struct {
	Name        string
	TableName   string
	ColumnNames []string
	Unique      bool

	kind  Kind
	btree *btreeIndex
	hash  *hashIndex
}

// New builds an empty index of the given kind.
func New(kind Kind, name, table string, columns []string, unique bool) *Index {
	idx := &Index{
		Name:        name,
		TableName:   table,
		ColumnNames: columns,
		Unique:      unique,
		kind:        kind,
	}
	switch kind {
	case KindHash:
		idx.hash = newHashIndex()
	default:
		idx.btree = newBTreeIndex()
	}
	return idx
}

// Kind returns the index variant.
func (ix *Index) Kind() Kind { return ix.kind }

// IsComposite reports whether the key spans more than one column.
func (ix *Index) IsComposite() bool { return len(ix.ColumnNames) > 1 }

// Insert adds pos to the posting list of key. On a UNIQUE index a key that
// already has an entry is rejected.
func (ix *Index) Insert(key []byte, pos int) error {
	if ix.Unique && ix.Contains(key) {
		return fmt.Errorf("%w %q", ErrUniqueKey, ix.Name)
	}
	if ix.kind == KindHash {
		ix.hash.insert(key, pos)
	} else {
		ix.btree.insert(key, pos)
	}
	return nil
}

// Delete removes pos from the posting list of key, dropping the key when the
// list empties. Deleting an absent entry is a no-op.
func (ix *Index) Delete(key []byte, pos int) {
	if ix.kind == KindHash {
		ix.hash.delete(key, pos)
	} else {
		ix.btree.delete(key, pos)
	}
}

// Search returns the posting list for an exact key (empty if absent).
func (ix *Index) Search(key []byte) []int {
	if ix.kind == KindHash {
		return ix.hash.search(key)
	}
	return ix.btree.search(key)
}

// SearchPrefix returns the union of posting lists over every key that starts
// with prefix. Only the B-tree variant supports it.
func (ix *Index) SearchPrefix(prefix []byte) ([]int, error) {
	if ix.kind == KindHash {
		return nil, fmt.Errorf("hash index %q does not support prefix search", ix.Name)
	}
	return ix.btree.searchPrefix(prefix), nil
}

// SearchRange returns posting lists over keys in [min, max]. A nil bound is
// unbounded on that side; includeMin/includeMax control open vs closed ends.
// Only the B-tree variant supports it.
func (ix *Index) SearchRange(min, max []byte, includeMin, includeMax bool) ([]int, error) {
	if ix.kind == KindHash {
		return nil, fmt.Errorf("hash index %q does not support range search", ix.Name)
	}
	return ix.btree.searchRange(min, max, includeMin, includeMax), nil
}

// Contains reports whether key has at least one entry.
func (ix *Index) Contains(key []byte) bool {
	if ix.kind == KindHash {
		return ix.hash.contains(key)
	}
	return ix.btree.contains(key)
}

// KeyCount returns the number of distinct keys.
func (ix *Index) KeyCount() int {
	if ix.kind == KindHash {
		return ix.hash.keyCount()
	}
	return ix.btree.keyCount()
}

// EntryCount returns the total number of (key, position) entries.
func (ix *Index) EntryCount() int {
	if ix.kind == KindHash {
		return ix.hash.entryCount()
	}
	return ix.btree.entryCount()
}

// Clear drops every entry, keeping the metadata. Used before a rebuild.
func (ix *Index) Clear() {
	if ix.kind == KindHash {
		ix.hash = newHashIndex()
	} else {
		ix.btree = newBTreeIndex()
	}
}

// Entries walks every (key, positions) pair in key order (B-tree) or map
// order (hash). The callback must not mutate the index.
func (ix *Index) Entries(fn func(key []byte, positions []int)) {
	if ix.kind == KindHash {
		ix.hash.entries(fn)
	} else {
		ix.btree.entries(fn)
	}
}

// removePos deletes one occurrence of pos from list, preserving order.
func removePos(list []int, pos int) []int {
	for i, p := range list {
		if p == pos {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
