package index

import (
	"bytes"

	"github.com/google/btree"
)

// btreeItem is one key with its posting list.
type btreeItem struct {
	key       []byte
	positions []int
}

// Less orders items by their encoded key bytes. The key codec is
// order-preserving, so byte order equals value order.
func (a *btreeItem) Less(b btree.Item) bool {
	return bytes.Compare(a.key, b.(*btreeItem).key) < 0
}

// btreeIndex is the ordered variant: supports equality, range, and prefix
// lookups over encoded keys.
type btreeIndex struct {
	tree     *btree.BTree
	entryCnt int
}

const btreeDegree = 32

func newBTreeIndex() *btreeIndex {
	return &btreeIndex{tree: btree.New(btreeDegree)}
}

func (bi *btreeIndex) insert(key []byte, pos int) {
	probe := &btreeItem{key: key}
	if it := bi.tree.Get(probe); it != nil {
		item := it.(*btreeItem)
		item.positions = append(item.positions, pos)
	} else {
		bi.tree.ReplaceOrInsert(&btreeItem{
			key:       append([]byte(nil), key...),
			positions: []int{pos},
		})
	}
	bi.entryCnt++
}

func (bi *btreeIndex) delete(key []byte, pos int) {
	probe := &btreeItem{key: key}
	it := bi.tree.Get(probe)
	if it == nil {
		return
	}
	item := it.(*btreeItem)
	before := len(item.positions)
	item.positions = removePos(item.positions, pos)
	if len(item.positions) < before {
		bi.entryCnt--
	}
	if len(item.positions) == 0 {
		bi.tree.Delete(probe)
	}
}

func (bi *btreeIndex) search(key []byte) []int {
	if it := bi.tree.Get(&btreeItem{key: key}); it != nil {
		return append([]int(nil), it.(*btreeItem).positions...)
	}
	return nil
}

func (bi *btreeIndex) contains(key []byte) bool {
	return bi.tree.Get(&btreeItem{key: key}) != nil
}

func (bi *btreeIndex) searchPrefix(prefix []byte) []int {
	var out []int
	pivot := &btreeItem{key: prefix}
	bi.tree.AscendGreaterOrEqual(pivot, func(it btree.Item) bool {
		item := it.(*btreeItem)
		if !bytes.HasPrefix(item.key, prefix) {
			return false
		}
		out = append(out, item.positions...)
		return true
	})
	return out
}

func (bi *btreeIndex) searchRange(min, max []byte, includeMin, includeMax bool) []int {
	var out []int
	visit := func(it btree.Item) bool {
		item := it.(*btreeItem)
		if min != nil {
			c := bytes.Compare(item.key, min)
			if c < 0 || (c == 0 && !includeMin) {
				return true
			}
		}
		if max != nil {
			c := bytes.Compare(item.key, max)
			if c > 0 || (c == 0 && !includeMax) {
				return c <= 0
			}
		}
		out = append(out, item.positions...)
		return true
	}
	if min != nil {
		bi.tree.AscendGreaterOrEqual(&btreeItem{key: min}, visit)
	} else {
		bi.tree.Ascend(visit)
	}
	return out
}

func (bi *btreeIndex) keyCount() int { return bi.tree.Len() }

func (bi *btreeIndex) entryCount() int { return bi.entryCnt }

func (bi *btreeIndex) entries(fn func(key []byte, positions []int)) {
	bi.tree.Ascend(func(it btree.Item) bool {
		item := it.(*btreeItem)
		fn(item.key, item.positions)
		return true
	})
}
