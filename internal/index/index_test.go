package index_test

import (
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(v core.Value) []byte { return core.EncodeKeyValue(v) }

func TestBTreeInsertSearchDelete(t *testing.T) {
	ix := index.New(index.KindBTree, "idx", "t", []string{"id"}, false)

	require.NoError(t, ix.Insert(key(core.NewInteger(1)), 0))
	require.NoError(t, ix.Insert(key(core.NewInteger(1)), 3))
	require.NoError(t, ix.Insert(key(core.NewInteger(2)), 1))

	assert.ElementsMatch(t, []int{0, 3}, ix.Search(key(core.NewInteger(1))))
	assert.Empty(t, ix.Search(key(core.NewInteger(9))))
	assert.Equal(t, 2, ix.KeyCount())
	assert.Equal(t, 3, ix.EntryCount())

	ix.Delete(key(core.NewInteger(1)), 0)
	assert.Equal(t, []int{3}, ix.Search(key(core.NewInteger(1))))
	ix.Delete(key(core.NewInteger(1)), 3)
	assert.False(t, ix.Contains(key(core.NewInteger(1))))
	assert.Equal(t, 1, ix.KeyCount())
}

func TestBTreeRangeSearch(t *testing.T) {
	ix := index.New(index.KindBTree, "idx", "t", []string{"id"}, false)
	for i := 0; i < 10; i++ {
		require.NoError(t, ix.Insert(key(core.NewInteger(int64(i))), i))
	}

	// 3 < id < 7
	got, err := ix.SearchRange(key(core.NewInteger(3)), key(core.NewInteger(7)), false, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{4, 5, 6}, got)

	// id >= 8
	got, err = ix.SearchRange(key(core.NewInteger(8)), nil, true, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{8, 9}, got)

	// id <= 1
	got, err = ix.SearchRange(nil, key(core.NewInteger(1)), false, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1}, got)
}

func TestBTreeCompositeAndPrefix(t *testing.T) {
	ix := index.New(index.KindBTree, "idx", "t", []string{"city", "id"}, false)
	insert := func(city string, id int64, pos int) {
		require.NoError(t, ix.Insert(core.EncodeKey([]core.Value{
			core.NewText(city), core.NewInteger(id),
		}), pos))
	}
	insert("berlin", 1, 0)
	insert("berlin", 2, 1)
	insert("bern", 1, 2)
	insert("oslo", 1, 3)

	full := ix.Search(core.EncodeKey([]core.Value{core.NewText("berlin"), core.NewInteger(2)}))
	assert.Equal(t, []int{1}, full)

	prefix, err := ix.SearchPrefix(core.EncodeKey([]core.Value{core.NewText("berlin")}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1}, prefix)
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	for _, kind := range []index.Kind{index.KindBTree, index.KindHash} {
		ix := index.New(kind, "uq", "t", []string{"id"}, true)
		require.NoError(t, ix.Insert(key(core.NewInteger(7)), 0))
		err := ix.Insert(key(core.NewInteger(7)), 1)
		assert.ErrorIs(t, err, index.ErrUniqueKey, "kind %s", kind)
	}
}

func TestHashIndexEqualityOnly(t *testing.T) {
	ix := index.New(index.KindHash, "h", "t", []string{"name"}, false)
	require.NoError(t, ix.Insert(key(core.NewText("a")), 0))
	require.NoError(t, ix.Insert(key(core.NewText("b")), 1))

	assert.Equal(t, []int{0}, ix.Search(key(core.NewText("a"))))

	_, err := ix.SearchPrefix([]byte("x"))
	assert.Error(t, err)
	_, err = ix.SearchRange(nil, nil, false, false)
	assert.Error(t, err)
}

func TestIndexClear(t *testing.T) {
	ix := index.New(index.KindBTree, "idx", "t", []string{"id"}, false)
	require.NoError(t, ix.Insert(key(core.NewInteger(1)), 0))
	ix.Clear()
	assert.Equal(t, 0, ix.KeyCount())
	assert.Equal(t, 0, ix.EntryCount())
}
