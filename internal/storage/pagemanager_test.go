package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageManagerCreateAndRead(t *testing.T) {
	pm, err := NewPageManager(t.TempDir(), 100)
	require.NoError(t, err)

	id, err := pm.CreatePage(1, 0)
	require.NoError(t, err)

	p, err := pm.GetPage(id)
	require.NoError(t, err)
	assert.Equal(t, id, p.Header.PageID)
}

func TestPageManagerWriteThenReload(t *testing.T) {
	dir := t.TempDir()
	pm, err := NewPageManager(dir, 100)
	require.NoError(t, err)

	id, err := pm.CreatePage(1, 0)
	require.NoError(t, err)
	require.NoError(t, pm.WithPageMut(id, func(p *Page) error {
		_, err := p.InsertRow(core.NewRow([]core.Value{core.NewText("persistent")}, 1))
		return err
	}))
	require.NoError(t, pm.FlushPage(id))

	// A fresh manager reads the bytes from disk.
	pm2, err := NewPageManager(dir, 100)
	require.NoError(t, err)
	p, err := pm2.GetPage(id)
	require.NoError(t, err)
	rows := p.GetAllRows()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Values[0].Equal(core.NewText("persistent")))
}

func TestPageManagerCheckpoint(t *testing.T) {
	dir := t.TempDir()
	pm, err := NewPageManager(dir, 100)
	require.NoError(t, err)

	for i := uint32(0); i < 3; i++ {
		id, err := pm.CreatePage(1, i)
		require.NoError(t, err)
		require.NoError(t, pm.WithPageMut(id, func(p *Page) error {
			_, err := p.InsertRow(core.NewRow([]core.Value{core.NewInteger(int64(i))}, 1))
			return err
		}))
	}

	flushed, err := pm.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)
	assert.Equal(t, 3, pm.PageCount(1))

	// Dirty set cleared: a second checkpoint has nothing to write.
	flushed, err = pm.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, 0, flushed)
}

func TestPageManagerEvictionFlushesDirtyVictim(t *testing.T) {
	dir := t.TempDir()
	pm, err := NewPageManager(dir, 1)
	require.NoError(t, err)

	id0, err := pm.CreatePage(1, 0)
	require.NoError(t, err)
	require.NoError(t, pm.WithPageMut(id0, func(p *Page) error {
		_, err := p.InsertRow(core.NewRow([]core.Value{core.NewText("dirty victim")}, 1))
		return err
	}))

	// Loading a second page evicts the first, which must hit disk first.
	_, err = pm.CreatePage(1, 1)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "table_1", "page_00000000.dat"))
	require.NoError(t, err)
	p, err := FromBytes(raw)
	require.NoError(t, err)
	rows := p.GetAllRows()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Values[0].Equal(core.NewText("dirty victim")))
}

func TestPageManagerDeleteTablePages(t *testing.T) {
	pm, err := NewPageManager(t.TempDir(), 100)
	require.NoError(t, err)
	for i := uint32(0); i < 3; i++ {
		_, err := pm.CreatePage(1, i)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pm.PageCount(1))
	require.NoError(t, pm.DeleteTablePages(1))
	assert.Equal(t, 0, pm.PageCount(1))
}

func TestDatabaseStorageNamespaces(t *testing.T) {
	ds, err := NewDatabaseStorage(t.TempDir(), 50)
	require.NoError(t, err)

	a := ds.ForDatabase("dba")
	b := ds.ForDatabase("dbb")
	require.NoError(t, a.CreateTable("t"))
	require.NoError(t, b.CreateTable("t"))

	ha, err := a.Heap("t")
	require.NoError(t, err)
	require.NoError(t, ha.Insert(core.NewRow([]core.Value{core.NewInteger(1)}, 1)))

	hb, err := b.Heap("t")
	require.NoError(t, err)
	assert.Equal(t, 0, hb.RowCount())
	assert.Equal(t, []string{"t"}, a.ListTables())
}

func TestDatabaseStorageReattachesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ds, err := NewDatabaseStorage(dir, 50)
	require.NoError(t, err)
	store := ds.ForDatabase("db")
	require.NoError(t, store.CreateTable("t"))
	heap, err := store.Heap("t")
	require.NoError(t, err)
	require.NoError(t, heap.Insert(core.NewRow([]core.Value{core.NewInteger(7)}, 1)))
	_, err = ds.Checkpoint()
	require.NoError(t, err)

	ds2, err := NewDatabaseStorage(dir, 50)
	require.NoError(t, err)
	store2 := ds2.ForDatabase("db")
	require.True(t, store2.HasTable("t"))
	heap2, err := store2.Heap("t")
	require.NoError(t, err)
	assert.Equal(t, 1, heap2.RowCount())
}
