package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolInsertAndGet(t *testing.T) {
	bp := NewBufferPool(10)
	p := NewPage(NewPageID(1, 0))
	bp.InsertPage(p)

	assert.Equal(t, 1, bp.Len())
	assert.NotNil(t, bp.GetPage(p.Header.PageID))
	assert.Nil(t, bp.GetPage(NewPageID(1, 99)))

	hits, misses, _, _ := bp.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestBufferPoolDirtyTracking(t *testing.T) {
	bp := NewBufferPool(10)
	p := NewPage(NewPageID(1, 0))
	bp.InsertPage(p)

	require.NotNil(t, bp.GetPageMut(p.Header.PageID))
	assert.Equal(t, 1, bp.DirtyCount())
	assert.Contains(t, bp.DirtyPages(), p.Header.PageID)

	bp.ClearDirty(p.Header.PageID)
	assert.Equal(t, 0, bp.DirtyCount())
}

func TestBufferPoolLRUEviction(t *testing.T) {
	bp := NewBufferPool(3)
	for i := uint32(0); i < 3; i++ {
		bp.InsertPage(NewPage(NewPageID(1, i)))
	}
	// Touch page 0 so page 1 becomes the LRU candidate.
	require.NotNil(t, bp.GetPage(NewPageID(1, 0)))

	victim := bp.InsertPage(NewPage(NewPageID(1, 3)))
	assert.Nil(t, victim) // clean candidate, dropped silently
	assert.Equal(t, 3, bp.Len())
	assert.NotNil(t, bp.GetPage(NewPageID(1, 0)))
	assert.Nil(t, bp.GetPage(NewPageID(1, 1)))
}

func TestBufferPoolEvictionReturnsDirtyVictim(t *testing.T) {
	bp := NewBufferPool(1)
	p0 := NewPage(NewPageID(1, 0))
	bp.InsertPage(p0)
	bp.MarkDirty(p0.Header.PageID)

	victim := bp.InsertPage(NewPage(NewPageID(1, 1)))
	require.NotNil(t, victim)
	assert.Equal(t, p0.Header.PageID, victim.Header.PageID)
	assert.Equal(t, 1, bp.Len())
}

func TestBufferPoolFlushAll(t *testing.T) {
	bp := NewBufferPool(10)
	for i := uint32(0); i < 3; i++ {
		p := NewPage(NewPageID(1, i))
		bp.InsertPage(p)
		bp.MarkDirty(p.Header.PageID)
	}
	flushed := bp.FlushAll()
	assert.Len(t, flushed, 3)
	// Clones: mutating a flushed copy must not touch the cached page.
	flushed[0].Header.SlotCount = 99
	cached := bp.GetPage(flushed[0].Header.PageID)
	assert.NotEqual(t, uint16(99), cached.Header.SlotCount)
}

func TestBufferPoolHitRate(t *testing.T) {
	bp := NewBufferPool(10)
	p := NewPage(NewPageID(1, 0))
	bp.InsertPage(p)

	for i := 0; i < 5; i++ {
		bp.GetPage(p.Header.PageID)
	}
	bp.GetPage(NewPageID(1, 998))
	bp.GetPage(NewPageID(1, 999))

	assert.InDelta(t, 5.0/7.0, bp.HitRate(), 0.01)
}
