package storage

import (
	"container/list"
)

// BufferPool caches at most capacity pages in memory, evicting the least
// recently used page on overflow. Dirty pages are tracked separately so the
// page manager can write them before an eviction discards them.
//
// The pool itself is not safe for concurrent use; the page manager owns it
// behind a single mutex and never holds that mutex across disk I/O.
type BufferPool struct {
	pages    map[PageID]*Page
	dirty    map[PageID]struct{}
	lru      *list.List               // most recently used at the back
	elems    map[PageID]*list.Element // page id -> queue position
	capacity int

	hits   uint64
	misses uint64
}

// NewBufferPool builds a pool capped at capacity pages.
func NewBufferPool(capacity int) *BufferPool {
	if capacity < 1 {
		capacity = 1
	}
	return &BufferPool{
		pages:    make(map[PageID]*Page),
		dirty:    make(map[PageID]struct{}),
		lru:      list.New(),
		elems:    make(map[PageID]*list.Element),
		capacity: capacity,
	}
}

func (bp *BufferPool) touch(id PageID) {
	if el, ok := bp.elems[id]; ok {
		bp.lru.MoveToBack(el)
		return
	}
	bp.elems[id] = bp.lru.PushBack(id)
}

// GetPage returns the cached page, touching the LRU queue. A miss returns
// nil.
func (bp *BufferPool) GetPage(id PageID) *Page {
	if p, ok := bp.pages[id]; ok {
		bp.hits++
		bp.touch(id)
		return p
	}
	bp.misses++
	return nil
}

// GetPageMut returns the cached page for mutation, marking it dirty.
func (bp *BufferPool) GetPageMut(id PageID) *Page {
	if p, ok := bp.pages[id]; ok {
		bp.hits++
		bp.touch(id)
		bp.dirty[id] = struct{}{}
		return p
	}
	bp.misses++
	return nil
}

// InsertPage caches a page. When the pool is full and the page is new, the
// LRU candidate is evicted: a clean candidate is dropped outright; a dirty
// candidate is removed and returned so the caller writes it to disk first.
func (bp *BufferPool) InsertPage(p *Page) (victim *Page) {
	id := p.Header.PageID
	if _, exists := bp.pages[id]; !exists && bp.lru.Len() >= bp.capacity {
		if front := bp.lru.Front(); front != nil {
			lruID := front.Value.(PageID)
			_, wasDirty := bp.dirty[lruID]
			if wasDirty {
				victim = bp.pages[lruID]
			}
			bp.remove(lruID)
		}
	}
	bp.pages[id] = p
	bp.touch(id)
	return victim
}

// MarkDirty flags a cached page as modified.
func (bp *BufferPool) MarkDirty(id PageID) {
	if _, ok := bp.pages[id]; ok {
		bp.dirty[id] = struct{}{}
	}
}

// ClearDirty clears the flag after the page was written out.
func (bp *BufferPool) ClearDirty(id PageID) { delete(bp.dirty, id) }

// ClearAllDirty clears every dirty flag.
func (bp *BufferPool) ClearAllDirty() { bp.dirty = make(map[PageID]struct{}) }

// DirtyPages returns the ids of every dirty page.
func (bp *BufferPool) DirtyPages() []PageID {
	out := make([]PageID, 0, len(bp.dirty))
	for id := range bp.dirty {
		out = append(out, id)
	}
	return out
}

// FlushAll snapshots every dirty page as clones, so the caller can write
// them to disk without holding the pool.
func (bp *BufferPool) FlushAll() []*Page {
	out := make([]*Page, 0, len(bp.dirty))
	for id := range bp.dirty {
		if p, ok := bp.pages[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// RemovePage drops a page from the pool entirely.
func (bp *BufferPool) RemovePage(id PageID) *Page {
	p := bp.pages[id]
	bp.remove(id)
	return p
}

func (bp *BufferPool) remove(id PageID) {
	delete(bp.pages, id)
	delete(bp.dirty, id)
	if el, ok := bp.elems[id]; ok {
		bp.lru.Remove(el)
		delete(bp.elems, id)
	}
}

// Len returns the number of cached pages.
func (bp *BufferPool) Len() int { return len(bp.pages) }

// DirtyCount returns the number of dirty pages.
func (bp *BufferPool) DirtyCount() int { return len(bp.dirty) }

// HitRate returns hits / (hits + misses), or 0 before any access.
func (bp *BufferPool) HitRate() float64 {
	total := bp.hits + bp.misses
	if total == 0 {
		return 0
	}
	return float64(bp.hits) / float64(total)
}

// Stats reports the pool counters.
func (bp *BufferPool) Stats() (hits, misses uint64, size, dirtyCount int) {
	return bp.hits, bp.misses, len(bp.pages), len(bp.dirty)
}
