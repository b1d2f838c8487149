// Package txn holds the global transaction manager: transaction-id
// allocation, the active-transaction set, snapshot construction, and the
// VACUUM horizon.
//
// What: One shared allocator and active set for every connection.
// How: An atomic counter hands out ids; a readers/writer lock guards the
// active set. BeginTransaction orders the fetch-add against the set insert
// so a transaction never observes itself in its own snapshot, and no id is
// simultaneously missing from the active set and invisible to snapshots.
// Why: Snapshot-based visibility needs one authoritative view of which
// transactions are in flight.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/minipg/minipg/internal/core"
)

// Manager allocates transaction ids and tracks the active set. It is
// cheap to copy by handle: all clones share state.
type Manager struct {
	nextTxID *atomic.Uint64

	mu     *sync.RWMutex
	active map[uint64]struct{}
}

// NewManager builds a manager whose first transaction id is 1.
func NewManager() *Manager {
	next := &atomic.Uint64{}
	next.Store(1)
	return &Manager{
		nextTxID: next,
		mu:       &sync.RWMutex{},
		active:   make(map[uint64]struct{}),
	}
}

// BeginTransaction allocates a transaction id and returns it with the
// snapshot the transaction will read under. The snapshot is taken before
// the id is registered, so the transaction never sees itself as active.
func (m *Manager) BeginTransaction() (uint64, core.Snapshot) {
	txID := m.nextTxID.Add(1) - 1
	xmax := m.nextTxID.Load()

	m.mu.Lock()
	active := make([]uint64, 0, len(m.active))
	for tx := range m.active {
		active = append(active, tx)
	}
	m.active[txID] = struct{}{}
	m.mu.Unlock()

	return txID, buildSnapshot(xmax, active)
}

// CommitTransaction removes tx from the active set, making its writes
// visible to new snapshots.
func (m *Manager) CommitTransaction(tx uint64) {
	m.mu.Lock()
	delete(m.active, tx)
	m.mu.Unlock()
}

// RollbackTransaction removes tx from the active set. Restoring state is
// the caller's policy; the manager only forgets the transaction.
func (m *Manager) RollbackTransaction(tx uint64) {
	m.mu.Lock()
	delete(m.active, tx)
	m.mu.Unlock()
}

// CurrentTxID peeks at the next id to be assigned.
func (m *Manager) CurrentTxID() uint64 {
	return m.nextTxID.Load()
}

// OldestActiveTx returns the VACUUM horizon: the minimum active id, or
// current-1 when nothing is active, clamped to at least 1.
func (m *Manager) OldestActiveTx() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest uint64
	for tx := range m.active {
		if oldest == 0 || tx < oldest {
			oldest = tx
		}
	}
	if oldest == 0 {
		cur := m.nextTxID.Load()
		if cur > 1 {
			oldest = cur - 1
		} else {
			oldest = 1
		}
	}
	if oldest < 1 {
		oldest = 1
	}
	return oldest
}

// Snapshot builds a fresh snapshot without allocating a transaction id;
// READ COMMITTED takes one of these before every statement.
func (m *Manager) Snapshot() core.Snapshot {
	xmax := m.nextTxID.Load()

	m.mu.RLock()
	active := make([]uint64, 0, len(m.active))
	for tx := range m.active {
		active = append(active, tx)
	}
	m.mu.RUnlock()

	return buildSnapshot(xmax, active)
}

// AdvancePast moves the allocator beyond id. Recovery calls this with the
// largest xmin/xmax seen in replayed rows, so recovered versions stay
// visible to post-restart snapshots.
func (m *Manager) AdvancePast(id uint64) {
	for {
		cur := m.nextTxID.Load()
		if cur > id {
			return
		}
		if m.nextTxID.CompareAndSwap(cur, id+1) {
			return
		}
	}
}

// ActiveCount reports the size of the active set.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func buildSnapshot(xmax uint64, active []uint64) core.Snapshot {
	xmin := xmax
	for _, tx := range active {
		if tx < xmin {
			xmin = tx
		}
	}
	return core.NewSnapshot(xmin, xmax, active)
}
