package txn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginTransactionIncrements(t *testing.T) {
	m := NewManager()
	assert.Equal(t, uint64(1), m.CurrentTxID())

	tx1, _ := m.BeginTransaction()
	tx2, _ := m.BeginTransaction()
	tx3, _ := m.BeginTransaction()

	assert.Equal(t, uint64(1), tx1)
	assert.Equal(t, uint64(2), tx2)
	assert.Equal(t, uint64(3), tx3)
	assert.Equal(t, uint64(4), m.CurrentTxID())
}

func TestSnapshotNeverContainsSelf(t *testing.T) {
	m := NewManager()

	tx1, snap1 := m.BeginTransaction()
	assert.False(t, snap1.IsActive(tx1))
	assert.Empty(t, snap1.ActiveTxs)
	assert.Equal(t, uint64(2), snap1.Xmin)
	assert.Equal(t, uint64(2), snap1.Xmax)

	tx2, snap2 := m.BeginTransaction()
	assert.False(t, snap2.IsActive(tx2))
	assert.True(t, snap2.IsActive(tx1))
	assert.Equal(t, uint64(1), snap2.Xmin)
	assert.Equal(t, uint64(3), snap2.Xmax)
}

func TestCommitAndRollbackRemoveFromActive(t *testing.T) {
	m := NewManager()
	tx1, _ := m.BeginTransaction()
	tx2, _ := m.BeginTransaction()

	assert.Equal(t, uint64(1), m.OldestActiveTx())
	m.CommitTransaction(tx1)
	assert.Equal(t, uint64(2), m.OldestActiveTx())
	m.RollbackTransaction(tx2)

	// Nothing active: horizon falls back to current-1.
	assert.Equal(t, uint64(2), m.OldestActiveTx())
	assert.Equal(t, 0, m.ActiveCount())
}

func TestOldestActiveClampedToOne(t *testing.T) {
	m := NewManager()
	assert.Equal(t, uint64(1), m.OldestActiveTx())
}

func TestReadCommittedSnapshot(t *testing.T) {
	m := NewManager()
	tx1, _ := m.BeginTransaction()

	snap := m.Snapshot()
	assert.True(t, snap.IsActive(tx1))
	assert.Equal(t, uint64(1), snap.Xmin)

	m.CommitTransaction(tx1)
	snap2 := m.Snapshot()
	assert.False(t, snap2.IsActive(tx1))
}

func TestAdvancePast(t *testing.T) {
	m := NewManager()
	m.AdvancePast(41)
	assert.Equal(t, uint64(42), m.CurrentTxID())

	// Never moves backward.
	m.AdvancePast(10)
	assert.Equal(t, uint64(42), m.CurrentTxID())
}

func TestConcurrentBegin(t *testing.T) {
	m := NewManager()
	const n = 64
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, snap := m.BeginTransaction()
			require.False(t, snap.IsActive(tx))
			ids <- tx
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate transaction id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
