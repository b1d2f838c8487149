package core

// InvalidTxID is the zero transaction id. Real transaction ids start at 1,
// so 0 doubles as "xmax not set".
const InvalidTxID uint64 = 0

// Row is one row version. Values are positional against the table schema.
// Xmin is the transaction that created the version; Xmax the transaction
// that deleted or replaced it (InvalidTxID while the version is live).
type Row struct {
	Values []Value
	Xmin   uint64
	Xmax   uint64
}

// NewRow builds a live version created by tx.
func NewRow(values []Value, tx uint64) Row {
	return Row{Values: values, Xmin: tx}
}

// HasXmax reports whether a deleting transaction has been recorded.
func (r *Row) HasXmax() bool { return r.Xmax != InvalidTxID }

// MarkDeleted records tx as the deleter. The version stays in the heap for
// readers whose snapshot predates the delete; VACUUM reclaims it later.
func (r *Row) MarkDeleted(tx uint64) { r.Xmax = tx }

// Snapshot captures the transaction landscape at one instant. Xmin is the
// oldest transaction active when the snapshot was taken (or Xmax if none);
// Xmax is the next transaction id at that time; ActiveTxs the uncommitted
// set.
type Snapshot struct {
	Xmin      uint64
	Xmax      uint64
	ActiveTxs map[uint64]struct{}
}

// NewSnapshot builds a snapshot from an explicit active list.
func NewSnapshot(xmin, xmax uint64, active []uint64) Snapshot {
	s := Snapshot{Xmin: xmin, Xmax: xmax, ActiveTxs: make(map[uint64]struct{}, len(active))}
	for _, tx := range active {
		s.ActiveTxs[tx] = struct{}{}
	}
	return s
}

// IsActive reports whether tx was uncommitted at snapshot time.
func (s Snapshot) IsActive(tx uint64) bool {
	_, ok := s.ActiveTxs[tx]
	return ok
}

// VisibleTo decides row visibility under the snapshot:
//
//  1. created by a transaction still active at snapshot time → invisible
//  2. created after the snapshot (xmin > snapshot xmax) → invisible
//  3. deleted: deleter still active → visible; deleted at or after the
//     snapshot boundary → visible; otherwise the delete committed before
//     the snapshot → invisible
//
// A transaction never lists itself in its own snapshot's active set, so its
// own writes are visible to its subsequent statements.
func (r *Row) VisibleTo(s Snapshot) bool {
	if s.IsActive(r.Xmin) {
		return false
	}
	if r.Xmin > s.Xmax {
		return false
	}
	if r.HasXmax() {
		if s.IsActive(r.Xmax) {
			return true
		}
		if r.Xmax >= s.Xmax {
			return true
		}
		return false
	}
	return true
}

// IsDead reports whether no running transaction can still observe this
// version, making it reclaimable by VACUUM.
func (r *Row) IsDead(oldestActiveTx uint64) bool {
	return r.HasXmax() && r.Xmax <= oldestActiveTx
}

// CloneValues copies the value slice so callers can build a new version
// without aliasing the old one.
func (r *Row) CloneValues() []Value {
	out := make([]Value, len(r.Values))
	copy(out, r.Values)
	return out
}
