package monitor

import "sync"

// PendingTable is the pending-locks map of spec §4.6: the only mutable
// state shared directly between Monitor instances, used to detect
// hold-and-wait cycles across monitors sharing one LockBox. A nil
// *PendingTable disables deadlock detection entirely; Monitors sharing a
// table must also share the underlying LockBox for the detector's
// conflict check to mean anything.
type PendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]Type
}

type pendingKey struct {
	owner *Monitor
	key   string
}

// NewPendingTable constructs an empty, shareable pending-locks table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[pendingKey]Type)}
}

func (t *PendingTable) add(owner *Monitor, key string, typ Type) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[pendingKey{owner, key}] = typ
}

func (t *PendingTable) remove(owner *Monitor, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, pendingKey{owner, key})
}

// hasCycle implements the detector algorithm of spec §4.6: for every other
// monitor's pending (otherKey, otherType), if self already holds otherKey
// locally and either side of that pair is a write, a hold-and-wait cycle
// exists.
func (t *PendingTable) hasCycle(self *Monitor, holds map[string]Type) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for pk, otherType := range t.entries {
		if pk.owner == self {
			continue
		}
		heldType, ok := holds[pk.key]
		if !ok {
			continue
		}
		if heldType == Write || otherType == Write {
			return true
		}
	}
	return false
}
