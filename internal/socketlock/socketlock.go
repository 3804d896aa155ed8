package socketlock

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Key addresses one physical socket.
type Key struct {
	ChargePointID snowflake.ID
	ConnectorID   int
}

// Table is a keyed mutual-exclusion table guarding start/stop transitions.
// While a key is held, meter readings for that socket are suppressed so a
// sample captured mid-transition cannot be attributed to the wrong session
// or duplicated against a synthesized Transaction.Begin/End reading.
//
// Release compare-and-swaps against the holder's own token: a stale caller
// cannot release a guard it no longer owns.
type Table struct {
	mu   sync.Mutex
	held map[Key]uint64
	next uint64
}

func NewTable() *Table {
	return &Table{held: make(map[Key]uint64)}
}

// Acquire takes the guard for key. It fails fast when the guard is already
// held; callers translate that into a ConcurrentTx outcome.
func (t *Table) Acquire(key Key) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, taken := t.held[key]; taken {
		return 0, false
	}
	t.next++
	t.held[key] = t.next
	return t.next, true
}

// Release drops the guard if token still owns it.
func (t *Table) Release(key Key, token uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	holder, taken := t.held[key]
	if !taken || holder != token {
		return false
	}
	delete(t.held, key)
	return true
}

// Held reports whether a transition is in flight for key.
func (t *Table) Held(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, taken := t.held[key]
	return taken
}
