package channel

import "sync"

// Table holds the latest reading per direction. Each new reading replaces
// the previous one for its channel. Safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	latest  [Count]Reading
	present [Count]bool
}

func NewTable() *Table {
	return &Table{}
}

// Update replaces the stored reading for r's channel. Readings for
// out-of-range channels are dropped.
func (t *Table) Update(r Reading) {
	if !ValidIndex(r.Channel) {
		return
	}
	t.mu.Lock()
	t.latest[r.Channel] = r
	t.present[r.Channel] = true
	t.mu.Unlock()
}

// Latest returns the most recent reading for a channel, if any.
func (t *Table) Latest(ch int) (Reading, bool) {
	if !ValidIndex(ch) {
		return Reading{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest[ch], t.present[ch]
}

// Snapshot returns the stored readings in channel index order. Channels
// that have never reported are skipped.
func (t *Table) Snapshot() []Reading {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Reading, 0, Count)
	for i := 0; i < Count; i++ {
		if t.present[i] {
			out = append(out, t.latest[i])
		}
	}
	return out
}

// Clear forgets all stored readings.
func (t *Table) Clear() {
	t.mu.Lock()
	t.latest = [Count]Reading{}
	t.present = [Count]bool{}
	t.mu.Unlock()
}
