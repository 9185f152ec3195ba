package cache

import (
	"sort"
	"sync"

	"github.com/geotrack/livetrack/pkg/core"
)

// Entry is one entity's slot in the table. Its lock serializes every
// create-or-update of that entity.
type Entry struct {
	mu    sync.Mutex
	state core.EntityMarkerState
}

// State returns the marker state. The caller must hold the entry.
func (e *Entry) State() core.EntityMarkerState { return e.state }

// Set replaces the marker state. The caller must hold the entry.
func (e *Entry) Set(s core.EntityMarkerState) { e.state = s }

// Release unlocks an entry obtained from Acquire.
func (e *Entry) Release() { e.mu.Unlock() }

// EntityTable holds the marker state of every entity seen this session.
// Entries are never removed individually; Reset drops them all.
type EntityTable struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewEntityTable() *EntityTable {
	return &EntityTable{
		entries: make(map[string]*Entry),
	}
}

// Acquire returns the entity's entry locked, creating it if needed. created
// reports whether this call inserted it. A new entry is locked before it is
// published, so no other writer can observe it before the creator is done.
func (t *EntityTable) Acquire(id string) (e *Entry, created bool) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()

	if !ok {
		t.mu.Lock()
		e, ok = t.entries[id]
		if !ok {
			e = &Entry{}
			e.mu.Lock()
			t.entries[id] = e
			t.mu.Unlock()
			return e, true
		}
		t.mu.Unlock()
	}

	e.mu.Lock()
	return e, false
}

// Get returns a copy of the entity's marker state.
func (t *EntityTable) Get(id string) (core.EntityMarkerState, bool) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return core.EntityMarkerState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Snapshot returns every marker state ordered by entity id.
func (t *EntityTable) Snapshot() []core.EntityMarkerState {
	t.mu.RLock()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]core.EntityMarkerState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func (t *EntityTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Reset clears all entries from the table
func (t *EntityTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*Entry)
}
