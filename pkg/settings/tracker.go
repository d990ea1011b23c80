// Package settings tracks unsaved changes across independent settings panels
// so that a single save indicator can reflect all of them.
package settings

import (
	"sort"
	"sync"
)

// Tracker aggregates per-section dirty flags. It is safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	dirty       map[string]bool
	subscribers []func(dirty bool)
}

func NewTracker() *Tracker {
	return &Tracker{dirty: make(map[string]bool)}
}

// ReportDirty records whether a section has unsaved changes. Subscribers are
// called when the aggregate state flips.
func (t *Tracker) ReportDirty(sectionID string, dirty bool) {
	t.mu.Lock()
	before := len(t.dirty) > 0
	if dirty {
		t.dirty[sectionID] = true
	} else {
		delete(t.dirty, sectionID)
	}
	after := len(t.dirty) > 0
	subs := t.subscribers
	t.mu.Unlock()

	if before != after {
		for _, fn := range subs {
			fn(after)
		}
	}
}

// IsDirty reports whether any section has unsaved changes.
func (t *Tracker) IsDirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty) > 0
}

// DirtySections returns the dirty section ids in sorted order.
func (t *Tracker) DirtySections() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.dirty))
	for id := range t.dirty {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers fn to be told when the aggregate dirty state changes.
func (t *Tracker) Subscribe(fn func(dirty bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// Reset marks every section clean, e.g. after a successful save.
func (t *Tracker) Reset() {
	t.mu.Lock()
	wasDirty := len(t.dirty) > 0
	t.dirty = make(map[string]bool)
	subs := t.subscribers
	t.mu.Unlock()

	if wasDirty {
		for _, fn := range subs {
			fn(false)
		}
	}
}
