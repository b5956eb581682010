// Package memtable provides a generic in-memory bitemporal table. It backs
// the per-feature memory stores the same way the Postgres tables back their
// production counterparts, and intentionally favors clarity over performance.
package memtable

import (
	"context"
	"sync"
	"time"

	"concord/internal/temporal"
	"concord/pkg/platform/sentinel"
)

// Table is an in-memory temporal.Table. Stored entities are treated as
// immutable: every write installs a fresh copy, so snapshots can share
// backing data safely.
type Table[K comparable, E temporal.Entity[E]] struct {
	mu      sync.RWMutex
	live    map[K]E
	history map[K][]E
	audits  map[K][]E
	notes   map[K][]string
}

func New[K comparable, E temporal.Entity[E]]() *Table[K, E] {
	return &Table[K, E]{
		live:    make(map[K]E),
		history: make(map[K][]E),
		audits:  make(map[K][]E),
		notes:   make(map[K][]string),
	}
}

func (t *Table[K, E]) GetCurrentLive(_ context.Context, key K) (E, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.live[key]; ok {
		return e.Copy(), nil
	}
	var zero E
	return zero, sentinel.ErrNotFound
}

func (t *Table[K, E]) InsertLive(_ context.Context, key K, entity E) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[key]; ok {
		return sentinel.ErrConflict
	}
	t.live[key] = entity.Copy()
	return nil
}

func (t *Table[K, E]) ReplaceLive(_ context.Context, key K, next E, audit E) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[key]; !ok {
		return sentinel.ErrNotFound
	}
	t.audits[key] = append(append([]E(nil), t.audits[key]...), audit.Copy())
	t.live[key] = next.Copy()
	return nil
}

func (t *Table[K, E]) InsertHistory(_ context.Context, key K, version E, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := version.Temporal().ValidFrom
	prior := t.history[key]
	next := make([]E, 0, len(prior)+1)
	// A corrected replay of the same retroactive fact replaces the version
	// rather than duplicating it.
	for _, v := range prior {
		if !v.Temporal().ValidFrom.Equal(from) {
			next = append(next, v)
		}
	}
	t.history[key] = append(next, version.Copy())
	t.notes[key] = append(append([]string(nil), t.notes[key]...), note)
	return nil
}

func (t *Table[K, E]) FindHistory(_ context.Context, key K, validFrom time.Time) (E, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.history[key] {
		if v.Temporal().ValidFrom.Equal(validFrom) {
			return v.Copy(), nil
		}
	}
	var zero E
	return zero, sentinel.ErrNotFound
}

func (t *Table[K, E]) AsOf(_ context.Context, key K, at time.Time) (E, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var (
		best  E
		found bool
	)
	consider := func(e E) {
		if !e.Temporal().ValidAt(at) {
			return
		}
		if !found || e.Temporal().ValidFrom.After(best.Temporal().ValidFrom) {
			best = e
			found = true
		}
	}
	if e, ok := t.live[key]; ok {
		consider(e)
	}
	for _, e := range t.history[key] {
		consider(e)
	}
	for _, e := range t.audits[key] {
		consider(e)
	}
	if !found {
		var zero E
		return zero, sentinel.ErrNotFound
	}
	return best.Copy(), nil
}

func (t *Table[K, E]) Audits(_ context.Context, key K) ([]E, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]E, 0, len(t.audits[key]))
	for _, e := range t.audits[key] {
		out = append(out, e.Copy())
	}
	return out, nil
}

// ScanLive visits every live row until fn returns false. Feature stores build
// their domain queries on top of this.
func (t *Table[K, E]) ScanLive(_ context.Context, fn func(key K, entity E) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, e := range t.live {
		if !fn(k, e.Copy()) {
			return nil
		}
	}
	return nil
}

// Snapshot captures the table state for transactional rollback. Maps are
// copied shallowly; stored entities are immutable so sharing them is safe.
type Snapshot[K comparable, E temporal.Entity[E]] struct {
	live    map[K]E
	history map[K][]E
	audits  map[K][]E
	notes   map[K][]string
}

func (t *Table[K, E]) Snapshot() Snapshot[K, E] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot[K, E]{
		live:    make(map[K]E, len(t.live)),
		history: make(map[K][]E, len(t.history)),
		audits:  make(map[K][]E, len(t.audits)),
		notes:   make(map[K][]string, len(t.notes)),
	}
	for k, v := range t.live {
		s.live[k] = v
	}
	for k, v := range t.history {
		s.history[k] = v
	}
	for k, v := range t.audits {
		s.audits[k] = v
	}
	for k, v := range t.notes {
		s.notes[k] = v
	}
	return s
}

func (t *Table[K, E]) Restore(s Snapshot[K, E]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = s.live
	t.history = s.history
	t.audits = s.audits
	t.notes = s.notes
}
