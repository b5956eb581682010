package waveform

import (
	"context"
	"sort"
	"sync"
	"time"

	"concord/pkg/platform/sentinel"
)

// Store is the persistence capability for waveform batches. Unlike the
// versioned tables, this is an append-only log with retention.
type Store interface {
	// Insert appends a batch. Inserting a key that already exists returns
	// sentinel.ErrConflict.
	Insert(ctx context.Context, batch *Batch) error
	// ListChannel returns a channel's batches on a visit, oldest first.
	ListChannel(ctx context.Context, encounter, channelID string) ([]*Batch, error)
	// DeleteOlderThan removes batches that ended before the cutoff, returning
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore keeps waveform batches in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[BatchKey]*Batch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[BatchKey]*Batch)}
}

func (s *MemoryStore) Insert(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := batch.Key()
	if _, ok := s.batches[key]; ok {
		return sentinel.ErrConflict
	}
	cp := *batch
	cp.Values = append([]float64(nil), batch.Values...)
	s.batches[key] = &cp
	return nil
}

func (s *MemoryStore) ListChannel(_ context.Context, encounter, channelID string) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Batch
	for _, b := range s.batches {
		if b.Encounter == encounter && b.ChannelID == channelID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchStart.Before(out[j].BatchStart) })
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, b := range s.batches {
		if b.End().Before(cutoff) {
			delete(s.batches, key)
			removed++
		}
	}
	return removed, nil
}

// memorySnapshot supports transactional rollback of the whole store.
type memorySnapshot struct {
	batches map[BatchKey]*Batch
}

func (s *MemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := memorySnapshot{batches: make(map[BatchKey]*Batch, len(s.batches))}
	for k, v := range s.batches {
		snap.batches[k] = v
	}
	return snap
}

func (s *MemoryStore) Restore(v any) {
	snap := v.(memorySnapshot)
	s.mu.Lock()
	s.batches = snap.batches
	s.mu.Unlock()
}
