package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"concord/internal/storage/memtable"
	"concord/internal/temporal"
	"concord/pkg/platform/sentinel"
)

// MemoryStore keeps identifiers in memory. It intentionally favors clarity
// over performance.
type MemoryStore struct {
	mu           sync.RWMutex
	mrns         map[uuid.UUID]*Mrn
	byMrn        map[string]uuid.UUID
	byNhs        map[string]uuid.UUID
	toLive       *memtable.Table[uuid.UUID, *MrnToLive]
	demographics *memtable.Table[uuid.UUID, *Demographics]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mrns:         make(map[uuid.UUID]*Mrn),
		byMrn:        make(map[string]uuid.UUID),
		byNhs:        make(map[string]uuid.UUID),
		toLive:       memtable.New[uuid.UUID, *MrnToLive](),
		demographics: memtable.New[uuid.UUID, *Demographics](),
	}
}

func (s *MemoryStore) FindMrn(_ context.Context, mrn, nhsNumber string) (*Mrn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mrn != "" {
		if id, ok := s.byMrn[mrn]; ok {
			out := *s.mrns[id]
			return &out, nil
		}
	}
	if nhsNumber != "" {
		if id, ok := s.byNhs[nhsNumber]; ok {
			out := *s.mrns[id]
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) GetMrnByID(_ context.Context, id uuid.UUID) (*Mrn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.mrns[id]; ok {
		out := *m
		return &out, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) InsertMrn(_ context.Context, m *Mrn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mrns[m.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *m
	s.mrns[m.ID] = &cp
	if m.Mrn != "" {
		s.byMrn[m.Mrn] = m.ID
	}
	if m.NhsNumber != "" {
		s.byNhs[m.NhsNumber] = m.ID
	}
	return nil
}

func (s *MemoryStore) ToLive() temporal.Table[uuid.UUID, *MrnToLive] {
	return s.toLive
}

func (s *MemoryStore) FindPointingAt(ctx context.Context, liveID uuid.UUID) ([]*MrnToLive, error) {
	var out []*MrnToLive
	err := s.toLive.ScanLive(ctx, func(_ uuid.UUID, row *MrnToLive) bool {
		if row.LiveMrnID == liveID {
			out = append(out, row)
		}
		return true
	})
	return out, err
}

func (s *MemoryStore) Demographics() temporal.Table[uuid.UUID, *Demographics] {
	return s.demographics
}

// memorySnapshot supports transactional rollback of the whole store.
type memorySnapshot struct {
	mrns         map[uuid.UUID]*Mrn
	byMrn        map[string]uuid.UUID
	byNhs        map[string]uuid.UUID
	toLive       memtable.Snapshot[uuid.UUID, *MrnToLive]
	demographics memtable.Snapshot[uuid.UUID, *Demographics]
}

func (s *MemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := memorySnapshot{
		mrns:         make(map[uuid.UUID]*Mrn, len(s.mrns)),
		byMrn:        make(map[string]uuid.UUID, len(s.byMrn)),
		byNhs:        make(map[string]uuid.UUID, len(s.byNhs)),
		toLive:       s.toLive.Snapshot(),
		demographics: s.demographics.Snapshot(),
	}
	for k, v := range s.mrns {
		snap.mrns[k] = v
	}
	for k, v := range s.byMrn {
		snap.byMrn[k] = v
	}
	for k, v := range s.byNhs {
		snap.byNhs[k] = v
	}
	return snap
}

func (s *MemoryStore) Restore(v any) {
	snap := v.(memorySnapshot)
	s.mu.Lock()
	s.mrns = snap.mrns
	s.byMrn = snap.byMrn
	s.byNhs = snap.byNhs
	s.mu.Unlock()
	s.toLive.Restore(snap.toLive)
	s.demographics.Restore(snap.demographics)
}
