package visit

import (
	"context"

	"github.com/google/uuid"

	"concord/internal/storage/memtable"
	"concord/internal/temporal"
)

// MemoryStore keeps visits and pending events in memory.
type MemoryStore struct {
	visits  *memtable.Table[string, *HospitalVisit]
	pending *memtable.Table[PendingKey, *PendingEvent]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visits:  memtable.New[string, *HospitalVisit](),
		pending: memtable.New[PendingKey, *PendingEvent](),
	}
}

func (s *MemoryStore) Visits() temporal.Table[string, *HospitalVisit] { return s.visits }

func (s *MemoryStore) Pending() temporal.Table[PendingKey, *PendingEvent] { return s.pending }

func (s *MemoryStore) FindByOwner(ctx context.Context, mrnID uuid.UUID) ([]*HospitalVisit, error) {
	var out []*HospitalVisit
	err := s.visits.ScanLive(ctx, func(_ string, v *HospitalVisit) bool {
		if v.MrnID == mrnID {
			out = append(out, v)
		}
		return true
	})
	return out, err
}

func (s *MemoryStore) FindPendingByVisit(ctx context.Context, encounter string) ([]*PendingEvent, error) {
	var out []*PendingEvent
	err := s.pending.ScanLive(ctx, func(_ PendingKey, p *PendingEvent) bool {
		if p.Encounter == encounter {
			out = append(out, p)
		}
		return true
	})
	return out, err
}

// memorySnapshot supports transactional rollback of the whole store.
type memorySnapshot struct {
	visits  memtable.Snapshot[string, *HospitalVisit]
	pending memtable.Snapshot[PendingKey, *PendingEvent]
}

func (s *MemoryStore) Snapshot() any {
	return memorySnapshot{visits: s.visits.Snapshot(), pending: s.pending.Snapshot()}
}

func (s *MemoryStore) Restore(v any) {
	snap := v.(memorySnapshot)
	s.visits.Restore(snap.visits)
	s.pending.Restore(snap.pending)
}
