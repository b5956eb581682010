package consistency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is a persisted contradiction, kept for manual follow-up. Records are
// written outside the message's transaction: the mutation rolls back, the
// evidence does not.
type Record struct {
	ID          uuid.UUID `json:"id"`
	MessageID   string    `json:"message_id"`
	MessageKind string    `json:"message_kind"`
	Mrn         string    `json:"mrn"`
	VisitNumber string    `json:"visit_number,omitempty"`
	Description string    `json:"description"`
	PriorState  string    `json:"prior_state"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore keeps contradiction records in memory, newest first.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.recs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}
