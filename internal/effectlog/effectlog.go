// Package effectlog journals what the engine did with every processed
// message, so operators can answer "what happened when this event arrived"
// without replaying the stream.
package effectlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"concord/internal/consistency"
)

// Effect is one journal entry: the message, its classification, and the
// entity-level changes it produced.
type Effect struct {
	ID          uuid.UUID     `json:"id"`
	MessageID   string        `json:"message_id"`
	MessageKind string        `json:"message_kind"`
	Mrn         string        `json:"mrn"`
	VisitNumber string        `json:"visit_number,omitempty"`
	Outcome     string        `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	Changes     []string      `json:"changes,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// Store is the persistence capability for the journal.
type Store interface {
	Append(ctx context.Context, effect Effect) error
	List(ctx context.Context, limit int) ([]Effect, error)
}

// MemoryStore keeps the journal in memory, newest first.
type MemoryStore struct {
	mu      sync.RWMutex
	effects []Effect
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, effect Effect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects = append(s.effects, effect)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Effect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.effects)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Effect, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.effects[i])
	}
	return out, nil
}

// Journal accepts effects from the processing path and hands them to a
// background worker, so journalling never sits inside a message's
// transaction.
type Journal struct {
	inbox  chan Effect
	logger *slog.Logger
}

func NewJournal(buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{inbox: make(chan Effect, buffer), logger: logger}
}

// Record enqueues an effect. A full inbox drops the entry rather than
// stalling message processing.
func (j *Journal) Record(effect Effect, outcome consistency.Outcome) {
	effect.ID = uuid.New()
	effect.Outcome = outcome.Kind.String()
	effect.Reason = outcome.Reason
	for _, c := range outcome.Changes {
		effect.Changes = append(effect.Changes, c.String())
	}
	if outcome.Conflict != nil {
		effect.Reason = outcome.Conflict.Description
	}
	if effect.RecordedAt.IsZero() {
		effect.RecordedAt = time.Now()
	}
	select {
	case j.inbox <- effect:
	default:
		j.logger.Warn("effect journal inbox full, dropping entry", "message_id", effect.MessageID)
	}
}

// Worker consumes entries from the journal and persists them.
type Worker struct {
	store   Store
	journal *Journal
}

func NewWorker(store Store, journal *Journal) *Worker {
	return &Worker{store: store, journal: journal}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case effect := <-w.journal.inbox:
			if err := w.store.Append(ctx, effect); err != nil {
				return err
			}
		}
	}
}
