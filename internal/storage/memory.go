package storage

import (
	"context"
	"sync"
	"time"

	"concord/internal/facts"
	"concord/internal/identity"
	"concord/internal/visit"
	"concord/internal/waveform"
	domainerrors "concord/pkg/domain-errors"
)

// defaultTxTimeout bounds one message's transaction.
const defaultTxTimeout = 5 * time.Second

// MemoryStores keeps the whole engine state in memory. They intentionally
// favor clarity over performance.
type MemoryStores struct {
	identity  *identity.MemoryStore
	visits    *visit.MemoryStore
	facts     *facts.MemoryStore
	waveforms *waveform.MemoryStore
}

func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		identity:  identity.NewMemoryStore(),
		visits:    visit.NewMemoryStore(),
		facts:     facts.NewMemoryStore(),
		waveforms: waveform.NewMemoryStore(),
	}
}

func (s *MemoryStores) Identity() identity.Store  { return s.identity }
func (s *MemoryStores) Visits() visit.Store       { return s.visits }
func (s *MemoryStores) Facts() facts.Store        { return s.facts }
func (s *MemoryStores) Waveforms() waveform.Store { return s.waveforms }

// MemoryRunner serializes transactions under one lock and rolls back by
// restoring pre-transaction snapshots. Per-patient ordering is enforced above
// this layer; the coarse lock here only guards map consistency.
type MemoryRunner struct {
	mu      sync.Mutex
	stores  *MemoryStores
	timeout time.Duration
}

func NewMemoryRunner(stores *MemoryStores) *MemoryRunner {
	return &MemoryRunner{stores: stores, timeout: defaultTxTimeout}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(stores Stores) error) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "transaction aborted before start")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	identitySnap := r.stores.identity.Snapshot()
	visitSnap := r.stores.visits.Snapshot()
	factsSnap := r.stores.facts.Snapshot()
	waveformSnap := r.stores.waveforms.Snapshot()

	if err := fn(r.stores); err != nil {
		r.stores.identity.Restore(identitySnap)
		r.stores.visits.Restore(visitSnap)
		r.stores.facts.Restore(factsSnap)
		r.stores.waveforms.Restore(waveformSnap)
		return err
	}
	return nil
}
