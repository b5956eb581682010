// Package storage bundles the per-feature stores behind one transactional
// boundary. A canonical message's effects either all commit or all roll back,
// whatever mix of identity, visit, fact and waveform writes it triggered.
package storage

import (
	"context"

	"concord/internal/facts"
	"concord/internal/identity"
	"concord/internal/visit"
	"concord/internal/waveform"
)

// Stores is the set of capabilities one message transaction may touch.
type Stores interface {
	Identity() identity.Store
	Visits() visit.Store
	Facts() facts.Store
	Waveforms() waveform.Store
}

// Runner owns the transaction boundary. Implementations may wrap a database
// transaction or, in memory, a coarse lock with snapshot rollback.
type Runner interface {
	RunInTx(ctx context.Context, fn func(stores Stores) error) error
}
