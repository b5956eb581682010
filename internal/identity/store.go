package identity

import (
	"context"

	"github.com/google/uuid"

	"concord/internal/temporal"
)

// Store is the persistence capability for identifiers and their live
// pointers. Identifier rows are immutable; the live pointer and demographics
// are versioned through the temporal tables.
type Store interface {
	// FindMrn matches an identifier row by MRN string or NHS number, in that
	// order of preference. Returns sentinel.ErrNotFound when unseen.
	FindMrn(ctx context.Context, mrn, nhsNumber string) (*Mrn, error)
	// GetMrnByID returns the identifier row for an internal id.
	GetMrnByID(ctx context.Context, id uuid.UUID) (*Mrn, error)
	// InsertMrn records a newly sighted identifier.
	InsertMrn(ctx context.Context, m *Mrn) error

	// ToLive is the versioned live-pointer table, keyed by the identifier's
	// internal id.
	ToLive() temporal.Table[uuid.UUID, *MrnToLive]
	// FindPointingAt lists the live pointer rows currently targeting the
	// given identifier.
	FindPointingAt(ctx context.Context, liveID uuid.UUID) ([]*MrnToLive, error)

	// Demographics is the versioned demographics table, keyed by the
	// identifier's internal id.
	Demographics() temporal.Table[uuid.UUID, *Demographics]
}
