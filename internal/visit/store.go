package visit

import (
	"context"

	"github.com/google/uuid"

	"concord/internal/temporal"
)

// Store is the persistence capability for visits and their pending events.
type Store interface {
	Visits() temporal.Table[string, *HospitalVisit]
	Pending() temporal.Table[PendingKey, *PendingEvent]
	// FindByOwner returns the live visits currently owned by the given
	// patient identifier, used when a merge re-owns visits.
	FindByOwner(ctx context.Context, mrnID uuid.UUID) ([]*HospitalVisit, error)
	// FindPendingByVisit returns the live pending events for an encounter.
	FindPendingByVisit(ctx context.Context, encounter string) ([]*PendingEvent, error)
}
