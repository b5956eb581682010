package postgres

import (
	"context"

	"github.com/google/uuid"

	"concord/internal/temporal"
	"concord/internal/visit"
)

// VisitStore persists hospital visits and pending events.
type VisitStore struct {
	visits  *Table[string, *visit.HospitalVisit]
	pending *Table[visit.PendingKey, *visit.PendingEvent]
}

func NewVisitStore(q Querier, forUpdate bool) *VisitStore {
	return &VisitStore{
		visits: NewTable(q, "hospital_visit",
			func(encounter string) string { return encounter },
			func() *visit.HospitalVisit { return &visit.HospitalVisit{} }, forUpdate),
		pending: NewTable(q, "pending_event",
			visit.PendingKey.String,
			func() *visit.PendingEvent { return &visit.PendingEvent{} }, forUpdate),
	}
}

func (s *VisitStore) Visits() temporal.Table[string, *visit.HospitalVisit] { return s.visits }

func (s *VisitStore) Pending() temporal.Table[visit.PendingKey, *visit.PendingEvent] {
	return s.pending
}

func (s *VisitStore) FindByOwner(ctx context.Context, mrnID uuid.UUID) ([]*visit.HospitalVisit, error) {
	return s.visits.scanLive(ctx, "mrn_id", mrnID.String())
}

func (s *VisitStore) FindPendingByVisit(ctx context.Context, encounter string) ([]*visit.PendingEvent, error) {
	return s.pending.scanLive(ctx, "encounter", encounter)
}
