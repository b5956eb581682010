package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"concord/internal/consistency"
	"concord/internal/interchange"
	"concord/internal/temporal"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
)

// Resolver maintains the identifier-to-live mapping and performs merges.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// GetOrCreate returns the identifier row for the given MRN/NHS number,
// creating it with a self-referential live pointer on first sighting.
func (r *Resolver) GetOrCreate(ctx context.Context, mrn, nhsNumber, sourceSystem string, eventTime, storedFrom time.Time) (*Mrn, error) {
	if mrn == "" && nhsNumber == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "blank patient identifier")
	}
	existing, err := r.store.FindMrn(ctx, mrn, nhsNumber)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	created := &Mrn{
		ID:           uuid.New(),
		Mrn:          mrn,
		NhsNumber:    nhsNumber,
		SourceSystem: sourceSystem,
		StoredFrom:   storedFrom,
	}
	if err := r.store.InsertMrn(ctx, created); err != nil {
		return nil, err
	}
	pointer := &MrnToLive{MrnID: created.ID, LiveMrnID: created.ID}
	pointer.ValidFrom = eventTime
	pointer.StoredFrom = storedFrom
	if err := r.store.ToLive().InsertLive(ctx, created.ID, pointer); err != nil {
		return nil, err
	}
	r.logger.Info("created new identifier", "mrn", mrn, "nhs_number", nhsNumber)
	return created, nil
}

// ResolveLive returns the currently authoritative identifier for the given
// MRN/NHS number, creating a self-referential mapping for unseen identifiers.
func (r *Resolver) ResolveLive(ctx context.Context, mrn, nhsNumber, sourceSystem string, eventTime, storedFrom time.Time) (*Mrn, error) {
	m, err := r.GetOrCreate(ctx, mrn, nhsNumber, sourceSystem, eventTime, storedFrom)
	if err != nil {
		return nil, err
	}
	return r.liveOf(ctx, m)
}

func (r *Resolver) liveOf(ctx context.Context, m *Mrn) (*Mrn, error) {
	pointer, err := r.store.ToLive().GetCurrentLive(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("live pointer for %s: %w", m.Mrn, err)
	}
	if pointer.LiveMrnID == m.ID {
		return m, nil
	}
	return r.store.GetMrnByID(ctx, pointer.LiveMrnID)
}

// Merge repoints every live pointer currently targeting the retiring
// identifier at the surviving one. surviving must already be resolved to its
// live identifier, so merges always point at a live, non-retired identifier.
// Replaying the same merge is a no-op.
func (r *Resolver) Merge(ctx context.Context, surviving *Mrn, retiringMrn, retiringNhs, sourceSystem string, eventTime, storedFrom time.Time) (consistency.Outcome, uuid.UUID, error) {
	retiring, err := r.GetOrCreate(ctx, retiringMrn, retiringNhs, sourceSystem, eventTime, storedFrom)
	if err != nil {
		return consistency.Outcome{}, uuid.Nil, err
	}
	retiringLive, err := r.liveOf(ctx, retiring)
	if err != nil {
		return consistency.Outcome{}, uuid.Nil, err
	}
	if retiringLive.ID == surviving.ID {
		return consistency.Ignore(fmt.Sprintf("identifiers %s and %s already resolve to the same patient", retiringMrn, surviving.Mrn)), retiringLive.ID, nil
	}

	pointers, err := r.store.FindPointingAt(ctx, retiringLive.ID)
	if err != nil {
		return consistency.Outcome{}, uuid.Nil, err
	}
	changes := make([]consistency.Change, 0, len(pointers))
	for _, pointer := range pointers {
		// An already-recorded newer pointer wins over a late-arriving merge.
		if pointer.ValidFrom.After(eventTime) {
			changes = append(changes, consistency.Change{Entity: "mrn_to_live", Key: pointer.MrnID.String(), Result: temporal.NoChange})
			continue
		}
		result, err := temporal.Upsert(ctx, r.store.ToLive(), pointer.MrnID,
			func() *MrnToLive { return &MrnToLive{MrnID: pointer.MrnID} },
			func(rs *temporal.RowState[*MrnToLive]) error {
				row := rs.Entity()
				temporal.Assign(rs, surviving.ID, row.LiveMrnID, func(v uuid.UUID) { row.LiveMrnID = v })
				return nil
			},
			eventTime, storedFrom,
		)
		if err != nil {
			return consistency.Outcome{}, uuid.Nil, err
		}
		if result == temporal.Updated {
			r.logger.Info("merged identifier", "retiring", retiringLive.Mrn, "surviving", surviving.Mrn)
		}
		changes = append(changes, consistency.Change{Entity: "mrn_to_live", Key: pointer.MrnID.String(), Result: result})
	}
	return consistency.Applied(changes...), retiringLive.ID, nil
}

// UpdateDemographics folds a message's demographic fields into the versioned
// demographics fact attached to the identifier.
func (r *Resolver) UpdateDemographics(ctx context.Context, owner *Mrn, d interchange.Demographics, eventTime, storedFrom time.Time) (consistency.Change, error) {
	result, err := temporal.Upsert(ctx, r.store.Demographics(), owner.ID,
		func() *Demographics { return &Demographics{MrnID: owner.ID} },
		func(rs *temporal.RowState[*Demographics]) error {
			demo := rs.Entity()
			temporal.AssignValue(rs, d.GivenName, demo.GivenName, func(v string) { demo.GivenName = v })
			temporal.AssignValue(rs, d.MiddleName, demo.MiddleName, func(v string) { demo.MiddleName = v })
			temporal.AssignValue(rs, d.FamilyName, demo.FamilyName, func(v string) { demo.FamilyName = v })
			temporal.AssignValuePtr(rs, d.BirthDate, demo.BirthDate, func(v *time.Time) { demo.BirthDate = v })
			temporal.AssignValue(rs, d.Sex, demo.Sex, func(v string) { demo.Sex = v })
			temporal.AssignValue(rs, d.Postcode, demo.Postcode, func(v string) { demo.Postcode = v })
			temporal.AssignValuePtr(rs, d.Alive, demo.Alive, func(v *bool) { demo.Alive = v })
			temporal.AssignValuePtr(rs, d.DeathTime, demo.DeathTime, func(v *time.Time) { demo.DeathTime = v })
			return nil
		},
		eventTime, storedFrom,
	)
	if err != nil {
		return consistency.Change{}, err
	}
	return consistency.Change{Entity: "demographics", Key: owner.ID.String(), Result: result}, nil
}
