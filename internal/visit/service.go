package visit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"concord/internal/consistency"
	"concord/internal/identity"
	"concord/internal/interchange"
	"concord/internal/temporal"
	"concord/pkg/platform/sentinel"
)

// Service applies lifecycle operations to hospital visits. Every handler
// returns an outcome describing what it did; contradictory messages produce a
// contradiction outcome and leave no writes behind once the surrounding
// transaction rolls back.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Admit confirms an inpatient admission, creating the visit when unseen and
// promoting a planned visit.
func (s *Service) Admit(ctx context.Context, owner *identity.Mrn, msg *interchange.AdmitPatient) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("admit carries no visit number"), nil
	}
	if out, err := s.checkOwner(ctx, encounter, owner); err != nil || out != nil {
		return orEmpty(out), err
	}

	result, err := temporal.Upsert(ctx, s.store.Visits(), encounter,
		func() *HospitalVisit { return s.blank(encounter, owner, msg.SourceSystem) },
		func(rs *temporal.RowState[*HospitalVisit]) error {
			v := rs.Entity()
			if rs.Created() || v.State == Planned || v.State == DischargeCancelled {
				temporal.Assign(rs, Admitted, v.State, func(st State) { v.State = st })
			}
			admission := msg.AdmissionTime
			if rs.Created() && !admission.Known() {
				admission = interchange.Some(msg.EventTime)
			}
			temporal.AssignValuePtr(rs, admission, v.AdmissionTime, func(t *time.Time) { v.AdmissionTime = t })
			temporal.AssignValue(rs, msg.Location, v.Location, func(l string) { v.Location = l })
			temporal.AssignValue(rs, msg.PatientClass, v.PatientClass, func(c string) { v.PatientClass = c })
			temporal.AssignValue(rs, msg.ArrivalMethod, v.ArrivalMethod, func(a string) { v.ArrivalMethod = a })
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	changes := []consistency.Change{{Entity: "hospital_visit", Key: encounter, Result: result}}
	if change, err := s.closePending(ctx, encounter, interchange.PendingAdmit, msg.EventTime, msg.RecordedTime); err != nil {
		return consistency.Outcome{}, err
	} else if change != nil {
		changes = append(changes, *change)
	}
	return consistency.Applied(changes...), nil
}

// Register records a pre-admission presentation as a planned visit.
func (s *Service) Register(ctx context.Context, owner *identity.Mrn, msg *interchange.RegisterPatient) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("registration carries no visit number"), nil
	}
	if out, err := s.checkOwner(ctx, encounter, owner); err != nil || out != nil {
		return orEmpty(out), err
	}

	result, err := temporal.Upsert(ctx, s.store.Visits(), encounter,
		func() *HospitalVisit { return s.blank(encounter, owner, msg.SourceSystem) },
		func(rs *temporal.RowState[*HospitalVisit]) error {
			v := rs.Entity()
			if rs.Created() {
				temporal.Assign(rs, Planned, v.State, func(st State) { v.State = st })
			}
			presentation := msg.PresentationTime
			if rs.Created() && !presentation.Known() {
				presentation = interchange.Some(msg.EventTime)
			}
			temporal.AssignValuePtr(rs, presentation, v.PresentationTime, func(t *time.Time) { v.PresentationTime = t })
			temporal.AssignValue(rs, msg.Location, v.Location, func(l string) { v.Location = l })
			temporal.AssignValue(rs, msg.PatientClass, v.PatientClass, func(c string) { v.PatientClass = c })
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "hospital_visit", Key: encounter, Result: result}), nil
}

// Transfer moves an admitted patient to a new location. A transfer for an
// unseen visit is an implicit admission.
func (s *Service) Transfer(ctx context.Context, owner *identity.Mrn, msg *interchange.TransferPatient) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("transfer carries no visit number"), nil
	}
	if out, err := s.checkOwner(ctx, encounter, owner); err != nil || out != nil {
		return orEmpty(out), err
	}
	live, err := s.currentLive(ctx, encounter)
	if err != nil {
		return consistency.Outcome{}, err
	}
	if live != nil && live.State == Discharged && live.DischargeTime != nil && msg.EventTime.After(*live.DischargeTime) {
		return consistency.Contradict(
			fmt.Sprintf("transfer at %s for visit %s discharged at %s", msg.EventTime.Format(time.RFC3339), encounter, live.DischargeTime.Format(time.RFC3339)),
			describe(live),
		), nil
	}

	result, err := temporal.Upsert(ctx, s.store.Visits(), encounter,
		func() *HospitalVisit { return s.blank(encounter, owner, msg.SourceSystem) },
		func(rs *temporal.RowState[*HospitalVisit]) error {
			v := rs.Entity()
			if rs.Created() || !v.Ended() {
				temporal.Assign(rs, Transferred, v.State, func(st State) { v.State = st })
			}
			temporal.AssignValue(rs, msg.Location, v.Location, func(l string) { v.Location = l })
			temporal.AssignValue(rs, msg.PatientClass, v.PatientClass, func(c string) { v.PatientClass = c })
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	changes := []consistency.Change{{Entity: "hospital_visit", Key: encounter, Result: result}}
	if change, err := s.closePending(ctx, encounter, interchange.PendingTransfer, msg.EventTime, msg.RecordedTime); err != nil {
		return consistency.Outcome{}, err
	} else if change != nil {
		changes = append(changes, *change)
	}
	return consistency.Applied(changes...), nil
}

// Discharge ends a visit. An unseen visit is created directly in the
// discharged state so late-joining streams still converge.
func (s *Service) Discharge(ctx context.Context, owner *identity.Mrn, msg *interchange.DischargePatient) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("discharge carries no visit number"), nil
	}
	if out, err := s.checkOwner(ctx, encounter, owner); err != nil || out != nil {
		return orEmpty(out), err
	}
	dischargeTime := msg.DischargeTime
	if dischargeTime.IsZero() {
		dischargeTime = msg.EventTime
	}

	result, err := temporal.Upsert(ctx, s.store.Visits(), encounter,
		func() *HospitalVisit { return s.blank(encounter, owner, msg.SourceSystem) },
		func(rs *temporal.RowState[*HospitalVisit]) error {
			v := rs.Entity()
			temporal.Assign(rs, Discharged, v.State, func(st State) { v.State = st })
			temporal.AssignPtr(rs, &dischargeTime, v.DischargeTime, func(t *time.Time) { v.DischargeTime = t })
			temporal.AssignValue(rs, msg.Destination, v.DischargeDestination, func(d string) { v.DischargeDestination = d })
			temporal.AssignValue(rs, msg.Disposition, v.DischargeDisposition, func(d string) { v.DischargeDisposition = d })
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	changes := []consistency.Change{{Entity: "hospital_visit", Key: encounter, Result: result}}
	if change, err := s.closePending(ctx, encounter, interchange.PendingDischarge, msg.EventTime, msg.RecordedTime); err != nil {
		return consistency.Outcome{}, err
	} else if change != nil {
		changes = append(changes, *change)
	}
	return consistency.Applied(changes...), nil
}

// CancelAdmit retracts a reported admission, returning the visit to the
// planned state. Only an admitted visit can have its admission cancelled.
func (s *Service) CancelAdmit(ctx context.Context, owner *identity.Mrn, msg *interchange.CancelAdmitPatient) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("cancel admit carries no visit number"), nil
	}
	if out, err := s.checkOwner(ctx, encounter, owner); err != nil || out != nil {
		return orEmpty(out), err
	}
	live, err := s.currentLive(ctx, encounter)
	if err != nil {
		return consistency.Outcome{}, err
	}
	if live == nil {
		return consistency.Contradict(fmt.Sprintf("cancel admit for visit %s with no admission on record", encounter), ""), nil
	}
	if live.State != Admitted {
		return consistency.Contradict(fmt.Sprintf("cancel admit for visit %s not in admitted state", encounter), describe(live)), nil
	}

	at := cancelTime(msg.CancelledTime, msg.EventTime)
	result, err := temporal.Upsert(ctx, s.store.Visits(), encounter,
		func() *HospitalVisit { return s.blank(encounter, owner, msg.SourceSystem) },
		func(rs *temporal.RowState[*HospitalVisit]) error {
			v := rs.Entity()
			temporal.Assign(rs, Planned, v.State, func(st State) { v.State = st })
			temporal.AssignPtr(rs, nil, v.AdmissionTime, func(t *time.Time) { v.AdmissionTime = t })
			temporal.Assign(rs, "", v.Location, func(l string) { v.Location = l })
			return nil
		},
		at, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "hospital_visit", Key: encounter, Result: result}), nil
}

// CancelTransfer retracts the most recent transfer, restoring the location
// recorded before it.
func (s *Service) CancelTransfer(ctx context.Context, owner *identity.Mrn, msg *interchange.CancelTransferPatient) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("cancel transfer carries no visit number"), nil
	}
	if out, err := s.checkOwner(ctx, encounter, owner); err != nil || out != nil {
		return orEmpty(out), err
	}
	live, err := s.currentLive(ctx, encounter)
	if err != nil {
		return consistency.Outcome{}, err
	}
	if live == nil || live.State != Transferred {
		return consistency.Contradict(fmt.Sprintf("cancel transfer for visit %s with no transfer on record", encounter), describe(live)), nil
	}
	prior, err := s.lastVersionBefore(ctx, encounter, live.ValidFrom)
	if err != nil {
		return consistency.Outcome{}, err
	}
	if prior == nil || prior.Location == live.Location {
		return consistency.Contradict(fmt.Sprintf("cancel transfer for visit %s with no prior location on record", encounter), describe(live)), nil
	}

	restoredState := prior.State
	if restoredState != Admitted && restoredState != Transferred {
		restoredState = Admitted
	}
	at := cancelTime(msg.CancelledTime, msg.EventTime)
	result, err := temporal.Upsert(ctx, s.store.Visits(), encounter,
		func() *HospitalVisit { return s.blank(encounter, owner, msg.SourceSystem) },
		func(rs *temporal.RowState[*HospitalVisit]) error {
			v := rs.Entity()
			temporal.Assign(rs, restoredState, v.State, func(st State) { v.State = st })
			temporal.Assign(rs, prior.Location, v.Location, func(l string) { v.Location = l })
			return nil
		},
		at, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "hospital_visit", Key: encounter, Result: result}), nil
}

// CancelDischarge reopens a discharged visit in the state it held before the
// discharge, reconstructed from the version the discharge superseded. A
// cancellation with no discharge on record is a contradiction.
func (s *Service) CancelDischarge(ctx context.Context, owner *identity.Mrn, msg *interchange.CancelDischarge) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("cancel discharge carries no visit number"), nil
	}
	if out, err := s.checkOwner(ctx, encounter, owner); err != nil || out != nil {
		return orEmpty(out), err
	}
	live, err := s.currentLive(ctx, encounter)
	if err != nil {
		return consistency.Outcome{}, err
	}
	if live == nil || live.State != Discharged {
		return consistency.Contradict(fmt.Sprintf("cancel discharge for visit %s with no discharge on record", encounter), describe(live)), nil
	}
	prior, err := s.lastVersionBefore(ctx, encounter, live.ValidFrom)
	if err != nil {
		return consistency.Outcome{}, err
	}

	restoredState := DischargeCancelled
	restoredLocation := live.Location
	if prior != nil && (prior.State == Admitted || prior.State == Transferred) {
		restoredState = prior.State
		restoredLocation = prior.Location
	}
	at := cancelTime(msg.CancelledTime, msg.EventTime)
	result, err := temporal.Upsert(ctx, s.store.Visits(), encounter,
		func() *HospitalVisit { return s.blank(encounter, owner, msg.SourceSystem) },
		func(rs *temporal.RowState[*HospitalVisit]) error {
			v := rs.Entity()
			temporal.Assign(rs, restoredState, v.State, func(st State) { v.State = st })
			temporal.Assign(rs, restoredLocation, v.Location, func(l string) { v.Location = l })
			temporal.AssignPtr(rs, nil, v.DischargeTime, func(t *time.Time) { v.DischargeTime = t })
			temporal.Assign(rs, "", v.DischargeDestination, func(d string) { v.DischargeDestination = d })
			temporal.Assign(rs, "", v.DischargeDisposition, func(d string) { v.DischargeDisposition = d })
			return nil
		},
		at, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "hospital_visit", Key: encounter, Result: result}), nil
}

// RecordPending stores a pending notification as its own fact, keyed by visit
// and pending type, without touching the visit's live state.
func (s *Service) RecordPending(ctx context.Context, owner *identity.Mrn, msg *interchange.PendingEvent) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("pending event carries no visit number"), nil
	}
	key := PendingKey{Encounter: encounter, PendingType: string(msg.PendingType)}
	result, err := temporal.Upsert(ctx, s.store.Pending(), key,
		func() *PendingEvent {
			return &PendingEvent{Encounter: encounter, MrnID: owner.ID, PendingType: string(msg.PendingType)}
		},
		func(rs *temporal.RowState[*PendingEvent]) error {
			p := rs.Entity()
			temporal.AssignValue(rs, msg.PendingLocation, p.Location, func(l string) { p.Location = l })
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "pending_event", Key: key.String(), Result: result}), nil
}

// CancelPending closes a pending notification. A cancellation for a pending
// event never seen is ignored rather than contradicted: the notification may
// predate the stream.
func (s *Service) CancelPending(ctx context.Context, msg *interchange.CancelPendingEvent) (consistency.Outcome, error) {
	encounter := msg.VisitNumber
	if encounter == "" {
		return consistency.Ignore("cancel pending carries no visit number"), nil
	}
	key := PendingKey{Encounter: encounter, PendingType: string(msg.PendingType)}
	live, err := s.store.Pending().GetCurrentLive(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return consistency.Ignore(fmt.Sprintf("no pending %s on record for visit %s", msg.PendingType, encounter)), nil
		}
		return consistency.Outcome{}, err
	}
	if live.ValidUntil != nil {
		return consistency.Ignore(fmt.Sprintf("pending %s for visit %s already closed", msg.PendingType, encounter)), nil
	}

	at := cancelTime(msg.CancelledTime, msg.EventTime)
	next := live.Copy()
	next.Cancelled = true
	next.CloseValidity(at)
	next.StoredFrom = msg.RecordedTime
	audit := temporal.MakeAudit(live, at, msg.RecordedTime)
	if err := s.store.Pending().ReplaceLive(ctx, key, next, audit); err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "pending_event", Key: key.String(), Result: temporal.Updated}), nil
}

// ReassignOwner moves every live visit owned by the retiring identifier to the
// surviving one. The superseded version is recorded as merged away.
func (s *Service) ReassignOwner(ctx context.Context, retiringID, survivingID uuid.UUID, eventTime, storedFrom time.Time) ([]consistency.Change, error) {
	owned, err := s.store.FindByOwner(ctx, retiringID)
	if err != nil {
		return nil, err
	}
	changes := make([]consistency.Change, 0, len(owned))
	for _, live := range owned {
		if live.MrnID == survivingID || live.ValidFrom.After(eventTime) {
			changes = append(changes, consistency.Change{Entity: "hospital_visit", Key: live.Encounter, Result: temporal.NoChange})
			continue
		}
		next := live.Copy()
		next.MrnID = survivingID
		next.ValidFrom = eventTime
		next.StoredFrom = storedFrom
		audit := temporal.MakeAudit(live, eventTime, storedFrom)
		audit.State = MergedAway
		if err := s.store.Visits().ReplaceLive(ctx, live.Encounter, next, audit); err != nil {
			return nil, err
		}
		s.logger.Info("visit re-owned by merge", "encounter", live.Encounter, "surviving_mrn_id", survivingID)
		changes = append(changes, consistency.Change{Entity: "hospital_visit", Key: live.Encounter, Result: temporal.Updated})
	}
	return changes, nil
}

func (s *Service) blank(encounter string, owner *identity.Mrn, sourceSystem string) *HospitalVisit {
	return &HospitalVisit{Encounter: encounter, MrnID: owner.ID, SourceSystem: sourceSystem}
}

func (s *Service) currentLive(ctx context.Context, encounter string) (*HospitalVisit, error) {
	live, err := s.store.Visits().GetCurrentLive(ctx, encounter)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return live, nil
}

// checkOwner detects a visit already owned by a different live identifier: a
// lifecycle event naming another patient without a merge explaining the switch
// contradicts recorded state.
func (s *Service) checkOwner(ctx context.Context, encounter string, owner *identity.Mrn) (*consistency.Outcome, error) {
	live, err := s.currentLive(ctx, encounter)
	if err != nil {
		return nil, err
	}
	if live == nil || live.MrnID == owner.ID {
		return nil, nil
	}
	out := consistency.Contradict(
		fmt.Sprintf("visit %s is owned by another patient; identifier %s claims it without a merge", encounter, owner.Mrn),
		describe(live),
	)
	return &out, nil
}

// lastVersionBefore returns the most recent superseded version whose validity
// ended at or before the given instant, used to reconstruct pre-cancellation
// state.
func (s *Service) lastVersionBefore(ctx context.Context, encounter string, at time.Time) (*HospitalVisit, error) {
	audits, err := s.store.Visits().Audits(ctx, encounter)
	if err != nil {
		return nil, err
	}
	var prior *HospitalVisit
	for _, a := range audits {
		if a.ValidUntil == nil || a.ValidUntil.After(at) {
			continue
		}
		if prior == nil || a.ValidFrom.After(prior.ValidFrom) {
			prior = a
		}
	}
	return prior, nil
}

// closePending closes the matching pending fact when the operation it
// anticipated is confirmed.
func (s *Service) closePending(ctx context.Context, encounter string, pendingType interchange.PendingEventType, at, storedFrom time.Time) (*consistency.Change, error) {
	key := PendingKey{Encounter: encounter, PendingType: string(pendingType)}
	live, err := s.store.Pending().GetCurrentLive(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if live.ValidUntil != nil {
		return nil, nil
	}
	next := live.Copy()
	next.CloseValidity(at)
	next.StoredFrom = storedFrom
	audit := temporal.MakeAudit(live, at, storedFrom)
	if err := s.store.Pending().ReplaceLive(ctx, key, next, audit); err != nil {
		return nil, err
	}
	return &consistency.Change{Entity: "pending_event", Key: key.String(), Result: temporal.Updated}, nil
}

func (k PendingKey) String() string {
	return k.Encounter + "/" + k.PendingType
}

func orEmpty(out *consistency.Outcome) consistency.Outcome {
	if out == nil {
		return consistency.Outcome{}
	}
	return *out
}

func cancelTime(cancelled, event time.Time) time.Time {
	if !cancelled.IsZero() {
		return cancelled
	}
	return event
}

func describe(v *HospitalVisit) string {
	if v == nil {
		return ""
	}
	out := fmt.Sprintf("state=%s", v.State)
	if v.Location != "" {
		out += " location=" + v.Location
	}
	if v.DischargeTime != nil {
		out += " discharge_time=" + v.DischargeTime.UTC().Format(time.RFC3339)
	}
	return out
}
