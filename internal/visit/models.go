package visit

import (
	"time"

	"github.com/google/uuid"

	"concord/internal/temporal"
)

// State is the lifecycle position of a hospital visit.
type State string

const (
	// Planned covers pre-admission registrations.
	Planned State = "PLANNED"
	// Admitted means the patient is physically present.
	Admitted State = "ADMITTED"
	// Transferred means admitted and moved at least once.
	Transferred State = "TRANSFERRED"
	// Discharged means the visit has ended.
	Discharged State = "DISCHARGED"
	// DischargeCancelled means a discharge was revoked with no movement
	// information to reconstruct the prior state from.
	DischargeCancelled State = "DISCHARGE_CANCELLED"
	// MergedAway marks audit rows of visits whose patient lost an identity
	// merge. Live visit rows never carry it; they move to the surviving
	// patient instead.
	MergedAway State = "MERGED_AWAY"
)

// HospitalVisit is one hospital encounter, versioned bitemporally and keyed by
// its source-system encounter number.
type HospitalVisit struct {
	temporal.Core

	Encounter            string     `json:"encounter"`
	MrnID                uuid.UUID  `json:"mrn_id"`
	State                State      `json:"state"`
	Location             string     `json:"location,omitempty"`
	AdmissionTime        *time.Time `json:"admission_time,omitempty"`
	DischargeTime        *time.Time `json:"discharge_time,omitempty"`
	PresentationTime     *time.Time `json:"presentation_time,omitempty"`
	DischargeDisposition string     `json:"discharge_disposition,omitempty"`
	DischargeDestination string     `json:"discharge_destination,omitempty"`
	PatientClass         string     `json:"patient_class,omitempty"`
	ArrivalMethod        string     `json:"arrival_method,omitempty"`
	SourceSystem         string     `json:"source_system,omitempty"`
}

func (v *HospitalVisit) Temporal() *temporal.Core { return &v.Core }

func (v *HospitalVisit) Copy() *HospitalVisit {
	c := *v
	return &c
}

// Ended reports whether the visit is in a terminal lifecycle state.
func (v *HospitalVisit) Ended() bool {
	return v.State == Discharged
}

// PendingKey identifies one outstanding planned event on a visit. At most one
// pending fact exists per visit and pending type.
type PendingKey struct {
	Encounter   string
	PendingType string
}

// PendingEvent is a planned-but-unconfirmed movement, kept as its own
// versioned fact so cancellation and confirmation close it without touching
// the visit row.
type PendingEvent struct {
	temporal.Core

	Encounter   string    `json:"encounter"`
	MrnID       uuid.UUID `json:"mrn_id"`
	PendingType string    `json:"pending_type"`
	Location    string    `json:"location,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty"`
}

func (p *PendingEvent) Temporal() *temporal.Core { return &p.Core }

func (p *PendingEvent) Copy() *PendingEvent {
	c := *p
	return &c
}
