package identity

import (
	"time"

	"github.com/google/uuid"

	"concord/internal/temporal"
)

// Mrn is a patient identifier as known to a source system. Immutable once
// created; many identifiers may exist per real patient.
type Mrn struct {
	ID           uuid.UUID `json:"id"`
	Mrn          string    `json:"mrn"`
	NhsNumber    string    `json:"nhs_number,omitempty"`
	SourceSystem string    `json:"source_system"`
	StoredFrom   time.Time `json:"stored_from"`
}

// MrnToLive maps an identifier to the identifier that is currently
// authoritative for that patient. Initially self-referential. Merges repoint
// every row directly at the surviving identifier, so following the pointer
// always terminates in one step.
type MrnToLive struct {
	temporal.Core
	MrnID     uuid.UUID `json:"mrn_id"`
	LiveMrnID uuid.UUID `json:"live_mrn_id"`
}

func (m *MrnToLive) Temporal() *temporal.Core { return &m.Core }

func (m *MrnToLive) Copy() *MrnToLive {
	c := *m
	return &c
}

// Demographics is the patient-level versioned fact attached to an identifier.
type Demographics struct {
	temporal.Core
	MrnID      uuid.UUID  `json:"mrn_id"`
	GivenName  string     `json:"given_name,omitempty"`
	MiddleName string     `json:"middle_name,omitempty"`
	FamilyName string     `json:"family_name,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	Sex        string     `json:"sex,omitempty"`
	Postcode   string     `json:"postcode,omitempty"`
	Alive      *bool      `json:"alive,omitempty"`
	DeathTime  *time.Time `json:"death_time,omitempty"`
}

func (d *Demographics) Temporal() *temporal.Core { return &d.Core }

func (d *Demographics) Copy() *Demographics {
	c := *d
	return &c
}
