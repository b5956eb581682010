package facts

import (
	"time"

	"github.com/google/uuid"

	"concord/internal/interchange"
	"concord/internal/temporal"
)

// TypeScope namespaces fact-type natural keys per fact family.
type TypeScope string

const (
	ScopeFlowsheet    TypeScope = "flowsheet"
	ScopePatientState TypeScope = "patient_state"
	ScopeForm         TypeScope = "form"
	ScopeFormQuestion TypeScope = "form_question"
)

// TypeKey is the natural key a source system uses for a fact type. Types are
// resolved by this key and created lazily on first sighting.
type TypeKey struct {
	Scope TypeScope
	Code  string
}

func (k TypeKey) String() string {
	return string(k.Scope) + ":" + k.Code
}

// FactType is the versioned metadata row behind one observation or state
// type. Display metadata updates as later messages carry richer detail; the
// surrogate id never changes.
type FactType struct {
	temporal.Core

	ID           uuid.UUID `json:"id"`
	Scope        TypeScope `json:"scope"`
	Code         string    `json:"code"`
	SourceSystem string    `json:"source_system,omitempty"`
	Name         string    `json:"name,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	ValueKind    string    `json:"value_kind,omitempty"`
}

func (t *FactType) Temporal() *temporal.Core { return &t.Core }

func (t *FactType) Copy() *FactType {
	c := *t
	return &c
}

// ObservationKey identifies one logical flowsheet observation: the same type
// observed on the same visit at the same instant is one fact, however many
// times it is delivered.
type ObservationKey struct {
	Encounter  string
	TypeID     uuid.UUID
	ObservedAt int64 // unix nanoseconds
}

// VisitObservation is a single flowsheet value attached to a visit.
type VisitObservation struct {
	temporal.Core

	Encounter       string                         `json:"encounter"`
	MrnID           uuid.UUID                      `json:"mrn_id"`
	TypeID          uuid.UUID                      `json:"type_id"`
	ObservationTime time.Time                      `json:"observation_time"`
	ValueType       interchange.FlowsheetValueType `json:"value_type"`
	NumericValue    *float64                       `json:"numeric_value,omitempty"`
	StringValue     string                         `json:"string_value,omitempty"`
	DateValue       *time.Time                     `json:"date_value,omitempty"`
	Unit            string                         `json:"unit,omitempty"`
	Comment         string                         `json:"comment,omitempty"`
}

func (o *VisitObservation) Temporal() *temporal.Core { return &o.Core }

func (o *VisitObservation) Copy() *VisitObservation {
	c := *o
	return &c
}

// StateKey identifies one episode of a patient-level condition fact. The
// added time is part of the identity so a recurrence of the same condition is
// a new fact rather than an update of the resolved one.
type StateKey struct {
	MrnID   uuid.UUID
	TypeID  uuid.UUID
	AddedAt int64 // unix nanoseconds
}

// PatientState is a problem or infection state attached to a patient. An
// explicit resolution closes its validity rather than deleting it.
type PatientState struct {
	temporal.Core

	MrnID        uuid.UUID  `json:"mrn_id"`
	TypeID       uuid.UUID  `json:"type_id"`
	Status       string     `json:"status,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	AddedTime    time.Time  `json:"added_time"`
	ResolvedTime *time.Time `json:"resolved_time,omitempty"`
}

func (p *PatientState) Temporal() *temporal.Core { return &p.Core }

func (p *PatientState) Copy() *PatientState {
	c := *p
	return &c
}

// FormKey identifies one filed form instance on a visit.
type FormKey struct {
	Encounter string
	FormCode  string
}

// Form is a filed form instance; its answers live as separate facts so each
// question updates independently.
type Form struct {
	temporal.Core

	Encounter string    `json:"encounter"`
	MrnID     uuid.UUID `json:"mrn_id"`
	TypeID    uuid.UUID `json:"type_id"`
	FiledTime time.Time `json:"filed_time"`
}

func (f *Form) Temporal() *temporal.Core { return &f.Core }

func (f *Form) Copy() *Form {
	c := *f
	return &c
}

// AnswerKey identifies one answered question within a form instance.
type AnswerKey struct {
	Encounter    string
	FormCode     string
	QuestionCode string
}

// FormAnswer is the value recorded against one form question.
type FormAnswer struct {
	temporal.Core

	Encounter      string    `json:"encounter"`
	FormCode       string    `json:"form_code"`
	QuestionTypeID uuid.UUID `json:"question_type_id"`
	Value          string    `json:"value,omitempty"`
}

func (a *FormAnswer) Temporal() *temporal.Core { return &a.Core }

func (a *FormAnswer) Copy() *FormAnswer {
	c := *a
	return &c
}
