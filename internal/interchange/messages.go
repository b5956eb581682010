package interchange

import (
	"time"

	domainerrors "concord/pkg/domain-errors"
)

// Kind discriminates the canonical message union.
type Kind string

const (
	KindAdmitPatient          Kind = "ADMIT_PATIENT"
	KindRegisterPatient       Kind = "REGISTER_PATIENT"
	KindTransferPatient       Kind = "TRANSFER_PATIENT"
	KindDischargePatient      Kind = "DISCHARGE_PATIENT"
	KindCancelAdmitPatient    Kind = "CANCEL_ADMIT_PATIENT"
	KindCancelTransferPatient Kind = "CANCEL_TRANSFER_PATIENT"
	KindCancelDischarge       Kind = "CANCEL_DISCHARGE_PATIENT"
	KindUpdatePatientInfo     Kind = "UPDATE_PATIENT_INFO"
	KindMergeByID             Kind = "MERGE_BY_ID"
	KindPendingEvent          Kind = "PENDING_EVENT"
	KindCancelPendingEvent    Kind = "CANCEL_PENDING_EVENT"
	KindFlowsheet             Kind = "FLOWSHEET"
	KindPatientState          Kind = "PATIENT_STATE"
	KindFormAnswers           Kind = "FORM_ANSWERS"
	KindWaveformBatch         Kind = "WAVEFORM_BATCH"
)

// Message is the canonical clinical event the engine consumes. Concrete types
// form a closed union; the orchestrator dispatches with an exhaustive type
// switch.
type Message interface {
	Kind() Kind
	Env() Envelope
}

// Envelope carries the fields common to every canonical message.
type Envelope struct {
	MessageID    string    `json:"message_id"`
	Mrn          string    `json:"mrn"`
	NhsNumber    string    `json:"nhs_number,omitempty"`
	VisitNumber  string    `json:"visit_number,omitempty"`
	SourceSystem string    `json:"source_system"`
	EventTime    time.Time `json:"event_time"`    // when the event happened in the real world
	RecordedTime time.Time `json:"recorded_time"` // when the adapter received it
}

func (e Envelope) Env() Envelope { return e }

// Validate rejects messages that cannot identify a patient or order
// themselves in time. Runs before any mutation attempt.
func (e Envelope) Validate() error {
	if e.Mrn == "" && e.NhsNumber == "" {
		return domainerrors.New(domainerrors.CodeInvalidInput, "message carries no patient identifier")
	}
	if e.EventTime.IsZero() {
		return domainerrors.New(domainerrors.CodeInvalidInput, "message carries no event time")
	}
	return nil
}

// Demographics are the patient-level fields ADT messages may carry. All fields
// are tri-state: unknown fields leave recorded demographics untouched.
type Demographics struct {
	GivenName  Value[string]    `json:"given_name,omitzero"`
	MiddleName Value[string]    `json:"middle_name,omitzero"`
	FamilyName Value[string]    `json:"family_name,omitzero"`
	BirthDate  Value[time.Time] `json:"birth_date,omitzero"`
	Sex        Value[string]    `json:"sex,omitzero"`
	Postcode   Value[string]    `json:"postcode,omitzero"`
	Alive      Value[bool]      `json:"alive,omitzero"`
	DeathTime  Value[time.Time] `json:"death_time,omitzero"`
}

// AdmitPatient confirms an inpatient admission, creating the visit if absent.
type AdmitPatient struct {
	Envelope
	Demographics  Demographics     `json:"demographics"`
	AdmissionTime Value[time.Time] `json:"admission_time,omitzero"`
	Location      Value[string]    `json:"location,omitzero"`
	PatientClass  Value[string]    `json:"patient_class,omitzero"`
	ArrivalMethod Value[string]    `json:"arrival_method,omitzero"`
}

func (AdmitPatient) Kind() Kind { return KindAdmitPatient }

// RegisterPatient records a pre-admission presentation; the visit starts in
// the planned state until an admit confirms it.
type RegisterPatient struct {
	Envelope
	Demographics     Demographics     `json:"demographics"`
	PresentationTime Value[time.Time] `json:"presentation_time,omitzero"`
	Location         Value[string]    `json:"location,omitzero"`
	PatientClass     Value[string]    `json:"patient_class,omitzero"`
}

func (RegisterPatient) Kind() Kind { return KindRegisterPatient }

// TransferPatient moves an admitted patient to a new location.
type TransferPatient struct {
	Envelope
	Demographics Demographics  `json:"demographics"`
	Location     Value[string] `json:"location,omitzero"`
	PatientClass Value[string] `json:"patient_class,omitzero"`
}

func (TransferPatient) Kind() Kind { return KindTransferPatient }

// DischargePatient ends a visit.
type DischargePatient struct {
	Envelope
	Demographics  Demographics  `json:"demographics"`
	DischargeTime time.Time     `json:"discharge_time"`
	Destination   Value[string] `json:"destination,omitzero"`
	Disposition   Value[string] `json:"disposition,omitzero"`
}

func (DischargePatient) Kind() Kind { return KindDischargePatient }

// CancelAdmitPatient retracts a previously reported admission.
type CancelAdmitPatient struct {
	Envelope
	CancelledTime time.Time `json:"cancelled_time"`
}

func (CancelAdmitPatient) Kind() Kind { return KindCancelAdmitPatient }

// CancelTransferPatient retracts the most recent transfer, restoring the
// prior location.
type CancelTransferPatient struct {
	Envelope
	CancelledTime time.Time `json:"cancelled_time"`
}

func (CancelTransferPatient) Kind() Kind { return KindCancelTransferPatient }

// CancelDischarge retracts a previously reported discharge, reopening the
// visit in the state it held before the discharge.
type CancelDischarge struct {
	Envelope
	CancelledTime time.Time `json:"cancelled_time"`
}

func (CancelDischarge) Kind() Kind { return KindCancelDischarge }

// UpdatePatientInfo updates demographics without a lifecycle change.
type UpdatePatientInfo struct {
	Envelope
	Demographics Demographics `json:"demographics"`
}

func (UpdatePatientInfo) Kind() Kind { return KindUpdatePatientInfo }

// MergeByID merges the retiring identifier into the surviving identifier
// carried in the envelope.
type MergeByID struct {
	Envelope
	RetiringMrn       string `json:"retiring_mrn"`
	RetiringNhsNumber string `json:"retiring_nhs_number,omitempty"`
}

func (MergeByID) Kind() Kind { return KindMergeByID }

// PendingEventType labels the operation a pending notification anticipates.
type PendingEventType string

const (
	PendingTransfer  PendingEventType = "TRANSFER"
	PendingAdmit     PendingEventType = "ADMIT"
	PendingDischarge PendingEventType = "DISCHARGE"
)

// PendingEvent notifies an ordered-but-not-yet-effected operation. It is held
// as a fact on the visit rather than mutating the visit's live state.
type PendingEvent struct {
	Envelope
	PendingType     PendingEventType `json:"pending_type"`
	PendingLocation Value[string]    `json:"pending_location,omitzero"`
}

func (PendingEvent) Kind() Kind { return KindPendingEvent }

// CancelPendingEvent closes a pending notification with no visit-state change.
type CancelPendingEvent struct {
	Envelope
	PendingType     PendingEventType `json:"pending_type"`
	PendingLocation Value[string]    `json:"pending_location,omitzero"`
	CancelledTime   time.Time        `json:"cancelled_time"`
}

func (CancelPendingEvent) Kind() Kind { return KindCancelPendingEvent }

// FlowsheetValueType discriminates the payload of a flowsheet observation.
type FlowsheetValueType string

const (
	FlowsheetNumeric FlowsheetValueType = "NUMERIC"
	FlowsheetText    FlowsheetValueType = "TEXT"
	FlowsheetDate    FlowsheetValueType = "DATE"
)

// Flowsheet is a single flowsheet observation against a visit. The observation
// type is resolved lazily by its source-system codes.
type Flowsheet struct {
	Envelope
	InterfaceID     string             `json:"interface_id"`
	FlowsheetID     string             `json:"flowsheet_id"`
	SourceType      string             `json:"source_type"`
	ValueType       FlowsheetValueType `json:"value_type"`
	NumericValue    Value[float64]     `json:"numeric_value,omitzero"`
	StringValue     Value[string]      `json:"string_value,omitzero"`
	DateValue       Value[time.Time]   `json:"date_value,omitzero"`
	Unit            Value[string]      `json:"unit,omitzero"`
	Comment         Value[string]      `json:"comment,omitzero"`
	ObservationTime time.Time          `json:"observation_time"`
}

func (Flowsheet) Kind() Kind { return KindFlowsheet }

// PatientState reports a problem or infection state attached to the patient.
// An explicit resolution time closes the fact.
type PatientState struct {
	Envelope
	Condition    string           `json:"condition"`
	Status       Value[string]    `json:"status,omitzero"`
	Comment      Value[string]    `json:"comment,omitzero"`
	AddedTime    time.Time        `json:"added_time"`
	ResolvedTime Value[time.Time] `json:"resolved_time,omitzero"`
}

func (PatientState) Kind() Kind { return KindPatientState }

// FormAnswer is one answered question within a filed form.
type FormAnswer struct {
	QuestionCode string        `json:"question_code"`
	QuestionText Value[string] `json:"question_text,omitzero"`
	Value        Value[string] `json:"value,omitzero"`
}

// FormAnswers is a filed form instance with its answers. Answers update
// independently, keyed by question code.
type FormAnswers struct {
	Envelope
	FormCode  string        `json:"form_code"`
	FormName  Value[string] `json:"form_name,omitzero"`
	FiledTime time.Time     `json:"filed_time"`
	Answers   []FormAnswer  `json:"answers"`
}

func (FormAnswers) Kind() Kind { return KindFormAnswers }

// WaveformBatch is an append-only chunk of periodic samples for one channel.
type WaveformBatch struct {
	Envelope
	SourceLocation string    `json:"source_location"`
	ChannelID      string    `json:"channel_id"`
	SamplingRate   int       `json:"sampling_rate"`
	Unit           string    `json:"unit,omitempty"`
	BatchStart     time.Time `json:"batch_start"`
	Values         []float64 `json:"values"`
}

func (WaveformBatch) Kind() Kind { return KindWaveformBatch }
