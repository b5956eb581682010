package postgres

import (
	"fmt"

	"concord/internal/facts"
	"concord/internal/temporal"
)

// FactStore persists fact types and the versioned fact families.
type FactStore struct {
	types         *Table[facts.TypeKey, *facts.FactType]
	observations  *Table[facts.ObservationKey, *facts.VisitObservation]
	patientStates *Table[facts.StateKey, *facts.PatientState]
	forms         *Table[facts.FormKey, *facts.Form]
	answers       *Table[facts.AnswerKey, *facts.FormAnswer]
}

func NewFactStore(q Querier, forUpdate bool) *FactStore {
	return &FactStore{
		types: NewTable(q, "fact_type",
			facts.TypeKey.String,
			func() *facts.FactType { return &facts.FactType{} }, forUpdate),
		observations: NewTable(q, "visit_observation",
			func(k facts.ObservationKey) string {
				return fmt.Sprintf("%s/%s/%d", k.Encounter, k.TypeID, k.ObservedAt)
			},
			func() *facts.VisitObservation { return &facts.VisitObservation{} }, forUpdate),
		patientStates: NewTable(q, "patient_state",
			func(k facts.StateKey) string {
				return fmt.Sprintf("%s/%s/%d", k.MrnID, k.TypeID, k.AddedAt)
			},
			func() *facts.PatientState { return &facts.PatientState{} }, forUpdate),
		forms: NewTable(q, "form",
			func(k facts.FormKey) string { return k.Encounter + "/" + k.FormCode },
			func() *facts.Form { return &facts.Form{} }, forUpdate),
		answers: NewTable(q, "form_answer",
			func(k facts.AnswerKey) string { return k.Encounter + "/" + k.FormCode + "/" + k.QuestionCode },
			func() *facts.FormAnswer { return &facts.FormAnswer{} }, forUpdate),
	}
}

func (s *FactStore) Types() temporal.Table[facts.TypeKey, *facts.FactType] { return s.types }

func (s *FactStore) Observations() temporal.Table[facts.ObservationKey, *facts.VisitObservation] {
	return s.observations
}

func (s *FactStore) PatientStates() temporal.Table[facts.StateKey, *facts.PatientState] {
	return s.patientStates
}

func (s *FactStore) Forms() temporal.Table[facts.FormKey, *facts.Form] { return s.forms }

func (s *FactStore) Answers() temporal.Table[facts.AnswerKey, *facts.FormAnswer] { return s.answers }
