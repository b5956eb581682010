package facts

import (
	"concord/internal/temporal"
)

// Store is the persistence capability for fact types and the fact families
// built on them.
type Store interface {
	Types() temporal.Table[TypeKey, *FactType]
	Observations() temporal.Table[ObservationKey, *VisitObservation]
	PatientStates() temporal.Table[StateKey, *PatientState]
	Forms() temporal.Table[FormKey, *Form]
	Answers() temporal.Table[AnswerKey, *FormAnswer]
}
