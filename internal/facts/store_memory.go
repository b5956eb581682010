package facts

import (
	"concord/internal/storage/memtable"
	"concord/internal/temporal"
)

// MemoryStore keeps fact types and facts in memory.
type MemoryStore struct {
	types         *memtable.Table[TypeKey, *FactType]
	observations  *memtable.Table[ObservationKey, *VisitObservation]
	patientStates *memtable.Table[StateKey, *PatientState]
	forms         *memtable.Table[FormKey, *Form]
	answers       *memtable.Table[AnswerKey, *FormAnswer]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		types:         memtable.New[TypeKey, *FactType](),
		observations:  memtable.New[ObservationKey, *VisitObservation](),
		patientStates: memtable.New[StateKey, *PatientState](),
		forms:         memtable.New[FormKey, *Form](),
		answers:       memtable.New[AnswerKey, *FormAnswer](),
	}
}

func (s *MemoryStore) Types() temporal.Table[TypeKey, *FactType] { return s.types }

func (s *MemoryStore) Observations() temporal.Table[ObservationKey, *VisitObservation] {
	return s.observations
}

func (s *MemoryStore) PatientStates() temporal.Table[StateKey, *PatientState] {
	return s.patientStates
}

func (s *MemoryStore) Forms() temporal.Table[FormKey, *Form] { return s.forms }

func (s *MemoryStore) Answers() temporal.Table[AnswerKey, *FormAnswer] { return s.answers }

// memorySnapshot supports transactional rollback of the whole store.
type memorySnapshot struct {
	types         memtable.Snapshot[TypeKey, *FactType]
	observations  memtable.Snapshot[ObservationKey, *VisitObservation]
	patientStates memtable.Snapshot[StateKey, *PatientState]
	forms         memtable.Snapshot[FormKey, *Form]
	answers       memtable.Snapshot[AnswerKey, *FormAnswer]
}

func (s *MemoryStore) Snapshot() any {
	return memorySnapshot{
		types:         s.types.Snapshot(),
		observations:  s.observations.Snapshot(),
		patientStates: s.patientStates.Snapshot(),
		forms:         s.forms.Snapshot(),
		answers:       s.answers.Snapshot(),
	}
}

func (s *MemoryStore) Restore(v any) {
	snap := v.(memorySnapshot)
	s.types.Restore(snap.types)
	s.observations.Restore(snap.observations)
	s.patientStates.Restore(snap.patientStates)
	s.forms.Restore(snap.forms)
	s.answers.Restore(snap.answers)
}
