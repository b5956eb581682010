package facts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"concord/internal/consistency"
	"concord/internal/identity"
	"concord/internal/interchange"
	"concord/internal/temporal"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
)

// Service reconciles typed clinical facts against patients and visits. It
// resolves each fact's type by natural key, then delegates versioning to the
// shared upsert rules.
type Service struct {
	store  Store
	types  *TypeRegistry
	logger *slog.Logger
}

func NewService(store Store, types *TypeRegistry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, types: types, logger: logger}
}

// RecordFlowsheet applies one flowsheet observation to a visit. A delete-
// valued observation closes the recorded fact.
func (s *Service) RecordFlowsheet(ctx context.Context, owner *identity.Mrn, msg *interchange.Flowsheet) (consistency.Outcome, error) {
	if msg.VisitNumber == "" {
		return consistency.Ignore("flowsheet carries no visit number"), nil
	}
	if msg.FlowsheetID == "" {
		return consistency.Outcome{}, domainerrors.New(domainerrors.CodeInvalidInput, "flowsheet carries no type code")
	}
	typeKey := TypeKey{Scope: ScopeFlowsheet, Code: flowsheetTypeCode(msg)}
	factType, err := s.types.GetOrCreate(ctx, typeKey, msg.SourceSystem, "", msg.Unit.Get(), string(msg.ValueType), msg.EventTime, msg.RecordedTime)
	if err != nil {
		return consistency.Outcome{}, err
	}

	key := ObservationKey{Encounter: msg.VisitNumber, TypeID: factType.ID, ObservedAt: msg.ObservationTime.UnixNano()}
	if deleted(msg) {
		return s.closeObservation(ctx, key, msg)
	}

	result, err := temporal.Upsert(ctx, s.store.Observations(), key,
		func() *VisitObservation {
			return &VisitObservation{
				Encounter:       msg.VisitNumber,
				MrnID:           owner.ID,
				TypeID:          factType.ID,
				ObservationTime: msg.ObservationTime,
				ValueType:       msg.ValueType,
			}
		},
		func(rs *temporal.RowState[*VisitObservation]) error {
			o := rs.Entity()
			switch msg.ValueType {
			case interchange.FlowsheetNumeric:
				temporal.AssignValuePtr(rs, msg.NumericValue, o.NumericValue, func(v *float64) { o.NumericValue = v })
			case interchange.FlowsheetText:
				temporal.AssignValue(rs, msg.StringValue, o.StringValue, func(v string) { o.StringValue = v })
			case interchange.FlowsheetDate:
				temporal.AssignValuePtr(rs, msg.DateValue, o.DateValue, func(v *time.Time) { o.DateValue = v })
			default:
				return domainerrors.Newf(domainerrors.CodeInvalidInput, "unknown flowsheet value type %q", msg.ValueType)
			}
			temporal.AssignValue(rs, msg.Unit, o.Unit, func(v string) { o.Unit = v })
			temporal.AssignValue(rs, msg.Comment, o.Comment, func(v string) { o.Comment = v })
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "visit_observation", Key: observationKeyString(key), Result: result}), nil
}

// closeObservation retires a recorded observation when the source deletes it.
func (s *Service) closeObservation(ctx context.Context, key ObservationKey, msg *interchange.Flowsheet) (consistency.Outcome, error) {
	live, err := s.store.Observations().GetCurrentLive(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return consistency.Ignore("deletion for an observation never recorded"), nil
		}
		return consistency.Outcome{}, err
	}
	if !live.Live() || live.ValidUntil != nil {
		return consistency.Ignore("observation already retired"), nil
	}
	next := live.Copy()
	next.CloseValidity(msg.EventTime)
	next.StoredFrom = msg.RecordedTime
	audit := temporal.MakeAudit(live, msg.EventTime, msg.RecordedTime)
	if err := s.store.Observations().ReplaceLive(ctx, key, next, audit); err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "visit_observation", Key: observationKeyString(key), Result: temporal.Updated}), nil
}

// RecordPatientState applies a problem or infection state to the patient. An
// explicit resolution time closes the fact's validity.
func (s *Service) RecordPatientState(ctx context.Context, owner *identity.Mrn, msg *interchange.PatientState) (consistency.Outcome, error) {
	if msg.Condition == "" {
		return consistency.Outcome{}, domainerrors.New(domainerrors.CodeInvalidInput, "patient state carries no condition code")
	}
	typeKey := TypeKey{Scope: ScopePatientState, Code: msg.Condition}
	factType, err := s.types.GetOrCreate(ctx, typeKey, msg.SourceSystem, msg.Condition, "", "", msg.EventTime, msg.RecordedTime)
	if err != nil {
		return consistency.Outcome{}, err
	}

	addedTime := msg.AddedTime
	if addedTime.IsZero() {
		addedTime = msg.EventTime
	}
	key := StateKey{MrnID: owner.ID, TypeID: factType.ID, AddedAt: addedTime.UnixNano()}
	result, err := temporal.Upsert(ctx, s.store.PatientStates(), key,
		func() *PatientState {
			return &PatientState{MrnID: owner.ID, TypeID: factType.ID, AddedTime: addedTime}
		},
		func(rs *temporal.RowState[*PatientState]) error {
			p := rs.Entity()
			temporal.AssignValue(rs, msg.Status, p.Status, func(v string) { p.Status = v })
			temporal.AssignValue(rs, msg.Comment, p.Comment, func(v string) { p.Comment = v })
			if msg.ResolvedTime.Known() && !msg.ResolvedTime.IsDelete() {
				resolved := msg.ResolvedTime.Get()
				if temporal.AssignPtr(rs, &resolved, p.ResolvedTime, func(v *time.Time) { p.ResolvedTime = v }) {
					p.CloseValidity(resolved)
				}
			}
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{Entity: "patient_state", Key: fmt.Sprintf("%s/%s/%d", owner.ID, msg.Condition, addedTime.UnixNano()), Result: result}), nil
}

// RecordFormAnswers applies a filed form and its answers. Each answer is its
// own fact keyed by question code, so partial refilings update only the
// questions they carry.
func (s *Service) RecordFormAnswers(ctx context.Context, owner *identity.Mrn, msg *interchange.FormAnswers) (consistency.Outcome, error) {
	if msg.VisitNumber == "" {
		return consistency.Ignore("form answers carry no visit number"), nil
	}
	if msg.FormCode == "" {
		return consistency.Outcome{}, domainerrors.New(domainerrors.CodeInvalidInput, "form answers carry no form code")
	}
	filedTime := msg.FiledTime
	if filedTime.IsZero() {
		filedTime = msg.EventTime
	}

	formType, err := s.types.GetOrCreate(ctx, TypeKey{Scope: ScopeForm, Code: msg.FormCode}, msg.SourceSystem, msg.FormName.Get(), "", "", msg.EventTime, msg.RecordedTime)
	if err != nil {
		return consistency.Outcome{}, err
	}
	formKey := FormKey{Encounter: msg.VisitNumber, FormCode: msg.FormCode}
	formResult, err := temporal.Upsert(ctx, s.store.Forms(), formKey,
		func() *Form {
			return &Form{Encounter: msg.VisitNumber, MrnID: owner.ID, TypeID: formType.ID}
		},
		func(rs *temporal.RowState[*Form]) error {
			f := rs.Entity()
			temporal.Assign(rs, filedTime, f.FiledTime, func(v time.Time) { f.FiledTime = v })
			return nil
		},
		msg.EventTime, msg.RecordedTime,
	)
	if err != nil {
		return consistency.Outcome{}, err
	}

	changes := []consistency.Change{{Entity: "form", Key: formKey.Encounter + "/" + formKey.FormCode, Result: formResult}}
	for _, answer := range msg.Answers {
		if answer.QuestionCode == "" {
			continue
		}
		questionType, err := s.types.GetOrCreate(ctx, TypeKey{Scope: ScopeFormQuestion, Code: answer.QuestionCode}, msg.SourceSystem, answer.QuestionText.Get(), "", "", msg.EventTime, msg.RecordedTime)
		if err != nil {
			return consistency.Outcome{}, err
		}
		answerKey := AnswerKey{Encounter: msg.VisitNumber, FormCode: msg.FormCode, QuestionCode: answer.QuestionCode}
		value := answer.Value
		result, err := temporal.Upsert(ctx, s.store.Answers(), answerKey,
			func() *FormAnswer {
				return &FormAnswer{Encounter: msg.VisitNumber, FormCode: msg.FormCode, QuestionTypeID: questionType.ID}
			},
			func(rs *temporal.RowState[*FormAnswer]) error {
				a := rs.Entity()
				temporal.AssignValue(rs, value, a.Value, func(v string) { a.Value = v })
				return nil
			},
			msg.EventTime, msg.RecordedTime,
		)
		if err != nil {
			return consistency.Outcome{}, err
		}
		changes = append(changes, consistency.Change{Entity: "form_answer", Key: answerKey.Encounter + "/" + answerKey.FormCode + "/" + answerKey.QuestionCode, Result: result})
	}
	return consistency.Applied(changes...), nil
}

// flowsheetTypeCode builds the natural key for a flowsheet row. Epic feeds
// carry an interface id alongside the flowsheet row id; other feeds carry the
// row id alone.
func flowsheetTypeCode(msg *interchange.Flowsheet) string {
	if msg.InterfaceID != "" {
		return msg.SourceType + "/" + msg.InterfaceID + "/" + msg.FlowsheetID
	}
	if msg.SourceType != "" {
		return msg.SourceType + "/" + msg.FlowsheetID
	}
	return msg.FlowsheetID
}

// deleted reports whether the message explicitly deletes the observation's
// value rather than updating it.
func deleted(msg *interchange.Flowsheet) bool {
	switch msg.ValueType {
	case interchange.FlowsheetNumeric:
		return msg.NumericValue.IsDelete()
	case interchange.FlowsheetText:
		return msg.StringValue.IsDelete()
	case interchange.FlowsheetDate:
		return msg.DateValue.IsDelete()
	default:
		return false
	}
}

func observationKeyString(key ObservationKey) string {
	return fmt.Sprintf("%s/%s/%d", key.Encounter, key.TypeID, key.ObservedAt)
}
