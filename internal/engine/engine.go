// Package engine orchestrates message processing: one canonical message, one
// transaction, one outcome. Per-patient ordering is enforced with in-process
// key locks; transient store failures are retried with the same message.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"concord/internal/consistency"
	"concord/internal/effectlog"
	"concord/internal/facts"
	"concord/internal/identity"
	"concord/internal/interchange"
	"concord/internal/platform/metrics"
	"concord/internal/storage"
	"concord/internal/visit"
	"concord/internal/waveform"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
)

// errContradiction forces the transaction to roll back when a handler
// classifies the message as contradictory. The outcome travels alongside.
var errContradiction = errors.New("contradiction detected")

const (
	defaultRetryBudget = 3
	retryBaseDelay     = 50 * time.Millisecond
)

// Engine is the processing orchestrator.
type Engine struct {
	runner         storage.Runner
	contradictions consistency.Store
	journal        *effectlog.Journal
	typeCache      *redis.Client
	locks          *keyLocks
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	logger         *slog.Logger
	retryBudget    int
}

// Options carries the optional collaborators.
type Options struct {
	Journal     *effectlog.Journal
	TypeCache   *redis.Client
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	RetryBudget int
}

func New(runner storage.Runner, contradictions consistency.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = defaultRetryBudget
	}
	return &Engine{
		runner:         runner,
		contradictions: contradictions,
		journal:        opts.Journal,
		typeCache:      opts.TypeCache,
		locks:          newKeyLocks(),
		metrics:        opts.Metrics,
		tracer:         otel.Tracer("concord/engine"),
		logger:         opts.Logger,
		retryBudget:    opts.RetryBudget,
	}
}

// Process applies one canonical message. All effects commit atomically; a
// contradiction rolls the transaction back, records the conflict, and returns
// a contradiction outcome rather than an error.
func (e *Engine) Process(ctx context.Context, msg interchange.Message) (consistency.Outcome, error) {
	env := msg.Env()
	if err := env.Validate(); err != nil {
		return consistency.Outcome{}, err
	}
	storedFrom := env.RecordedTime
	if storedFrom.IsZero() {
		storedFrom = time.Now().UTC()
	}

	ctx, span := e.tracer.Start(ctx, "engine.process", trace.WithAttributes(
		attribute.String("message.kind", string(msg.Kind())),
		attribute.String("message.id", env.MessageID),
	))
	defer span.End()

	release := e.locks.acquire(e.lockKeys(msg)...)
	defer release()

	start := time.Now()
	var outcome consistency.Outcome
	var err error
	for attempt := 0; ; attempt++ {
		outcome, err = e.processOnce(ctx, msg, env, storedFrom)
		if err == nil || attempt >= e.retryBudget || !retryable(err) {
			break
		}
		e.metrics.IncrementRetries()
		e.logger.Warn("transient failure, retrying message",
			"message_id", env.MessageID, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return consistency.Outcome{}, domainerrors.Wrap(ctx.Err(), domainerrors.CodeUnavailable, "processing cancelled")
		case <-time.After(retryBaseDelay << attempt):
		}
	}
	duration := time.Since(start)
	if err != nil {
		e.metrics.ObserveMessage(string(msg.Kind()), "error", duration)
		return consistency.Outcome{}, err
	}

	if outcome.Kind == consistency.KindContradiction {
		e.recordContradiction(ctx, env, msg, outcome)
	}
	e.metrics.ObserveMessage(string(msg.Kind()), outcome.Kind.String(), duration)
	if e.journal != nil {
		e.journal.Record(effectlog.Effect{
			MessageID:   env.MessageID,
			MessageKind: string(msg.Kind()),
			Mrn:         env.Mrn,
			VisitNumber: env.VisitNumber,
			Duration:    duration,
		}, outcome)
	}
	e.logger.Debug("message processed",
		"message_id", env.MessageID, "kind", msg.Kind(), "outcome", outcome.Kind.String())
	return outcome, nil
}

func (e *Engine) processOnce(ctx context.Context, msg interchange.Message, env interchange.Envelope, storedFrom time.Time) (consistency.Outcome, error) {
	var outcome consistency.Outcome
	err := e.runner.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		outcome, err = e.dispatch(ctx, stores, msg, env, storedFrom)
		if err != nil {
			return err
		}
		if outcome.Kind == consistency.KindContradiction {
			return errContradiction
		}
		return nil
	})
	if errors.Is(err, errContradiction) {
		return outcome, nil
	}
	if err != nil {
		return consistency.Outcome{}, err
	}
	return outcome, nil
}

func (e *Engine) dispatch(ctx context.Context, stores storage.Stores, msg interchange.Message, env interchange.Envelope, storedFrom time.Time) (consistency.Outcome, error) {
	resolver := identity.NewResolver(stores.Identity(), e.logger)
	visits := visit.NewService(stores.Visits(), e.logger)
	factTypes := facts.NewTypeRegistry(stores.Facts(), e.typeCache, e.logger)
	factSvc := facts.NewService(stores.Facts(), factTypes, e.logger)
	waveforms := waveform.NewService(stores.Waveforms(), e.logger)

	owner, err := resolver.ResolveLive(ctx, env.Mrn, env.NhsNumber, env.SourceSystem, env.EventTime, storedFrom)
	if err != nil {
		return consistency.Outcome{}, err
	}

	switch m := msg.(type) {
	case *interchange.AdmitPatient:
		return e.withDemographics(ctx, resolver, owner, m.Demographics, env, storedFrom, func() (consistency.Outcome, error) {
			return visits.Admit(ctx, owner, m)
		})
	case *interchange.RegisterPatient:
		return e.withDemographics(ctx, resolver, owner, m.Demographics, env, storedFrom, func() (consistency.Outcome, error) {
			return visits.Register(ctx, owner, m)
		})
	case *interchange.TransferPatient:
		return e.withDemographics(ctx, resolver, owner, m.Demographics, env, storedFrom, func() (consistency.Outcome, error) {
			return visits.Transfer(ctx, owner, m)
		})
	case *interchange.DischargePatient:
		return e.withDemographics(ctx, resolver, owner, m.Demographics, env, storedFrom, func() (consistency.Outcome, error) {
			return visits.Discharge(ctx, owner, m)
		})
	case *interchange.CancelAdmitPatient:
		return visits.CancelAdmit(ctx, owner, m)
	case *interchange.CancelTransferPatient:
		return visits.CancelTransfer(ctx, owner, m)
	case *interchange.CancelDischarge:
		return visits.CancelDischarge(ctx, owner, m)
	case *interchange.UpdatePatientInfo:
		change, err := resolver.UpdateDemographics(ctx, owner, m.Demographics, env.EventTime, storedFrom)
		if err != nil {
			return consistency.Outcome{}, err
		}
		return consistency.Applied(change), nil
	case *interchange.MergeByID:
		outcome, retiringID, err := resolver.Merge(ctx, owner, m.RetiringMrn, m.RetiringNhsNumber, env.SourceSystem, env.EventTime, storedFrom)
		if err != nil {
			return consistency.Outcome{}, err
		}
		if outcome.Kind == consistency.KindIgnored && len(outcome.Changes) == 0 {
			return outcome, nil
		}
		changes, err := visits.ReassignOwner(ctx, retiringID, owner.ID, env.EventTime, storedFrom)
		if err != nil {
			return consistency.Outcome{}, err
		}
		return outcome.Merge(consistency.Applied(changes...)), nil
	case *interchange.PendingEvent:
		return visits.RecordPending(ctx, owner, m)
	case *interchange.CancelPendingEvent:
		return visits.CancelPending(ctx, m)
	case *interchange.Flowsheet:
		return factSvc.RecordFlowsheet(ctx, owner, m)
	case *interchange.PatientState:
		return factSvc.RecordPatientState(ctx, owner, m)
	case *interchange.FormAnswers:
		return factSvc.RecordFormAnswers(ctx, owner, m)
	case *interchange.WaveformBatch:
		outcome, err := waveforms.RecordBatch(ctx, owner, m)
		if err == nil && outcome.Kind == consistency.KindApplied {
			e.metrics.AddWaveformSamples(len(m.Values))
		}
		return outcome, err
	default:
		return consistency.Outcome{}, domainerrors.Newf(domainerrors.CodeUnsupportedKind, "no handler for message kind %q", msg.Kind())
	}
}

// withDemographics folds the demographic fields every ADT message may carry,
// then runs the lifecycle operation. A lifecycle contradiction rolls both
// back.
func (e *Engine) withDemographics(ctx context.Context, resolver *identity.Resolver, owner *identity.Mrn, d interchange.Demographics, env interchange.Envelope, storedFrom time.Time, op func() (consistency.Outcome, error)) (consistency.Outcome, error) {
	change, err := resolver.UpdateDemographics(ctx, owner, d, env.EventTime, storedFrom)
	if err != nil {
		return consistency.Outcome{}, err
	}
	outcome, err := op()
	if err != nil {
		return consistency.Outcome{}, err
	}
	return outcome.Merge(consistency.Applied(change)), nil
}

// lockKeys returns the patient identifiers this message touches. Merges lock
// both patients.
func (e *Engine) lockKeys(msg interchange.Message) []string {
	env := msg.Env()
	keys := []string{env.Mrn, env.NhsNumber}
	if m, ok := msg.(*interchange.MergeByID); ok {
		keys = append(keys, m.RetiringMrn, m.RetiringNhsNumber)
	}
	return keys
}

func (e *Engine) recordContradiction(ctx context.Context, env interchange.Envelope, msg interchange.Message, outcome consistency.Outcome) {
	e.metrics.IncrementContradictions()
	rec := consistency.Record{
		ID:          uuid.New(),
		MessageID:   env.MessageID,
		MessageKind: string(msg.Kind()),
		Mrn:         env.Mrn,
		VisitNumber: env.VisitNumber,
		RecordedAt:  time.Now().UTC(),
	}
	if outcome.Conflict != nil {
		rec.Description = outcome.Conflict.Description
		rec.PriorState = outcome.Conflict.PriorState
	}
	if err := e.contradictions.Append(ctx, rec); err != nil {
		e.logger.Error("failed to record contradiction",
			"message_id", env.MessageID, "error", err)
	}
	e.logger.Warn("message contradicts recorded state",
		"message_id", env.MessageID, "kind", msg.Kind(), "description", rec.Description)
}

// retryable reports whether the failure is transient: connection loss,
// serialization conflict, raced live rows.
func retryable(err error) bool {
	if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrUnavailable) {
		return true
	}
	return domainerrors.HasCode(err, domainerrors.CodeUnavailable)
}
