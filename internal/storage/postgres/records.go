package postgres

import (
	"context"
	"fmt"
	"time"

	"concord/internal/consistency"
	"concord/internal/effectlog"
)

// ContradictionStore persists contradiction records. Appends run on the pool,
// never inside a message transaction: the evidence must survive the rollback.
type ContradictionStore struct {
	q Querier
}

func NewContradictionStore(q Querier) *ContradictionStore {
	return &ContradictionStore{q: q}
}

func (s *ContradictionStore) Append(ctx context.Context, rec consistency.Record) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO contradiction (id, message_id, message_kind, mrn, visit_number, description, prior_state, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.MessageID, rec.MessageKind, rec.Mrn, rec.VisitNumber, rec.Description, rec.PriorState, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append contradiction: %w", err)
	}
	return nil
}

func (s *ContradictionStore) List(ctx context.Context, limit int) ([]consistency.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, message_id, message_kind, mrn, visit_number, description, prior_state, recorded_at
		   FROM contradiction ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list contradictions: %w", err)
	}
	defer rows.Close()

	var out []consistency.Record
	for rows.Next() {
		var rec consistency.Record
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.MessageKind, &rec.Mrn, &rec.VisitNumber,
			&rec.Description, &rec.PriorState, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan contradiction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EffectStore persists the effect journal.
type EffectStore struct {
	q Querier
}

func NewEffectStore(q Querier) *EffectStore {
	return &EffectStore{q: q}
}

func (s *EffectStore) Append(ctx context.Context, effect effectlog.Effect) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO effect (id, message_id, message_kind, mrn, visit_number, outcome, reason, changes, duration_us, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		effect.ID, effect.MessageID, effect.MessageKind, effect.Mrn, effect.VisitNumber,
		effect.Outcome, effect.Reason, effect.Changes, effect.Duration.Microseconds(), effect.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append effect: %w", err)
	}
	return nil
}

func (s *EffectStore) List(ctx context.Context, limit int) ([]effectlog.Effect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, message_id, message_kind, mrn, visit_number, outcome, reason, changes, duration_us, recorded_at
		   FROM effect ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list effects: %w", err)
	}
	defer rows.Close()

	var out []effectlog.Effect
	for rows.Next() {
		var effect effectlog.Effect
		var durationUS int64
		if err := rows.Scan(&effect.ID, &effect.MessageID, &effect.MessageKind, &effect.Mrn, &effect.VisitNumber,
			&effect.Outcome, &effect.Reason, &effect.Changes, &durationUS, &effect.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan effect: %w", err)
		}
		effect.Duration = time.Duration(durationUS) * time.Microsecond
		out = append(out, effect)
	}
	return out, rows.Err()
}
