package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"concord/internal/temporal"
	"concord/pkg/platform/sentinel"
)

// Querier is the subset of pgx satisfied by both a pool and a transaction, so
// the same store code runs inside and outside a message transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	rowLive    = "live"
	rowHistory = "history"
	rowAudit   = "audit"
)

// Table stores one versioned entity kind in the shared versions table. The
// full entity is a JSONB snapshot; the temporal columns are duplicated out of
// the snapshot so indexes can serve interval queries.
type Table[K comparable, E temporal.Entity[E]] struct {
	q         Querier
	entity    string
	encodeKey func(K) string
	newEntity func() E
	forUpdate bool
}

func NewTable[K comparable, E temporal.Entity[E]](q Querier, entity string, encodeKey func(K) string, newEntity func() E, forUpdate bool) *Table[K, E] {
	return &Table[K, E]{q: q, entity: entity, encodeKey: encodeKey, newEntity: newEntity, forUpdate: forUpdate}
}

func (t *Table[K, E]) GetCurrentLive(ctx context.Context, key K) (E, error) {
	var zero E
	query := `SELECT snapshot FROM versions WHERE entity = $1 AND key = $2 AND kind = 'live'`
	if t.forUpdate {
		query += ` FOR UPDATE`
	}
	var snapshot []byte
	err := t.q.QueryRow(ctx, query, t.entity, t.encodeKey(key)).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, sentinel.ErrNotFound
		}
		return zero, fmt.Errorf("get live %s: %w", t.entity, err)
	}
	return t.decode(snapshot)
}

func (t *Table[K, E]) InsertLive(ctx context.Context, key K, entity E) error {
	if err := t.insert(ctx, key, entity, rowLive, ""); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return err
	}
	return nil
}

func (t *Table[K, E]) ReplaceLive(ctx context.Context, key K, next E, audit E) error {
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("encode %s audit: %w", t.entity, err)
	}
	core := audit.Temporal()
	tag, err := t.q.Exec(ctx,
		`UPDATE versions
		    SET kind = 'audit', snapshot = $3, valid_until = $4, stored_until = $5
		  WHERE entity = $1 AND key = $2 AND kind = 'live'`,
		t.entity, t.encodeKey(key), auditJSON, core.ValidUntil, core.StoredUntil,
	)
	if err != nil {
		return fmt.Errorf("supersede live %s: %w", t.entity, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return t.insert(ctx, key, next, rowLive, "")
}

func (t *Table[K, E]) InsertHistory(ctx context.Context, key K, version E, note string) error {
	// A replayed out-of-order message overwrites its own historical version
	// rather than stacking duplicates.
	_, err := t.q.Exec(ctx,
		`DELETE FROM versions WHERE entity = $1 AND key = $2 AND kind = 'history' AND valid_from = $3`,
		t.entity, t.encodeKey(key), version.Temporal().ValidFrom,
	)
	if err != nil {
		return fmt.Errorf("clear prior history %s: %w", t.entity, err)
	}
	return t.insert(ctx, key, version, rowHistory, note)
}

func (t *Table[K, E]) FindHistory(ctx context.Context, key K, validFrom time.Time) (E, error) {
	var zero E
	var snapshot []byte
	err := t.q.QueryRow(ctx,
		`SELECT snapshot FROM versions
		  WHERE entity = $1 AND key = $2 AND kind = 'history' AND valid_from = $3
		  ORDER BY stored_from DESC LIMIT 1`,
		t.entity, t.encodeKey(key), validFrom,
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, sentinel.ErrNotFound
		}
		return zero, fmt.Errorf("find history %s: %w", t.entity, err)
	}
	return t.decode(snapshot)
}

func (t *Table[K, E]) AsOf(ctx context.Context, key K, at time.Time) (E, error) {
	var zero E
	var snapshot []byte
	err := t.q.QueryRow(ctx,
		`SELECT snapshot FROM versions
		  WHERE entity = $1 AND key = $2
		    AND valid_from <= $3 AND (valid_until IS NULL OR valid_until > $3)
		  ORDER BY valid_from DESC, stored_from DESC LIMIT 1`,
		t.entity, t.encodeKey(key), at,
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, sentinel.ErrNotFound
		}
		return zero, fmt.Errorf("as-of %s: %w", t.entity, err)
	}
	return t.decode(snapshot)
}

func (t *Table[K, E]) Audits(ctx context.Context, key K) ([]E, error) {
	rows, err := t.q.Query(ctx,
		`SELECT snapshot FROM versions
		  WHERE entity = $1 AND key = $2 AND kind = 'audit'
		  ORDER BY valid_from, stored_from`,
		t.entity, t.encodeKey(key),
	)
	if err != nil {
		return nil, fmt.Errorf("list audits %s: %w", t.entity, err)
	}
	defer rows.Close()
	return t.collect(rows)
}

// scanLive decodes every live row matching a JSONB predicate on the snapshot.
func (t *Table[K, E]) scanLive(ctx context.Context, field, value string) ([]E, error) {
	rows, err := t.q.Query(ctx,
		`SELECT snapshot FROM versions
		  WHERE entity = $1 AND kind = 'live' AND snapshot->>`+pgQuote(field)+` = $2`,
		t.entity, value,
	)
	if err != nil {
		return nil, fmt.Errorf("scan live %s by %s: %w", t.entity, field, err)
	}
	defer rows.Close()
	return t.collect(rows)
}

func (t *Table[K, E]) collect(rows pgx.Rows) ([]E, error) {
	var out []E
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan %s snapshot: %w", t.entity, err)
		}
		entity, err := t.decode(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

func (t *Table[K, E]) insert(ctx context.Context, key K, entity E, kind, note string) error {
	snapshot, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", t.entity, err)
	}
	core := entity.Temporal()
	_, err = t.q.Exec(ctx,
		`INSERT INTO versions (entity, key, kind, snapshot, valid_from, valid_until, stored_from, stored_until, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
		t.entity, t.encodeKey(key), kind, snapshot,
		core.ValidFrom, core.ValidUntil, core.StoredFrom, core.StoredUntil, note,
	)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", kind, t.entity, err)
	}
	return nil
}

func (t *Table[K, E]) decode(snapshot []byte) (E, error) {
	entity := t.newEntity()
	if err := json.Unmarshal(snapshot, entity); err != nil {
		var zero E
		return zero, fmt.Errorf("decode %s snapshot: %w", t.entity, err)
	}
	return entity, nil
}

// pgQuote wraps a trusted column-literal in single quotes. Field names come
// from compile-time constants, never from input.
func pgQuote(s string) string {
	return "'" + s + "'"
}
