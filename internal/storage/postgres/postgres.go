// Package postgres persists the engine's state in PostgreSQL. Versioned
// entities share one JSONB-snapshot table; identifiers, waveform batches,
// contradictions and the effect journal have their own tables.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"concord/internal/facts"
	"concord/internal/identity"
	"concord/internal/storage"
	"concord/internal/visit"
	"concord/internal/waveform"
	domainerrors "concord/pkg/domain-errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS versions (
    id           bigserial PRIMARY KEY,
    entity       text        NOT NULL,
    key          text        NOT NULL,
    kind         text        NOT NULL,
    snapshot     jsonb       NOT NULL,
    valid_from   timestamptz NOT NULL,
    valid_until  timestamptz,
    stored_from  timestamptz NOT NULL,
    stored_until timestamptz,
    note         text
);
CREATE UNIQUE INDEX IF NOT EXISTS versions_live_key ON versions (entity, key) WHERE kind = 'live';
CREATE INDEX IF NOT EXISTS versions_interval ON versions (entity, key, valid_from);
CREATE INDEX IF NOT EXISTS versions_live_mrn ON versions ((snapshot->>'mrn_id')) WHERE kind = 'live';

CREATE TABLE IF NOT EXISTS mrn (
    id            uuid PRIMARY KEY,
    mrn           text,
    nhs_number    text,
    source_system text,
    stored_from   timestamptz NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS mrn_by_mrn ON mrn (mrn) WHERE mrn <> '';
CREATE INDEX IF NOT EXISTS mrn_by_nhs ON mrn (nhs_number) WHERE nhs_number <> '';

CREATE TABLE IF NOT EXISTS waveform_batch (
    id            uuid PRIMARY KEY,
    encounter     text NOT NULL,
    mrn_id        uuid NOT NULL,
    source_location text,
    channel_id    text NOT NULL,
    sampling_rate int  NOT NULL,
    unit          text,
    batch_start   timestamptz NOT NULL,
    batch_end     timestamptz NOT NULL,
    samples       float8[]    NOT NULL,
    stored_from   timestamptz NOT NULL,
    UNIQUE (encounter, channel_id, batch_start)
);

CREATE TABLE IF NOT EXISTS contradiction (
    id           uuid PRIMARY KEY,
    message_id   text,
    message_kind text,
    mrn          text,
    visit_number text,
    description  text NOT NULL,
    prior_state  text,
    recorded_at  timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS effect (
    id           uuid PRIMARY KEY,
    message_id   text,
    message_kind text,
    mrn          text,
    visit_number text,
    outcome      text NOT NULL,
    reason       text,
    changes      text[],
    duration_us  bigint,
    recorded_at  timestamptz NOT NULL
);
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Stores binds every per-feature store to one querier, either the pool for
// reads outside a transaction or a pgx.Tx inside one.
type Stores struct {
	identity  *IdentityStore
	visits    *VisitStore
	facts     *FactStore
	waveforms *WaveformStore
}

// NewStores builds the bundle. forUpdate row-locks live rows on read, the
// lost-update guard for tx-scoped stores.
func NewStores(q Querier, forUpdate bool) *Stores {
	return &Stores{
		identity:  NewIdentityStore(q, forUpdate),
		visits:    NewVisitStore(q, forUpdate),
		facts:     NewFactStore(q, forUpdate),
		waveforms: NewWaveformStore(q),
	}
}

func (s *Stores) Identity() identity.Store  { return s.identity }
func (s *Stores) Visits() visit.Store       { return s.visits }
func (s *Stores) Facts() facts.Store        { return s.facts }
func (s *Stores) Waveforms() waveform.Store { return s.waveforms }

// Runner wraps each message in one database transaction at repeatable-read
// isolation. Serialization conflicts surface as retryable errors.
type Runner struct {
	pool *pgxpool.Pool
}

func NewRunner(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

func (r *Runner) RunInTx(ctx context.Context, fn func(stores storage.Stores) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(NewStores(tx, true)); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(domainerrors.Wrap(err, domainerrors.CodeUnavailable, "commit transaction"))
	}
	return nil
}

// classify maps serialization failures and deadlocks onto the retryable
// error code so the orchestrator re-runs the message.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "transaction conflict")
		}
	}
	return err
}
