package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"concord/internal/identity"
	"concord/internal/temporal"
	"concord/pkg/platform/sentinel"
)

// IdentityStore persists identifiers, live pointers and demographics.
type IdentityStore struct {
	q            Querier
	toLive       *Table[uuid.UUID, *identity.MrnToLive]
	demographics *Table[uuid.UUID, *identity.Demographics]
}

func NewIdentityStore(q Querier, forUpdate bool) *IdentityStore {
	return &IdentityStore{
		q:            q,
		toLive:       NewTable(q, "mrn_to_live", uuidKey, func() *identity.MrnToLive { return &identity.MrnToLive{} }, forUpdate),
		demographics: NewTable(q, "demographics", uuidKey, func() *identity.Demographics { return &identity.Demographics{} }, forUpdate),
	}
}

func (s *IdentityStore) FindMrn(ctx context.Context, mrn, nhsNumber string) (*identity.Mrn, error) {
	if mrn != "" {
		found, err := s.findBy(ctx, `mrn = $1`, mrn)
		if err == nil || !errors.Is(err, sentinel.ErrNotFound) {
			return found, err
		}
	}
	if nhsNumber != "" {
		return s.findBy(ctx, `nhs_number = $1`, nhsNumber)
	}
	return nil, sentinel.ErrNotFound
}

func (s *IdentityStore) findBy(ctx context.Context, where string, arg any) (*identity.Mrn, error) {
	m := &identity.Mrn{}
	err := s.q.QueryRow(ctx,
		`SELECT id, mrn, nhs_number, source_system, stored_from FROM mrn WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&m.ID, &m.Mrn, &m.NhsNumber, &m.SourceSystem, &m.StoredFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find mrn: %w", err)
	}
	return m, nil
}

func (s *IdentityStore) GetMrnByID(ctx context.Context, id uuid.UUID) (*identity.Mrn, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *IdentityStore) InsertMrn(ctx context.Context, m *identity.Mrn) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO mrn (id, mrn, nhs_number, source_system, stored_from) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Mrn, m.NhsNumber, m.SourceSystem, m.StoredFrom,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert mrn: %w", err)
	}
	return nil
}

func (s *IdentityStore) ToLive() temporal.Table[uuid.UUID, *identity.MrnToLive] {
	return s.toLive
}

func (s *IdentityStore) FindPointingAt(ctx context.Context, liveID uuid.UUID) ([]*identity.MrnToLive, error) {
	return s.toLive.scanLive(ctx, "live_mrn_id", liveID.String())
}

func (s *IdentityStore) Demographics() temporal.Table[uuid.UUID, *identity.Demographics] {
	return s.demographics
}

func uuidKey(id uuid.UUID) string { return id.String() }
