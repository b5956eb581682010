package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"concord/internal/waveform"
	"concord/pkg/platform/sentinel"
)

// WaveformStore persists append-only waveform batches. The sample array lives
// in a float8[] column; batch_end is precomputed so retention can delete by
// index without touching samples.
type WaveformStore struct {
	q Querier
}

func NewWaveformStore(q Querier) *WaveformStore {
	return &WaveformStore{q: q}
}

func (s *WaveformStore) Insert(ctx context.Context, batch *waveform.Batch) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO waveform_batch
		   (id, encounter, mrn_id, source_location, channel_id, sampling_rate, unit, batch_start, batch_end, samples, stored_from)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		batch.ID, batch.Encounter, batch.MrnID, batch.SourceLocation, batch.ChannelID,
		batch.SamplingRate, batch.Unit, batch.BatchStart, batch.End(), batch.Values, batch.StoredFrom,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert waveform batch: %w", err)
	}
	return nil
}

func (s *WaveformStore) ListChannel(ctx context.Context, encounter, channelID string) ([]*waveform.Batch, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, encounter, mrn_id, source_location, channel_id, sampling_rate, unit, batch_start, samples, stored_from
		   FROM waveform_batch
		  WHERE encounter = $1 AND channel_id = $2
		  ORDER BY batch_start`,
		encounter, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("list waveform batches: %w", err)
	}
	defer rows.Close()

	var out []*waveform.Batch
	for rows.Next() {
		b := &waveform.Batch{}
		if err := rows.Scan(&b.ID, &b.Encounter, &b.MrnID, &b.SourceLocation, &b.ChannelID,
			&b.SamplingRate, &b.Unit, &b.BatchStart, &b.Values, &b.StoredFrom); err != nil {
			return nil, fmt.Errorf("scan waveform batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *WaveformStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM waveform_batch WHERE batch_end < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim waveform batches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
