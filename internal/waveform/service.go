package waveform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"concord/internal/consistency"
	"concord/internal/identity"
	"concord/internal/interchange"
	"concord/internal/temporal"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
)

// Service appends waveform batches. Batches are raw time series rather than
// reconciled facts: they are inserted once and trimmed by retention, never
// superseded.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// RecordBatch appends one sample chunk. Redelivery of an identical batch key
// is a no-op rather than an error.
func (s *Service) RecordBatch(ctx context.Context, owner *identity.Mrn, msg *interchange.WaveformBatch) (consistency.Outcome, error) {
	if msg.ChannelID == "" {
		return consistency.Outcome{}, domainerrors.New(domainerrors.CodeInvalidInput, "waveform batch carries no channel id")
	}
	if len(msg.Values) == 0 {
		return consistency.Ignore("waveform batch carries no samples"), nil
	}
	if msg.SamplingRate <= 0 {
		return consistency.Outcome{}, domainerrors.Newf(domainerrors.CodeInvalidInput, "waveform batch carries sampling rate %d", msg.SamplingRate)
	}

	batch := &Batch{
		ID:             uuid.New(),
		Encounter:      msg.VisitNumber,
		MrnID:          owner.ID,
		SourceLocation: msg.SourceLocation,
		ChannelID:      msg.ChannelID,
		SamplingRate:   msg.SamplingRate,
		Unit:           msg.Unit,
		BatchStart:     msg.BatchStart,
		Values:         msg.Values,
		StoredFrom:     msg.RecordedTime,
	}
	key := batch.Key()
	if err := s.store.Insert(ctx, batch); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return consistency.Ignore(fmt.Sprintf("duplicate waveform batch %s/%s", msg.ChannelID, msg.BatchStart.UTC().Format(time.RFC3339Nano))), nil
		}
		return consistency.Outcome{}, err
	}
	return consistency.Applied(consistency.Change{
		Entity: "waveform_batch",
		Key:    fmt.Sprintf("%s/%s/%d", key.Encounter, key.ChannelID, key.BatchStart),
		Result: temporal.Created,
	}), nil
}

// TrimBefore deletes batches that ended before the cutoff. Called
// periodically; waveform volume makes indefinite retention impractical.
func (s *Service) TrimBefore(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("trimmed waveform batches", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}
