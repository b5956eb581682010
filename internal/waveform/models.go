package waveform

import (
	"time"

	"github.com/google/uuid"
)

// BatchKey identifies one delivered chunk of samples. Redelivery of the same
// chunk carries the same key.
type BatchKey struct {
	Encounter  string
	ChannelID  string
	BatchStart int64 // unix nanoseconds
}

// Batch is an append-only chunk of periodic samples from one bedside channel.
// Batches are never versioned or superseded; retention trims them wholesale.
type Batch struct {
	ID             uuid.UUID `json:"id"`
	Encounter      string    `json:"encounter"`
	MrnID          uuid.UUID `json:"mrn_id"`
	SourceLocation string    `json:"source_location,omitempty"`
	ChannelID      string    `json:"channel_id"`
	SamplingRate   int       `json:"sampling_rate"`
	Unit           string    `json:"unit,omitempty"`
	BatchStart     time.Time `json:"batch_start"`
	Values         []float64 `json:"values"`
	StoredFrom     time.Time `json:"stored_from"`
}

// Key returns the duplicate-detection key for the batch.
func (b *Batch) Key() BatchKey {
	return BatchKey{Encounter: b.Encounter, ChannelID: b.ChannelID, BatchStart: b.BatchStart.UnixNano()}
}

// End returns the instant just past the batch's last sample.
func (b *Batch) End() time.Time {
	if b.SamplingRate <= 0 || len(b.Values) == 0 {
		return b.BatchStart
	}
	period := time.Second / time.Duration(b.SamplingRate)
	return b.BatchStart.Add(period * time.Duration(len(b.Values)))
}
