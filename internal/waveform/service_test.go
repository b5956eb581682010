package waveform

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"concord/internal/consistency"
	"concord/internal/identity"
	"concord/internal/interchange"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *MemoryStore
	service *Service
	owner   *identity.Mrn
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
	s.service = NewService(s.store, nil)
	s.owner = &identity.Mrn{ID: uuid.New(), Mrn: "P1"}
}

func (s *ServiceSuite) batch(start time.Time, values ...float64) *interchange.WaveformBatch {
	return &interchange.WaveformBatch{
		Envelope: interchange.Envelope{
			MessageID:    uuid.NewString(),
			Mrn:          "P1",
			VisitNumber:  "V1",
			SourceSystem: "MONITOR",
			EventTime:    start,
			RecordedTime: start.Add(time.Second),
		},
		SourceLocation: "BED-7",
		ChannelID:      "ECG-II",
		SamplingRate:   300,
		Unit:           "mV",
		BatchStart:     start,
		Values:         values,
	}
}

func (s *ServiceSuite) TestRecordBatch() {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Run("first delivery is stored", func() {
		out, err := s.service.RecordBatch(s.ctx, s.owner, s.batch(start, 0.1, 0.2, 0.3))
		s.Require().NoError(err)
		s.Equal(consistency.KindApplied, out.Kind)

		stored, err := s.store.ListChannel(s.ctx, "V1", "ECG-II")
		s.Require().NoError(err)
		s.Require().Len(stored, 1)
		s.Equal([]float64{0.1, 0.2, 0.3}, stored[0].Values)
		s.Equal(s.owner.ID, stored[0].MrnID)
	})

	s.Run("redelivery of the same key is ignored", func() {
		out, err := s.service.RecordBatch(s.ctx, s.owner, s.batch(start, 0.1, 0.2, 0.3))
		s.Require().NoError(err)
		s.Equal(consistency.KindIgnored, out.Kind)

		stored, err := s.store.ListChannel(s.ctx, "V1", "ECG-II")
		s.Require().NoError(err)
		s.Len(stored, 1)
	})

	s.Run("next chunk on the channel appends", func() {
		out, err := s.service.RecordBatch(s.ctx, s.owner, s.batch(start.Add(time.Second), 0.4, 0.5))
		s.Require().NoError(err)
		s.Equal(consistency.KindApplied, out.Kind)

		stored, err := s.store.ListChannel(s.ctx, "V1", "ECG-II")
		s.Require().NoError(err)
		s.Len(stored, 2)
	})

	s.Run("empty batch is ignored", func() {
		out, err := s.service.RecordBatch(s.ctx, s.owner, s.batch(start.Add(2*time.Second)))
		s.Require().NoError(err)
		s.Equal(consistency.KindIgnored, out.Kind)
	})

	s.Run("missing channel id rejected", func() {
		bad := s.batch(start.Add(3*time.Second), 0.6)
		bad.ChannelID = ""
		_, err := s.service.RecordBatch(s.ctx, s.owner, bad)
		s.Error(err)
	})

	s.Run("non-positive sampling rate rejected", func() {
		bad := s.batch(start.Add(4*time.Second), 0.6)
		bad.SamplingRate = 0
		_, err := s.service.RecordBatch(s.ctx, s.owner, bad)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestBatchEnd() {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &Batch{BatchStart: start, SamplingRate: 300, Values: make([]float64, 600)}
	s.Equal(start.Add(2*time.Second), b.End())

	empty := &Batch{BatchStart: start, SamplingRate: 300}
	s.Equal(start, empty.End())
}

func (s *ServiceSuite) TestTrimBefore() {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.service.RecordBatch(s.ctx, s.owner, s.batch(start, 0.1, 0.2))
	s.Require().NoError(err)
	_, err = s.service.RecordBatch(s.ctx, s.owner, s.batch(start.Add(time.Hour), 0.3, 0.4))
	s.Require().NoError(err)

	removed, err := s.service.TrimBefore(s.ctx, start.Add(30*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)

	stored, err := s.store.ListChannel(s.ctx, "V1", "ECG-II")
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(start.Add(time.Hour), stored[0].BatchStart)

	s.Run("nothing older is a no-op", func() {
		removed, err := s.service.TrimBefore(s.ctx, start.Add(30*time.Minute))
		s.Require().NoError(err)
		s.Zero(removed)
	})
}
