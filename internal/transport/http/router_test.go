package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"concord/internal/consistency"
	"concord/internal/effectlog"
	"concord/internal/visit"
	"concord/internal/waveform"
)

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

type RouterSuite struct {
	suite.Suite
	contradictions *consistency.MemoryStore
	effects        *effectlog.MemoryStore
	visits         *visit.MemoryStore
	waveforms      *waveform.MemoryStore
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.contradictions = consistency.NewMemoryStore()
	s.effects = effectlog.NewMemoryStore()
	s.visits = visit.NewMemoryStore()
	s.waveforms = waveform.NewMemoryStore()
}

func (s *RouterSuite) serve(checks map[string]HealthChecker, method, target string) *httptest.ResponseRecorder {
	router := NewRouter(NewHandler(s.contradictions, s.effects, s.visits, s.waveforms, checks))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func (s *RouterSuite) TestHealth() {
	s.Run("all checks passing", func() {
		rec := s.serve(map[string]HealthChecker{
			"postgres": healthFunc(func(context.Context) error { return nil }),
		}, http.MethodGet, "/healthz")

		s.Equal(http.StatusOK, rec.Code)
		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal("ok", body["status"])
		s.Equal("ok", body["postgres"])
	})

	s.Run("failing dependency degrades", func() {
		rec := s.serve(map[string]HealthChecker{
			"redis": healthFunc(func(context.Context) error { return errors.New("connection refused") }),
		}, http.MethodGet, "/healthz")

		s.Equal(http.StatusServiceUnavailable, rec.Code)
		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal("degraded", body["status"])
	})
}

func (s *RouterSuite) TestContradictions() {
	s.Run("empty store lists as empty array", func() {
		rec := s.serve(nil, http.MethodGet, "/contradictions")
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq("[]", rec.Body.String())
	})

	s.Run("records listed newest first with limit", func() {
		for _, desc := range []string{"first", "second", "third"} {
			err := s.contradictions.Append(context.Background(), consistency.Record{
				ID: uuid.New(), MessageID: desc, Description: desc,
			})
			s.Require().NoError(err)
		}

		rec := s.serve(nil, http.MethodGet, "/contradictions?limit=2")
		s.Equal(http.StatusOK, rec.Code)

		var recs []consistency.Record
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &recs))
		s.Require().Len(recs, 2)
		s.Equal("third", recs[0].Description)
	})
}

func (s *RouterSuite) TestEffects() {
	err := s.effects.Append(context.Background(), effectlog.Effect{MessageID: "m1", Outcome: "applied"})
	s.Require().NoError(err)

	rec := s.serve(nil, http.MethodGet, "/effects")
	s.Equal(http.StatusOK, rec.Code)

	var effects []effectlog.Effect
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &effects))
	s.Require().Len(effects, 1)
	s.Equal("m1", effects[0].MessageID)
}

func (s *RouterSuite) TestEffectsDisabled() {
	router := NewRouter(NewHandler(s.contradictions, nil, nil, nil, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/effects", nil))
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestPendingEvents() {
	s.Run("no events lists as empty array", func() {
		rec := s.serve(nil, http.MethodGet, "/visits/V1/pending")
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq("[]", rec.Body.String())
	})

	s.Run("live pending events listed", func() {
		key := visit.PendingKey{Encounter: "V1", PendingType: "ADMIT"}
		err := s.visits.Pending().InsertLive(context.Background(), key, &visit.PendingEvent{
			Encounter: "V1", MrnID: uuid.New(), PendingType: "ADMIT", Location: "WARD-A",
		})
		s.Require().NoError(err)

		rec := s.serve(nil, http.MethodGet, "/visits/V1/pending")
		s.Equal(http.StatusOK, rec.Code)

		var events []visit.PendingEvent
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &events))
		s.Require().Len(events, 1)
		s.Equal("ADMIT", events[0].PendingType)
		s.Equal("WARD-A", events[0].Location)
	})
}

func (s *RouterSuite) TestWaveformCoverage() {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	err := s.waveforms.Insert(context.Background(), &waveform.Batch{
		ID: uuid.New(), Encounter: "V1", MrnID: uuid.New(), ChannelID: "ECG-II",
		SamplingRate: 300, BatchStart: start, Values: make([]float64, 600),
	})
	s.Require().NoError(err)

	rec := s.serve(nil, http.MethodGet, "/waveforms/V1/ECG-II")
	s.Equal(http.StatusOK, rec.Code)

	var summaries []map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &summaries))
	s.Require().Len(summaries, 1)
	s.Equal("ECG-II", summaries[0]["channel_id"])
	s.Equal(float64(600), summaries[0]["samples"])
	s.NotContains(summaries[0], "values")

	rec = s.serve(nil, http.MethodGet, "/waveforms/V1/ART")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq("[]", rec.Body.String())
}

func (s *RouterSuite) TestMetricsExposed() {
	rec := s.serve(nil, http.MethodGet, "/metrics")
	s.Equal(http.StatusOK, rec.Code)
}
