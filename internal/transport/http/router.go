// Package httptransport is the processor's operational HTTP surface: health,
// metrics, and read-only listings of contradictions, the effect journal,
// pending lifecycle events, and waveform coverage. Clinical data itself is
// not served here.
package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"concord/internal/consistency"
	"concord/internal/effectlog"
	"concord/internal/visit"
	"concord/internal/waveform"
)

// HealthChecker reports one dependency's health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// PendingReader lists a visit's live pending lifecycle events.
type PendingReader interface {
	FindPendingByVisit(ctx context.Context, encounter string) ([]*visit.PendingEvent, error)
}

// WaveformReader lists the batches recorded for one channel on a visit.
type WaveformReader interface {
	ListChannel(ctx context.Context, encounter, channelID string) ([]*waveform.Batch, error)
}

// Handler is the thin HTTP layer. It delegates to stores without embedding
// business logic so transport concerns remain isolated.
type Handler struct {
	contradictions consistency.Store
	effects        effectlog.Store
	pending        PendingReader
	waveforms      WaveformReader
	checks         map[string]HealthChecker
}

func NewHandler(contradictions consistency.Store, effects effectlog.Store, pending PendingReader, waveforms WaveformReader, checks map[string]HealthChecker) *Handler {
	return &Handler{contradictions: contradictions, effects: effects, pending: pending, waveforms: waveforms, checks: checks}
}

// NewRouter wires all operational endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/contradictions", h.handleContradictions)
	r.Get("/effects", h.handleEffects)
	r.Get("/visits/{encounter}/pending", h.handlePending)
	r.Get("/waveforms/{encounter}/{channel}", h.handleWaveforms)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	out := make(map[string]string, len(h.checks)+1)
	out["status"] = "ok"
	for name, check := range h.checks {
		if err := check.Health(r.Context()); err != nil {
			out[name] = err.Error()
			out["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}

func (h *Handler) handleContradictions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.contradictions.List(r.Context(), limitParam(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []consistency.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) handleEffects(w http.ResponseWriter, r *http.Request) {
	if h.effects == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "effect journal disabled"})
		return
	}
	effects, err := h.effects.List(r.Context(), limitParam(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if effects == nil {
		effects = []effectlog.Effect{}
	}
	writeJSON(w, http.StatusOK, effects)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	if h.pending == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pending listing disabled"})
		return
	}
	events, err := h.pending.FindPendingByVisit(r.Context(), chi.URLParam(r, "encounter"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*visit.PendingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// batchSummary describes a stored batch without its samples.
type batchSummary struct {
	ChannelID    string    `json:"channel_id"`
	BatchStart   time.Time `json:"batch_start"`
	BatchEnd     time.Time `json:"batch_end"`
	SamplingRate int       `json:"sampling_rate"`
	Samples      int       `json:"samples"`
	Unit         string    `json:"unit,omitempty"`
}

func (h *Handler) handleWaveforms(w http.ResponseWriter, r *http.Request) {
	if h.waveforms == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "waveform listing disabled"})
		return
	}
	batches, err := h.waveforms.ListChannel(r.Context(), chi.URLParam(r, "encounter"), chi.URLParam(r, "channel"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	summaries := make([]batchSummary, 0, len(batches))
	for _, b := range batches {
		summaries = append(summaries, batchSummary{
			ChannelID:    b.ChannelID,
			BatchStart:   b.BatchStart,
			BatchEnd:     b.End(),
			SamplingRate: b.SamplingRate,
			Samples:      len(b.Values),
			Unit:         b.Unit,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 100
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
