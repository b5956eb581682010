package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	MessagesProcessed  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	Contradictions     prometheus.Counter
	TransientRetries   prometheus.Counter
	WaveformSamples    prometheus.Counter
}

// New creates all metrics and registers them with the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all metrics against the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_messages_processed_total",
			Help: "Total number of canonical messages processed, by kind and outcome",
		}, []string{"kind", "outcome"}),
		ProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concord_message_processing_seconds",
			Help:    "Time spent processing one canonical message",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		Contradictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "concord_contradictions_total",
			Help: "Total number of messages that contradicted recorded state",
		}),
		TransientRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "concord_transient_retries_total",
			Help: "Total number of transaction retries after transient store failures",
		}),
		WaveformSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "concord_waveform_samples_total",
			Help: "Total number of waveform samples appended",
		}),
	}
}

// ObserveMessage records one processed message.
func (m *Metrics) ObserveMessage(kind, outcome string, duration time.Duration) {
	m.MessagesProcessed.WithLabelValues(kind, outcome).Inc()
	m.ProcessingDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncrementContradictions increments the contradiction counter by 1.
func (m *Metrics) IncrementContradictions() {
	m.Contradictions.Inc()
}

// IncrementRetries increments the transient retry counter by 1.
func (m *Metrics) IncrementRetries() {
	m.TransientRetries.Inc()
}

// AddWaveformSamples adds appended sample count.
func (m *Metrics) AddWaveformSamples(n int) {
	m.WaveformSamples.Add(float64(n))
}
