package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcomes recorded on relay_sessions_total.
const (
	OutcomeRejected           = "rejected"
	OutcomeBackendUnavailable = "backend_unavailable"
	OutcomeCompleted          = "completed"
)

// Metrics contains all Prometheus collectors of the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	Chunks          prometheus.Counter
	MalformedChunks prometheus.Counter
	WindowsSent     prometheus.Counter

	TranscriptsRelayed prometheus.Counter
	RelayFaults        prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Current number of open stream sessions",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of stream sessions by outcome",
		}, []string{"outcome"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_session_duration_seconds",
			Help:    "Duration of stream sessions",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		Chunks: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_chunks_total",
			Help: "Total number of inbound audio chunks",
		}),
		MalformedChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_malformed_chunks_total",
			Help: "Total number of inbound chunks dropped as malformed",
		}),
		WindowsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_windows_sent_total",
			Help: "Total number of audio windows sent to the backend",
		}),
		TranscriptsRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcripts_relayed_total",
			Help: "Total number of transcripts relayed to clients",
		}),
		RelayFaults: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_relay_faults_total",
			Help: "Total number of result-relay failures",
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.Sessions.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) ChunkReceived() {
	if m == nil {
		return
	}
	m.Chunks.Inc()
}

func (m *Metrics) ChunkMalformed() {
	if m == nil {
		return
	}
	m.MalformedChunks.Inc()
}

func (m *Metrics) WindowSent() {
	if m == nil {
		return
	}
	m.WindowsSent.Inc()
}

func (m *Metrics) TranscriptRelayed() {
	if m == nil {
		return
	}
	m.TranscriptsRelayed.Inc()
}

func (m *Metrics) RelayFault() {
	if m == nil {
		return
	}
	m.RelayFaults.Inc()
}
