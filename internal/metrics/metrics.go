// Package metrics holds the Prometheus instruments shared by the capture,
// protocol, storage and replay components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture pipeline
	FramesEmitted prometheus.Counter
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter

	// Session store
	ChunksStored     prometheus.Counter
	ChunkStoreErrors prometheus.Counter
	SessionsEvicted  prometheus.Counter

	// Protocol engine
	Reconnects       prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	ConnectionState  prometheus.Gauge

	// Replay
	Replays *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "brainwave_frames_emitted_total",
			Help: "Total number of PCM frames emitted by the capture pipeline",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "brainwave_frames_sent_total",
			Help: "Total number of audio frames written to the channel",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "brainwave_frames_dropped_total",
			Help: "Total number of audio frames rejected because the channel was not open",
		}),
		ChunksStored: f.NewCounter(prometheus.CounterOpts{
			Name: "brainwave_chunks_stored_total",
			Help: "Total number of chunks appended to the session store",
		}),
		ChunkStoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "brainwave_chunk_store_errors_total",
			Help: "Total number of chunk appends that failed and were dropped",
		}),
		SessionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "brainwave_sessions_evicted_total",
			Help: "Total number of sessions deleted by quota enforcement",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "brainwave_reconnects_total",
			Help: "Total number of reconnect attempts after the channel closed",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brainwave_messages_received_total",
			Help: "Total number of structured messages received, by type",
		}, []string{"type"}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "brainwave_connection_state",
			Help: "Current connection state (0=disconnected 1=connecting 2=idle 3=connected 4=generating)",
		}),
		Replays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brainwave_replays_total",
			Help: "Total number of replay attempts, by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameEmitted() {
	if m != nil {
		m.FramesEmitted.Inc()
	}
}

func (m *Metrics) FrameSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) ChunkStored() {
	if m != nil {
		m.ChunksStored.Inc()
	}
}

func (m *Metrics) ChunkStoreFailed() {
	if m != nil {
		m.ChunkStoreErrors.Inc()
	}
}

func (m *Metrics) SessionEvicted() {
	if m != nil {
		m.SessionsEvicted.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) MessageReceived(msgType string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) SetConnectionState(v int) {
	if m != nil {
		m.ConnectionState.Set(float64(v))
	}
}

// ReplayFinished records a replay outcome ("ok" or "error").
func (m *Metrics) ReplayFinished(result string) {
	if m != nil {
		m.Replays.WithLabelValues(result).Inc()
	}
}
