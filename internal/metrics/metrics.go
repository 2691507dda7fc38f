// Package metrics exposes prometheus instrumentation for the video
// runtime: frame counters on the hot path and liveness counters for the
// pool controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime's instrument registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived    prometheus.Counter
	FramesDecoded     prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	MessagesPublished *prometheus.CounterVec
	HeartbeatsSent    prometheus.Counter
}

// New creates a registry with all runtime instruments registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videobot_frames_received_total",
		Help: "Encoded frames received from the stream source.",
	})
	m.FramesDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videobot_frames_decoded_total",
		Help: "Frames successfully decoded and delivered to the bot.",
	})
	m.FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "videobot_frames_dropped_total",
		Help: "Frames dropped before decoding, by reason.",
	}, []string{"reason"})
	m.DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videobot_decode_errors_total",
		Help: "Recoverable per-frame decode misses.",
	})
	m.MessagesPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "videobot_messages_published_total",
		Help: "Bot messages published to derived channels, by kind.",
	}, []string{"kind"})
	m.HeartbeatsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videobot_heartbeats_sent_total",
		Help: "Pool heartbeats published.",
	})

	m.registry.MustRegister(
		m.FramesReceived,
		m.FramesDecoded,
		m.FramesDropped,
		m.DecodeErrors,
		m.MessagesPublished,
		m.HeartbeatsSent,
	)
	return m
}

// Handler returns the exposition handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the registry on addr under /metrics. It blocks.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
