package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Decode counters
	FramesDecoded atomic.Uint64
	DecodeErrors  atomic.Uint64

	// Segment counters
	SegmentsEncoded atomic.Uint64
	SegmentsFailed  atomic.Uint64
	BytesWritten    atomic.Uint64

	// Codec output
	BasePixels   atomic.Uint64
	DeltaEntries atomic.Uint64
	BitpackBytes atomic.Uint64

	// Latency tracking
	EncodeLatencyMs atomic.Uint64 // Last segment encode latency in ms

	// Preview client tracking
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Preview playback
	PreviewFramesSent    atomic.Uint64
	PreviewFramesDropped atomic.Uint64
	PreviewErrors        atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

type gauge struct {
	name  string
	help  string
	value *atomic.Uint64
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		{"framepack_frames_decoded_total", "Total mask frames decoded", &m.FramesDecoded},
		{"framepack_decode_errors_total", "Total mask frames that failed to decode", &m.DecodeErrors},
		{"framepack_segments_encoded_total", "Total segments encoded and written", &m.SegmentsEncoded},
		{"framepack_segments_failed_total", "Total segments that failed", &m.SegmentsFailed},
		{"framepack_bytes_written_total", "Total bytes written to segment outputs", &m.BytesWritten},
		{"framepack_base_pixels_total", "Total base pixels across delta segments", &m.BasePixels},
		{"framepack_delta_entries_total", "Total addition and removal entries across delta segments", &m.DeltaEntries},
		{"framepack_bitpack_bytes_total", "Total packed bytes across bitpack segments", &m.BitpackBytes},
		{"framepack_encode_latency_ms", "Last segment encode latency in milliseconds", &m.EncodeLatencyMs},
		{"framepack_preview_active_clients", "Number of active preview clients", &m.ActiveClients},
		{"framepack_preview_total_clients", "Total preview clients connected", &m.TotalClients},
		{"framepack_preview_frames_sent_total", "Total frames sent to preview clients", &m.PreviewFramesSent},
		{"framepack_preview_frames_dropped_total", "Total preview frames dropped", &m.PreviewFramesDropped},
		{"framepack_preview_errors_total", "Total preview send errors", &m.PreviewErrors},
	}

	for _, g := range gauges {
		v := g.value
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: g.name,
				Help: g.help,
			},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// UpdateEncodeLatency records how long the last segment took
func (m *Metrics) UpdateEncodeLatency(duration time.Duration) {
	m.EncodeLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the listener fails
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
