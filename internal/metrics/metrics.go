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
	// Frame pipeline counters
	FramesRead      atomic.Uint64
	FramesEmitted   atomic.Uint64
	FramesDropped   atomic.Uint64 // Subscriber buffer full
	PlaceholderSent atomic.Uint64

	// Error counters
	ReadFailures atomic.Uint64
	DetectErrors atomic.Uint64
	EncodeErrors atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // Last inference time in ms

	// Client tracking
	ActiveStreams   atomic.Int64
	ActivePipelines atomic.Int64
	TotalStreams    atomic.Uint64

	hazards  *prometheus.CounterVec
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		hazards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadsafety_hazard_detections_total",
				Help: "Hazard detections drawn on frames, by label",
			},
			[]string{"label"},
		),
	}

	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		fn   func() float64
	}{
		{"roadsafety_frames_read_total", "Total frames read from cameras", func() float64 { return float64(m.FramesRead.Load()) }},
		{"roadsafety_frames_emitted_total", "Total encoded frames handed to streams", func() float64 { return float64(m.FramesEmitted.Load()) }},
		{"roadsafety_frames_dropped_total", "Total frames dropped for slow stream clients", func() float64 { return float64(m.FramesDropped.Load()) }},
		{"roadsafety_placeholder_frames_total", "Total placeholder frames sent while waiting for a camera", func() float64 { return float64(m.PlaceholderSent.Load()) }},
		{"roadsafety_read_failures_total", "Total failed frame reads", func() float64 { return float64(m.ReadFailures.Load()) }},
		{"roadsafety_detect_errors_total", "Total detector errors", func() float64 { return float64(m.DetectErrors.Load()) }},
		{"roadsafety_encode_errors_total", "Total frame encode errors", func() float64 { return float64(m.EncodeErrors.Load()) }},
		{"roadsafety_inference_latency_ms", "Latest inference latency in milliseconds", func() float64 { return float64(m.InferenceLatencyMs.Load()) }},
		{"roadsafety_active_streams", "Open video streams", func() float64 { return float64(m.ActiveStreams.Load()) }},
		{"roadsafety_active_pipelines", "Running camera pipelines", func() float64 { return float64(m.ActivePipelines.Load()) }},
		{"roadsafety_streams_total", "Video streams opened since start", func() float64 { return float64(m.TotalStreams.Load()) }},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.fn,
		))
	}
	m.registry.MustRegister(m.hazards)
}

// ObserveHazard counts one drawn hazard detection.
func (m *Metrics) ObserveHazard(label string) {
	m.hazards.WithLabelValues(label).Inc()
}

// UpdateInferenceLatency records the duration of the latest inference.
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// StreamOpened and StreamClosed track /video connections.
func (m *Metrics) StreamOpened() {
	m.ActiveStreams.Add(1)
	m.TotalStreams.Add(1)
}

func (m *Metrics) StreamClosed() {
	m.ActiveStreams.Add(-1)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
