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
	// Frame delivery counters
	FramesRead     atomic.Uint64
	FramesRendered atomic.Uint64
	ReadErrors     atomic.Uint64
	EncodeErrors   atomic.Uint64

	// Camera lifecycle
	CameraOpenFailures atomic.Uint64
	CameraActive       atomic.Uint64 // 0 = stopped, 1 = delivering
	WatchdogExpiries   atomic.Uint64

	// Inference counters
	InferencesStarted   atomic.Uint64
	InferencesSkipped   atomic.Uint64 // worker busy
	InferenceErrors     atomic.Uint64
	InferencesDiscarded atomic.Uint64 // completed after stop
	UnknownLabels       atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // last inference latency in ms

	// Detection filter / cart events
	DetectionsAccepted   atomic.Uint64
	DetectionsSuppressed atomic.Uint64
	EventsQueued         atomic.Uint64
	EventsDelivered      atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("checkout_frames_read_total", "Total frames read from the camera", &m.FramesRead)
	m.gauge("checkout_frames_rendered_total", "Total frames rendered to JPEG", &m.FramesRendered)
	m.gauge("checkout_read_errors_total", "Total camera read failures", &m.ReadErrors)
	m.gauge("checkout_encode_errors_total", "Total JPEG encoding failures", &m.EncodeErrors)

	m.gauge("checkout_camera_open_failures_total", "Total failed camera open attempts", &m.CameraOpenFailures)
	m.gauge("checkout_camera_active", "Camera delivering frames (0=stopped, 1=active)", &m.CameraActive)
	m.gauge("checkout_watchdog_expiries_total", "Camera sessions stopped by the watchdog", &m.WatchdogExpiries)

	m.gauge("checkout_inferences_started_total", "Total detector invocations started", &m.InferencesStarted)
	m.gauge("checkout_inferences_skipped_total", "Frames skipped because the worker was busy", &m.InferencesSkipped)
	m.gauge("checkout_inference_errors_total", "Total detector failures", &m.InferenceErrors)
	m.gauge("checkout_inferences_discarded_total", "Results discarded after the camera stopped", &m.InferencesDiscarded)
	m.gauge("checkout_unknown_labels_total", "Raw labels that did not resolve to a catalog entry", &m.UnknownLabels)
	m.gauge("checkout_inference_latency_ms", "Last inference latency in milliseconds", &m.InferenceLatencyMs)

	m.gauge("checkout_detections_accepted_total", "Detections accepted as new scans", &m.DetectionsAccepted)
	m.gauge("checkout_detections_suppressed_total", "Detections suppressed by debounce", &m.DetectionsSuppressed)
	m.gauge("checkout_events_queued_total", "Cart events appended to the client queue", &m.EventsQueued)
	m.gauge("checkout_events_delivered_total", "Cart events popped by a client", &m.EventsDelivered)
}

// UpdateInferenceLatency records the latency of the last detector call
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetCameraActive records whether frame delivery is running
func (m *Metrics) SetCameraActive(active bool) {
	if active {
		m.CameraActive.Store(1)
		return
	}
	m.CameraActive.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
