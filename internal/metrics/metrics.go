package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture station.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	framesTotal     prometheus.Counter
	framesDropped   prometheus.Counter
	capturesTotal   prometheus.Counter
	captureErrors   *prometheus.CounterVec
	sessionsSaved   prometheus.Counter
	requestsTotal   prometheus.Counter
	cameraReady     prometheus.Gauge
	sessionProgress prometheus.Gauge
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fingercap_frames_total",
			Help: "Total number of camera frames published",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fingercap_frames_dropped_total",
			Help: "Total number of camera frames that could not be decoded",
		}),
		capturesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fingercap_captures_total",
			Help: "Total number of slots captured",
		}),
		captureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fingercap_capture_errors_total",
			Help: "Total number of rejected capture attempts by reason",
		}, []string{"kind"}),
		sessionsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fingercap_sessions_saved_total",
			Help: "Total number of sessions persisted",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fingercap_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		cameraReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fingercap_camera_ready",
			Help: "1 when a camera frame is available for capture",
		}),
		sessionProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fingercap_session_progress",
			Help: "Number of slots captured in the current session",
		}),
	}

	registry.MustRegister(
		m.framesTotal,
		m.framesDropped,
		m.capturesTotal,
		m.captureErrors,
		m.sessionsSaved,
		m.requestsTotal,
		m.cameraReady,
		m.sessionProgress,
	)
	return m
}

// IncFrames counts a published frame.
func (m *Metrics) IncFrames() {
	if m != nil {
		m.framesTotal.Inc()
	}
}

// IncFramesDropped counts a frame that was skipped.
func (m *Metrics) IncFramesDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

// IncCaptures counts a successful capture.
func (m *Metrics) IncCaptures() {
	if m != nil {
		m.capturesTotal.Inc()
	}
}

// IncCaptureErrors counts a failed capture under kind.
func (m *Metrics) IncCaptureErrors(kind string) {
	if m != nil {
		m.captureErrors.WithLabelValues(kind).Inc()
	}
}

// IncSessionsSaved counts a persisted session.
func (m *Metrics) IncSessionsSaved() {
	if m != nil {
		m.sessionsSaved.Inc()
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// SetCameraReady sets the camera readiness gauge.
func (m *Metrics) SetCameraReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.cameraReady.Set(1)
	} else {
		m.cameraReady.Set(0)
	}
}

// SetSessionProgress sets the progress gauge.
func (m *Metrics) SetSessionProgress(n int) {
	if m != nil {
		m.sessionProgress.Set(float64(n))
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// RequestMiddleware returns chi-compatible middleware that counts requests.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			m.IncRequests()
		})
	}
}
