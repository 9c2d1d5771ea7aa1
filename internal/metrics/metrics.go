// Package metrics exposes SteadyScript's Prometheus counters, adapted from
// the teacher's atomic-counter-wrapped-in-GaugeFunc pattern.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds SteadyScript's application counters.
type Metrics struct {
	FramesCaptured atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped  atomic.Uint64
	CaptureErrors  atomic.Uint64
	DetectErrors   atomic.Uint64

	MarkerDetectedFrames atomic.Uint64

	StreamFramesSent    atomic.Uint64
	StreamFramesDropped atomic.Uint64
	StreamErrors        atomic.Uint64
	ActiveClients       atomic.Uint64
	TotalClients        atomic.Uint64

	SessionsStarted   atomic.Uint64
	SessionsCompleted atomic.Uint64

	StoreWritesOK      atomic.Uint64
	StoreWriteFailures atomic.Uint64

	LedWriteFailures atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its Prometheus collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauge := func(name, help string, get func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help}, get,
		))
	}

	gauge("steadyscript_frames_captured_total", "Total frames captured from the device",
		func() float64 { return float64(m.FramesCaptured.Load()) })
	gauge("steadyscript_frames_processed_total", "Total frames run through detect/smooth/session/overlay",
		func() float64 { return float64(m.FramesProcessed.Load()) })
	gauge("steadyscript_frames_dropped_total", "Total frames dropped under the latest-frame-wins contract",
		func() float64 { return float64(m.FramesDropped.Load()) })
	gauge("steadyscript_capture_errors_total", "Total transient capture read errors",
		func() float64 { return float64(m.CaptureErrors.Load()) })
	gauge("steadyscript_detect_errors_total", "Total marker detection errors",
		func() float64 { return float64(m.DetectErrors.Load()) })
	gauge("steadyscript_marker_detected_frames_total", "Total frames where the marker was detected",
		func() float64 { return float64(m.MarkerDetectedFrames.Load()) })

	gauge("steadyscript_stream_frames_sent_total", "Total frames sent to stream clients",
		func() float64 { return float64(m.StreamFramesSent.Load()) })
	gauge("steadyscript_stream_frames_dropped_total", "Total frames dropped due to client backpressure",
		func() float64 { return float64(m.StreamFramesDropped.Load()) })
	gauge("steadyscript_stream_errors_total", "Total stream transport errors",
		func() float64 { return float64(m.StreamErrors.Load()) })
	gauge("steadyscript_active_clients", "Number of currently connected duplex clients",
		func() float64 { return float64(m.ActiveClients.Load()) })
	gauge("steadyscript_total_clients", "Total duplex clients connected since startup",
		func() float64 { return float64(m.TotalClients.Load()) })

	gauge("steadyscript_sessions_started_total", "Total sessions started",
		func() float64 { return float64(m.SessionsStarted.Load()) })
	gauge("steadyscript_sessions_completed_total", "Total sessions completed",
		func() float64 { return float64(m.SessionsCompleted.Load()) })

	gauge("steadyscript_store_writes_total", "Total successful durable session writes",
		func() float64 { return float64(m.StoreWritesOK.Load()) })
	gauge("steadyscript_store_write_failures_total", "Total failed session store writes",
		func() float64 { return float64(m.StoreWriteFailures.Load()) })

	gauge("steadyscript_led_write_failures_total", "Total LED serial write failures",
		func() float64 { return float64(m.LedWriteFailures.Load()) })
}

// Handler returns the Prometheus HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is cancelled.
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
