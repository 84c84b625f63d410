// Package metrics holds the prometheus collectors of the control panel.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	upstreamCalls    *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	terminalsActive  prometheus.Gauge
	terminalMessages *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panel_http_requests_total",
				Help: "HTTP requests served, by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panel_http_request_duration_seconds",
				Help:    "Latency of HTTP requests",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"method", "route"},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panel_hopx_operations_total",
				Help: "HopX operations by operation code and result",
			},
			[]string{"operation", "result"}, // "success" or "failure"
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panel_hopx_operation_duration_seconds",
				Help:    "Latency of HopX operations",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"operation"},
		),
		terminalsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panel_terminal_sessions_active",
			Help: "Terminal relay sessions currently open",
		}),
		terminalMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panel_terminal_messages_total",
				Help: "Terminal relay messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),
	}
	reg.MustRegister(m.httpRequests, m.httpLatency, m.upstreamCalls, m.upstreamLatency, m.terminalsActive, m.terminalMessages)
	return m
}

// ObserveOperation records one façade operation against HopX.
func (m *Metrics) ObserveOperation(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.upstreamCalls.WithLabelValues(operation, result).Inc()
	m.upstreamLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) TerminalOpened() {
	if m != nil {
		m.terminalsActive.Inc()
	}
}

func (m *Metrics) TerminalClosed() {
	if m != nil {
		m.terminalsActive.Dec()
	}
}

// TerminalMessage counts one relayed message. direction is "in" or "out";
// kind is "input", "resize", "output" or "info".
func (m *Metrics) TerminalMessage(direction, kind string) {
	if m != nil {
		m.terminalMessages.WithLabelValues(direction, kind).Inc()
	}
}

// StatusRecorder remembers the status code written through it.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

// NewStatusRecorder wraps w, reusing it when it already records.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *StatusRecorder) Status() int { return r.status }

func (r *StatusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *StatusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware records request counts and latency labelled by the mux route
// template, so ids in paths do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
