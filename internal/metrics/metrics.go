// Package metrics wires the admin/status server's process-level
// Prometheus registry: an uptime gauge and the HTTP /metrics endpoint,
// grounded on tree_db/internal/metrics's updateUptime ticker pattern.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asmuth-labs/zdb/pkg/tsdb"
)

// Server bundles a Prometheus registry, a tsdb.Metrics collector set,
// and an uptime gauge into one process-level handle for cmd/zdbserver.
type Server struct {
	Registry *prometheus.Registry
	Storage  *tsdb.Metrics

	uptime    prometheus.Gauge
	startedAt time.Time
	stop      chan struct{}

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewServer builds a fresh registry with the storage metrics and a
// self-updating uptime gauge, started immediately.
func NewServer(startedAt time.Time) *Server {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Server{
		Registry:  reg,
		Storage:   tsdb.NewMetrics(reg),
		startedAt: startedAt,
		stop:      make(chan struct{}),
		uptime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "zdb",
			Subsystem: "server",
			Name:      "uptime_seconds",
			Help:      "Seconds since the admin server started.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zdb",
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Admin RPC calls by method and status.",
		}, []string{"method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zdb",
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Admin RPC call latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	go s.runUptimeLoop()
	return s
}

func (s *Server) runUptimeLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.uptime.Set(now.Sub(s.startedAt).Seconds())
		case <-s.stop:
			return
		}
	}
}

// RecordRequest records one completed admin RPC call's duration and
// outcome, used by the gRPC server interceptor.
func (s *Server) RecordRequest(method, status string, durationSeconds float64) {
	s.requests.WithLabelValues(method, status).Inc()
	s.duration.WithLabelValues(method).Observe(durationSeconds)
}

// Handler returns the HTTP handler to mount at /metrics.
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

// Stop halts the uptime-updating goroutine.
func (s *Server) Stop() { close(s.stop) }
