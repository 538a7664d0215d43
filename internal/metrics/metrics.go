package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serptracker_checks_total",
			Help: "Total number of keyword checks by outcome",
		},
		[]string{"client", "status"},
	)

	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serptracker_check_duration_seconds",
			Help:    "Duration of keyword checks in seconds, including the pre-fetch delay",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"client"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serptracker_alerts_total",
			Help: "Total number of rank-change alerts generated",
		},
		[]string{"client", "type"},
	)

	ChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serptracker_challenges_total",
			Help: "Total number of anti-bot challenges encountered",
		},
		[]string{"source"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serptracker_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)
)

// ObserveCheck records the outcome and duration of one keyword check.
func ObserveCheck(clientID, status string, d time.Duration) {
	ChecksTotal.WithLabelValues(clientID, status).Inc()
	CheckDuration.WithLabelValues(clientID).Observe(d.Seconds())
}

// CountAlert records one generated alert of the given type.
func CountAlert(clientID, alertType string) {
	AlertsTotal.WithLabelValues(clientID, alertType).Inc()
}

// CountChallenge records one detected anti-bot challenge.
func CountChallenge(source string) {
	ChallengesTotal.WithLabelValues(source).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
