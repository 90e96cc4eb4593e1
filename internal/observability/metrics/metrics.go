// Package metrics exposes Prometheus collectors for the verification,
// submission and HTTP paths.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue delivery outcomes.
const (
	DeliveryAcked  = "acked"
	DeliveryFailed = "failed"
)

// Verification results.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detris_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detris_http_request_errors_total",
		Help: "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "detris_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detris_verifications_total",
		Help: "Proof-of-Learning verifications by result.",
	}, []string{"result"})

	verificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "detris_verification_duration_seconds",
		Help:    "Time spent replaying a Proof-of-Learning.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detris_submissions_total",
		Help: "Submissions that reached a status.",
	}, []string{"status"})

	queueDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detris_queue_deliveries_total",
		Help: "Submission IDs taken off the queue, by backend and handler outcome.",
	}, []string{"backend", "outcome"})

	leaderboardEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detris_leaderboard_entries",
		Help: "Number of entries on the leaderboard.",
	})
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveVerification records one Proof-of-Learning verification.
func ObserveVerification(valid bool, duration time.Duration) {
	result := ResultInvalid
	if valid {
		result = ResultValid
	}
	verifications.WithLabelValues(result).Inc()
	verificationDuration.Observe(duration.Seconds())
}

// ObserveSubmission counts a submission transition to status.
func ObserveSubmission(status string) {
	submissions.WithLabelValues(status).Inc()
}

// ObserveQueueDelivery counts one message handled by a queue worker.
func ObserveQueueDelivery(backend, outcome string) {
	queueDeliveries.WithLabelValues(backend, outcome).Inc()
}

// SetLeaderboardEntries publishes the current leaderboard size.
func SetLeaderboardEntries(n int) {
	leaderboardEntries.Set(float64(n))
}

// Handler exposes the default registry in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
