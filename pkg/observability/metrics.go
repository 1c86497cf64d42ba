package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Protocol metrics
	ProtocolRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwire",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Total number of protocol requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	ProtocolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "playwire",
			Subsystem: "protocol",
			Name:      "request_latency_seconds",
			Help:      "Round-trip latency of protocol requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"method"},
	)

	ProtocolPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "playwire",
			Subsystem: "protocol",
			Name:      "pending_requests",
			Help:      "Number of requests awaiting a response",
		},
	)

	ProtocolEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwire",
			Subsystem: "protocol",
			Name:      "events_total",
			Help:      "Total number of inbound events by method",
		},
		[]string{"method"},
	)

	ProtocolDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwire",
			Subsystem: "protocol",
			Name:      "dropped_total",
			Help:      "Inbound frames that were ignored",
		},
		[]string{"reason"},
	)

	LiveObjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "playwire",
			Subsystem: "registry",
			Name:      "live_objects",
			Help:      "Number of remote objects currently registered",
		},
	)

	// Session metrics
	SessionAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwire",
			Subsystem: "session",
			Name:      "acquisitions_total",
			Help:      "Session acquisitions by source",
		},
		[]string{"source", "browser"},
	)

	SessionAcquireFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwire",
			Subsystem: "session",
			Name:      "acquire_failures_total",
			Help:      "Failed session acquisitions by strategy",
		},
		[]string{"strategy"},
	)

	DescriptorOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwire",
			Subsystem: "descriptor",
			Name:      "operations_total",
			Help:      "Descriptor repository operations by kind and result",
		},
		[]string{"op", "result"},
	)

	LeaseRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwire",
			Subsystem: "lease",
			Name:      "requests_total",
			Help:      "Coordinator lease requests by backend and outcome",
		},
		[]string{"backend", "op", "outcome"},
	)
)

// MetricsHandler serves /metrics from the default registry and a /healthz
// liveness probe.
func MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// ServeMetrics serves MetricsHandler on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
