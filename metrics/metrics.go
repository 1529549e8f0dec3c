// Package metrics provides Prometheus instrumentation for the enclave
// key hierarchy and a standalone metrics server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the Prometheus namespace for all metrics in this module.
const Namespace = "enclave_keyring"

// Label values for operation outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// SealOperationsTotal counts seal/unseal calls against the sealed
	// store by operation ("seal", "unseal") and status.
	SealOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "seal_operations_total",
			Help:      "Total number of sealed storage operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// DerivationsTotal counts consensus master key derivation runs.
	DerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "derivations_total",
			Help:      "Total number of consensus master key derivation runs by status",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal counts API requests by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests by route and status code",
		},
		[]string{"route", "status_code"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"service"},
	)
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. The service
// name is exported as a constant-value build info gauge.
func New(service, listenAddr string) (*MetricsServer, error) {
	buildInfo.WithLabelValues(service).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
