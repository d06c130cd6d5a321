// Package metrics exposes the Prometheus metrics of forge-sync over HTTP.
// All metrics are defined in their respective packages (client, pagination,
// orchestrator, cache, ratelimit) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry every package registers with.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr and prepares the metrics server.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	logger := logging.NewLogger(logging.ComponentMetrics)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - forgesync_requests_total{upstream, status} (Counter): Requests by upstream and HTTP status
//   - forgesync_request_duration_seconds{upstream} (Histogram): Request duration
//
// Retry Metrics (pkg/client):
//   - forgesync_retries_total{upstream, reason} (Counter): Retries by reason (rate_limited, accepted, error, status)
//   - forgesync_retry_backoff_seconds{upstream} (Histogram): Backoff delays
//   - forgesync_retry_exhausted_total{upstream} (Counter): Requests that exhausted their retries
//
// Pagination Metrics (pkg/pagination):
//   - forgesync_pages_total{upstream} (Counter): Pages fetched
//
// Sync Metrics (pkg/orchestrator):
//   - forgesync_sync_outcomes_total{resource, state} (Counter): Settled resources
//   - forgesync_sync_duration_seconds{resource} (Histogram): Duration of resource syncs
//
// Rate Limit Metrics (pkg/ratelimit):
//   - forgesync_rate_limit_remaining{upstream} (Gauge): Requests left in the window
//   - forgesync_rate_limit_blocks_total{upstream} (Counter): Requests held until reset
//   - forgesync_rate_limit_throttles_total{upstream} (Counter): Throttled requests
//
// Cache Metrics (pkg/cache):
//   - forgesync_cache_hits_total{layer="redis"} (Counter): Stored responses found
//   - forgesync_cache_misses_total (Counter): Lookups without stored response
//   - forgesync_cache_size_bytes{layer="redis"} (Gauge): Bytes written
//   - forgesync_cache_not_modified_total (Counter): 304 responses replayed
//   - forgesync_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Failed resources in the last day
//   sum by (resource) (increase(forgesync_sync_outcomes_total{state="error"}[1d]))
//
//   # Retry rate per upstream
//   sum by (upstream) (rate(forgesync_retries_total[5m]))
//
//   # Quota saved by revalidation
//   rate(forgesync_cache_not_modified_total[5m]) / rate(forgesync_requests_total{upstream="github"}[5m])
