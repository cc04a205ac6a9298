// Package observability serves Prometheus metrics.
package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	mu            sync.Mutex
	metricsServer *http.Server
)

// StartMetricsServer serves /metrics on addr until ctx is done or StopMetricsServer is called.
func StartMetricsServer(ctx context.Context, log logrus.FieldLogger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	mu.Lock()
	metricsServer = srv
	mu.Unlock()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Starting metrics server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// StopMetricsServer shuts the metrics server down.
func StopMetricsServer(ctx context.Context) error {
	mu.Lock()
	srv := metricsServer
	metricsServer = nil
	mu.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}
