package main

import (
	"net/http"

	"github.com/ashbyte/cliptransfer/internal/observability"
)

func serveMetrics(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", health.Handler())

	logger.Info("metrics server listening on " + addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(err, "metrics server stopped")
	}
}
