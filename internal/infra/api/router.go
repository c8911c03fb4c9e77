package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter builds the root chi router with the middleware chain, /health and
// /metrics, then lets mount attach the versioned routes.
func NewRouter(logger *zerolog.Logger, requestTimeout time.Duration, mount func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(logger),
		Recover(logger),
		Timeout(requestTimeout),
	)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if mount != nil {
		mount(r)
	}
	return r
}
