// Package health binds the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/jobtracker/pkg/common/logger"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Ready reports whether backing services are reachable. Nil means always
	// ready.
	Ready func(ctx context.Context) error
}

// Routes binds all the health check endpoints.
func Routes(r chi.Router, cfg Config) {
	r.Get("/healthz", liveness(cfg))
	r.Get("/v1/liveness", liveness(cfg))
	r.Get("/v1/readiness", readiness(cfg))
}

// healthResponse represents the response for health check.
type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

func liveness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, healthResponse{Status: "ok", Build: cfg.Build})
	}
}

// readyResponse represents the response for readiness check.
type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func readiness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready == nil {
			write(w, http.StatusOK, readyResponse{Status: "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		if err := cfg.Ready(ctx); err != nil {
			cfg.Log.Info(ctx, "readiness failure", "error", err)
			write(w, http.StatusServiceUnavailable, readyResponse{Status: "not ready", Error: err.Error()})
			return
		}
		write(w, http.StatusOK, readyResponse{Status: "ok"})
	}
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
