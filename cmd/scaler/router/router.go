// Package router configures HTTP routes for the scaler.
//
// Routes configured:
//   - GET /healthz - Health check (503 when the decision store is unreachable)
//   - GET /metrics - Prometheus metrics
//   - GET /decision/current?service=<name> - Latest scaling decision
//   - GET /policy - The step-scaling policy in effect
//
// /decision/current sets X-Stepscaler-Cooldown-Remaining to the seconds left
// in the cooldown window.
package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/stepscaler/pkg/client"
	"github.com/HatiCode/stepscaler/pkg/httpx"
	"github.com/HatiCode/stepscaler/pkg/policyfile"
	"github.com/HatiCode/stepscaler/pkg/stepscaling"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

// Deps are the pieces of the running scaler the routes read from.
type Deps struct {
	Service string
	Store   storage.Store
	Guard   *stepscaling.Guard
	// Health is optional; nil means always healthy.
	Health func() error
}

// SetupRoutes configures HTTP endpoints for the scaler.
func SetupRoutes(deps Deps, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(deps.Health))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /decision/current", handleGetDecision(deps, logger))
	mux.HandleFunc("GET /policy", handleGetPolicy(deps.Guard))

	return mux
}

// handleGetDecision returns the latest decision; the service parameter
// defaults to the scaler's own service.
func handleGetDecision(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")
		if service == "" {
			service = deps.Service
		}

		d, found, err := deps.Store.GetLatest(r.Context(), service)
		if err != nil {
			logger.Error("failed to get decision", "service", service, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no decision for service %q", service))
			return
		}

		if service == deps.Service && deps.Guard != nil {
			remaining := deps.Guard.Remaining().Seconds()
			w.Header().Set(client.CooldownHeader, strconv.FormatFloat(remaining, 'f', -1, 64))
		}
		if err := httpx.WriteJSON(w, http.StatusOK, d); err != nil {
			logger.Error("failed to encode decision", "error", err)
		}
	}
}

func handleGetPolicy(guard *stepscaling.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, policyfile.FromPolicy(guard.Policy()))
	}
}
