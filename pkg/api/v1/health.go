// Package v1 contains the V1 API routers of the code mode daemon.
package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthRouter creates a router for the health endpoint.
func HealthRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", getHealth)
	return r
}

// getHealth
//
//	@Summary		Health check
//	@Description	Check if the daemon is alive
//	@Tags			system
//	@Produce		json
//	@Success		200	{string}	string	"OK"
//	@Router			/health [get]
func getHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
