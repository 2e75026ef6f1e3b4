// Package api contains the REST and WebSocket API of the code mode daemon.
package api

// @title           Code Mode API
// @version         1.0
// @description     This is the code mode daemon API server.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/codemodehq/codemode/pkg/api/v1"
	"github.com/codemodehq/codemode/pkg/auth"
	"github.com/codemodehq/codemode/pkg/config"
	"github.com/codemodehq/codemode/pkg/daemon"
	"github.com/codemodehq/codemode/pkg/logger"
	"github.com/codemodehq/codemode/pkg/session"
	"github.com/codemodehq/codemode/pkg/telemetry"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Deps are the collaborators the API serves. Telemetry may be nil, in
// which case metrics and tracing are disabled.
type Deps struct {
	Config     *config.Config
	Supervisor daemon.Manager
	Sessions   *session.Registry
	Builder    *session.Builder
	Hub        *daemon.Hub
	Telemetry  *telemetry.Provider
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Handler assembles the full router. It is split from Serve so tests can
// drive the complete middleware stack through httptest.
func (d Deps) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
	)

	var metrics *telemetry.Metrics
	if d.Telemetry != nil {
		metrics = d.Telemetry.Metrics()
		r.Use(d.Telemetry.Middleware("codemode-api"))
	}
	r.Use(auth.Middleware(d.Config.Auth.Mode))

	routers := map[string]http.Handler{
		"/health": v1.HealthRouter(),
		"/api/v1/code-mode": v1.CodeModeRouter(
			d.Sessions, d.Builder, d.Config.Proxy.ExternalURL, d.Config.UpstreamConfigs(), metrics),
		"/api/v1/daemons": v1.DaemonRouter(d.Supervisor, d.Hub, d.Config.Kernel),
	}
	if d.Telemetry != nil {
		if handler := d.Telemetry.PrometheusHandler(); handler != nil {
			routers["/metrics"] = handler
		}
	}
	for prefix, router := range routers {
		r.Mount(prefix, router)
	}
	return r
}

// Serve runs the API server until ctx is cancelled, then drains in-flight
// requests, stops every running daemon, and closes the event hub. It is
// assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, deps Deps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              deps.Config.ListenAddr(),
		Handler:           deps.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	// ctx is already cancelled; the drain gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown did not finish cleanly: %v", err)
	}

	// Stop daemons after the listener stops accepting work and close the
	// hub last so terminal events still reach connected subscribers.
	deps.Supervisor.Shutdown(shutdownCtx)
	if deps.Hub != nil {
		deps.Hub.Close()
	}

	logger.Info("HTTP server stopped")
	return nil
}
