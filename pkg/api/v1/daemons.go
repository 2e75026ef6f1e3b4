package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codemodehq/codemode/pkg/auth"
	"github.com/codemodehq/codemode/pkg/config"
	"github.com/codemodehq/codemode/pkg/daemon"
	"github.com/codemodehq/codemode/pkg/errors"
	"github.com/codemodehq/codemode/pkg/logger"
)

// DaemonRoutes defines the routes for daemon management.
type DaemonRoutes struct {
	manager daemon.Manager
	hub     *daemon.Hub
	kernel  config.KernelConfig
}

// DaemonRouter creates a new DaemonRoutes instance. The kernel config
// supplies the gateway location and credentials for started daemons.
func DaemonRouter(manager daemon.Manager, hub *daemon.Hub, kernel config.KernelConfig) http.Handler {
	routes := DaemonRoutes{
		manager: manager,
		hub:     hub,
		kernel:  kernel,
	}

	r := chi.NewRouter()
	r.Get("/", routes.listDaemons)
	r.Post("/", routes.startDaemon)
	r.Get("/events", routes.streamEvents)
	r.Post("/{daemonID}/stop", routes.stopDaemon)
	r.Post("/chat/{chatID}/stop", routes.stopChatDaemons)

	return r
}

// startDaemonRequest is the body for starting a daemon. MaxRuntime is in
// seconds; omitting it applies the server default.
type startDaemonRequest struct {
	Code       string `json:"code"`
	ChatID     string `json:"chat_id"`
	MessageID  string `json:"message_id"`
	SessionID  string `json:"session_id"`
	MaxRuntime *int   `json:"max_runtime"`
}

type startDaemonResponse struct {
	DaemonID string        `json:"daemon_id"`
	Status   daemon.Status `json:"status"`
}

type stopDaemonResponse struct {
	DaemonID string        `json:"daemon_id"`
	Status   daemon.Status `json:"status"`
}

type stopChatDaemonsResponse struct {
	Count int `json:"count"`
}

// listDaemons
//
//	@Summary		List the caller's daemons
//	@Description	Get the caller's daemons, optionally filtered by chat
//	@Tags			daemons
//	@Produce		json
//	@Param			chat_id	query		string	false	"Filter daemons by chat id"
//	@Success		200		{array}		daemon.Snapshot
//	@Router			/api/v1/daemons [get]
func (s *DaemonRoutes) listDaemons(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	daemons := s.manager.ListDaemons(identity.UserID, r.URL.Query().Get("chat_id"))
	if daemons == nil {
		daemons = []daemon.Snapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(daemons); err != nil {
		http.Error(w, "Failed to marshal daemon list", http.StatusInternalServerError)
		return
	}
}

// startDaemon
//
//	@Summary		Start a daemon
//	@Description	Launch code in a fresh kernel as a background daemon
//	@Tags			daemons
//	@Accept			json
//	@Produce		json
//	@Param			request	body		startDaemonRequest	true	"Code to run"
//	@Success		201		{object}	startDaemonResponse
//	@Failure		400		{string}	string	"Invalid request body"
//	@Failure		403		{string}	string	"Daemon quota exceeded"
//	@Failure		502		{string}	string	"Kernel gateway unavailable"
//	@Router			/api/v1/daemons [post]
func (s *DaemonRoutes) startDaemon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var body startDaemonRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.Code == "" {
		http.Error(w, "Code is required", http.StatusBadRequest)
		return
	}

	var maxRuntime *time.Duration
	if body.MaxRuntime != nil {
		duration := time.Duration(*body.MaxRuntime) * time.Second
		maxRuntime = &duration
	}

	var sink daemon.Sink
	if s.hub != nil {
		sink = s.hub.UserSink(identity.UserID)
	}

	daemonID, err := s.manager.StartDaemon(ctx, daemon.StartRequest{
		BaseURL:    s.kernel.BaseURL,
		Token:      s.kernel.Token,
		Password:   s.kernel.Password,
		Code:       body.Code,
		UserID:     identity.UserID,
		ChatID:     body.ChatID,
		MessageID:  body.MessageID,
		SessionID:  body.SessionID,
		Sink:       sink,
		MaxRuntime: maxRuntime,
	})
	if err != nil {
		switch {
		case errors.IsQuotaExceeded(err):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.IsAuth(err) || errors.IsUpstream(err):
			logger.Errorf("Failed to create kernel: %v", err)
			http.Error(w, "Failed to create kernel: "+err.Error(), http.StatusBadGateway)
		default:
			logger.Errorf("Failed to start daemon: %v", err)
			http.Error(w, "Failed to start daemon", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	err = json.NewEncoder(w).Encode(startDaemonResponse{DaemonID: daemonID, Status: daemon.StatusRunning})
	if err != nil {
		http.Error(w, "Failed to marshal daemon response", http.StatusInternalServerError)
		return
	}
}

// stopDaemon
//
//	@Summary		Stop a daemon
//	@Description	Stop a running daemon; admins may stop any daemon
//	@Tags			daemons
//	@Produce		json
//	@Param			daemonID	path		string	true	"Daemon ID"
//	@Success		200			{object}	stopDaemonResponse
//	@Failure		403			{string}	string	"Not authorized to stop this daemon"
//	@Failure		404			{string}	string	"Daemon not found"
//	@Router			/api/v1/daemons/{daemonID}/stop [post]
func (s *DaemonRoutes) stopDaemon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	daemonID := chi.URLParam(r, "daemonID")

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	snapshot, found := s.manager.GetDaemon(daemonID)
	if !found {
		// Only admins learn whether the daemon ever existed.
		if identity.IsAdmin() {
			http.Error(w, "Daemon not found", http.StatusNotFound)
		} else {
			http.Error(w, "Not authorized to stop this daemon", http.StatusForbidden)
		}
		return
	}
	if snapshot.UserID != identity.UserID && !identity.IsAdmin() {
		http.Error(w, "Not authorized to stop this daemon", http.StatusForbidden)
		return
	}

	s.manager.StopDaemon(ctx, daemonID)

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(stopDaemonResponse{DaemonID: daemonID, Status: daemon.StatusStopped})
	if err != nil {
		http.Error(w, "Failed to marshal stop response", http.StatusInternalServerError)
		return
	}
}

// stopChatDaemons
//
//	@Summary		Stop a chat's daemons
//	@Description	Stop every running daemon the caller owns in one chat
//	@Tags			daemons
//	@Produce		json
//	@Param			chatID	path		string	true	"Chat ID"
//	@Success		200		{object}	stopChatDaemonsResponse
//	@Router			/api/v1/daemons/chat/{chatID}/stop [post]
func (s *DaemonRoutes) stopChatDaemons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := chi.URLParam(r, "chatID")

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	count := s.manager.StopChatDaemons(ctx, identity.UserID, chatID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stopChatDaemonsResponse{Count: count}); err != nil {
		http.Error(w, "Failed to marshal stop response", http.StatusInternalServerError)
		return
	}
}
