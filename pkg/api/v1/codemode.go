package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/codemodehq/codemode/pkg/auth"
	"github.com/codemodehq/codemode/pkg/bindings"
	"github.com/codemodehq/codemode/pkg/logger"
	"github.com/codemodehq/codemode/pkg/session"
	"github.com/codemodehq/codemode/pkg/telemetry"
	"github.com/codemodehq/codemode/pkg/tools"
)

// CodeModeRoutes defines the routes for code mode sessions and the tool
// proxy the generated bindings call back into.
type CodeModeRoutes struct {
	registry  *session.Registry
	builder   *session.Builder
	proxyURL  string
	upstreams []tools.UpstreamConfig
	metrics   *telemetry.Metrics
}

// CodeModeRouter creates a new CodeModeRoutes instance. upstreams are the
// configured servers used when a session request does not name its own.
func CodeModeRouter(
	registry *session.Registry,
	builder *session.Builder,
	proxyURL string,
	upstreams []tools.UpstreamConfig,
	metrics *telemetry.Metrics,
) http.Handler {
	routes := CodeModeRoutes{
		registry:  registry,
		builder:   builder,
		proxyURL:  proxyURL,
		upstreams: upstreams,
		metrics:   metrics,
	}

	r := chi.NewRouter()
	r.Post("/call", routes.callTool)
	r.Post("/session", routes.createSession)
	r.Delete("/session/{sessionID}", routes.deleteSession)
	r.Get("/session/{sessionID}/tools", routes.listSessionTools)
	r.Get("/binding", routes.getBinding)

	return r
}

// toolCallRequest is the body the generated bindings POST to the proxy.
type toolCallRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id"`
}

// toolCallResponse carries exactly one of result and error; the other is
// null. In-kernel code distinguishes outcomes by the error field alone.
type toolCallResponse struct {
	Result any     `json:"result"`
	Error  *string `json:"error"`
}

// toolInfo describes one tool of a session.
type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// sessionToolsResponse lists the tools a session exposes.
type sessionToolsResponse struct {
	Tools []toolInfo `json:"tools"`
}

// createSessionRequest names the MCP servers a session should connect to.
// An empty list means the configured defaults.
type createSessionRequest struct {
	Servers []serverEntry `json:"servers"`
}

type serverEntry struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Transport   string            `json:"transport"`
	Description string            `json:"description"`
	Headers     map[string]string `json:"headers"`
}

// createSessionResponse returns the registered session and the generated
// Python artifacts.
type createSessionResponse struct {
	SessionID string     `json:"session_id"`
	Binding   string     `json:"binding"`
	Prompt    string     `json:"prompt"`
	Tools     []toolInfo `json:"tools"`
}

// bindingResponse is the caller's stored binding record. Both fields are
// empty when nothing usable is stored.
type bindingResponse struct {
	SessionID string `json:"session_id"`
	Binding   string `json:"binding"`
}

// callTool
//
//	@Summary		Proxy an MCP tool call
//	@Description	Execute an MCP tool call on behalf of code running in a kernel
//	@Tags			code-mode
//	@Accept			json
//	@Produce		json
//	@Param			request	body		toolCallRequest	true	"Tool call"
//	@Success		200		{object}	toolCallResponse
//	@Failure		404		{string}	string	"Session or tool not found"
//	@Failure		500		{string}	string	"Tool has no invoker"
//	@Router			/api/v1/code-mode/call [post]
func (s *CodeModeRoutes) callTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := s.registry.Get(body.SessionID)
	if !ok {
		http.Error(w, "Code mode session not found: "+body.SessionID, http.StatusNotFound)
		return
	}

	if _, ok := sess.Tools[body.ToolName]; !ok {
		specs := sess.ToolSpecs()
		names := make([]string, 0, len(specs))
		for _, spec := range specs {
			names = append(names, spec.Name)
		}
		http.Error(w, fmt.Sprintf("Tool not found: %s. Available tools: %s",
			body.ToolName, strings.Join(names, ", ")), http.StatusNotFound)
		return
	}

	if sess.Invoker == nil {
		http.Error(w, "Tool "+body.ToolName+" has no invoker", http.StatusInternalServerError)
		return
	}

	logger.Debugf("Calling MCP tool %s for session %s", body.ToolName, body.SessionID)
	result, err := invokeTool(ctx, sess, body.ToolName, body.Arguments)

	response := toolCallResponse{}
	if err != nil {
		logger.Errorf("MCP tool call failed: %v", err)
		message := err.Error()
		response.Error = &message
		s.metrics.ToolCalled(body.ToolName, "error")
	} else {
		if result == nil {
			result = []tools.Content{}
		}
		response.Result = result
		s.metrics.ToolCalled(body.ToolName, "success")
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to marshal tool call response", http.StatusInternalServerError)
		return
	}
}

// invokeTool dispatches to the session's invoker. Panics are converted to
// plain errors so they stay on the in-band error path the bindings expect.
func invokeTool(ctx context.Context, sess *session.Session, name string, args map[string]any) (result []tools.Content, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()
	return sess.Invoker.CallTool(ctx, name, args)
}

// createSession
//
//	@Summary		Create a code mode session
//	@Description	Connect to MCP servers and register a session with generated Python bindings
//	@Tags			code-mode
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createSessionRequest	true	"Servers to connect (empty for configured defaults)"
//	@Success		201		{object}	createSessionResponse
//	@Failure		400		{string}	string	"Invalid request body"
//	@Router			/api/v1/code-mode/session [post]
func (s *CodeModeRoutes) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	// An empty body is allowed and means the configured default servers.
	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	upstreams := s.upstreams
	if len(body.Servers) > 0 {
		upstreams = make([]tools.UpstreamConfig, 0, len(body.Servers))
		for _, server := range body.Servers {
			upstreams = append(upstreams, tools.UpstreamConfig{
				ID:          server.ID,
				URL:         server.URL,
				Transport:   server.Transport,
				Description: server.Description,
				Headers:     server.Headers,
			})
		}
	}

	sess := s.builder.Build(ctx, identity.UserID, upstreams)
	s.registry.Register(sess)
	s.metrics.SessionRegistered()

	binding := bindings.Generate(sess.Catalog, s.proxyURL, sess.ID)
	prompt := bindings.GeneratePrompt(sess.Catalog)
	s.registry.StoreUserBinding(identity.UserID, binding, sess.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	err := json.NewEncoder(w).Encode(createSessionResponse{
		SessionID: sess.ID,
		Binding:   binding,
		Prompt:    prompt,
		Tools:     toolInfos(sess),
	})
	if err != nil {
		http.Error(w, "Failed to marshal session response", http.StatusInternalServerError)
		return
	}
}

// deleteSession
//
//	@Summary		Delete a code mode session
//	@Description	Disconnect a session's tool clients and unregister it
//	@Tags			code-mode
//	@Param			sessionID	path	string	true	"Session ID"
//	@Success		204
//	@Router			/api/v1/code-mode/session/{sessionID} [delete]
func (s *CodeModeRoutes) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if sess, ok := s.registry.Get(sessionID); ok {
		s.registry.Unregister(sessionID)
		sess.Disconnect()
		s.metrics.SessionUnregistered()
	}

	w.WriteHeader(http.StatusNoContent)
}

// listSessionTools
//
//	@Summary		List session tools
//	@Description	List the tools available to a code mode session
//	@Tags			code-mode
//	@Produce		json
//	@Param			sessionID	path		string	true	"Session ID"
//	@Success		200			{object}	sessionToolsResponse
//	@Failure		404			{string}	string	"Session not found"
//	@Router			/api/v1/code-mode/session/{sessionID}/tools [get]
func (s *CodeModeRoutes) listSessionTools(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, ok := s.registry.Get(sessionID)
	if !ok {
		http.Error(w, "Code mode session not found: "+sessionID, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(sessionToolsResponse{Tools: toolInfos(sess)})
	if err != nil {
		http.Error(w, "Failed to marshal tool list", http.StatusInternalServerError)
		return
	}
}

// getBinding
//
//	@Summary		Get the caller's stored binding
//	@Description	Return the binding code generated for the caller's most recent session
//	@Tags			code-mode
//	@Produce		json
//	@Success		200	{object}	bindingResponse
//	@Router			/api/v1/code-mode/binding [get]
func (s *CodeModeRoutes) getBinding(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	binding, sessionID := s.registry.UserBinding(identity.UserID)

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(bindingResponse{SessionID: sessionID, Binding: binding})
	if err != nil {
		http.Error(w, "Failed to marshal binding response", http.StatusInternalServerError)
		return
	}
}

// toolInfos flattens a session's tools for responses. Parameters defaults
// to an empty schema so clients always see an object.
func toolInfos(sess *session.Session) []toolInfo {
	specs := sess.ToolSpecs()
	infos := make([]toolInfo, 0, len(specs))
	for _, spec := range specs {
		parameters := spec.Parameters
		if len(parameters) == 0 {
			parameters = json.RawMessage(`{}`)
		}
		infos = append(infos, toolInfo{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  parameters,
		})
	}
	return infos
}
