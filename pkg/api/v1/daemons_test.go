package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemodehq/codemode/pkg/auth"
	"github.com/codemodehq/codemode/pkg/config"
	"github.com/codemodehq/codemode/pkg/daemon"
	"github.com/codemodehq/codemode/pkg/errors"
)

// fakeManager implements daemon.Manager with per-test function fields.
type fakeManager struct {
	startFn    func(ctx context.Context, req daemon.StartRequest) (string, error)
	stopFn     func(ctx context.Context, daemonID string) bool
	getFn      func(daemonID string) (daemon.Snapshot, bool)
	listFn     func(userID, chatID string) []daemon.Snapshot
	cleanupFn  func(ctx context.Context, userID string) int
	stopChatFn func(ctx context.Context, userID, chatID string) int
}

var _ daemon.Manager = (*fakeManager)(nil)

func (f *fakeManager) StartDaemon(ctx context.Context, req daemon.StartRequest) (string, error) {
	return f.startFn(ctx, req)
}

func (f *fakeManager) StopDaemon(ctx context.Context, daemonID string) bool {
	return f.stopFn(ctx, daemonID)
}

func (f *fakeManager) GetDaemon(daemonID string) (daemon.Snapshot, bool) {
	return f.getFn(daemonID)
}

func (f *fakeManager) ListDaemons(userID, chatID string) []daemon.Snapshot {
	return f.listFn(userID, chatID)
}

func (f *fakeManager) CleanupUserDaemons(ctx context.Context, userID string) int {
	return f.cleanupFn(ctx, userID)
}

func (f *fakeManager) StopChatDaemons(ctx context.Context, userID, chatID string) int {
	return f.stopChatFn(ctx, userID, chatID)
}

func (*fakeManager) Shutdown(context.Context) {}

func testKernelConfig() config.KernelConfig {
	return config.KernelConfig{
		BaseURL:  "http://gateway.local:8888",
		Token:    "secret-token",
		Password: "secret-pw",
	}
}

func TestListDaemons(t *testing.T) {
	t.Parallel()

	var gotUser, gotChat string
	manager := &fakeManager{listFn: func(userID, chatID string) []daemon.Snapshot {
		gotUser, gotChat = userID, chatID
		return []daemon.Snapshot{{DaemonID: "d-1", UserID: userID, ChatID: chatID, Status: daemon.StatusRunning}}
	}}
	router := DaemonRouter(manager, nil, testKernelConfig())

	w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodGet, "/?chat_id=chat-9", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", gotUser, "listing is scoped to the caller")
	assert.Equal(t, "chat-9", gotChat)

	var listed []daemon.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "d-1", listed[0].DaemonID)
	assert.Equal(t, daemon.StatusRunning, listed[0].Status)
}

func TestListDaemons_Empty(t *testing.T) {
	t.Parallel()

	manager := &fakeManager{listFn: func(string, string) []daemon.Snapshot { return nil }}
	router := DaemonRouter(manager, nil, testKernelConfig())

	w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListDaemons_RequiresIdentity(t *testing.T) {
	t.Parallel()

	router := DaemonRouter(&fakeManager{}, nil, testKernelConfig())

	w := serveRequest(router, nil, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartDaemon(t *testing.T) {
	t.Parallel()

	var got daemon.StartRequest
	manager := &fakeManager{startFn: func(_ context.Context, req daemon.StartRequest) (string, error) {
		got = req
		return "daemon-1", nil
	}}
	hub := daemon.NewHub()
	t.Cleanup(hub.Close)
	router := DaemonRouter(manager, hub, testKernelConfig())

	w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodPost, "/",
		`{"code":"print(1)","chat_id":"chat-9","message_id":"msg-3","session_id":"sess-1","max_runtime":120}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"daemon_id":"daemon-1","status":"running"}`, w.Body.String())

	assert.Equal(t, "http://gateway.local:8888", got.BaseURL)
	assert.Equal(t, "secret-token", got.Token)
	assert.Equal(t, "secret-pw", got.Password)
	assert.Equal(t, "print(1)", got.Code)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "chat-9", got.ChatID)
	assert.Equal(t, "msg-3", got.MessageID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.NotNil(t, got.Sink, "start requests carry the caller's hub sink")
	require.NotNil(t, got.MaxRuntime)
	assert.Equal(t, 2*time.Minute, *got.MaxRuntime)
}

func TestStartDaemon_Defaults(t *testing.T) {
	t.Parallel()

	var got daemon.StartRequest
	manager := &fakeManager{startFn: func(_ context.Context, req daemon.StartRequest) (string, error) {
		got = req
		return "daemon-1", nil
	}}
	router := DaemonRouter(manager, nil, testKernelConfig())

	w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodPost, "/", `{"code":"print(1)"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, got.MaxRuntime, "omitted max_runtime applies the server default")
	assert.Nil(t, got.Sink, "no hub means no sink")
}

func TestStartDaemon_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		body         string
		expectedBody string
	}{
		{
			name:         "missing code",
			body:         `{"chat_id":"chat-9"}`,
			expectedBody: "Code is required",
		},
		{
			name:         "invalid json",
			body:         `{"code":`,
			expectedBody: "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := DaemonRouter(&fakeManager{}, nil, testKernelConfig())

			w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodPost, "/", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}

func TestStartDaemon_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "quota exhausted",
			err: errors.NewQuotaExceededError(
				"Maximum concurrent background scripts (3) reached. Stop an existing one before starting another.", nil),
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Maximum concurrent background scripts (3) reached",
		},
		{
			name:           "gateway unreachable",
			err:            errors.NewUpstreamError("kernel gateway returned status 503", nil),
			expectedStatus: http.StatusBadGateway,
			expectedBody:   "Failed to create kernel",
		},
		{
			name:           "gateway rejects credentials",
			err:            errors.NewAuthError("kernel gateway rejected the token", nil),
			expectedStatus: http.StatusBadGateway,
			expectedBody:   "Failed to create kernel",
		},
		{
			name:           "unexpected failure",
			err:            fmt.Errorf("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "Failed to start daemon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			manager := &fakeManager{startFn: func(context.Context, daemon.StartRequest) (string, error) {
				return "", tt.err
			}}
			router := DaemonRouter(manager, nil, testKernelConfig())

			w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodPost, "/", `{"code":"print(1)"}`)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}

func TestStopDaemon_Authorization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		identity       *auth.Identity
		found          bool
		expectedStatus int
		expectedBody   string
		expectStop     bool
	}{
		{
			name:           "owner stops own daemon",
			identity:       &auth.Identity{UserID: "user-1"},
			found:          true,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"daemon_id":"d-1","status":"stopped"}`,
			expectStop:     true,
		},
		{
			name:           "admin stops another user's daemon",
			identity:       &auth.Identity{UserID: "ops", Role: auth.RoleAdmin},
			found:          true,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"daemon_id":"d-1","status":"stopped"}`,
			expectStop:     true,
		},
		{
			name:           "non-owner is refused",
			identity:       &auth.Identity{UserID: "user-2"},
			found:          true,
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Not authorized to stop this daemon",
		},
		{
			name:           "unknown daemon hidden from regular users",
			identity:       &auth.Identity{UserID: "user-1"},
			found:          false,
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Not authorized to stop this daemon",
		},
		{
			name:           "unknown daemon reported to admins",
			identity:       &auth.Identity{UserID: "ops", Role: auth.RoleAdmin},
			found:          false,
			expectedStatus: http.StatusNotFound,
			expectedBody:   "Daemon not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stopped := false
			manager := &fakeManager{
				getFn: func(string) (daemon.Snapshot, bool) {
					return daemon.Snapshot{DaemonID: "d-1", UserID: "user-1", Status: daemon.StatusRunning}, tt.found
				},
				stopFn: func(context.Context, string) bool {
					stopped = true
					return true
				},
			}
			router := DaemonRouter(manager, nil, testKernelConfig())

			w := serveRequest(router, tt.identity, http.MethodPost, "/d-1/stop", "")

			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), tt.expectedBody)
			}
			assert.Equal(t, tt.expectStop, stopped)
		})
	}
}

func TestStopChatDaemons(t *testing.T) {
	t.Parallel()

	var gotUser, gotChat string
	manager := &fakeManager{stopChatFn: func(_ context.Context, userID, chatID string) int {
		gotUser, gotChat = userID, chatID
		return 2
	}}
	router := DaemonRouter(manager, nil, testKernelConfig())

	w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodPost, "/chat/chat-9/stop", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, w.Body.String())
	assert.Equal(t, "user-1", gotUser, "chat-wide stops only touch the caller's daemons")
	assert.Equal(t, "chat-9", gotChat)
}

func TestStreamEvents(t *testing.T) {
	t.Parallel()

	hub := daemon.NewHub()
	t.Cleanup(hub.Close)
	router := DaemonRouter(&fakeManager{}, hub, testKernelConfig())
	ts := httptest.NewServer(withIdentity(router, &auth.Identity{UserID: "user-1"}))
	t.Cleanup(ts.Close)

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	// The handler subscribes just after the handshake; keep emitting until
	// the subscription is live and the event comes back.
	sink := hub.UserSink("user-1")
	event := daemon.Event{Type: daemon.EventTypeStatus, Data: daemon.StatusData{
		DaemonID:  "d-1",
		ChatID:    "chat-9",
		MessageID: "msg-3",
		Status:    daemon.StatusRunning,
	}}
	stopEmitting := make(chan struct{})
	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopEmitting:
				return
			case <-ticker.C:
				_ = sink.Emit(context.Background(), event)
			}
		}
	}()

	var got struct {
		Type string `json:"type"`
		Data struct {
			DaemonID string `json:"daemon_id"`
			ChatID   string `json:"chat_id"`
			Status   string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	close(stopEmitting)
	<-emitDone

	assert.Equal(t, daemon.EventTypeStatus, got.Type)
	assert.Equal(t, "d-1", got.Data.DaemonID)
	assert.Equal(t, "chat-9", got.Data.ChatID)
	assert.Equal(t, string(daemon.StatusRunning), got.Data.Status)

	// Closing the hub ends the stream; drain anything still buffered.
	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestStreamEvents_WithoutHub(t *testing.T) {
	t.Parallel()

	router := DaemonRouter(&fakeManager{}, nil, testKernelConfig())

	w := serveRequest(router, &auth.Identity{UserID: "user-1"}, http.MethodGet, "/events", "")

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Contains(t, w.Body.String(), "Event streaming is not enabled")
}

func TestStreamEvents_RequiresIdentity(t *testing.T) {
	t.Parallel()

	hub := daemon.NewHub()
	t.Cleanup(hub.Close)
	router := DaemonRouter(&fakeManager{}, hub, testKernelConfig())

	w := serveRequest(router, nil, http.MethodGet, "/events", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
