package v1

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codemodehq/codemode/pkg/auth"
	"github.com/codemodehq/codemode/pkg/logger"
)

// eventWriteWait bounds a single event write to a subscriber socket.
const eventWriteWait = 10 * time.Second

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon sits behind the embedding service; browser origin policy
	// is enforced there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents
//
//	@Summary		Stream daemon events
//	@Description	Upgrade to a WebSocket delivering the caller's daemon:output and daemon:status events
//	@Tags			daemons
//	@Success		101	{string}	string	"Switching Protocols"
//	@Router			/api/v1/daemons/events [get]
func (s *DaemonRoutes) streamEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	if s.hub == nil {
		http.Error(w, "Event streaming is not enabled", http.StatusNotImplemented)
		return
	}

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("Failed to upgrade events socket: %v", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(identity.UserID)
	defer s.hub.Unsubscribe(sub)

	// Clients send nothing meaningful; reading just detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// Hub shut down.
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debugf("Dropping events subscriber for user %s: %v", identity.UserID, err)
				return
			}
		case <-gone:
			return
		}
	}
}
