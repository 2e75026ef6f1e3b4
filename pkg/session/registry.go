// Package session tracks live code-mode sessions: which upstream tool
// servers each session can reach, how canonical tool names route back to
// them, and the generated Python binding each user last received.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/codemodehq/codemode/pkg/logger"
	"github.com/codemodehq/codemode/pkg/tools"
)

// Session holds the tool surface of one registered code-mode session. Tools
// is keyed by canonical tool name; the Invoker routes those names back to
// the upstream servers.
type Session struct {
	ID          string
	OwnerUserID string
	ToolClients map[string]*tools.Client
	Tools       map[string]tools.ToolSpec
	Catalog     tools.Catalog
	Invoker     tools.Invoker
	CreatedAt   time.Time
}

// ToolSpecs returns the session's canonical-name specs sorted by name.
func (s *Session) ToolSpecs() []tools.ToolSpec {
	specs := make([]tools.ToolSpec, 0, len(s.Tools))
	for _, spec := range s.Tools {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})
	return specs
}

// Disconnect releases the session's upstream connections, logging failures.
func (s *Session) Disconnect() {
	for id, client := range s.ToolClients {
		if err := client.Disconnect(); err != nil {
			logger.Warnf("Failed to disconnect tool client %s for session %s: %v", id, s.ID, err)
		}
	}
}

// Registry is the in-memory session table. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	bindings map[string]bindingRecord
}

// bindingRecord remembers the binding code a user last received and the
// session it was generated for.
type bindingRecord struct {
	sessionID string
	binding   string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: map[string]*Session{},
		bindings: map[string]bindingRecord{},
	}
}

// Register adds a session, replacing any session with the same id. The
// registry holds references: neither replacing nor removing a session
// touches its tool clients.
func (r *Registry) Register(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	logger.Debugf("Registered code mode session %s with %d tools", session.ID, len(session.Tools))
}

// Unregister removes a session. Unknown ids are a no-op.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	delete(r.sessions, sessionID)
	logger.Debugf("Unregistered code mode session %s", sessionID)
}

// Get returns the session with the given id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StoreUserBinding records the binding code generated for a user and the
// session it was generated for. One record per user; a new session
// overwrites the previous record.
func (r *Registry) StoreUserBinding(userID, binding, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[userID] = bindingRecord{sessionID: sessionID, binding: binding}
}

// UserBinding returns the user's stored binding code and session id. Both
// are empty when nothing is stored or the referenced session is no longer
// registered, so callers never inject a binding whose session is dead.
func (r *Registry) UserBinding(userID string) (string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.bindings[userID]
	if !ok {
		return "", ""
	}
	if _, ok := r.sessions[record.sessionID]; !ok {
		return "", ""
	}
	return record.binding, record.sessionID
}
