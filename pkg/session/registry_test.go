package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemodehq/codemode/pkg/tools"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&Session{ID: "sess-1", OwnerUserID: "user-1"})

	session, ok := registry.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, "user-1", session.OwnerUserID)

	_, ok = registry.Get("sess-2")
	assert.False(t, ok)

	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&Session{ID: "sess-1", OwnerUserID: "user-1"})
	registry.Register(&Session{ID: "sess-1", OwnerUserID: "user-2"})

	session, ok := registry.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, "user-2", session.OwnerUserID)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&Session{ID: "sess-1"})

	registry.Unregister("sess-1")
	_, ok := registry.Get("sess-1")
	assert.False(t, ok)

	registry.Unregister("sess-1")
	registry.Unregister("never-registered")
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_UserBinding(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&Session{ID: "sess-1"})
	registry.StoreUserBinding("user-1", "# binding code", "sess-1")

	binding, sessionID := registry.UserBinding("user-1")
	assert.Equal(t, "# binding code", binding)
	assert.Equal(t, "sess-1", sessionID)

	binding, sessionID = registry.UserBinding("user-2")
	assert.Empty(t, binding)
	assert.Empty(t, sessionID)
}

func TestRegistry_UserBindingDeadSession(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&Session{ID: "sess-1"})
	registry.StoreUserBinding("user-1", "# binding code", "sess-1")

	registry.Unregister("sess-1")

	binding, sessionID := registry.UserBinding("user-1")
	assert.Empty(t, binding, "binding must not outlive its session")
	assert.Empty(t, sessionID)
}

func TestRegistry_UserBindingOverwritten(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&Session{ID: "sess-1"})
	registry.Register(&Session{ID: "sess-2"})
	registry.StoreUserBinding("user-1", "# old", "sess-1")
	registry.StoreUserBinding("user-1", "# new", "sess-2")

	binding, sessionID := registry.UserBinding("user-1")
	assert.Equal(t, "# new", binding)
	assert.Equal(t, "sess-2", sessionID)
}

func TestSession_ToolSpecs(t *testing.T) {
	t.Parallel()

	session := &Session{
		Tools: map[string]tools.ToolSpec{
			"zeta_tool":  {Name: "zeta_tool"},
			"alpha_tool": {Name: "alpha_tool"},
			"mid_tool":   {Name: "mid_tool"},
		},
	}

	specs := session.ToolSpecs()
	require.Len(t, specs, 3)
	assert.Equal(t, "alpha_tool", specs[0].Name)
	assert.Equal(t, "mid_tool", specs[1].Name)
	assert.Equal(t, "zeta_tool", specs[2].Name)
}
