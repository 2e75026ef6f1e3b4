package tools

import (
	"context"
	"fmt"

	"github.com/codemodehq/codemode/pkg/errors"
)

// CanonicalName builds the session-wide tool name scripts call: the server id
// joined to the server-side tool name with an underscore.
func CanonicalName(serverID, toolName string) string {
	return serverID + "_" + toolName
}

type route struct {
	client   *Client
	toolName string
}

// Router implements Invoker by dispatching canonical tool names to the
// upstream client that serves them.
type Router struct {
	routes map[string]route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: map[string]route{}}
}

// Add registers a canonical name for a tool served by the given client.
func (r *Router) Add(canonicalName string, client *Client, toolName string) {
	r.routes[canonicalName] = route{client: client, toolName: toolName}
}

// Names returns the registered canonical names, unordered.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	return names
}

// CallTool routes a canonical tool name to its upstream server.
func (r *Router) CallTool(ctx context.Context, name string, arguments map[string]any) ([]Content, error) {
	rt, ok := r.routes[name]
	if !ok {
		return nil, errors.NewToolError(fmt.Sprintf("unknown tool: %s", name), nil)
	}
	return rt.client.CallTool(ctx, rt.toolName, arguments)
}
