// Package tools connects to upstream MCP servers and exposes their tools and
// resources to the rest of the daemon: tool specs feed the Python binding
// generator, and tool calls are routed from sandboxed scripts back to the
// server that owns them.
package tools

import (
	"context"
	"encoding/json"
)

// ToolSpec describes one tool exposed by an upstream MCP server. Parameters
// holds the tool's JSON Schema verbatim so downstream consumers see exactly
// what the server advertised.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Content is one element of a tool result payload.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Resource describes one resource exposed by an upstream MCP server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourcePage is one page of a resource listing. NextCursor is empty on the
// last page.
type ResourcePage struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ResourceContents is the concatenated payload of a read resource.
type ResourceContents struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
}

// Invoker executes tool calls by canonical tool name. Implementations route
// the call to whichever upstream server owns the tool.
type Invoker interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) ([]Content, error)
}

// CatalogEntry pairs an upstream server's identity with the tools it exposes.
// Tool names inside Specs are the server's own names, not canonical names.
type CatalogEntry struct {
	ServerID    string
	Description string
	Specs       []ToolSpec
}

// Catalog is the ordered set of upstream servers a session can reach. Order
// is preserved so generated bindings are stable across restarts.
type Catalog []CatalogEntry
