package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codemodehq/codemode/pkg/errors"
	"github.com/codemodehq/codemode/pkg/logger"
)

const (
	// initializeTimeout caps the MCP initialize handshake with an upstream
	// server so a hung server cannot stall session construction.
	initializeTimeout = 10 * time.Second

	// httpTimeout bounds individual HTTP requests to upstream servers.
	httpTimeout = 30 * time.Second
)

// TransportStreamableHTTP and TransportSSE are the supported upstream
// transports. Streamable HTTP is the default.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
)

// UpstreamConfig describes how to reach one upstream MCP server.
type UpstreamConfig struct {
	// ID names the server; it prefixes canonical tool names.
	ID string

	// URL is the server's MCP endpoint.
	URL string

	// Transport selects streamable-http (default when empty) or sse.
	Transport string

	// Headers are added to every request, typically for bearer tokens.
	Headers map[string]string

	// Description is surfaced in generated bindings.
	Description string
}

// Client is a lazy connection to one upstream MCP server. The first call
// dials and initializes the MCP session; the connection is then reused until
// Disconnect.
type Client struct {
	cfg UpstreamConfig

	// clientFactory is swapped out in tests.
	clientFactory func(ctx context.Context) (*mcpclient.Client, error)

	mu     sync.Mutex
	client *mcpclient.Client
}

// NewClient creates an unconnected client for one upstream server.
func NewClient(cfg UpstreamConfig) *Client {
	c := &Client{cfg: cfg}
	c.clientFactory = c.defaultClientFactory
	return c
}

// ID returns the configured server id.
func (c *Client) ID() string {
	return c.cfg.ID
}

// Description returns the configured server description.
func (c *Client) Description() string {
	return c.cfg.Description
}

// headerRoundTripper adds the configured headers to every upstream request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	for k, v := range h.headers {
		reqClone.Header.Set(k, v)
	}
	return h.base.RoundTrip(reqClone)
}

// defaultClientFactory creates and starts a mark3labs MCP client for the
// configured transport.
func (c *Client) defaultClientFactory(ctx context.Context) (*mcpclient.Client, error) {
	httpClient := &http.Client{Timeout: httpTimeout}
	if len(c.cfg.Headers) > 0 {
		httpClient.Transport = &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: c.cfg.Headers,
		}
	}

	var mc *mcpclient.Client
	var err error

	switch c.cfg.Transport {
	case TransportStreamableHTTP, "":
		mc, err = mcpclient.NewStreamableHttpClient(
			c.cfg.URL,
			transport.WithHTTPTimeout(httpTimeout),
			transport.WithHTTPBasicClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streamable-http client: %w", err)
		}

	case TransportSSE:
		mc, err = mcpclient.NewSSEMCPClient(
			c.cfg.URL,
			transport.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE client: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported transport %q (supported: streamable-http, sse)", c.cfg.Transport)
	}

	if err := mc.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start client connection: %w", err)
	}
	return mc, nil
}

// ensureConnected dials and initializes the upstream session on first use.
func (c *Client) ensureConnected(ctx context.Context) (*mcpclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	mc, err := c.clientFactory(ctx)
	if err != nil {
		return nil, errors.NewNotConnectedError(
			fmt.Sprintf("failed to connect to server %s", c.cfg.ID), err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	if _, err := mc.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "codemode",
				Version: "0.1.0",
			},
		},
	}); err != nil {
		_ = mc.Close()
		return nil, errors.NewNotConnectedError(
			fmt.Sprintf("failed to initialize server %s", c.cfg.ID), err)
	}

	c.client = mc
	return mc, nil
}

// ListToolSpecs queries the server's full tool list, following pagination.
// Input schemas are preserved as raw JSON.
func (c *Client) ListToolSpecs(ctx context.Context) ([]ToolSpec, error) {
	mc, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	var specs []ToolSpec
	var cursor mcp.Cursor
	for {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor

		result, err := mc.ListTools(ctx, req)
		if err != nil {
			return nil, errors.NewUpstreamError(
				fmt.Sprintf("failed to list tools from server %s", c.cfg.ID), err)
		}

		for _, tool := range result.Tools {
			schema, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal input schema for tool %s: %w", tool.Name, err)
			}
			specs = append(specs, ToolSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			})
		}

		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return specs, nil
}

// CallTool invokes a tool by its server-side name. A result flagged as an
// error becomes a tool error carrying the concatenated text content.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) ([]Content, error) {
	mc, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	result, err := mc.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: arguments,
		},
	})
	if err != nil {
		return nil, errors.NewUpstreamError(
			fmt.Sprintf("tool call %s failed on server %s", name, c.cfg.ID), err)
	}

	contents := make([]Content, len(result.Content))
	for i, content := range result.Content {
		contents[i] = convertContent(content)
	}

	if result.IsError {
		return nil, errors.NewToolError(toolErrorMessage(name, contents), nil)
	}
	return contents, nil
}

// toolErrorMessage joins the text content of a failed tool result.
func toolErrorMessage(name string, contents []Content) string {
	var texts []string
	for _, content := range contents {
		if content.Type == "text" && content.Text != "" {
			texts = append(texts, content.Text)
		}
	}
	if len(texts) == 0 {
		return fmt.Sprintf("tool %s failed", name)
	}
	return strings.Join(texts, "; ")
}

// ListResources queries one page of the server's resource list. An empty
// cursor starts from the beginning.
func (c *Client) ListResources(ctx context.Context, cursor string) (ResourcePage, error) {
	mc, err := c.ensureConnected(ctx)
	if err != nil {
		return ResourcePage{}, err
	}

	req := mcp.ListResourcesRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)

	result, err := mc.ListResources(ctx, req)
	if err != nil {
		return ResourcePage{}, errors.NewUpstreamError(
			fmt.Sprintf("failed to list resources from server %s", c.cfg.ID), err)
	}

	page := ResourcePage{
		Resources:  make([]Resource, len(result.Resources)),
		NextCursor: string(result.NextCursor),
	}
	for i, resource := range result.Resources {
		page.Resources[i] = Resource{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MimeType:    resource.MIMEType,
		}
	}
	return page, nil
}

// ReadResource fetches a resource by URI and concatenates its contents.
// Blob contents are base64-decoded; undecodable blobs are appended raw.
func (c *Client) ReadResource(ctx context.Context, uri string) (ResourceContents, error) {
	mc, err := c.ensureConnected(ctx)
	if err != nil {
		return ResourceContents{}, err
	}

	result, err := mc.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: uri},
	})
	if err != nil {
		return ResourceContents{}, errors.NewUpstreamError(
			fmt.Sprintf("failed to read resource %s from server %s", uri, c.cfg.ID), err)
	}

	var out ResourceContents
	for i, content := range result.Contents {
		if textContent, ok := mcp.AsTextResourceContents(content); ok {
			out.Data = append(out.Data, []byte(textContent.Text)...)
			if i == 0 && textContent.MIMEType != "" {
				out.MimeType = textContent.MIMEType
			}
		} else if blobContent, ok := mcp.AsBlobResourceContents(content); ok {
			decoded, err := base64.StdEncoding.DecodeString(blobContent.Blob)
			if err != nil {
				logger.Warnf("Failed to decode blob from resource %s on server %s: %v", uri, c.cfg.ID, err)
				out.Data = append(out.Data, []byte(blobContent.Blob)...)
			} else {
				out.Data = append(out.Data, decoded...)
			}
			if i == 0 && blobContent.MIMEType != "" {
				out.MimeType = blobContent.MIMEType
			}
		}
	}
	return out, nil
}

// Disconnect closes the upstream session. The client can reconnect on the
// next call.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return fmt.Errorf("failed to close connection to server %s: %w", c.cfg.ID, err)
	}
	return nil
}

// convertContent maps an MCP content value onto the wire shape handed back
// to sandboxed scripts.
func convertContent(content mcp.Content) Content {
	if textContent, ok := mcp.AsTextContent(content); ok {
		return Content{Type: "text", Text: textContent.Text}
	}
	if imageContent, ok := mcp.AsImageContent(content); ok {
		return Content{Type: "image", Data: imageContent.Data, MimeType: imageContent.MIMEType}
	}
	if audioContent, ok := mcp.AsAudioContent(content); ok {
		return Content{Type: "audio", Data: audioContent.Data, MimeType: audioContent.MIMEType}
	}
	logger.Warnf("Encountered unknown content type %T, marking as unknown content", content)
	return Content{Type: "unknown"}
}
