// Package kernel implements the client side of the Jupyter kernel gateway
// wire contract: kernel lifecycle over REST, gateway authentication, and the
// channels WebSocket used to execute code and stream protocol frames.
package kernel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/codemodehq/codemode/pkg/errors"
)

// requestTimeout bounds every REST call to the gateway.
const requestTimeout = 30 * time.Second

// maxResponseBytes caps how much of a gateway response body is read.
const maxResponseBytes = 1 << 20

// Client talks to one Jupyter-compatible kernel gateway. It owns the HTTP
// client (with cookie jar) used for kernel lifecycle calls and derives the
// auth material the channels WebSocket needs. A Client is created per daemon
// and is not shared.
//
// Authentication policy: a token is propagated as a "token" URL parameter and
// no cookies are used. Otherwise a password triggers a login round-trip that
// captures the _xsrf cookie and the gateway session cookie; subsequent
// WebSocket requests carry both Cookie and X-XSRFToken headers. With neither,
// the gateway is assumed unauthenticated.
type Client struct {
	baseURL  string
	token    string
	password string

	httpClient *http.Client
	xsrf       string
	loggedIn   bool
}

// New creates a gateway client. The base URL is normalized to end with a
// trailing slash so relative endpoint paths can be appended directly.
func New(baseURL, token, password string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("kernel gateway base URL is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL:  baseURL,
		token:    token,
		password: password,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
			// The login POST answers with a redirect on success; the
			// response itself carries the session cookie we need.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// BaseURL returns the normalized gateway base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Params returns the query parameters follow-up gateway requests must carry.
func (c *Client) Params() url.Values {
	params := url.Values{}
	if c.token != "" {
		params.Set("token", c.token)
	}
	return params
}

// login performs the password login round-trip: GET login captures the _xsrf
// cookie, POST login with {_xsrf, password} establishes the session cookie.
func (c *Client) login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"login", nil)
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewUpstreamError("login page request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.NewAuthError(fmt.Sprintf("login page returned status %d", resp.StatusCode), nil)
	}

	var xsrf string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "_xsrf" {
			xsrf = cookie.Value
		}
	}
	if xsrf == "" {
		return errors.NewAuthError("_xsrf cookie not found in login response", nil)
	}
	c.xsrf = xsrf

	form := url.Values{}
	form.Set("_xsrf", xsrf)
	form.Set("password", c.password)

	req, err = http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-XSRFToken", xsrf)

	resp, err = c.httpClient.Do(req)
	if err != nil {
		return errors.NewUpstreamError("login request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.NewAuthError(fmt.Sprintf("login rejected with status %d", resp.StatusCode), nil)
	}

	c.loggedIn = true
	return nil
}

// CreateKernel authenticates with the gateway as needed and starts a kernel,
// returning the assigned kernel id.
func (c *Client) CreateKernel(ctx context.Context) (string, error) {
	if c.password != "" && c.token == "" && !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return "", err
		}
	}

	endpoint := c.baseURL + "api/kernels"
	if encoded := c.Params().Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build kernel create request: %w", err)
	}
	if c.xsrf != "" {
		req.Header.Set("X-XSRFToken", c.xsrf)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.NewUpstreamError("kernel create request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", errors.NewUpstreamError("failed to read kernel create response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errors.NewAuthError(fmt.Sprintf("kernel create rejected with status %d", resp.StatusCode), nil)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return "", errors.NewUpstreamError(fmt.Sprintf("kernel create returned status %d", resp.StatusCode), nil)
	}

	kernelID := gjson.GetBytes(body, "id").String()
	if kernelID == "" {
		return "", errors.NewUpstreamError("kernel create response missing kernel id", nil)
	}
	return kernelID, nil
}

// DeleteKernel removes a kernel on the gateway. Callers treat failures as
// non-fatal; the kernel is reaped by the gateway's own culling eventually.
func (c *Client) DeleteKernel(ctx context.Context, kernelID string) error {
	endpoint := c.baseURL + "api/kernels/" + kernelID
	if encoded := c.Params().Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build kernel delete request: %w", err)
	}
	if c.xsrf != "" {
		req.Header.Set("X-XSRFToken", c.xsrf)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewUpstreamError("kernel delete request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return errors.NewUpstreamError(fmt.Sprintf("kernel delete returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// Close releases the idle connections pooled by the client's transport.
// Clients are per-daemon, so this runs once per daemon at cleanup.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// ChannelsURL builds the channels WebSocket URL and auth headers for a
// kernel: http becomes ws (https becomes wss), the path is
// api/kernels/{id}/channels, the token rides as a query parameter, and
// password auth contributes Cookie and X-XSRFToken headers.
func (c *Client) ChannelsURL(kernelID string) (string, http.Header) {
	wsBase := strings.Replace(c.baseURL, "http", "ws", 1)
	wsURL := fmt.Sprintf("%sapi/kernels/%s/channels", wsBase, kernelID)
	if c.token != "" {
		wsURL += "?token=" + c.token
	}

	header := http.Header{}
	if c.password != "" && c.token == "" {
		if base, err := url.Parse(c.baseURL); err == nil {
			cookies := c.httpClient.Jar.Cookies(base)
			pairs := make([]string, 0, len(cookies))
			for _, cookie := range cookies {
				pairs = append(pairs, cookie.Name+"="+cookie.Value)
			}
			if len(pairs) > 0 {
				header.Set("Cookie", strings.Join(pairs, "; "))
			}
		}
		if c.xsrf != "" {
			header.Set("X-XSRFToken", c.xsrf)
		}
	}
	return wsURL, header
}
