// Package config provides the YAML configuration model for the codemode
// daemon: the HTTP listener, the kernel gateway credentials, daemon limits,
// the tool proxy URL handed to sandboxed code, pre-registered tool servers,
// and telemetry switches.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/codemodehq/codemode/pkg/tools"
)

// Auth modes for the daemon-management surface.
const (
	// AuthModeHeader trusts X-User-ID / X-User-Role headers set by a
	// fronting service.
	AuthModeHeader = "header"

	// AuthModeAnonymous injects a fixed anonymous identity. This is the
	// default; it suits single-user and development deployments.
	AuthModeAnonymous = "anonymous"
)

// Duration is a wrapper around time.Duration that marshals/unmarshals as a
// duration string. This ensures duration values are serialized as "30s",
// "1m", etc. instead of nanosecond integers.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the full configuration model for the codemode daemon.
type Config struct {
	// Host is the listen address of the HTTP server.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Port is the listen port of the HTTP server.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Kernel describes the Jupyter-compatible kernel gateway daemons run
	// against.
	Kernel KernelConfig `json:"kernel,omitempty" yaml:"kernel,omitempty"`

	// Daemons holds the runtime limits for background daemons.
	Daemons DaemonsConfig `json:"daemons,omitempty" yaml:"daemons,omitempty"`

	// Proxy configures the tool-proxy URL generated bindings call.
	Proxy ProxyConfig `json:"proxy,omitempty" yaml:"proxy,omitempty"`

	// Servers are the tool servers wired into sessions created without an
	// explicit server list.
	Servers []ServerConfig `json:"servers,omitempty" yaml:"servers,omitempty"`

	// Auth selects how the HTTP surface identifies callers.
	Auth AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`

	// Telemetry configures metrics and tracing.
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// KernelConfig holds the kernel gateway location and credentials. When both
// token and password are set, the token wins and no login round-trip is
// performed.
type KernelConfig struct {
	// BaseURL is the HTTP base of the kernel gateway.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Token authenticates via a token URL parameter.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// Password authenticates via the gateway's login form.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// DaemonsConfig holds per-daemon runtime limits.
type DaemonsConfig struct {
	// MaxRuntime is the default whole-run deadline for a daemon. Start
	// requests may override it.
	MaxRuntime Duration `json:"max_runtime,omitempty" yaml:"max_runtime,omitempty"`

	// MaxPerUser caps concurrently running daemons per user.
	MaxPerUser int `json:"max_per_user,omitempty" yaml:"max_per_user,omitempty"`
}

// ProxyConfig configures the tool-proxy endpoint as seen from inside the
// kernel sandbox.
type ProxyConfig struct {
	// ExternalURL is the absolute URL of the call endpoint that generated
	// bindings POST to. When empty it is derived from host and port. Set
	// it explicitly when the kernel runs behind NAT or in a container
	// where the listen address is not reachable.
	ExternalURL string `json:"external_url,omitempty" yaml:"external_url,omitempty"`
}

// ServerConfig describes one pre-registered upstream tool server.
type ServerConfig struct {
	// ID names the server; it prefixes canonical tool names.
	ID string `json:"id" yaml:"id"`

	// URL is the server's MCP endpoint.
	URL string `json:"url" yaml:"url"`

	// Transport selects streamable-http (default) or sse.
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// Description is surfaced in generated bindings.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Headers are added to every request to the server.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// AuthConfig selects the identity middleware mode.
type AuthConfig struct {
	// Mode is "header" or "anonymous".
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// Metrics enables the Prometheus /metrics endpoint. Defaults to true.
	Metrics *bool `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// TracingEndpoint is an OTLP HTTP endpoint as host:port, without a
	// scheme. Empty disables tracing.
	TracingEndpoint string `json:"tracing_endpoint,omitempty" yaml:"tracing_endpoint,omitempty"`

	// SamplingRate is the trace sampling ratio in [0, 1]. Zero means the
	// default rate.
	SamplingRate float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty"`
}

// MetricsEnabled reports whether the metrics endpoint should be served.
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.Metrics == nil || *t.Metrics
}

// TracingEnabled reports whether an OTLP endpoint is configured.
func (t TelemetryConfig) TracingEnabled() bool {
	return t.TracingEndpoint != ""
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UpstreamConfigs converts the configured servers into tool client
// configurations.
func (c *Config) UpstreamConfigs() []tools.UpstreamConfig {
	upstreams := make([]tools.UpstreamConfig, 0, len(c.Servers))
	for _, server := range c.Servers {
		upstreams = append(upstreams, tools.UpstreamConfig{
			ID:          server.ID,
			URL:         server.URL,
			Transport:   server.Transport,
			Headers:     server.Headers,
			Description: server.Description,
		})
	}
	return upstreams
}
