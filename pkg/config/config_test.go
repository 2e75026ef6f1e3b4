package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.EnsureDefaults()
	return cfg
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4398, cfg.Port)
	assert.Equal(t, "http://localhost:8888", cfg.Kernel.BaseURL)
	assert.Equal(t, time.Hour, time.Duration(cfg.Daemons.MaxRuntime))
	assert.Equal(t, 3, cfg.Daemons.MaxPerUser)
	assert.Equal(t, AuthModeAnonymous, cfg.Auth.Mode)
	assert.True(t, cfg.Telemetry.MetricsEnabled())
	assert.False(t, cfg.Telemetry.TracingEnabled())
	assert.InDelta(t, 0.05, cfg.Telemetry.SamplingRate, 0.0001)
}

func TestEnsureDefaultsFillsZeroFields(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.EnsureDefaults()

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4398, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:4398/api/v1/code-mode/call", cfg.Proxy.ExternalURL)
}

func TestEnsureDefaultsPreservesExplicitValues(t *testing.T) {
	t.Parallel()

	metricsOff := false
	cfg := &Config{
		Host: "0.0.0.0",
		Port: 9000,
		Daemons: DaemonsConfig{
			MaxPerUser: 10,
		},
		Telemetry: TelemetryConfig{
			Metrics: &metricsOff,
		},
	}
	cfg.EnsureDefaults()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10, cfg.Daemons.MaxPerUser)
	assert.False(t, cfg.Telemetry.MetricsEnabled())
	// Unset fields still get defaults.
	assert.Equal(t, time.Hour, time.Duration(cfg.Daemons.MaxRuntime))
	assert.Equal(t, "http://0.0.0.0:9000/api/v1/code-mode/call", cfg.Proxy.ExternalURL)
}

func TestEnsureDefaultsKeepsExplicitExternalURL(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Proxy: ProxyConfig{ExternalURL: "http://host.docker.internal:4398/api/v1/code-mode/call"},
	}
	cfg.EnsureDefaults()

	assert.Equal(t, "http://host.docker.internal:4398/api/v1/code-mode/call", cfg.Proxy.ExternalURL)
}

func TestEnsureDefaultsFillsServerTransport(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Servers: []ServerConfig{
			{ID: "hue", URL: "http://localhost:9001/mcp"},
			{ID: "stocks", URL: "http://localhost:9002/sse", Transport: "sse"},
		},
	}
	cfg.EnsureDefaults()

	assert.Equal(t, "streamable-http", cfg.Servers[0].Transport)
	assert.Equal(t, "sse", cfg.Servers[1].Transport)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			mutate: func(*Config) {},
		},
		{
			name: "valid config with servers",
			mutate: func(cfg *Config) {
				cfg.Servers = []ServerConfig{
					{ID: "hue", URL: "http://localhost:9001/mcp", Transport: "streamable-http"},
					{ID: "stocks", URL: "https://stocks.example.com/sse", Transport: "sse"},
				}
			},
		},
		{
			name:    "missing host",
			mutate:  func(cfg *Config) { cfg.Host = "" },
			wantErr: "host is required",
		},
		{
			name:    "port out of range",
			mutate:  func(cfg *Config) { cfg.Port = 70000 },
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "missing kernel base URL",
			mutate:  func(cfg *Config) { cfg.Kernel.BaseURL = "" },
			wantErr: "kernel.base_url is required",
		},
		{
			name:    "malformed kernel base URL",
			mutate:  func(cfg *Config) { cfg.Kernel.BaseURL = "not a url" },
			wantErr: "kernel.base_url must be a valid http(s) URL",
		},
		{
			name: "token and password both set",
			mutate: func(cfg *Config) {
				cfg.Kernel.Token = "tok"
				cfg.Kernel.Password = "pw"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "non-positive max runtime",
			mutate:  func(cfg *Config) { cfg.Daemons.MaxRuntime = 0 },
			wantErr: "daemons.max_runtime must be positive",
		},
		{
			name:    "zero max per user",
			mutate:  func(cfg *Config) { cfg.Daemons.MaxPerUser = 0 },
			wantErr: "daemons.max_per_user must be at least 1",
		},
		{
			name:    "malformed proxy URL",
			mutate:  func(cfg *Config) { cfg.Proxy.ExternalURL = "://nope" },
			wantErr: "proxy.external_url must be a valid http(s) URL",
		},
		{
			name: "server missing id",
			mutate: func(cfg *Config) {
				cfg.Servers = []ServerConfig{{URL: "http://localhost:9001/mcp"}}
			},
			wantErr: "servers[0].id is required",
		},
		{
			name: "duplicate server id",
			mutate: func(cfg *Config) {
				cfg.Servers = []ServerConfig{
					{ID: "hue", URL: "http://localhost:9001/mcp"},
					{ID: "hue", URL: "http://localhost:9002/mcp"},
				}
			},
			wantErr: `servers[1].id "hue" is already in use`,
		},
		{
			name: "server missing url",
			mutate: func(cfg *Config) {
				cfg.Servers = []ServerConfig{{ID: "hue"}}
			},
			wantErr: "servers[0].url is required",
		},
		{
			name: "unknown server transport",
			mutate: func(cfg *Config) {
				cfg.Servers = []ServerConfig{
					{ID: "hue", URL: "http://localhost:9001/mcp", Transport: "grpc"},
				}
			},
			wantErr: "servers[0].transport must be one of",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(cfg *Config) { cfg.Auth.Mode = "oauth" },
			wantErr: "auth.mode must be one of",
		},
		{
			name:    "sampling rate above one",
			mutate:  func(cfg *Config) { cfg.Telemetry.SamplingRate = 1.5 },
			wantErr: "telemetry.sampling_rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator().Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	t.Parallel()

	err := NewValidator().Validate(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "configuration is nil")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Host = ""
	cfg.Daemons.MaxPerUser = 0

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
	assert.Contains(t, err.Error(), "daemons.max_per_user must be at least 1")
}

func TestDurationYAML(t *testing.T) {
	t.Parallel()

	var cfg DaemonsConfig
	require.NoError(t, yaml.Unmarshal([]byte("max_runtime: 30m\n"), &cfg))
	assert.Equal(t, 30*time.Minute, time.Duration(cfg.MaxRuntime))

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "max_runtime: 30m0s")

	err = yaml.Unmarshal([]byte("max_runtime: soon\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	var cfg DaemonsConfig
	require.NoError(t, json.Unmarshal([]byte(`{"max_runtime":"90s"}`), &cfg))
	assert.Equal(t, 90*time.Second, time.Duration(cfg.MaxRuntime))

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"max_runtime":"1m30s"`)
}

func TestYAMLLoader(t *testing.T) {
	t.Parallel()

	raw := `
host: 0.0.0.0
port: 9000
kernel:
  base_url: http://gateway:8888
  token: sekrit
daemons:
  max_runtime: 30m
  max_per_user: 5
servers:
  - id: hue
    url: http://localhost:9001/mcp
    description: Philips Hue lights
    headers:
      Authorization: Bearer abc
auth:
  mode: header
telemetry:
  metrics: false
  tracing_endpoint: localhost:4318
  sampling_rate: 0.5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := NewYAMLLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "http://gateway:8888", cfg.Kernel.BaseURL)
	assert.Equal(t, "sekrit", cfg.Kernel.Token)
	assert.Equal(t, 30*time.Minute, time.Duration(cfg.Daemons.MaxRuntime))
	assert.Equal(t, 5, cfg.Daemons.MaxPerUser)
	assert.Equal(t, "http://0.0.0.0:9000/api/v1/code-mode/call", cfg.Proxy.ExternalURL)
	assert.Equal(t, AuthModeHeader, cfg.Auth.Mode)
	assert.False(t, cfg.Telemetry.MetricsEnabled())
	assert.True(t, cfg.Telemetry.TracingEnabled())
	assert.InDelta(t, 0.5, cfg.Telemetry.SamplingRate, 0.0001)

	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "hue", cfg.Servers[0].ID)
	assert.Equal(t, "streamable-http", cfg.Servers[0].Transport)
	assert.Equal(t, "Bearer abc", cfg.Servers[0].Headers["Authorization"])

	require.NoError(t, NewValidator().Validate(cfg))
}

func TestYAMLLoaderFileNotFound(t *testing.T) {
	t.Parallel()

	_, err := NewYAMLLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestYAMLLoaderMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [unclosed"), 0o600))

	_, err := NewYAMLLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestListenAddr(t *testing.T) {
	t.Parallel()

	cfg := &Config{Host: "127.0.0.1", Port: 4398}
	assert.Equal(t, "127.0.0.1:4398", cfg.ListenAddr())
}

func TestUpstreamConfigs(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Servers: []ServerConfig{
			{
				ID:          "hue",
				URL:         "http://localhost:9001/mcp",
				Transport:   "streamable-http",
				Description: "Philips Hue lights",
				Headers:     map[string]string{"Authorization": "Bearer abc"},
			},
		},
	}

	upstreams := cfg.UpstreamConfigs()
	require.Len(t, upstreams, 1)
	assert.Equal(t, "hue", upstreams[0].ID)
	assert.Equal(t, "http://localhost:9001/mcp", upstreams[0].URL)
	assert.Equal(t, "streamable-http", upstreams[0].Transport)
	assert.Equal(t, "Philips Hue lights", upstreams[0].Description)
	assert.Equal(t, "Bearer abc", upstreams[0].Headers["Authorization"])
}
