package config

import (
	"fmt"
	"time"

	"dario.cat/mergo"

	"github.com/codemodehq/codemode/pkg/tools"
)

// Default configuration values.
const (
	defaultHost          = "127.0.0.1"
	defaultPort          = 4398
	defaultKernelBaseURL = "http://localhost:8888"
	defaultMaxRuntime    = 3600 * time.Second
	defaultMaxPerUser    = 3
	defaultSamplingRate  = 0.05
)

// Default returns a configuration populated with default values. It is the
// single source of truth for defaults.
func Default() *Config {
	metricsEnabled := true
	return &Config{
		Host: defaultHost,
		Port: defaultPort,
		Kernel: KernelConfig{
			BaseURL: defaultKernelBaseURL,
		},
		Daemons: DaemonsConfig{
			MaxRuntime: Duration(defaultMaxRuntime),
			MaxPerUser: defaultMaxPerUser,
		},
		Auth: AuthConfig{
			Mode: AuthModeAnonymous,
		},
		Telemetry: TelemetryConfig{
			Metrics:      &metricsEnabled,
			SamplingRate: defaultSamplingRate,
		},
	}
}

// EnsureDefaults fills in default values for any unset fields and derives
// values that depend on other fields.
func (c *Config) EnsureDefaults() {
	// mergo only fills zero-valued fields, so explicit settings survive.
	_ = mergo.Merge(c, Default())

	if c.Proxy.ExternalURL == "" {
		c.Proxy.ExternalURL = fmt.Sprintf("http://%s:%d/api/v1/code-mode/call", c.Host, c.Port)
	}
	for i := range c.Servers {
		if c.Servers[i].Transport == "" {
			c.Servers[i].Transport = tools.TransportStreamableHTTP
		}
	}
}
