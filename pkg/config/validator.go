package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultValidator validates a configuration after defaults have been
// applied.
type DefaultValidator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *DefaultValidator {
	return &DefaultValidator{}
}

// Validate checks the configuration and returns an error describing every
// problem found.
func (v *DefaultValidator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", ErrInvalidConfig)
	}

	var errs []string
	errs = append(errs, v.validateListener(cfg)...)
	errs = append(errs, v.validateKernel(&cfg.Kernel)...)
	errs = append(errs, v.validateDaemons(&cfg.Daemons)...)
	errs = append(errs, v.validateProxy(&cfg.Proxy)...)
	errs = append(errs, v.validateServers(cfg.Servers)...)
	errs = append(errs, v.validateAuth(&cfg.Auth)...)
	errs = append(errs, v.validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (*DefaultValidator) validateListener(cfg *Config) []string {
	var errs []string
	if cfg.Host == "" {
		errs = append(errs, "host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port))
	}
	return errs
}

func (*DefaultValidator) validateKernel(kernel *KernelConfig) []string {
	var errs []string
	if kernel.BaseURL == "" {
		errs = append(errs, "kernel.base_url is required")
	} else if !isHTTPURL(kernel.BaseURL) {
		errs = append(errs, fmt.Sprintf("kernel.base_url must be a valid http(s) URL, got %q", kernel.BaseURL))
	}
	if kernel.Token != "" && kernel.Password != "" {
		errs = append(errs, "kernel.token and kernel.password are mutually exclusive")
	}
	return errs
}

func (*DefaultValidator) validateDaemons(daemons *DaemonsConfig) []string {
	var errs []string
	if time.Duration(daemons.MaxRuntime) <= 0 {
		errs = append(errs, "daemons.max_runtime must be positive")
	}
	if daemons.MaxPerUser < 1 {
		errs = append(errs, fmt.Sprintf("daemons.max_per_user must be at least 1, got %d", daemons.MaxPerUser))
	}
	return errs
}

func (*DefaultValidator) validateProxy(proxy *ProxyConfig) []string {
	var errs []string
	if proxy.ExternalURL != "" && !isHTTPURL(proxy.ExternalURL) {
		errs = append(errs, fmt.Sprintf("proxy.external_url must be a valid http(s) URL, got %q", proxy.ExternalURL))
	}
	return errs
}

func (*DefaultValidator) validateServers(servers []ServerConfig) []string {
	var errs []string
	seen := make(map[string]bool, len(servers))
	for i, server := range servers {
		if server.ID == "" {
			errs = append(errs, fmt.Sprintf("servers[%d].id is required", i))
		} else if seen[server.ID] {
			errs = append(errs, fmt.Sprintf("servers[%d].id %q is already in use", i, server.ID))
		} else {
			seen[server.ID] = true
		}
		if server.URL == "" {
			errs = append(errs, fmt.Sprintf("servers[%d].url is required", i))
		} else if !isHTTPURL(server.URL) {
			errs = append(errs, fmt.Sprintf("servers[%d].url must be a valid http(s) URL, got %q", i, server.URL))
		}
		if server.Transport != "" && !contains(validTransports, server.Transport) {
			errs = append(errs, fmt.Sprintf("servers[%d].transport must be one of %v, got %q", i, validTransports, server.Transport))
		}
	}
	return errs
}

func (*DefaultValidator) validateAuth(auth *AuthConfig) []string {
	var errs []string
	if auth.Mode != "" && !contains(validAuthModes, auth.Mode) {
		errs = append(errs, fmt.Sprintf("auth.mode must be one of %v, got %q", validAuthModes, auth.Mode))
	}
	return errs
}

func (*DefaultValidator) validateTelemetry(telemetry *TelemetryConfig) []string {
	var errs []string
	if telemetry.SamplingRate < 0 || telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.sampling_rate must be between 0 and 1, got %g", telemetry.SamplingRate))
	}
	return errs
}

var (
	validTransports = []string{"streamable-http", "sse"}
	validAuthModes  = []string{AuthModeHeader, AuthModeAnonymous}
)

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
