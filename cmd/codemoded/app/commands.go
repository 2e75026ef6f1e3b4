// Package app provides the entry point for the codemoded command-line application.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codemodehq/codemode/pkg/api"
	"github.com/codemodehq/codemode/pkg/config"
	"github.com/codemodehq/codemode/pkg/daemon"
	"github.com/codemodehq/codemode/pkg/logger"
	"github.com/codemodehq/codemode/pkg/session"
	"github.com/codemodehq/codemode/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:               "codemoded",
	DisableAutoGenTag: true,
	Short:             "Code mode daemon - run model-written code against MCP tools",
	Long: `Codemoded runs model-written Python in Jupyter-compatible kernels and
bridges in-kernel tool calls back to MCP (Model Context Protocol) servers
through an HTTP proxy.

It manages code mode sessions (which MCP servers a piece of code may call,
and the generated Python bindings for them), supervises long-running
background daemons in dedicated kernels, and streams their output and
status events to callers over WebSocket.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the codemoded CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// newServeCmd creates the serve command for starting the code mode daemon
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the code mode daemon",
		Long: `Start the code mode daemon and listen for API requests.

The server reads the configuration file given by --config; without it the
built-in defaults apply, which suit a single-user local deployment with a
kernel gateway on localhost.`,
		RunE: runServe,
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Display version information for codemoded",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("codemoded version: %s", getVersion())
		},
	}
}

// newValidateCmd creates the validate command for checking configuration
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the codemoded configuration file for syntax and semantic errors.

This command checks:
- YAML syntax validity
- Listener, kernel gateway, and proxy URL validity
- Daemon limit ranges
- Pre-registered server entries`,
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			logger.Infof("Validating configuration: %s", configPath)

			cfg, err := config.NewYAMLLoader(configPath).Load()
			if err != nil {
				logger.Errorf("Failed to load configuration: %v", err)
				return fmt.Errorf("configuration loading failed: %w", err)
			}

			if err := config.NewValidator().Validate(cfg); err != nil {
				logger.Errorf("Configuration validation failed: %v", err)
				return fmt.Errorf("validation failed: %w", err)
			}

			logger.Infof("✓ Configuration is valid")
			logger.Infof("  Listen address: %s", cfg.ListenAddr())
			logger.Infof("  Kernel gateway: %s", cfg.Kernel.BaseURL)
			logger.Infof("  Tool proxy URL: %s", cfg.Proxy.ExternalURL)
			logger.Infof("  Max daemons per user: %d", cfg.Daemons.MaxPerUser)
			logger.Infof("  Pre-registered servers: %d", len(cfg.Servers))
			return nil
		},
	}
}

// getVersion returns the version string (will be set at build time)
func getVersion() string {
	// This will be replaced with actual version info using ldflags
	return "dev"
}

// loadConfig resolves the effective configuration. Without --config the
// built-in defaults apply.
func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		logger.Info("No configuration file specified, using defaults")
		cfg := &config.Config{}
		cfg.EnsureDefaults()
		return cfg, nil
	}

	logger.Infof("Loading configuration from: %s", configPath)
	cfg, err := config.NewYAMLLoader(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	return cfg, nil
}

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:     "codemoded",
		ServiceVersion:  getVersion(),
		MetricsEnabled:  cfg.Telemetry.MetricsEnabled(),
		TracingEndpoint: cfg.Telemetry.TracingEndpoint,
		SamplingRate:    cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Telemetry shutdown failed: %v", err)
		}
	}()

	registry := session.NewRegistry()
	builder := session.NewBuilder()
	hub := daemon.NewHub()
	supervisor := daemon.NewSupervisor(daemon.Config{
		Sessions:          registry,
		Metrics:           provider.Metrics(),
		MaxPerUser:        cfg.Daemons.MaxPerUser,
		DefaultMaxRuntime: time.Duration(cfg.Daemons.MaxRuntime),
	})

	logger.Infof("Kernel gateway: %s", cfg.Kernel.BaseURL)
	logger.Infof("Tool proxy URL: %s", cfg.Proxy.ExternalURL)

	return api.Serve(ctx, api.Deps{
		Config:     cfg,
		Supervisor: supervisor,
		Sessions:   registry,
		Builder:    builder,
		Hub:        hub,
		Telemetry:  provider,
	})
}
