// Package main is the entry point for the rbAI backend: behavioral telemetry
// analysis, sandboxed code execution and the Socratic tutoring firewall
// behind one HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rbailabs/rbai/internal/activity"
	"github.com/rbailabs/rbai/internal/config"
	"github.com/rbailabs/rbai/internal/data"
	"github.com/rbailabs/rbai/internal/firewall"
	"github.com/rbailabs/rbai/internal/llm"
	"github.com/rbailabs/rbai/internal/logging"
	"github.com/rbailabs/rbai/internal/sandbox"
	"github.com/rbailabs/rbai/internal/server"
	"github.com/rbailabs/rbai/internal/telemetry"
)

var (
	version = "1.0.0"
	cfgPath string
	port    int
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rbai",
		Short: "rbAI - behavioral analysis backend for learning environments",
		Long: `rbAI serves the backend of a pedagogical coding environment:
  • Behavioral telemetry analysis with engagement scoring
  • Sandboxed Python execution with per-run resource limits
  • A pedagogical firewall enforcing Socratic tutoring over an LLM

Start the API server:  rbai serve
Configuration:         ~/.rbai/config.yaml (override with RBAI_* env vars)`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.rbai/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rbAI v%s\n", version)
		},
	})

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log.Info().Str("version", version).Msg("starting rbAI backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		Telemetry: telemetry.NewCoordinator(logging.Component(log, "telemetry")),
		CodeStore: firewall.NewCodeStore(),
		LLMModel:  cfg.LLM.Model,
	}

	// Execution degrades to unavailable when the container runtime is down.
	executor, err := sandbox.NewExecutor(ctx, sandbox.Config{
		Image:       cfg.Sandbox.Image,
		MemoryBytes: cfg.Sandbox.MemoryBytes,
		CPUQuota:    cfg.Sandbox.CPUQuota,
		Timeout:     cfg.Sandbox.Timeout,
	}, logging.Component(log, "sandbox"))
	if err != nil {
		log.Warn().Err(err).Msg("docker unavailable, execution endpoints disabled")
	} else {
		defer executor.Close()
		deps.Sandbox = sandbox.NewService(executor, logging.Component(log, "sandbox"))
	}

	// Tutoring degrades to unavailable when no API key is configured.
	if cfg.LLM.APIKey == "" {
		log.Warn().Msg("no LLM API key configured, chat endpoints disabled")
	} else {
		limiter := llm.NewLimiter(cfg.LLM.RequestsPerMinute, cfg.LLM.Burst, cfg.LLM.ConcurrentRequests)
		client, err := llm.NewClient(llm.Config{
			Endpoint:        cfg.LLM.Endpoint,
			APIKey:          cfg.LLM.APIKey,
			Model:           cfg.LLM.Model,
			MaxInputTokens:  cfg.LLM.MaxInputTokens,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		}, limiter, logging.Component(log, "llm"))
		if err != nil {
			return fmt.Errorf("initializing llm client: %w", err)
		}
		deps.Tutor = firewall.New(client, deps.CodeStore, logging.Component(log, "firewall"))
		deps.Generator = activity.NewGenerator(client, logging.Component(log, "activity"))
	}

	// Event persistence is best-effort; a broken database only disables it.
	store, err := data.NewStore(cfg.Data.Dir)
	if err != nil {
		log.Warn().Err(err).Msg("event store unavailable, runs will not be recorded")
	} else {
		defer store.Close()
		deps.Events = store
	}

	srv := server.New(deps, cfg.Server.Port, cfg.Server.CORSOrigin, logging.Component(log, "server"))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}
