// Liveness Relay Server
//
// HTTP relay between the hosting page, the browser-side capture widget and
// the liveness orchestrator.
//
// Usage:
//
//	go run ./cmd                              # Defaults, :8080
//	go run ./cmd --config liveness.yaml       # YAML config
//	go run ./cmd --addr :9090 --log-level debug
//	go build -o liveness-relay ./cmd && ./liveness-relay
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/backend"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/config"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/identity"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/server"
)

// version is set by ldflags at build time.
var version = "dev"

const shutdownTimeout = 10 * time.Second

// CLI flags
var (
	configPath   string
	addrFlag     string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "liveness-relay",
	Short: "Face-liveness session relay",
	Long: `Liveness Relay accepts INIT messages from the hosting page, runs one
liveness session per INIT against the backend, and streams the outcome back
over server-sent events.

Configuration is read from the YAML file (optional), then LIVENESS_*
environment variables, then flags.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "liveness.yaml", "Path to YAML config file")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides config)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.FlowConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("addr") {
		cfg.ListenAddr = addrFlag
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := observability.NewConsoleLogger(os.Stderr, cfg.LogLevel)
	logger.Info("liveness_relay_starting", append([]any{"version", version}, kvFromMap(cfg.ToMap())...)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName:    "liveness-relay",
			ServiceVersion: version,
			Endpoint:       cfg.OTLPEndpoint,
			Insecure:       true,
		})
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err.Error())
			}
		}()
		logger.Info("tracing_enabled", "endpoint", cfg.OTLPEndpoint)
	}

	rules, err := cfg.LocalizerRules()
	if err != nil {
		return fmt.Errorf("localizer rules: %w", err)
	}

	// The pool parameter, if any, is read from SSM on the first run.
	var ident orchestrator.IdentityConfigurer
	identityEnabled := cfg.IdentityPoolID != "" || cfg.IdentityPoolParameter != ""
	if identityEnabled {
		ident = identity.NewInitializer(nil, identity.WithPoolParameter(cfg.IdentityPoolParameter))
	}

	srv, err := server.New(server.Options{
		IdentityPoolID:  cfg.IdentityPoolID,
		InactivityDelay: cfg.InactivityDelay,
		CountdownBudget: cfg.CountdownBudget,
		Tick:            cfg.Tick,
		Rules:           rules,
		Gateway:         cfg.GatewayConfig(),
	}, server.Deps{
		Backend: backend.NewClient(cfg.BackendURL,
			backend.WithTimeout(cfg.RequestTimeout),
			backend.WithDefaultRegion(cfg.DefaultRegion),
			backend.WithLogger(logger),
		),
		Identity: ident,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	stopCleanup := srv.StartCleanupLoop(server.CleanupConfig{
		Interval:  cfg.CleanupInterval,
		Retention: cfg.RunRetention,
	})
	defer stopCleanup()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("liveness_relay_ready", "address", cfg.ListenAddr, "rules", len(rules), "identity", identityEnabled)

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err.Error())
	}
	logger.Info("liveness_relay_stopped")
	return nil
}

// kvFromMap flattens a map into sorted key/value pairs for the logger.
func kvFromMap(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]any, 0, len(m)*2)
	for _, k := range keys {
		kv = append(kv, k, m[k])
	}
	return kv
}
