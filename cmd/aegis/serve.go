package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aegisgrc/aegis-oss/pkg/config"
	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/enforcement"
	"github.com/aegisgrc/aegis-oss/pkg/incident"
	"github.com/aegisgrc/aegis-oss/pkg/logging"
	"github.com/aegisgrc/aegis-oss/pkg/policy"
	"github.com/aegisgrc/aegis-oss/pkg/telemetry"
	"github.com/aegisgrc/aegis-oss/pkg/validation"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the serve subcommand: run the engine as a long-lived
// HTTP service with hot-reloaded policy bundles.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the compliance engine as a service",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)
	logger.Info("Starting aegis", "config", configPath, "listen", cfg.Server.Address)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "aegis",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Tracing shutdown error", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()

	engine := policy.NewEngine(policy.EngineOptions{
		Logger:              logger,
		Metrics:             metrics,
		CacheTTL:            cfg.Engine.CacheTTL,
		ReportingFrameworks: cfg.Engine.ReportingFrameworks,
	})

	executor := enforcement.NewExecutor(enforcement.Options{
		Logger:        logger,
		Metrics:       metrics,
		ActionTimeout: cfg.Enforcement.ActionTimeout,
	})

	orch := validation.NewOrchestrator(validation.OrchestratorOptions{
		Engine:   engine,
		Executor: executor,
		Logger:   logger,
		Metrics:  metrics,
		CacheTTL: cfg.Engine.CacheTTL,
	})

	incidents := incident.NewManager(incident.ManagerOptions{
		Logger:  logger,
		Metrics: metrics,
	})

	if cfg.Policies.Dir != "" {
		provider, provErr := config.NewBundleProvider(cfg.Policies.Dir, logger)
		if provErr != nil {
			logger.Error("Failed to initialize policy bundle provider", "error", provErr)
			os.Exit(1)
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Error("Failed to close policy bundle provider", "error", err)
			}
		}()
		go watchBundles(ctx, provider, engine, logger)
	}

	server := startServer(cfg, orch, incidents, metrics, logger)

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// watchBundles applies every bundle snapshot to the engine: new policies are
// created, known ones updated. Per-policy failures are logged and skipped.
func watchBundles(ctx context.Context, provider *config.BundleProvider, engine *policy.Engine, logger *slog.Logger) {
	updates := provider.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			logger.Info("Applying policy bundle snapshot",
				"generation", snapshot.Generation, "policies", len(snapshot.Policies))
			for i := range snapshot.Policies {
				p := snapshot.Policies[i]
				if err := applyPolicy(ctx, engine, &p); err != nil {
					logger.Warn("Skipping invalid bundle policy", "policy", p.Name, "error", err)
				}
			}
		}
	}
}

func applyPolicy(ctx context.Context, engine *policy.Engine, p *domain.Policy) error {
	if p.ID != "" {
		if _, err := engine.GetPolicy(ctx, p.ID); err == nil {
			_, updateErr := engine.UpdatePolicy(ctx, p, "bundle_loader")
			return updateErr
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	_, err := engine.CreatePolicy(ctx, p, "bundle_loader")
	return err
}

func startServer(cfg *config.Config, orch *validation.Orchestrator, incidents *incident.Manager, metrics *telemetry.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("POST /v1/validate", handleValidate(cfg, orch, logger))
	mux.HandleFunc("GET /v1/statistics", handleStatistics(orch, incidents))

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           otelhttp.NewHandler(mux, "aegis"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()
	return server
}

type validateRequest struct {
	ResourceID   string         `json:"resource_id"`
	ResourceType string         `json:"resource_type"`
	Context      map[string]any `json:"context"`
	SkipCache    bool           `json:"skip_cache"`
}

func handleValidate(cfg *config.Config, orch *validation.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		enabled := cfg.Enforcement.Enabled
		result, err := orch.ValidateResource(r.Context(), req.ResourceID, req.ResourceType,
			domain.EvalContext(req.Context), validation.Options{
				SkipCache:          req.SkipCache,
				EnforcementEnabled: &enabled,
			})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrInvalidInput) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}

		writeJSON(w, http.StatusOK, result, logger)
	}
}

func handleStatistics(orch *validation.Orchestrator, incidents *incident.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		incidentStats, err := incidents.GetStatistics(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"validation": orch.Statistics(),
			"incidents":  incidentStats,
		}, slog.Default())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
