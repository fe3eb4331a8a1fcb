package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rodmena-limited/trust5/internal/cliauth"
	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/orchestrator"
)

// loadConfig reads trust5.yaml (writing a workspace-only default in memory
// if the file is missing) and overlays any credential stored via
// `trust5 login` on top of it - stored tokens take precedence over the
// file since they're the newer, per-user source of truth.
func loadConfig(workspace string) (*config.Config, error) {
	path := resolveConfigPath(workspace)

	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else {
		cfg = config.DefaultConfig(workspace)
	}
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = workspace
	}

	if provider != "" {
		cfg.LLM.DefaultProvider = cliauthProviderKey(provider)
	}

	store, err := openCLIAuthStore()
	if err != nil {
		return nil, err
	}
	records, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load stored credentials: %w", err)
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]config.LLMProviderConfig{}
	}
	for cliName, rec := range records {
		key := cliauth.ProviderKey(cliName)
		pc := cfg.LLM.Providers[key]
		if rec.APIKey != "" {
			pc.APIKey = rec.APIKey
		}
		if rec.BaseURL != "" {
			pc.BaseURL = rec.BaseURL
		}
		cfg.LLM.Providers[key] = pc
	}

	return cfg, nil
}

// buildEngine loads configuration for workspace and constructs an
// orchestrator.Engine wired to it, with an event bus that also serves the
// Unix-domain event socket at <workspace>/.trust5/events.sock.
func buildEngine(workspace string, logger *slog.Logger) (*orchestrator.Engine, error) {
	cfg, err := loadConfig(workspace)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	if err := bus.Init(cfg.Workspace.Path, logger); err != nil {
		logger.Warn("event socket unavailable, continuing without it", "error", err)
	}

	engine, err := orchestrator.NewEngine(cfg, bus, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Observability.MetricsAddr != "" {
		startMetricsServer(cfg.Observability.MetricsAddr, logger)
	}

	return engine, nil
}

// startMetricsServer serves the process-wide Prometheus registry at
// addr in the background. It logs and continues on failure rather than
// aborting the run - metrics are diagnostic, never load-bearing.
func startMetricsServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving prometheus metrics", "addr", addr)
}
