package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/rodmena-limited/trust5/internal/audit"
	"github.com/rodmena-limited/trust5/internal/cliauth"
	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/llm"
	"github.com/rodmena-limited/trust5/internal/llm/providers"
	"github.com/rodmena-limited/trust5/internal/models"
	"github.com/rodmena-limited/trust5/internal/observability"
	"github.com/rodmena-limited/trust5/internal/stages"
	"github.com/rodmena-limited/trust5/internal/storage"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// Engine wires the configured providers, stage registry, persistence
// store, and event bus into a single object capable of running a
// workflow to completion. One Engine is built per `trust5` invocation.
type Engine struct {
	Config  *config.Config
	Bus     *eventbus.Bus
	Logger  *slog.Logger
	Metrics *observability.Metrics

	gateway        *llm.Gateway
	runner         *exec.Manager
	store          *storage.SQLiteStore
	registry       *workflow.Registry
	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error
	audit          *audit.Logger
}

// NewEngine constructs the gateway (registering every provider with a
// configured API key or, for ollama, any configured base URL), the
// workspace-scoped subprocess manager, the SQLite workflow store, and
// the Task registry binding every stage type to its implementation.
func NewEngine(cfg *config.Config, bus *eventbus.Bus, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var provs []llm.Provider
	var gatewayOpts []llm.Option
	for name, pc := range cfg.LLM.Providers {
		p, err := buildProvider(name, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		if p == nil {
			continue
		}
		provs = append(provs, p)

		if refresher, err := buildTokenRefresher(name, pc); err != nil {
			logger.Warn("token refresh not available for provider", "provider", name, "error", err)
		} else if refresher != nil {
			gatewayOpts = append(gatewayOpts, llm.WithTokenRefresher(name, refresher))
		}
	}

	metrics := observability.Default()
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})

	gatewayOpts = append(gatewayOpts, llm.WithEventBus(bus), llm.WithLogger(logger), llm.WithMetrics(metrics))
	gateway := llm.New(provs, cfg.LLM.FallbackChain, gatewayOpts...)
	registerCatalogModels(gateway)

	stateDir := filepath.Join(cfg.Workspace.Path, cfg.Workspace.StateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}

	auditLogger, err := buildAuditLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	runner := exec.NewManager(cfg.Workspace.Path)
	runner.SetAuditLogger(auditLogger)

	storePath := cfg.Workflow.StorePath
	if storePath == "" {
		storePath = "trust5.db"
	}
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(cfg.Workspace.Path, cfg.Workspace.StateDir, storePath)
	}
	store, err := storage.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}

	model := cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel

	registry := workflow.NewRegistry()
	registry.Register(TypePlan, stages.NewPlanTask(gateway, runner, bus, logger, model))
	registry.Register(TypeSetup, stages.NewSetupTask(runner, bus))
	registry.Register(TypeWriteTests, stages.NewWriteTestsTask(gateway, bus, logger, model))
	registry.Register(TypeImplement, stages.NewImplementTask(gateway, runner, bus, logger, model))
	registry.Register(TypeValidate, stages.NewValidateTask(runner, bus))
	registry.Register(TypeRepair, stages.NewRepairTask(gateway, runner, bus, logger, model))
	registry.Register(TypeQuality, stages.NewQualityTask(cfg.Quality, runner, bus, logger))
	registry.Register(TypeReview, stages.NewReviewTask(gateway, runner, bus, logger, model, cfg.Quality))

	return &Engine{
		Config: cfg, Bus: bus, Logger: logger, Metrics: metrics,
		gateway: gateway, runner: runner, store: store, registry: registry,
		tracer: tracer, tracerShutdown: tracerShutdown, audit: auditLogger,
	}, nil
}

// buildAuditLogger constructs the subprocess audit log at
// <state_dir>/audit.log, disabled entirely when
// observability.audit_log is set to false.
func buildAuditLogger(cfg *config.Config) (*audit.Logger, error) {
	if cfg.Observability.AuditLog != nil && !*cfg.Observability.AuditLog {
		return audit.NewLogger(audit.Config{Enabled: false})
	}
	path := filepath.Join(cfg.Workspace.Path, cfg.Workspace.StateDir, "audit.log")
	return audit.NewLogger(audit.Config{
		Enabled:           true,
		Level:             audit.LevelInfo,
		Format:            audit.FormatJSON,
		Output:            "file:" + path,
		IncludeToolInput:  true,
		IncludeToolOutput: true,
		MaxFieldSize:      4096,
	})
}

// registerCatalogModels feeds the static model catalog's context-window
// and tool-support metadata into the gateway, so its context-guard
// (applyContextGuard) and per-model fallback routing (resolveCandidates)
// have real data for every model the catalog knows about instead of only
// the ones a caller happens to RegisterModel directly.
func registerCatalogModels(gateway *llm.Gateway) {
	for _, m := range models.List(nil) {
		gateway.RegisterModel(llm.Model{
			ID:              m.ID,
			Provider:        string(m.Provider),
			ContextWindow:   m.ContextWindow,
			MaxOutputTokens: m.MaxOutputTokens,
			SupportsTools:   m.HasCapability(models.CapTools),
		})
	}
}

// buildProvider constructs the llm.Provider for one configured backend.
// Unknown provider names are left unregistered rather than erroring —
// future providers configured but not yet shipped shouldn't block a run
// that never selects them.
func buildProvider(name string, pc config.LLMProviderConfig) (llm.Provider, error) {
	switch name {
	case "anthropic":
		if pc.APIKey == "" {
			return nil, nil
		}
		if pc.AuthHeaderName != "" {
			cred := llm.NewRotatingCredential(pc.AuthHeaderName, pc.APIKey, nil)
			return providers.NewAnthropicWithCredential(pc.BaseURL, cred, nil), nil
		}
		return providers.NewAnthropic(pc.APIKey, pc.BaseURL, nil), nil
	case "google":
		if pc.APIKey == "" {
			return nil, nil
		}
		return providers.NewGoogle(context.Background(), pc.APIKey, nil)
	case "ollama":
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return providers.NewOllama(baseURL), nil
	default:
		return nil, nil
	}
}

// buildTokenRefresher wires a cliauth-backed TokenRefresher for a provider
// configured with the OAuth fields (auth_header_name/provider_name/
// token_url/client_id) rather than a static API key. A provider missing
// any of these simply has no refresh path, matching the original
// pipeline's behavior when auth_header/provider_name weren't supplied.
func buildTokenRefresher(name string, pc config.LLMProviderConfig) (llm.TokenRefresher, error) {
	if pc.AuthHeaderName == "" || pc.ProviderName == "" || pc.TokenURL == "" {
		return nil, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	store, err := cliauth.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return &cliauth.CLIRefresher{
		Store:    store,
		Provider: name,
		Endpoint: oauth2.Endpoint{TokenURL: pc.TokenURL},
		ClientID: pc.ClientID,
	}, nil
}

// Close releases the workflow store's database handle and flushes any
// pending trace spans.
func (e *Engine) Close() error {
	if e.tracerShutdown != nil {
		_ = e.tracerShutdown(context.Background())
	}
	if e.audit != nil {
		_ = e.audit.Close()
	}
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// RunSpec builds and drives a workflow for a single request: one module
// when modules is empty (the serial fallback SPEC_FULL.md describes as
// the common case), or a fan-out of independent per-module DAGs sharing
// one plan stage otherwise. A background WatchdogTask observes the run
// via the event bus until the workflow finishes or ctx is canceled; it
// is deliberately not a DAG stage since its loop has no natural
// completion the dispatcher's WaitGroup could block on.
func (e *Engine) RunSpec(ctx context.Context, id, userRequest, specText string, modules []ModuleRequest) (*workflow.Workflow, error) {
	ctx, span := e.tracer.Start(ctx, "trust5.run_spec")
	defer span.End()
	e.tracer.SetAttributes(span, "workflow.id", id)

	maxJumps := e.Config.Workflow.MaxJumps
	if maxJumps <= 0 {
		maxJumps = workflow.DefaultMaxJumps
	}

	w := BuildWorkflow(id, userRequest, specText, e.Config.Workspace.Path, maxJumps, modules)

	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go e.runWatchdog(watchdogCtx, id)

	dispatcher := workflow.NewDispatcher(e.registry, e.store, e.Bus, e.Logger, e.Config.Workflow.Workers)
	if err := dispatcher.Run(ctx, w); err != nil {
		e.tracer.RecordError(span, err)
		return w, fmt.Errorf("run workflow %s: %w", id, err)
	}
	return w, nil
}

// runWatchdog runs the long-lived watchdog loop out-of-band, tagging its
// findings with the workflow id via the event bus rather than a Stage
// Outputs map, since it never participates in the DAG.
func (e *Engine) runWatchdog(ctx context.Context, workflowID string) {
	task := stages.NewWatchdogTask(e.Bus, e.Logger)
	stage := &workflow.Stage{
		RefID: "watchdog:" + workflowID,
		Type:  "watchdog",
		Context: workflow.Context{
			"project_root": e.Config.Workspace.Path,
			"module_name":  workflowID,
			"max_jumps":    e.Config.Workflow.MaxJumps,
		},
	}
	if _, err := task.Execute(ctx, stage); err != nil {
		e.Logger.Warn("watchdog stopped with error", "workflow", workflowID, "error", err)
	}
}

// Resume reloads a persisted workflow and continues dispatching it —
// used by `trust5 resume` after a crash or an intentional interruption.
func (e *Engine) Resume(ctx context.Context, id string) (*workflow.Workflow, error) {
	w, err := e.store.LoadWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	workflow.Recover(w)

	dispatcher := workflow.NewDispatcher(e.registry, e.store, e.Bus, e.Logger, e.Config.Workflow.Workers)
	if err := dispatcher.Run(ctx, w); err != nil {
		return w, fmt.Errorf("resume workflow %s: %w", id, err)
	}
	return w, nil
}

// ListResumable returns the ids of workflows the store can still resume.
func (e *Engine) ListResumable(ctx context.Context) ([]string, error) {
	return e.store.ListResumable(ctx)
}

// PlanOnly runs just the plan stage for a request and returns its
// text output, without persisting a workflow or starting the rest of
// the pipeline - used by `trust5 plan` to preview a decomposition.
func (e *Engine) PlanOnly(ctx context.Context, id, userRequest string) (string, error) {
	stages := BuildModulePipeline(ModuleRequest{}, BuildOptions{
		ProjectRoot: e.Config.Workspace.Path, UserRequest: userRequest, MaxJumps: 1, IncludePlan: true,
	})
	w := workflow.NewWorkflow(id, "trust5-plan", stages[:1])

	dispatcher := workflow.NewDispatcher(e.registry, nil, e.Bus, e.Logger, 1)
	if err := dispatcher.Run(ctx, w); err != nil {
		return "", fmt.Errorf("plan %s: %w", id, err)
	}
	out, _ := w.StageByID["plan"].Outputs["plan_output"].(string)
	return out, nil
}
