package config

import (
	"fmt"
	"strings"
	"time"
)

// LoggingConfig controls the structured logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures the optional metrics and tracing surfaces.
// Both are no-ops until an address/endpoint is set.
type ObservabilityConfig struct {
	// MetricsAddr, when set, starts a prometheus/client_golang /metrics
	// handler on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// OTLPEndpoint, when set, exports stage and LLM call spans via
	// OTLP/gRPC to this collector address.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	Tracing TracingConfig `yaml:"tracing"`

	// AuditLog enables structured JSON audit logging of every subprocess
	// invocation (setup/validate/quality commands) to
	// <state_dir>/audit.log. On by default - the sentinel files and
	// workflow DB already persist run outcomes, but not the individual
	// commands that produced them.
	AuditLog *bool `yaml:"audit_log"`
}

// TracingConfig controls OpenTelemetry span attributes and sampling.
type TracingConfig struct {
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// WatchConfig controls the optional local websocket event viewer.
type WatchConfig struct {
	// Enabled starts the `trust5 watch` websocket server. Opt-in.
	Enabled bool `yaml:"enabled"`

	// Addr is the loopback listen address. Defaults to 127.0.0.1:0
	// (OS-assigned port).
	Addr string `yaml:"addr"`
}

// WorkflowConfig controls the Workflow Runtime's jump budget and recovery
// persistence.
type WorkflowConfig struct {
	// MaxJumps caps how many times a workflow may re-route stages before
	// the run is forced to fail_continue. Mirrors DEFAULT_MAX_JUMPS.
	MaxJumps int `yaml:"max_jumps"`

	// StorePath is the SQLite file used for crash-recovery persistence,
	// relative to WorkspaceConfig.StateDir unless absolute.
	StorePath string `yaml:"store_path"`

	// ResumeOnStartup scans the store for resumable workflows and offers
	// to continue them instead of starting fresh.
	ResumeOnStartup bool `yaml:"resume_on_startup"`

	// Workers sizes the dispatcher's stage worker pool.
	Workers int `yaml:"workers"`
}

// QualityConfig controls the Quality Gate's pillar weighting and pass bar.
type QualityConfig struct {
	// Weights maps pillar name (tested, readable, understandable, secured,
	// trackable, completeness) to its share of the aggregate score.
	// Missing entries default to an even split.
	Weights map[string]float64 `yaml:"weights"`

	// PassScore is the minimum weighted aggregate score (0-1) required for
	// QualityTask to report success.
	PassScore float64 `yaml:"pass_score"`

	// CoverageThreshold is the minimum line-coverage percentage the tested
	// pillar requires when a coverage command is available.
	CoverageThreshold float64 `yaml:"coverage_threshold"`

	// MaxWarnings caps the understandable pillar's lint-warning count
	// before it starts penalizing score. Zero disables the cap.
	MaxWarnings int `yaml:"max_warnings"`

	// MaxFileLines caps source file length before the understandable
	// pillar flags it as oversized. Defaults to 600 when unset.
	MaxFileLines int `yaml:"max_file_lines"`

	// PlanTestCommand, PlanLintCommand, and PlanCoverageCommand let a
	// workflow's planner override the detected LanguageProfile's commands
	// for a single run (e.g. a module-specific test filter), taking
	// precedence over the profile's defaults when non-empty.
	PlanTestCommand     string `yaml:"-"`
	PlanLintCommand     string `yaml:"-"`
	PlanCoverageCommand string `yaml:"-"`

	// RequiredProjectFiles lists files the completeness pillar expects to
	// find at the project root (in addition to the language's manifest).
	RequiredProjectFiles []string `yaml:"required_project_files"`

	// CodeReviewEnabled toggles ReviewTask's LLM-based semantic review
	// pass between repair and the quality gate. Nil means unset and
	// defaults to true; set explicitly to false to skip review entirely.
	CodeReviewEnabled *bool `yaml:"code_review_enabled"`

	// CodeReviewJumpToRepair sends an errored review finding back to
	// repair instead of just recording it advisory-only.
	CodeReviewJumpToRepair bool `yaml:"code_review_jump_to_repair"`

	// ReviewMaxTurns bounds how many turns the reviewer agent loop takes.
	ReviewMaxTurns int `yaml:"review_max_turns"`
}

// CronConfig configures scheduled workflow re-runs (`trust5 loop --every`),
// supplementing the engine's always-on auto-retry loop with calendar
// scheduling via robfig/cron.
type CronConfig struct {
	Enabled bool            `yaml:"enabled"`
	Jobs    []CronJobConfig `yaml:"jobs"`
}

// CronJobConfig names one recurring job. Type selects which of Message,
// Webhook, or Custom applies; "agent" re-runs a workflow through the
// message payload's Content/Template and ignores Webhook/Custom.
type CronJobConfig struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Enabled  bool               `yaml:"enabled"`
	Type     string             `yaml:"type"`
	Schedule CronScheduleConfig `yaml:"schedule"`
	Retry    CronRetryConfig    `yaml:"retry"`
	Message  *CronMessageConfig `yaml:"message"`
	Webhook  *CronWebhookConfig `yaml:"webhook"`
	Custom   *CronCustomConfig  `yaml:"custom"`
}

// CronScheduleConfig defines when a job runs: a cron expression, a fixed
// interval, or a single absolute timestamp (At, parsed as RFC3339 or
// "2006-01-02 15:04"), never more than one.
type CronScheduleConfig struct {
	Cron     string        `yaml:"cron"`
	Every    time.Duration `yaml:"every"`
	At       string        `yaml:"at"`
	Timezone string        `yaml:"timezone"`
}

// CronRetryConfig controls retry behavior when a scheduled run fails.
type CronRetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// CronMessageConfig carries the payload for a "message" or "agent" job.
// Content is used verbatim when set; otherwise Template is rendered
// through text/template with Data plus now/date/time. Channel/ChannelID
// identify the destination for a "message" job and are optional for
// "agent". Tools must be empty for a plain "message" job - only the
// agent path may invoke tools.
type CronMessageConfig struct {
	Channel   string         `yaml:"channel"`
	ChannelID string         `yaml:"channel_id"`
	Content   string         `yaml:"content"`
	Template  string         `yaml:"template"`
	Data      map[string]any `yaml:"data"`
	Tools     []string       `yaml:"tools"`
}

// CronWebhookConfig invokes an HTTP endpoint on each tick, for a
// "webhook" job.
type CronWebhookConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Auth    *CronWebhookAuth  `yaml:"auth"`
	Timeout time.Duration     `yaml:"timeout"`
}

// CronWebhookAuth carries bearer, basic, or api_key credentials for a
// CronWebhookConfig request. A nil Auth on the webhook sends no
// credentials at all.
type CronWebhookAuth struct {
	Type   string `yaml:"type"`
	Token  string `yaml:"token"`
	User   string `yaml:"user"`
	Pass   string `yaml:"pass"`
	Header string `yaml:"header"`
}

// CronCustomConfig names an application-registered handler to run on
// each tick, for a "custom" job.
type CronCustomConfig struct {
	Handler string         `yaml:"handler"`
	Args    map[string]any `yaml:"args"`
}

func applyWorkflowDefaults(cfg *WorkflowConfig) {
	if cfg.MaxJumps == 0 {
		cfg.MaxJumps = 50
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "workflow.db"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
}

func applyQualityDefaults(cfg *QualityConfig) {
	if cfg.PassScore == 0 {
		cfg.PassScore = 0.8
	}
	if cfg.CoverageThreshold == 0 {
		cfg.CoverageThreshold = 70
	}
	if cfg.MaxFileLines == 0 {
		cfg.MaxFileLines = 600
	}
	if cfg.RequiredProjectFiles == nil {
		cfg.RequiredProjectFiles = []string{"README.md"}
	}
	if cfg.Weights == nil {
		cfg.Weights = map[string]float64{
			"tested":         0.3,
			"readable":       0.15,
			"understandable": 0.15,
			"secured":        0.2,
			"trackable":      0.1,
			"completeness":   0.1,
		}
	}
	if cfg.CodeReviewEnabled == nil {
		enabled := true
		cfg.CodeReviewEnabled = &enabled
	}
	if cfg.ReviewMaxTurns == 0 {
		cfg.ReviewMaxTurns = 20
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "trust5"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.AuditLog == nil {
		enabled := true
		cfg.AuditLog = &enabled
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func validateCronConfig(cfg *CronConfig) []string {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	var issues []string
	for i, job := range cfg.Jobs {
		if strings.TrimSpace(job.ID) == "" {
			issues = append(issues, fmt.Sprintf("cron.jobs[%d].id is required", i))
		}
		if strings.TrimSpace(job.Schedule.Cron) == "" && job.Schedule.Every == 0 {
			issues = append(issues, fmt.Sprintf("cron.jobs[%d].schedule.cron or schedule.every is required", i))
		}
	}
	return issues
}
