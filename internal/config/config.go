package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rodmena-limited/trust5/internal/mcp"
)

// Config is the root configuration tree for the trust5 engine, loaded from
// a project's .trust5/config.yaml plus any $include files it references.
type Config struct {
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	MCP           mcp.Config          `yaml:"mcp"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Quality       QualityConfig       `yaml:"quality"`
	Cron          CronConfig          `yaml:"cron"`
	Observability ObservabilityConfig `yaml:"observability"`
	Watch         WatchConfig         `yaml:"watch"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// WorkspaceConfig locates the project being built and the engine's own
// state directory within it.
type WorkspaceConfig struct {
	// Path is the project root. Defaults to the current directory.
	Path string `yaml:"path"`

	// StateDir holds run state: config.yaml, the SQLite workflow store,
	// watchdog_report.json, and the pipeline_complete sentinel. Relative
	// to Path unless absolute.
	StateDir string `yaml:"state_dir"`

	// MaxContextChars caps how much of the project tree (file listing,
	// existing source) is injected into the planning prompt.
	MaxContextChars int `yaml:"max_context_chars"`
}

// Load reads and parses the configuration file at path, resolving
// $include directives, applying environment overrides and defaults, and
// validating the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyWorkspaceDefaults(&cfg.Workspace)
	applyAuthDefaults(&cfg.Auth)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyWorkflowDefaults(&cfg.Workflow)
	applyQualityDefaults(&cfg.Quality)
	applyObservabilityDefaults(&cfg.Observability)
	applyLoggingDefaults(&cfg.Logging)
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".trust5"
	}
	if cfg.MaxContextChars == 0 {
		cfg.MaxContextChars = 20000
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

// DefaultWorkspaceConfig returns a workspace config with defaults applied.
func DefaultWorkspaceConfig() WorkspaceConfig {
	cfg := WorkspaceConfig{}
	applyWorkspaceDefaults(&cfg)
	return cfg
}

// DefaultConfig returns a Config with every section's defaults applied,
// for callers that need to run against a workspace with no trust5.yaml
// on disk yet.
func DefaultConfig(workspacePath string) *Config {
	cfg := &Config{Workspace: WorkspaceConfig{Path: workspacePath}}
	applyDefaults(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("TRUST5_WORKSPACE")); value != "" {
		cfg.Workspace.Path = value
	}
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("TRUST5_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("TRUST5_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		setProviderAPIKey(cfg, "anthropic", value)
	}
	if value := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); value != "" {
		setProviderAPIKey(cfg, "google", value)
	}
	if value := strings.TrimSpace(os.Getenv("TRUST5_METRICS_ADDR")); value != "" {
		cfg.Observability.MetricsAddr = value
	}
	if value := strings.TrimSpace(os.Getenv("TRUST5_OTLP_ENDPOINT")); value != "" {
		cfg.Observability.OTLPEndpoint = value
	}
}

func setProviderAPIKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.LLM.Providers[provider]
	entry.APIKey = key
	cfg.LLM.Providers[provider] = entry
}

// ConfigValidationError collects every validation failure found in one pass
// over the config tree, rather than stopping at the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Workspace.MaxContextChars < 0 {
		issues = append(issues, "workspace.max_context_chars must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if !validProvider(defaultProvider) {
			issues = append(issues, fmt.Sprintf("llm.default_provider %q must be \"ollama\", \"anthropic\", or \"google\"", cfg.LLM.DefaultProvider))
		} else if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}
	for _, provider := range cfg.LLM.FallbackChain {
		if !validProvider(provider) {
			issues = append(issues, fmt.Sprintf("llm.fallback_chain entry %q must be \"ollama\", \"anthropic\", or \"google\"", provider))
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	issues = append(issues, validateToolsConfig(&cfg.Tools)...)
	issues = append(issues, validateCronConfig(&cfg.Cron)...)

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}

