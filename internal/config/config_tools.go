package config

import (
	"strings"
	"time"
)

// ToolsConfig controls the Tools API's sandboxing, approval, and execution
// behavior.
type ToolsConfig struct {
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Elevated  ElevatedConfig      `yaml:"elevated"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools, applied
// before a tool call's FileAccess check.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Rules define per-tool allow/deny behavior.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for one tool name or group
// reference (e.g. "group:fs", "group:runtime").
type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"` // "allow" | "deny"
}

// ToolExecutionConfig controls runtime tool execution behavior for a stage
// task's agent loop invocation.
type ToolExecutionConfig struct {
	MaxIterations int                   `yaml:"max_iterations"`
	Parallelism   int                   `yaml:"parallelism"`
	Timeout       time.Duration         `yaml:"timeout"`
	MaxAttempts   int                   `yaml:"max_attempts"`
	RetryBackoff  time.Duration         `yaml:"retry_backoff"`
	MaxToolCalls  int                   `yaml:"max_tool_calls"`
	Approval      ApprovalConfig        `yaml:"approval"`
	ResultGuard   ToolResultGuardConfig `yaml:"result_guard"`
}

// ApprovalConfig controls which tools a stage task's agent loop may invoke
// without pausing for operator approval.
type ApprovalConfig struct {
	// Profile is a pre-configured tool access level.
	// Valid profiles: "coding", "readonly", "full", "minimal".
	Profile string `yaml:"profile"`

	// Allowlist contains tools that are always allowed (no approval needed).
	// Supports patterns like "mcp:*", "read_*", "*" (all), and group
	// references like "group:fs", "group:runtime".
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied, same pattern rules
	// as Allowlist.
	Denylist []string `yaml:"denylist"`

	// SafeBins are stdin-only shell commands safe to auto-allow without a
	// prompt (e.g. "cat", "ls", "git diff").
	SafeBins []string `yaml:"safe_bins"`

	// AskFallback queues approval when no interactive terminal is attached
	// instead of denying outright.
	AskFallback *bool `yaml:"ask_fallback"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long a pending approval request remains valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ToolResultGuardConfig controls redaction of tool results before they are
// persisted in a stage's context or workflow store.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	RedactionText   string   `yaml:"redaction_text"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"`
}

// ElevatedConfig allows specific stage tasks (e.g. SetupTask's dev
// dependency install) to bypass the approval gate for a narrow tool set.
type ElevatedConfig struct {
	Enabled *bool    `yaml:"enabled"`
	Tools   []string `yaml:"tools"`
}

// SandboxConfig controls where implement/validate/repair tasks run builds,
// tests, and other subprocess tool calls.
type SandboxConfig struct {
	Enabled        bool                  `yaml:"enabled"`
	Backend        string                `yaml:"backend"` // "local", "firecracker", "daytona"
	PoolSize       int                   `yaml:"pool_size"`
	MaxPoolSize    int                   `yaml:"max_pool_size"`
	Timeout        time.Duration         `yaml:"timeout"`
	NetworkEnabled bool                  `yaml:"network_enabled"`
	Limits         ResourceLimits        `yaml:"limits"`
	Snapshots      SandboxSnapshotConfig `yaml:"snapshots"`
	Daytona        SandboxDaytonaConfig  `yaml:"daytona"`

	// WorkspaceRoot is the root directory mounted into the sandbox.
	// Defaults to the engine's WorkspaceConfig.Path.
	WorkspaceRoot string `yaml:"workspace_root"`

	// WorkspaceAccess controls mount mode: "readonly" or "readwrite".
	WorkspaceAccess string `yaml:"workspace_access"`
}

// SandboxDaytonaConfig configures the Daytona remote sandbox backend, used
// when isolation stronger than a local subprocess is required.
type SandboxDaytonaConfig struct {
	APIKey         string `yaml:"api_key"`
	OrganizationID string `yaml:"organization_id"`
	APIURL         string `yaml:"api_url"`
	Target         string `yaml:"target"`
	Snapshot       string `yaml:"snapshot"`
	Image          string `yaml:"image"`
	ReuseSandbox   bool   `yaml:"reuse_sandbox"`
}

// SandboxSnapshotConfig controls Firecracker snapshot reuse for the local
// sandbox backend.
type SandboxSnapshotConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxAge          time.Duration `yaml:"max_age"`
}

// ResourceLimits caps a sandbox's CPU and memory.
type ResourceLimits struct {
	MaxCPU    int    `yaml:"max_cpu"`
	MaxMemory string `yaml:"max_memory"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg == nil {
		return
	}
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 40
	}
	if cfg.Execution.MaxToolCalls == 0 {
		cfg.Execution.MaxToolCalls = 200
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 120 * time.Second
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 5
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "local"
	}
	if cfg.Sandbox.PoolSize == 0 {
		cfg.Sandbox.PoolSize = 1
	}
}

func validateToolsConfig(cfg *ToolsConfig) []string {
	if cfg == nil {
		return nil
	}
	var issues []string
	if cfg.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Execution.MaxAttempts < 0 {
		issues = append(issues, "tools.execution.max_attempts must be >= 0")
	}
	if cfg.Execution.RetryBackoff < 0 {
		issues = append(issues, "tools.execution.retry_backoff must be >= 0")
	}
	if cfg.Execution.MaxToolCalls < 0 {
		issues = append(issues, "tools.execution.max_tool_calls must be >= 0")
	}
	if profile := strings.ToLower(strings.TrimSpace(cfg.Execution.Approval.Profile)); profile != "" {
		switch profile {
		case "coding", "readonly", "full", "minimal":
		default:
			issues = append(issues, "tools.execution.approval.profile must be \"coding\", \"readonly\", \"full\", or \"minimal\"")
		}
	}
	if backend := strings.ToLower(strings.TrimSpace(cfg.Sandbox.Backend)); backend != "" {
		switch backend {
		case "local", "firecracker", "daytona":
		default:
			issues = append(issues, "tools.sandbox.backend must be \"local\", \"firecracker\", or \"daytona\"")
		}
	}
	return issues
}
