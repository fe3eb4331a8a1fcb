package security

import (
	"fmt"
	"strings"

	"github.com/rodmena-limited/trust5/internal/config"
)

// AuditGatewayConfig audits the LLM gateway, sandbox, and approval settings
// for configurations that widen the engine's attack surface.
func AuditGatewayConfig(cfg *config.Config) []AuditFinding {
	if cfg == nil {
		return nil
	}

	var findings []AuditFinding

	if cfg.Tools.Sandbox.Backend == "local" && cfg.Tools.Sandbox.NetworkEnabled {
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.sandbox_network_local",
			Severity:    SeverityWarn,
			Title:       "Local sandbox backend has network access enabled",
			Detail:      "tools.sandbox.backend is \"local\" with network_enabled: true. Generated code executed in the local sandbox can reach the network with no isolation boundary.",
			Remediation: "Disable tools.sandbox.network_enabled, or switch tools.sandbox.backend to \"firecracker\" or \"daytona\" for network isolation.",
		})
	}

	profile := strings.ToLower(strings.TrimSpace(cfg.Tools.Execution.Approval.Profile))
	if profile == "full" {
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.approval_profile_full",
			Severity:    SeverityWarn,
			Title:       "Tool approval profile is \"full\"",
			Detail:      "tools.execution.approval.profile is set to \"full\", which auto-approves every tool call including destructive filesystem and network operations.",
			Remediation: "Use the \"coding\" or \"readonly\" profile unless the workspace is fully disposable.",
		})
	}
	if ask := cfg.Tools.Execution.Approval.AskFallback; ask != nil && !*ask && cfg.Tools.Execution.Approval.DefaultDecision == "allowed" {
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.approval_default_allowed",
			Severity:    SeverityCritical,
			Title:       "Tool approval defaults to allowed with no fallback prompt",
			Detail:      "tools.execution.approval.default_decision is \"allowed\" and ask_fallback is disabled, so unmatched tool calls run without any approval path.",
			Remediation: "Set default_decision to \"pending\" or \"denied\", or enable ask_fallback.",
		})
	}

	for name, provider := range cfg.LLM.Providers {
		if provider.BaseURL != "" && strings.HasPrefix(strings.ToLower(provider.BaseURL), "http://") {
			findings = append(findings, AuditFinding{
				CheckID:     "gateway.provider_plaintext_http",
				Severity:    SeverityWarn,
				Title:       fmt.Sprintf("LLM provider %q uses a plaintext HTTP base URL", name),
				Detail:      fmt.Sprintf("llm.providers.%s.base_url is %q. API keys and prompts would be sent unencrypted.", name, provider.BaseURL),
				Remediation: "Use an https:// base URL, or confirm this endpoint is a local loopback (e.g. Ollama on 127.0.0.1).",
			})
		}
	}

	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 32 {
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.jwt_secret_weak",
			Severity:    SeverityCritical,
			Title:       "JWT signing secret is too short",
			Detail:      fmt.Sprintf("auth.jwt_secret is %d characters; secrets under 32 characters are brute-forceable.", len(cfg.Auth.JWTSecret)),
			Remediation: "Generate a secret of at least 32 random bytes (e.g. `openssl rand -base64 32`).",
		})
	}

	return findings
}

// auditConfigContent scans configuration values for secrets that should be
// supplied through the environment rather than committed to a config file.
func auditConfigContent(cfg *config.Config) []AuditFinding {
	if cfg == nil {
		return nil
	}

	var findings []AuditFinding

	for name, provider := range cfg.LLM.Providers {
		if provider.APIKey != "" && !looksLikeEnvReference(provider.APIKey) {
			findings = append(findings, AuditFinding{
				CheckID:     "config.inline_provider_api_key",
				Severity:    SeverityWarn,
				Title:       fmt.Sprintf("API key for provider %q is inline in the config file", name),
				Detail:      fmt.Sprintf("llm.providers.%s.api_key holds a literal value instead of an environment reference.", name),
				Remediation: fmt.Sprintf("Set llm.providers.%s.api_key to \"${%s_API_KEY}\" and export the key as an environment variable instead.", name, strings.ToUpper(name)),
			})
		}
	}

	if cfg.Auth.JWTSecret != "" && !looksLikeEnvReference(cfg.Auth.JWTSecret) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.inline_jwt_secret",
			Severity:    SeverityWarn,
			Title:       "JWT secret is inline in the config file",
			Detail:      "auth.jwt_secret holds a literal value. Config files are often committed to version control or shared between operators.",
			Remediation: "Set auth.jwt_secret to \"${TRUST5_JWT_SECRET}\" and export the value as an environment variable.",
		})
	}

	if cfg.Auth.OAuth.Claude.ClientSecret != "" && !looksLikeEnvReference(cfg.Auth.OAuth.Claude.ClientSecret) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.inline_oauth_secret",
			Severity:    SeverityWarn,
			Title:       "Claude OAuth client secret is inline in the config file",
			Detail:      "auth.oauth.claude.client_secret holds a literal value instead of an environment reference.",
			Remediation: "Set auth.oauth.claude.client_secret to \"${CLAUDE_OAUTH_CLIENT_SECRET}\".",
		})
	}
	if cfg.Auth.OAuth.Google.ClientSecret != "" && !looksLikeEnvReference(cfg.Auth.OAuth.Google.ClientSecret) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.inline_oauth_secret",
			Severity:    SeverityWarn,
			Title:       "Google OAuth client secret is inline in the config file",
			Detail:      "auth.oauth.google.client_secret holds a literal value instead of an environment reference.",
			Remediation: "Set auth.oauth.google.client_secret to \"${GOOGLE_OAUTH_CLIENT_SECRET}\".",
		})
	}

	if cfg.Tools.Sandbox.Daytona.APIKey != "" && !looksLikeEnvReference(cfg.Tools.Sandbox.Daytona.APIKey) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.inline_daytona_api_key",
			Severity:    SeverityWarn,
			Title:       "Daytona sandbox API key is inline in the config file",
			Detail:      "tools.sandbox.daytona.api_key holds a literal value instead of an environment reference.",
			Remediation: "Set tools.sandbox.daytona.api_key to \"${DAYTONA_API_KEY}\".",
		})
	}

	for i, key := range cfg.Auth.APIKeys {
		if len(key.Key) < 20 {
			findings = append(findings, AuditFinding{
				CheckID:     "config.weak_api_key",
				Severity:    SeverityWarn,
				Title:       fmt.Sprintf("auth.api_keys[%d] is shorter than recommended", i),
				Detail:      fmt.Sprintf("API key for user %q is %d characters; short keys are easier to guess or brute-force.", key.UserID, len(key.Key)),
				Remediation: "Generate API keys with at least 20 random characters.",
			})
		}
	}

	return findings
}

// looksLikeEnvReference reports whether a config value is a reference to an
// environment variable (e.g. "${ANTHROPIC_API_KEY}") rather than a literal
// secret value.
func looksLikeEnvReference(value string) bool {
	v := strings.TrimSpace(value)
	return strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}")
}
