package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rodmena-limited/trust5/internal/config"
)

func TestNewAuditor(t *testing.T) {
	auditor := NewAuditor(AuditOptions{})
	if auditor == nil {
		t.Fatal("NewAuditor returned nil")
	}
}

func TestAuditFilesystemPermissions(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "trust5.yaml")
	if err := os.WriteFile(configPath, []byte("workspace:\n  path: .\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := AuditOptions{
		ConfigPath:        configPath,
		StateDir:          tmpDir,
		IncludeFilesystem: true,
	}

	auditor := NewAuditor(opts)
	report, err := auditor.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	found := false
	for _, f := range report.Findings {
		if f.CheckID == "fs.config_world_readable" {
			found = true
			if f.Severity != SeverityCritical {
				t.Errorf("expected critical severity, got %s", f.Severity)
			}
		}
	}
	if !found {
		t.Error("expected a world-readable config finding")
	}
}

func TestAuditWorldWritableDir(t *testing.T) {
	tmpDir := t.TempDir()

	credsDir := filepath.Join(tmpDir, "credentials")
	if err := os.Mkdir(credsDir, 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(credsDir, 0777); err != nil {
		t.Fatal(err)
	}

	findings, err := CheckPath(credsDir)
	if err != nil {
		t.Fatalf("CheckPath failed: %v", err)
	}

	found := false
	for _, f := range findings {
		if f.CheckID == "fs.state_dir_world_writable" {
			found = true
			if f.Severity != SeverityCritical {
				t.Errorf("expected critical severity, got %s", f.Severity)
			}
		}
	}
	if !found {
		t.Error("expected a world-writable directory finding")
	}
}

func TestComputeSummary(t *testing.T) {
	findings := []AuditFinding{
		{CheckID: "test1", Severity: SeverityCritical},
		{CheckID: "test2", Severity: SeverityCritical},
		{CheckID: "test3", Severity: SeverityWarn},
		{CheckID: "test4", Severity: SeverityInfo},
		{CheckID: "test5", Severity: SeverityInfo},
		{CheckID: "test6", Severity: SeverityInfo},
	}

	summary := computeSummary(findings)

	if summary.Critical != 2 {
		t.Errorf("expected 2 critical, got %d", summary.Critical)
	}
	if summary.Warn != 1 {
		t.Errorf("expected 1 warn, got %d", summary.Warn)
	}
	if summary.Info != 3 {
		t.Errorf("expected 3 info, got %d", summary.Info)
	}
}

func TestValidatePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "secret.yaml")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := ValidatePermissions(path, SecureFileMode); err != nil {
		t.Errorf("expected 0600 to satisfy SecureFileMode, got error: %v", err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}
	if err := ValidatePermissions(path, SecureFileMode); err == nil {
		t.Error("expected 0644 to violate SecureFileMode")
	}
}

func TestAuditGatewayConfig_SandboxNetworkLocal(t *testing.T) {
	cfg := &config.Config{}
	cfg.Tools.Sandbox.Backend = "local"
	cfg.Tools.Sandbox.NetworkEnabled = true

	findings := AuditGatewayConfig(cfg)

	found := false
	for _, f := range findings {
		if f.CheckID == "gateway.sandbox_network_local" {
			found = true
		}
	}
	if !found {
		t.Error("expected a sandbox_network_local finding")
	}
}

func TestAuditGatewayConfig_ApprovalProfileFull(t *testing.T) {
	cfg := &config.Config{}
	cfg.Tools.Execution.Approval.Profile = "full"

	findings := AuditGatewayConfig(cfg)

	found := false
	for _, f := range findings {
		if f.CheckID == "gateway.approval_profile_full" {
			found = true
		}
	}
	if !found {
		t.Error("expected an approval_profile_full finding")
	}
}

func TestAuditGatewayConfig_WeakJWTSecret(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "short"

	findings := AuditGatewayConfig(cfg)

	found := false
	for _, f := range findings {
		if f.CheckID == "gateway.jwt_secret_weak" {
			found = true
			if f.Severity != SeverityCritical {
				t.Errorf("expected critical severity, got %s", f.Severity)
			}
		}
	}
	if !found {
		t.Error("expected a jwt_secret_weak finding")
	}
}

func TestAuditConfigContent_InlineSecrets(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Providers = map[string]config.LLMProviderConfig{
		"anthropic": {APIKey: "sk-ant-literal-value"},
	}
	cfg.Auth.JWTSecret = "a-literal-secret-value-not-an-env-ref"

	findings := auditConfigContent(cfg)

	var checkIDs []string
	for _, f := range findings {
		checkIDs = append(checkIDs, f.CheckID)
	}

	wantCritical := map[string]bool{
		"config.inline_provider_api_key": false,
		"config.inline_jwt_secret":       false,
	}
	for _, id := range checkIDs {
		if _, ok := wantCritical[id]; ok {
			wantCritical[id] = true
		}
	}
	for id, seen := range wantCritical {
		if !seen {
			t.Errorf("expected finding %s, got findings %v", id, checkIDs)
		}
	}
}

func TestAuditConfigContent_EnvReferenceNotFlagged(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Providers = map[string]config.LLMProviderConfig{
		"anthropic": {APIKey: "${ANTHROPIC_API_KEY}"},
	}

	findings := auditConfigContent(cfg)
	for _, f := range findings {
		if f.CheckID == "config.inline_provider_api_key" {
			t.Error("env-style reference should not be flagged as inline")
		}
	}
}

func TestIsSensitiveFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"id_rsa", true},
		{"server.key", true},
		{".env", true},
		{".env.production", true},
		{"README.md", false},
		{"main.go", false},
	}

	for _, tt := range tests {
		if got := isSensitiveFile(tt.path); got != tt.want {
			t.Errorf("isSensitiveFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
