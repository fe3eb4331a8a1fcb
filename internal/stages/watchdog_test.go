package stages

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRuleRepairLoop(t *testing.T) {
	tests := []struct {
		name     string
		health   PipelineHealth
		wantOK   bool
		wantSev  string
	}{
		{"healthy", PipelineHealth{}, false, ""},
		{"warn threshold", PipelineHealth{RepairAttempts: 3}, true, "warn"},
		{"error threshold", PipelineHealth{JumpCount: 20}, true, "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, ok := ruleRepairLoop(&tc.health)
			if ok != tc.wantOK {
				t.Fatalf("ruleRepairLoop() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && f.Severity != tc.wantSev {
				t.Errorf("severity = %q, want %q", f.Severity, tc.wantSev)
			}
		})
	}
}

func TestRuleIdleAgent(t *testing.T) {
	if _, ok := ruleIdleAgent(&PipelineHealth{ConsecutiveReadonlyTurns: 7}); ok {
		t.Error("expected no finding below threshold")
	}
	f, ok := ruleIdleAgent(&PipelineHealth{ConsecutiveReadonlyTurns: 8})
	if !ok || f.Rule != "idle_agent" {
		t.Errorf("expected idle_agent finding at threshold, got %+v ok=%v", f, ok)
	}
}

func TestRuleRegression(t *testing.T) {
	tests := []struct {
		name    string
		history []bool
		wantOK  bool
	}{
		{"too short", []bool{false, false}, false},
		{"never passed", []bool{false, false, false}, false},
		{"recovered", []bool{true, false, true}, false},
		{"regressed after a pass", []bool{true, false, false, false}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &PipelineHealth{TestPassHistory: tc.history}
			_, ok := ruleRegression(h)
			if ok != tc.wantOK {
				t.Errorf("ruleRegression(%v) ok = %v, want %v", tc.history, ok, tc.wantOK)
			}
		})
	}
}

func TestRuleStall(t *testing.T) {
	fresh := &PipelineHealth{LastStageCompletion: time.Now()}
	if _, ok := ruleStall(fresh); ok {
		t.Error("expected no stall finding right after a completion")
	}

	warn := &PipelineHealth{LastStageCompletion: time.Now().Add(-31 * time.Minute)}
	f, ok := ruleStall(warn)
	if !ok || f.Severity != "warn" {
		t.Errorf("expected warn stall finding, got %+v ok=%v", f, ok)
	}

	fatal := &PipelineHealth{LastStageCompletion: time.Now().Add(-61 * time.Minute)}
	f, ok = ruleStall(fatal)
	if !ok || f.Severity != "error" {
		t.Errorf("expected error stall finding, got %+v ok=%v", f, ok)
	}
}

func TestRuleJumpExhaustion(t *testing.T) {
	tests := []struct {
		name      string
		jumpCount int
		maxJumps  int
		wantOK    bool
		wantSev   string
	}{
		{"low usage", 5, 50, false, ""},
		{"warn band", 30, 50, true, "warn"},
		{"error band", 45, 50, true, "error"},
		{"no max configured", 45, 0, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &PipelineHealth{JumpCount: tc.jumpCount, MaxJumps: tc.maxJumps}
			f, ok := ruleJumpExhaustion(h)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && f.Severity != tc.wantSev {
				t.Errorf("severity = %q, want %q", f.Severity, tc.wantSev)
			}
		})
	}
}

func TestCheckGarbledRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.go")
	if err := os.WriteFile(path, []byte("=12 some diff artifact\npackage foo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, ok := checkGarbled(path, "broken.go")
	if !ok || f.Severity != "error" {
		t.Fatalf("expected garbled finding, got %+v ok=%v", f, ok)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected garbled file to be removed")
	}
}

func TestCheckGarbledIgnoresNormalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.go")
	if err := os.WriteFile(path, []byte("package foo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := checkGarbled(path, "ok.go"); ok {
		t.Error("did not expect a finding for a normal file")
	}
}

func TestCheckDoubleExtension(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		wantOK bool
	}{
		{"suspicious", "handler.go.go", true},
		{"spec file allowlisted", "widget.spec.ts", false},
		{"minified allowlisted", "bundle.min.js", false},
		{"single extension", "main.go", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := checkDoubleExtension(tc.path, tc.path)
			if ok != tc.wantOK {
				t.Errorf("checkDoubleExtension(%q) ok = %v, want %v", tc.path, ok, tc.wantOK)
			}
		})
	}
}

func TestCheckStubContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stub.py")
	if err := os.WriteFile(path, []byte("# Module: widgets\n\n# implementation required\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, ok := checkStubContent(path, "stub.py")
	if !ok || f.Rule != "stub_content" {
		t.Fatalf("expected stub_content finding, got %+v ok=%v", f, ok)
	}
}

func TestCheckManifestFiles(t *testing.T) {
	dir := t.TempDir()
	if _, ok := checkManifestFiles(dir); ok {
		t.Error("expected manifest check to fail on an empty directory")
	}

	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := checkManifestFiles(dir); !ok {
		t.Error("expected manifest check to pass once go.mod exists")
	}
}
