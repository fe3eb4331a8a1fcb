package quality

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/langprofile"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
)

func newTestGate(t *testing.T, root string) *Gate {
	t.Helper()
	cfg := config.QualityConfig{
		Weights: map[string]float64{
			PillarTested: 0.3, PillarReadable: 0.15, PillarUnderstandable: 0.15,
			PillarSecured: 0.2, PillarTrackable: 0.1, PillarCompleteness: 0.1,
		},
		PassScore:            0.5,
		CoverageThreshold:    70,
		MaxFileLines:         600,
		RequiredProjectFiles: []string{"README.md"},
	}
	profile := langprofile.Lookup("go")
	return NewGate(cfg, profile, root, exec.NewManager(root), nil)
}

func TestValidateCompleteness_MissingRequiredFile(t *testing.T) {
	dir := t.TempDir()
	g := newTestGate(t, dir)

	result := g.validateCompleteness(context.Background())
	if result.Passed {
		t.Error("expected completeness to fail when README.md is missing")
	}
	found := false
	for _, issue := range result.Issues {
		if issue.Rule == "required-file-missing" {
			found = true
		}
	}
	if !found {
		t.Error("expected a required-file-missing issue")
	}
}

func TestValidateCompleteness_AllFilesPresent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# x"), 0644); err != nil {
		t.Fatal(err)
	}
	g := newTestGate(t, dir)

	result := g.validateCompleteness(context.Background())
	if !result.Passed {
		t.Errorf("expected completeness to pass, issues: %v", result.Issues)
	}
}

func TestValidateCompleteness_GarbledFileDetected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "=1.0"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	g := newTestGate(t, dir)

	result := g.validateCompleteness(context.Background())
	if result.Passed {
		t.Error("expected completeness to fail on garbled file")
	}
}

func TestValidateTrackable_FilenameWithSpaces(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad file.go"), []byte("package x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	g := newTestGate(t, dir)

	result := g.validateTrackable(context.Background())
	if result.Passed {
		t.Error("expected trackable to fail on filename with spaces")
	}
}

func TestValidateTrackable_NoTestsAlongsideSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	g := newTestGate(t, dir)

	result := g.validateTrackable(context.Background())
	found := false
	for _, issue := range result.Issues {
		if issue.Rule == "test-structure" {
			found = true
		}
	}
	if !found {
		t.Error("expected a test-structure issue when no test files exist")
	}
}

func TestGate_Validate_RunsAllPillarsConcurrently(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n\ngo 1.22\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	g := newTestGate(t, dir)
	report := g.Validate(context.Background())

	if report == nil {
		t.Fatal("Validate returned nil")
	}
	for _, pillar := range AllPillars {
		if _, ok := report.Pillars[pillar]; !ok {
			t.Errorf("missing pillar result for %s", pillar)
		}
	}
}

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"foo_test.go", true},
		{"test_foo.py", true},
		{"foo.test.ts", true},
		{"foo_spec.rb", true},
		{"main.go", false},
	}
	for _, tt := range tests {
		if got := isTestFile(tt.name); got != tt.want {
			t.Errorf("isTestFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCoveragePercent(t *testing.T) {
	tests := []struct {
		output string
		want   float64
	}{
		{"coverage: 73.2% of statements", 73.2},
		{"coverage=42.0%", 42.0},
		{"no coverage info here", -1},
	}
	for _, tt := range tests {
		if got := coveragePercent(tt.output); got != tt.want {
			t.Errorf("coveragePercent(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}
