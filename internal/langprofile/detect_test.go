package langprofile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDetect_ByManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{"go module", "go.mod", "go"},
		{"python pyproject", "pyproject.toml", "python"},
		{"python requirements", "requirements.txt", "python"},
		{"node package", "package.json", "node"},
		{"rust cargo", "Cargo.toml", "rust"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.manifest, "")

			profile := Detect(dir, nil)
			if profile == nil {
				t.Fatal("Detect returned nil")
			}
			if profile.Name != tt.want {
				t.Errorf("Detect() = %q, want %q", profile.Name, tt.want)
			}
		})
	}
}

func TestDetect_ManifestPrecedenceOverExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/x\n")
	writeFile(t, dir, "scripts/helper.py", "print('hi')\n")
	writeFile(t, dir, "scripts/helper2.py", "print('hi')\n")
	writeFile(t, dir, "main.go", "package main\n")

	profile := Detect(dir, nil)
	if profile == nil || profile.Name != "go" {
		t.Fatalf("expected manifest match to win, got %v", profile)
	}
}

func TestDetect_FallbackByExtensionCount(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "")
	writeFile(t, dir, "b.py", "")
	writeFile(t, dir, "c.js", "")

	profile := Detect(dir, nil)
	if profile == nil {
		t.Fatal("expected fallback detection to find python")
	}
	if profile.Name != "python" {
		t.Errorf("Detect() = %q, want python", profile.Name)
	}
}

func TestDetect_SkipsVendorDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "node_modules/pkg/index.js", "")
	writeFile(t, dir, "node_modules/pkg/other.js", "")
	writeFile(t, dir, "src/main.rs", "")
	writeFile(t, dir, "Cargo.toml", "")

	profile := Detect(dir, nil)
	if profile == nil || profile.Name != "rust" {
		t.Fatalf("expected rust manifest to win over vendored js, got %v", profile)
	}
}

func TestDetect_EmptyDirReturnsNil(t *testing.T) {
	dir := t.TempDir()
	if profile := Detect(dir, nil); profile != nil {
		t.Errorf("expected nil for empty dir, got %v", profile)
	}
}

func TestLookup(t *testing.T) {
	if p := Lookup("go"); p == nil || p.Name != "go" {
		t.Errorf("Lookup(go) = %v", p)
	}
	if p := Lookup("cobol"); p != nil {
		t.Errorf("Lookup(cobol) = %v, want nil", p)
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 4 {
		t.Fatalf("expected 4 registered languages, got %d", len(names))
	}
}
