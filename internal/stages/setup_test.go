package stages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rodmena-limited/trust5/internal/langprofile"
)

func TestManifestHashStableForUnchangedManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	profile := &langprofile.Profile{ManifestFiles: []string{"go.mod"}}

	h1 := manifestHash(dir, profile)
	h2 := manifestHash(dir, profile)
	if h1 != h2 {
		t.Errorf("expected stable hash for an unchanged manifest, got %q then %q", h1, h2)
	}
}

func TestManifestHashChangesWithManifestContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "go.mod")
	profile := &langprofile.Profile{ManifestFiles: []string{"go.mod"}}

	if err := os.WriteFile(path, []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	before := manifestHash(dir, profile)

	if err := os.WriteFile(path, []byte("module x\n\nrequire y v1.0.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	after := manifestHash(dir, profile)

	if before == after {
		t.Error("expected hash to change when manifest content changes")
	}
}

func TestManifestHashFallsBackToRoot(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	profile := &langprofile.Profile{ManifestFiles: []string{"go.mod"}}

	if manifestHash(dirA, profile) == manifestHash(dirB, profile) {
		t.Error("expected distinct roots with no manifest file to hash differently")
	}
}
