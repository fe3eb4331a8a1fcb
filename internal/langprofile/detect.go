package langprofile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// skipDirs mirrors the directories excluded from extension-based detection
// so vendored dependencies and build output don't outvote real source.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
}

// extensionLanguage maps source-file extensions to the language they count
// toward during fallback detection.
var extensionLanguage = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "node",
	".jsx":  "node",
	".ts":   "node",
	".tsx":  "node",
	".rs":   "rust",
}

// Detect identifies the primary language of the project rooted at dir.
//
// Detection is manifest-first: each registered language's manifest files
// are checked in manifestOrder, and the first match wins. If no manifest
// is found, Detect falls back to counting source file extensions one
// directory level deep and returns the dominant language. Returns nil if
// neither step finds a match.
func Detect(dir string, logger *slog.Logger) *Profile {
	if logger == nil {
		logger = slog.Default()
	}

	for _, name := range manifestOrder {
		profile := registry[name]
		for _, manifest := range profile.ManifestFiles {
			path := filepath.Join(dir, manifest)
			if _, err := os.Stat(path); err == nil {
				logger.Debug("language detected by manifest", "language", name, "manifest", manifest)
				return profile
			}
		}
	}

	name := detectByExtensions(dir)
	if name == "" {
		logger.Debug("no language manifest or dominant source extension found", "dir", dir)
		return nil
	}
	logger.Debug("language detected by extension count", "language", name, "dir", dir)
	return registry[name]
}

// detectByExtensions scans dir one level deep (plus the root) and returns
// the language whose extensions appear most often, skipping common
// vendor/build directories. Ties break toward manifestOrder's precedence.
func detectByExtensions(dir string) string {
	counts := make(map[string]int)

	walk := func(path string) {
		entries, err := os.ReadDir(path)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if lang, ok := extensionLanguage[ext]; ok {
				counts[lang]++
			}
		}
	}

	walk(dir)

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() || skipDirs[entry.Name()] || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			walk(filepath.Join(dir, entry.Name()))
		}
	}

	best := ""
	bestCount := 0
	for _, name := range manifestOrder {
		if c := counts[name]; c > bestCount {
			best = name
			bestCount = c
		}
	}
	return best
}
