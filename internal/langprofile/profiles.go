package langprofile

// registry holds the built-in profiles, keyed by language name. It covers
// the core toolchains the pipeline engine drives directly; projects in
// other languages still run through the generic stage tasks but without
// source-root/env wiring.
var registry = map[string]*Profile{
	"go": {
		Name:                 "go",
		TestCommand:          []string{"go", "test", "./..."},
		LintCommand:          []string{"gofmt", "-w", "."},
		SyntaxCheckCommand:   []string{"go", "vet", "./..."},
		SourceRoots:          nil,
		PathEnvVar:           "",
		TestFileGlob:         "*_test.go",
		DevDependencyInstall: []string{"go", "mod", "download"},
		ManifestFiles:        []string{"go.mod"},
	},
	"python": {
		Name:                 "python",
		TestCommand:          []string{"pytest", "-q"},
		LintCommand:          []string{"ruff", "check", "--fix", "."},
		SyntaxCheckCommand:   []string{"python3", "-m", "py_compile"},
		SourceRoots:          []string{"src", "."},
		PathEnvVar:           "PYTHONPATH",
		TestFileGlob:         "test_*.py",
		DevDependencyInstall: []string{"pip", "install", "-e", ".[dev]"},
		ManifestFiles:        []string{"pyproject.toml", "requirements.txt", "setup.py"},
	},
	"node": {
		Name:                 "node",
		TestCommand:          []string{"npm", "test", "--silent"},
		LintCommand:          []string{"npx", "eslint", "--fix", "."},
		SyntaxCheckCommand:   []string{"npx", "tsc", "--noEmit"},
		SourceRoots:          nil,
		PathEnvVar:           "",
		TestFileGlob:         "*.test.{js,ts}",
		DevDependencyInstall: []string{"npm", "install"},
		ManifestFiles:        []string{"package.json"},
	},
	"rust": {
		Name:                 "rust",
		TestCommand:          []string{"cargo", "test"},
		LintCommand:          []string{"cargo", "fmt"},
		SyntaxCheckCommand:   []string{"cargo", "check"},
		SourceRoots:          nil,
		PathEnvVar:           "",
		TestFileGlob:         "*_test.rs",
		DevDependencyInstall: []string{"cargo", "fetch"},
		ManifestFiles:        []string{"Cargo.toml"},
	},
}

// manifestOrder fixes detection precedence when a workspace carries more
// than one manifest (e.g. a Go service with a bundled Node UI): the
// language whose manifest sits at repo root and whose source dominates by
// extension count wins, but ties fall back to this order.
var manifestOrder = []string{"go", "rust", "python", "node"}

// Lookup returns the built-in profile for name, or nil if none is
// registered.
func Lookup(name string) *Profile {
	return registry[name]
}

// Names returns the registered language names in detection precedence
// order.
func Names() []string {
	out := make([]string, len(manifestOrder))
	copy(out, manifestOrder)
	return out
}
