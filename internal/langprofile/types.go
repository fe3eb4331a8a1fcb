// Package langprofile detects a workspace's primary language from its
// manifest files and source layout, and exposes the toolchain commands
// (test/lint/syntax-check/dev-dependency-install) ValidateTask and
// SetupTask need to drive that toolchain without hardcoding per-language
// branches in the stage implementations themselves.
package langprofile

// Profile is the detected toolchain profile for a project: the commands a
// stage task shells out to, and the layout hints ValidateTask uses to
// construct a language-aware source-root environment (e.g. PYTHONPATH).
type Profile struct {
	// Name is the detected language identifier ("go", "python", "node",
	// "rust").
	Name string

	// TestCommand runs the project's test suite.
	TestCommand []string

	// LintCommand auto-fixes style issues where the toolchain supports it.
	LintCommand []string

	// SyntaxCheckCommand performs a fast syntax/type check without running
	// tests, used to fail fast before a full test run.
	SyntaxCheckCommand []string

	// SourceRoots are the directories added to PathEnvVar so the test
	// runner can import in-progress source without an install step.
	SourceRoots []string

	// PathEnvVar is the environment variable SourceRoots are joined into
	// (e.g. "PYTHONPATH"); empty when the language's toolchain resolves
	// imports relative to the manifest instead (Go, Rust, Node).
	PathEnvVar string

	// TestFileGlob matches the project's test file naming convention, used
	// by ValidateTask to exclude test files from owned-files lint scoping.
	TestFileGlob string

	// DevDependencyInstall installs the toolchain's development
	// dependencies (test runner, linter) before the first test run.
	DevDependencyInstall []string

	// ManifestFiles are the marker files whose presence identifies this
	// language, checked in the order listed.
	ManifestFiles []string
}
