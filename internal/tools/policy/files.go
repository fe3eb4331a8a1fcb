package policy

import "strings"

// FileAccess scopes a single agent loop's Write/Edit tool calls to the
// files a stage task is allowed to touch. RepairTask constructs one with
// DeniedFiles set to the module's test files and DenyTestPatterns=true, so
// a repair agent can fix source without also editing the tests that are
// supposed to hold it accountable.
type FileAccess struct {
	// OwnedFiles, if non-empty, is the exhaustive allow-list for a
	// parallel-pipeline module; a write outside this set is denied even
	// if it isn't in DeniedFiles.
	OwnedFiles []string

	// DeniedFiles is an explicit deny-list, checked before OwnedFiles.
	DeniedFiles []string

	// DenyTestPatterns additionally denies any path matching a common
	// test-file naming convention, regardless of OwnedFiles/DeniedFiles.
	DenyTestPatterns bool
}

var testFileSuffixes = []string{"_test.go", ".test.ts", ".test.js", ".spec.ts", ".spec.js"}

func isTestPath(path string) bool {
	for _, suf := range testFileSuffixes {
		if strings.HasSuffix(path, suf) {
			return true
		}
	}
	return strings.Contains(path, "/test/") || strings.Contains(path, "/tests/") ||
		strings.HasPrefix(path, "test_") || strings.Contains(path, "/test_")
}

// Allows reports whether path may be written by an agent scoped to this
// FileAccess.
func (f FileAccess) Allows(path string) bool {
	if f.DenyTestPatterns && isTestPath(path) {
		return false
	}
	for _, d := range f.DeniedFiles {
		if d == path {
			return false
		}
	}
	if len(f.OwnedFiles) == 0 {
		return true
	}
	for _, o := range f.OwnedFiles {
		if o == path {
			return true
		}
	}
	return false
}
