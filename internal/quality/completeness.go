package quality

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
)

var garbledFilePattern = regexp.MustCompile(`^=[0-9]`)

// validateCompleteness is the project-structure gate: required files
// present, and no garbled files (a common shell-redirect-bug artifact,
// e.g. `pip install foo>=1.0` misquoted into a file literally named
// "=1.0") left at the project root. Unlike the other pillars this one
// carries zero weight in the aggregate score by default — it is a hard
// pass/fail gate, not a scored dimension.
func (g *Gate) validateCompleteness(_ context.Context) PillarResult {
	result := PillarResult{Pillar: PillarCompleteness, Passed: true, Score: 1.0}

	required := g.Config.RequiredProjectFiles
	manifestSet := map[string]bool{}
	hasManifest := false
	if g.Profile != nil {
		for _, m := range g.Profile.ManifestFiles {
			manifestSet[m] = true
			if _, err := os.Stat(filepath.Join(g.Root, m)); err == nil {
				hasManifest = true
			}
		}
	}

	checks := len(required) + 1
	score := 0.0
	issuesCount := 0
	for _, req := range required {
		if _, err := os.Stat(filepath.Join(g.Root, req)); err == nil {
			score++
			continue
		}
		if manifestSet[req] && hasManifest {
			score++
			continue
		}
		issuesCount++
		result.Issues = append(result.Issues, Issue{Severity: SeverityError, Message: "required project file missing: " + req, Rule: "required-file-missing"})
	}

	garbledCount := 0
	entries, err := os.ReadDir(g.Root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if garbledFilePattern.MatchString(entry.Name()) {
				garbledCount++
				result.Issues = append(result.Issues, Issue{
					File:     entry.Name(),
					Severity: SeverityError,
					Message:  "garbled file detected (likely shell redirect artifact): " + entry.Name(),
					Rule:     "garbled-file",
				})
			}
		}
	}
	if garbledCount == 0 {
		score++
	} else {
		issuesCount += garbledCount
	}

	result.Score = round3(score / float64(checks))
	result.Passed = issuesCount == 0
	return result
}
