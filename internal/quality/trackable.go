package quality

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
)

var conventionalCommitPattern = regexp.MustCompile(
	`^(feat|fix|build|chore|ci|docs|style|refactor|perf|test)(\([a-zA-Z0-9_./-]+\))?!?: .+$`,
)

// validateTrackable scores file naming hygiene, test/source co-location,
// and whether the last commit follows Conventional Commits — cheap
// proxies for whether changes are easy to trace back to intent.
func (g *Gate) validateTrackable(ctx context.Context) PillarResult {
	result := PillarResult{Pillar: PillarTrackable, Passed: true, Score: 1.0}
	const checks = 3.0
	score := 0.0

	sourceFiles := findSourceFiles(g.Root, g.extensions(), g.skipDirs())

	var badNames []string
	for _, f := range sourceFiles {
		if strings.Contains(filepath.Base(f), " ") {
			badNames = append(badNames, f)
		}
	}
	if len(badNames) > 0 {
		limit := len(badNames)
		if limit > 5 {
			limit = 5
		}
		for _, f := range badNames[:limit] {
			result.Issues = append(result.Issues, Issue{File: f, Severity: SeverityWarning, Message: "filename contains spaces", Rule: "naming-convention"})
		}
		score += maxFloat(0.0, 1.0-float64(len(badNames))*0.2)
	} else {
		score++
	}

	var testFiles, nonTest []string
	for _, f := range sourceFiles {
		if isTestFile(filepath.Base(f)) {
			testFiles = append(testFiles, f)
		} else {
			nonTest = append(nonTest, f)
		}
	}
	switch {
	case len(nonTest) > 0 && len(testFiles) > 0:
		score++
	case len(nonTest) > 0:
		result.Issues = append(result.Issues, Issue{Severity: SeverityWarning, Message: "no test files found alongside source files", Rule: "test-structure"})
	default:
		score++
	}

	rc, out, _ := runCommand(ctx, g.Runner, "git log -1 --format=%s", g.Root)
	switch {
	case rc == 0 && strings.TrimSpace(out) != "":
		if conventionalCommitPattern.MatchString(strings.TrimSpace(out)) {
			score++
		} else {
			result.Issues = append(result.Issues, Issue{Severity: SeverityWarning, Message: "last commit does not follow Conventional Commits format", Rule: "conventional-commits"})
		}
	default:
		score += 0.5
	}

	result.Score = round3(score / checks)
	result.Passed = len(badNames) == 0 && (len(nonTest) == 0 || len(testFiles) > 0)
	return result
}
