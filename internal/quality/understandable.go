package quality

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
)

var warningLinePattern = regexp.MustCompile(`(?i)warning`)

// validateUnderstandable scores on compiler/lint warning volume, source
// file size, and a cheap documentation-completeness estimate.
func (g *Gate) validateUnderstandable(ctx context.Context) PillarResult {
	result := PillarResult{Pillar: PillarUnderstandable, Passed: true, Score: 1.0}
	const checks = 3.0
	score := 0.0

	warnings := 0
	skip := g.skipDirs()
	if g.Profile != nil {
		_, out, _ := runCommand(ctx, g.Runner, joinCmd(g.Profile.LintCommand), g.Root)
		for _, line := range strings.Split(out, "\n") {
			if !warningLinePattern.MatchString(line) {
				continue
			}
			if inSkippedDir(line, skip) {
				continue
			}
			if testFilePattern.MatchString(line) {
				continue
			}
			warnings++
		}
	}

	threshold := g.Config.MaxWarnings
	if threshold > 0 && warnings > threshold {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message:  "warning count exceeds threshold",
			Rule:     "warnings-threshold",
		})
		score += maxFloat(0.0, 1.0-float64(warnings-threshold)*0.05)
	} else {
		score++
	}

	sourceFiles := findSourceFiles(g.Root, g.extensions(), skip)
	var nonTest []string
	for _, f := range sourceFiles {
		if !isTestFile(filepath.Base(f)) {
			nonTest = append(nonTest, f)
		}
	}
	maxLines := g.Config.MaxFileLines
	if maxLines == 0 {
		maxLines = maxFileLines
	}
	sizeIssues := checkFileSizes(nonTest, maxLines)
	if len(sizeIssues) > 0 {
		result.Issues = append(result.Issues, sizeIssues...)
		score += 0.5
	} else {
		score++
	}

	language := ""
	if g.Profile != nil {
		language = g.Profile.Name
	}
	docScore := docCompletenessScore(nonTest, language)
	if docScore < 0.5 {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message:  "documentation completeness is low",
			Rule:     "doc-completeness",
		})
		score += docScore
	} else {
		score++
	}

	result.Score = round3(score / checks)
	result.Passed = (threshold == 0 || warnings <= threshold) && len(sizeIssues) == 0
	return result
}

func inSkippedDir(line string, skip map[string]bool) bool {
	for dir := range skip {
		if strings.Contains(line, "/"+dir+"/") || strings.HasPrefix(line, dir+"/") || strings.HasPrefix(line, "./"+dir+"/") {
			return true
		}
	}
	return false
}
