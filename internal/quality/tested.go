package quality

import (
	"context"
	"strconv"
)

// validateTested runs the project's test command and coverage command,
// scoring on pass/fail, absence of type errors in the output, coverage
// against the configured threshold, and assertion density (the oracle-
// problem mitigation: a suite with no real assertions should not score
// well just because nothing failed).
func (g *Gate) validateTested(ctx context.Context) PillarResult {
	result := PillarResult{Pillar: PillarTested, Passed: true, Score: 1.0}
	const checks = 4.0
	score := 0.0

	testCmd := g.Config.PlanTestCommand
	if testCmd == "" && g.Profile != nil {
		testCmd = joinCmd(g.Profile.TestCommand)
	}
	rc, out, _ := runCommand(ctx, g.Runner, testCmd, g.Root)
	testsPassed := rc == 0
	if testsPassed {
		score++
	} else {
		result.Issues = append(result.Issues, Issue{Severity: SeverityError, Message: "tests failed", Rule: "tests-pass"})
	}

	typeErrors := typeErrorPattern.FindAllString(out, -1)
	if len(typeErrors) == 0 {
		score++
	} else {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityError,
			Message:  strconv.Itoa(len(typeErrors)) + " type error(s)",
			Rule:     "type-error",
		})
	}

	coverage := -1.0
	covCmd := g.Config.PlanCoverageCommand
	threshold := g.Config.CoverageThreshold
	if threshold <= 0 {
		threshold = 70
	}
	if covCmd == "" {
		covCmd = g.coverageCommand()
	}
	if covCmd == "" {
		score += 0.5
		result.Issues = append(result.Issues, Issue{Severity: SeverityHint, Message: "no coverage command configured", Rule: "coverage-unavailable"})
	} else {
		covRC, covOut, missing := runCommand(ctx, g.Runner, covCmd, g.Root)
		if missing {
			score += 0.5
			result.Issues = append(result.Issues, Issue{Severity: SeverityHint, Message: "coverage tool not available", Rule: "coverage-unavailable"})
		} else {
			_ = covRC
			coverage = coveragePercent(covOut)
			switch {
			case coverage < 0:
				score += 0.5
				result.Issues = append(result.Issues, Issue{Severity: SeverityHint, Message: "coverage output unparseable", Rule: "coverage-parse-fail"})
			case coverage >= threshold:
				score++
			default:
				score += minFloat(1.0, coverage/threshold)
				result.Issues = append(result.Issues, Issue{
					Severity: SeverityError,
					Message:  "coverage below threshold",
					Rule:     "coverage-threshold",
				})
			}
		}
	}
	if coverage >= 0 {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityHint,
			Message:  "coverage=" + strconv.FormatFloat(coverage, 'f', 1, 64) + "%",
			Rule:     "coverage-measured",
		})
	}

	density, densityIssues := assertionDensity(g.Root, g.extensions(), g.skipDirs())
	score += density
	result.Issues = append(result.Issues, densityIssues...)
	result.Issues = append(result.Issues, Issue{Severity: SeverityHint, Message: "assertion density measured", Rule: "assertion-density-measured"})

	result.Score = round3(score / checks)
	result.Passed = testsPassed && len(typeErrors) == 0 && (coverage < 0 || coverage >= threshold) && density >= 0.5
	return result
}
