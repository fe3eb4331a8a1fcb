package quality

import (
	"context"
	"strings"
)

// validateReadable runs the project's lint command(s) and scores on exit
// code alone — deliberately not regex-parsing violation counts. Raw lint
// output is stored verbatim in the issue message so RepairTask's agent
// can interpret it in context; a parsed violation count would throw away
// information the LLM repairer needs.
func (g *Gate) validateReadable(ctx context.Context) PillarResult {
	result := PillarResult{Pillar: PillarReadable, Passed: true, Score: 1.0}

	var cmds []string
	if plan := g.Config.PlanLintCommand; plan != "" {
		cmds = []string{plan}
	} else if g.Profile != nil {
		cmds = []string{joinCmd(g.Profile.LintCommand)}
	}

	lintFailures := 0
	lang := ""
	if g.Profile != nil {
		lang = g.Profile.Name
	}
	for _, cmd := range cmds {
		if cmd == "" {
			continue
		}
		cmd = excludeTestFilesFromLintCmd(cmd, lang)
		rc, out, missing := runCommand(ctx, g.Runner, cmd, g.Root)
		if rc == 0 || missing {
			continue
		}
		out = filterTestFileLintOutput(out)
		if trimmed := trimSpaceLimited(out, 2000); trimmed == "" {
			continue
		} else {
			lintFailures++
			result.Issues = append(result.Issues, Issue{Severity: SeverityError, Message: trimmed, Rule: "lint-errors"})
		}
	}

	result.Score = round3(maxFloat(0.0, 1.0-float64(lintFailures)*0.2))
	result.Passed = lintFailures == 0
	return result
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func trimSpaceLimited(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
