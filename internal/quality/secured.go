package quality

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
)

var cveReferencePattern = regexp.MustCompile(`CVE-\d{4}-\d+`)

// validateSecured runs the language's security scanner and classifies
// findings by severity: HIGH/CRITICAL block the gate, MEDIUM warns,
// LOW is informational only.
func (g *Gate) validateSecured(ctx context.Context) PillarResult {
	result := PillarResult{Pillar: PillarSecured, Passed: true, Score: 1.0}

	cmd := g.securityCommand()
	if cmd == "" {
		result.Issues = append(result.Issues, Issue{Severity: SeverityHint, Message: "no security scanner configured", Rule: "security-unavailable"})
		return result
	}

	rc, out, missing := runCommand(ctx, g.Runner, cmd, g.Root)
	if missing {
		result.Issues = append(result.Issues, Issue{Severity: SeverityHint, Message: "security tool not installed", Rule: "security-unavailable"})
		return result
	}

	findings := parseSecurityJSON(out)
	findings = filterSecurityByTestFile(findings)
	findings = filterBySkipDirs(findings, g.skipDirs())

	if len(findings) == 0 && rc != 0 {
		for _, line := range strings.Split(out, "\n") {
			stripped := strings.TrimSpace(line)
			if stripped == "" || strings.HasPrefix(stripped, "{") || strings.HasPrefix(stripped, "}") ||
				strings.HasPrefix(stripped, `"`) || strings.HasPrefix(stripped, "'") {
				continue
			}
			if cveReferencePattern.MatchString(stripped) {
				findings = append(findings, securityFinding{Severity: "HIGH", Text: stripped, Rule: "cve"})
			}
		}
		if len(findings) == 0 && rc != 1 {
			findings = append(findings, securityFinding{Severity: "LOW", Text: "security scanner exited non-zero", Rule: "scanner-exit"})
		}
	}

	highCount, medCount := 0, 0
	for _, f := range findings {
		severity := SeverityHint
		switch f.Severity {
		case "HIGH", "CRITICAL":
			severity = SeverityError
			highCount++
		case "MEDIUM":
			severity = SeverityWarning
			medCount++
		}
		loc := ""
		if f.File != "" {
			loc = " [" + f.File + "]"
		}
		result.Issues = append(result.Issues, Issue{
			File:     f.File,
			Line:     f.Line,
			Severity: severity,
			Message:  f.Text + loc,
			Rule:     firstNonEmpty(f.Rule, "security"),
		})
	}

	result.Score = round3(maxFloat(0.0, 1.0-float64(highCount)*0.3-float64(medCount)*0.1))
	result.Passed = highCount == 0
	return result
}

func filterBySkipDirs(findings []securityFinding, skip map[string]bool) []securityFinding {
	var out []securityFinding
	for _, f := range findings {
		if f.File == "" {
			out = append(out, f)
			continue
		}
		dir := filepath.Dir(f.File)
		excluded := false
		for s := range skip {
			if strings.Contains(dir, "/"+s) || strings.HasPrefix(dir, s) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, f)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
