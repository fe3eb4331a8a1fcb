package quality

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rodmena-limited/trust5/internal/tools/exec"
)

// maxFileLines is the default ceiling a source file may reach before the
// understandable pillar flags it as oversized.
const maxFileLines = 600

// commandTimeout bounds every validator subprocess so one hung linter
// can't stall the whole gate.
const commandTimeout = 90 * time.Second

var testFilePattern = regexp.MustCompile(`(?i)(test_|_test\.|\.test\.|spec_|_spec\.)`)

var typeErrorPattern = regexp.MustCompile(`(?i)type\s*error`)

// joinCmd renders a LanguageProfile command tuple as a shell command
// string for exec.Manager.RunCommand, which always shells out via
// `/bin/sh -c`.
func joinCmd(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = shellQuote(p)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"$`\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// runCommand runs cmd through the workspace's shared exec manager and
// reports whether the tool itself was missing (exit 127, or a shell
// "command not found" message) so validators can degrade to a hint
// instead of a hard failure.
func runCommand(ctx context.Context, runner *exec.Manager, cmd string, root string) (exitCode int, output string, toolMissing bool) {
	if cmd == "" {
		return 127, "", true
	}
	res, err := runner.RunCommand(ctx, cmd, root, nil, "", commandTimeout)
	if err != nil {
		return -1, err.Error(), false
	}
	out := res.Stdout + res.Stderr
	missing := res.ExitCode == 127 || isToolMissingMessage(out)
	return res.ExitCode, out, missing
}

func isToolMissingMessage(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "command not found") ||
		strings.Contains(lower, "not recognized as an internal or external command") ||
		strings.Contains(lower, "no such file or directory")
}

// findSourceFiles walks root (skipping skipDirs and dotted directories)
// and returns files whose extension is in extensions.
func findSourceFiles(root string, extensions []string, skipDirs map[string]bool) []string {
	ext := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		ext[strings.ToLower(e)] = true
	}

	var files []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if ext[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// isTestFile reports whether basename looks like a test/spec file by the
// naming conventions used across Go, Python, JS/TS, and Rust toolchains.
func isTestFile(basename string) bool {
	return testFilePattern.MatchString(basename)
}

// checkFileSizes flags files whose line count exceeds maxLines.
func checkFileSizes(files []string, maxLines int) []Issue {
	var issues []Issue
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		lines := strings.Count(string(data), "\n") + 1
		if lines > maxLines {
			issues = append(issues, Issue{
				File:     f,
				Severity: SeverityWarning,
				Message:  "file exceeds " + strconv.Itoa(maxLines) + " lines (" + strconv.Itoa(lines) + ")",
				Rule:     "file-size",
			})
		}
	}
	return issues
}

// docCompletenessScore estimates the fraction of top-level declarations
// that carry an adjacent doc comment, as a cheap proxy for the
// understandable pillar's documentation check. It counts lines that look
// like an exported declaration (Go-flavored, but the comment-prefix check
// generalizes across the supported languages) and lines immediately
// preceded by a comment.
func docCompletenessScore(files []string, language string) float64 {
	var declCount, docCount int
	declPattern := declPatternFor(language)
	if declPattern == nil {
		return 1.0
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !declPattern.MatchString(line) {
				continue
			}
			declCount++
			if i > 0 && isCommentLine(strings.TrimSpace(lines[i-1]), language) {
				docCount++
			}
		}
	}

	if declCount == 0 {
		return 1.0
	}
	return float64(docCount) / float64(declCount)
}

func declPatternFor(language string) *regexp.Regexp {
	switch language {
	case "go":
		return regexp.MustCompile(`^func [A-Z]|^type [A-Z]`)
	case "python":
		return regexp.MustCompile(`^(def|class) [A-Za-z]`)
	case "node":
		return regexp.MustCompile(`^export (function|class|const) `)
	case "rust":
		return regexp.MustCompile(`^pub fn |^pub struct |^pub enum `)
	default:
		return nil
	}
}

func isCommentLine(line, language string) bool {
	switch language {
	case "python":
		return strings.HasPrefix(line, "#") || strings.HasPrefix(line, `"""`)
	default:
		return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "/*")
	}
}

// assertionDensity estimates the ratio of test files containing at least
// one assertion-like statement, a cheap stand-in for the oracle-problem
// mitigation check: a test suite with no real assertions (only "it runs
// without crashing") scores low even when every test "passes".
func assertionDensity(root string, extensions []string, skipDirs map[string]bool) (float64, []Issue) {
	files := findSourceFiles(root, extensions, skipDirs)
	var testFiles []string
	for _, f := range files {
		if isTestFile(filepath.Base(f)) {
			testFiles = append(testFiles, f)
		}
	}
	if len(testFiles) == 0 {
		return 0.0, []Issue{{
			Severity: SeverityWarning,
			Message:  "no test files found to measure assertion density",
			Rule:     "assertion-density",
		}}
	}

	assertPattern := regexp.MustCompile(`(?i)(assert|expect\(|require\.|\.Equal\(|\.Error\(|\.NoError\(|t\.Fatal)`)
	withAssertions := 0
	for _, f := range testFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		if assertPattern.Match(data) {
			withAssertions++
		}
	}

	density := float64(withAssertions) / float64(len(testFiles))
	var issues []Issue
	if density < 0.5 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "fewer than half of test files contain recognizable assertions",
			Rule:     "assertion-density",
		})
	}
	return density, issues
}

// coveragePercent extracts a percentage from common coverage tool output
// formats (go test -cover, pytest-cov, istanbul/nyc, tarpaulin). Returns
// -1 when no recognizable summary line is found.
func coveragePercent(output string) float64 {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`coverage[:=]\s*([0-9.]+)%`),    // go test -cover / internal hint messages
		regexp.MustCompile(`TOTAL\s+\d+\s+\d+\s+([0-9.]+)%`), // coverage.py
		regexp.MustCompile(`All files\s*\|\s*([0-9.]+)`),     // istanbul
		regexp.MustCompile(`([0-9.]+)%\s+coverage`),          // tarpaulin
	}
	for _, p := range patterns {
		if m := p.FindStringSubmatch(output); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return v
			}
		}
	}
	return -1
}

// securityFinding is a normalized scanner result, independent of whether
// it came from gosec/bandit JSON or a plain-text CVE grep fallback.
type securityFinding struct {
	Severity string
	Text     string
	File     string
	Line     int
	Rule     string
}

// parseSecurityJSON attempts to decode common scanner JSON shapes
// (gosec's {"Issues":[...]}, bandit's {"results":[...]}) into normalized
// findings. Returns nil, not an error, when the output isn't JSON — the
// caller falls back to a CVE-reference text scan.
func parseSecurityJSON(output string) []securityFinding {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || trimmed[0] != '{' {
		return nil
	}

	var gosec struct {
		Issues []struct {
			Severity   string `json:"severity"`
			Details    string `json:"details"`
			File       string `json:"file"`
			Line       string `json:"line"`
			RuleID     string `json:"rule_id"`
		} `json:"Issues"`
	}
	if err := json.Unmarshal([]byte(trimmed), &gosec); err == nil && len(gosec.Issues) > 0 {
		var findings []securityFinding
		for _, it := range gosec.Issues {
			line, _ := strconv.Atoi(it.Line)
			findings = append(findings, securityFinding{
				Severity: strings.ToUpper(it.Severity),
				Text:     it.Details,
				File:     it.File,
				Line:     line,
				Rule:     it.RuleID,
			})
		}
		return findings
	}

	var bandit struct {
		Results []struct {
			IssueSeverity string `json:"issue_severity"`
			IssueText     string `json:"issue_text"`
			Filename      string `json:"filename"`
			LineNumber    int    `json:"line_number"`
			TestID        string `json:"test_id"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(trimmed), &bandit); err == nil && len(bandit.Results) > 0 {
		var findings []securityFinding
		for _, r := range bandit.Results {
			findings = append(findings, securityFinding{
				Severity: strings.ToUpper(r.IssueSeverity),
				Text:     r.IssueText,
				File:     r.Filename,
				Line:     r.LineNumber,
				Rule:     r.TestID,
			})
		}
		return findings
	}

	return nil
}

// filterByTestFile drops findings located in a test file — the repair
// agent cannot modify tests, so test-file security/lint findings would be
// unfixable noise.
func filterSecurityByTestFile(findings []securityFinding) []securityFinding {
	var out []securityFinding
	for _, f := range findings {
		if f.File != "" && isTestFile(filepath.Base(f.File)) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// excludeTestFilesFromLintCmd rewrites a lint command so the linter
// skips files matching the project's test naming convention, mirroring
// ValidateTask's owned-files lint scoping for languages whose linter
// supports a glob-exclusion flag.
func excludeTestFilesFromLintCmd(cmd, language string) string {
	switch language {
	case "python":
		if strings.Contains(cmd, "ruff") && !strings.Contains(cmd, "--exclude") {
			return cmd + " --exclude test_*.py"
		}
	case "go":
		// go vet/gofmt have no file-glob exclusion flag; filtering happens
		// on the output instead, via filterTestFileLintOutput.
	}
	return cmd
}

// filterTestFileLintOutput strips lines referencing a test file from raw
// linter output, for tools with no exclusion flag.
func filterTestFileLintOutput(output string) string {
	lines := strings.Split(output, "\n")
	var kept []string
	for _, line := range lines {
		field := line
		if idx := strings.Index(line, ":"); idx > 0 {
			field = line[:idx]
		}
		if isTestFile(filepath.Base(field)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
