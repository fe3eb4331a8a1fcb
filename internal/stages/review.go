package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rodmena-limited/trust5/internal/agentloop"
	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/llm"
	"github.com/rodmena-limited/trust5/internal/markdown"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// reviewCategories are the finding buckets the reviewer system prompt
// asks the agent to classify each finding into.
var reviewCategories = []string{
	"code-duplication", "deprecated-api", "design-smell",
	"error-handling", "performance", "security", "test-quality",
}

// ReviewFinding is one structured issue the reviewer agent reported.
type ReviewFinding struct {
	Severity    string `json:"severity"` // "error" | "warning" | "info"
	Category    string `json:"category"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
}

// ReviewReport is the reviewer agent's parsed output.
type ReviewReport struct {
	Findings      []ReviewFinding `json:"findings"`
	SummaryScore  float64         `json:"summary_score"`
	TotalErrors   int             `json:"total_errors"`
	TotalWarnings int             `json:"total_warnings"`
	TotalInfo     int             `json:"total_info"`
}

const reviewPassScore = 0.8

// ReviewTask runs a read-only LLM pass over the finished module between
// repair and the quality gate, looking for the semantic issues a test
// suite and linters can't catch on their own: duplication, deprecated
// APIs, design smells, weak error handling, missed performance or
// security issues, and thin test coverage. Unlike RepairTask/QualityTask
// it never edits code — it only reports or, on an error-severity
// finding, jumps back to repair with the findings as feedback.
type ReviewTask struct {
	Gateway *llm.Gateway
	Runner  *exec.Manager
	Bus     *eventbus.Bus
	Logger  *slog.Logger
	Model   string
	Config  config.QualityConfig
}

func NewReviewTask(gateway *llm.Gateway, runner *exec.Manager, bus *eventbus.Bus, logger *slog.Logger, model string, cfg config.QualityConfig) *ReviewTask {
	return &ReviewTask{Gateway: gateway, Runner: runner, Bus: bus, Logger: logger, Model: model, Config: cfg}
}

func (t *ReviewTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")

	if t.Config.CodeReviewEnabled != nil && !*t.Config.CodeReviewEnabled {
		t.emit(moduleName, "code review disabled — skipping")
		return workflow.Success(map[string]any{"review_passed": true, "review_skipped": true}), nil
	}

	registry := buildReadonlyToolset(root)

	label := fmt.Sprintf("review:%s", moduleName)
	loop := agentloop.New(agentloop.Deps{
		Gateway: t.Gateway,
		Tools:   registry,
		Bus:     t.Bus,
		Logger:  t.Logger,
	}, label, t.Model, registry.Definitions(), reviewerSystemPrompt)

	prompt := t.buildPrompt(c, root)

	t.emit(moduleName, "code review started")
	outcome, err := loop.Run(ctx, prompt)
	if err != nil {
		t.emit(moduleName, fmt.Sprintf("review agent error: %v", err))
		return workflow.FailedContinue(fmt.Errorf("review agent failed: %w", err), map[string]any{
			"review_passed": false,
			"review_score":  0.0,
			"review_error":  err.Error(),
		}), nil
	}

	report := parseReviewFindings(outcome.FinalMessage)
	t.emitReport(moduleName, report)

	passed := report.TotalErrors == 0 && report.SummaryScore >= reviewPassScore
	if passed {
		t.emit(moduleName, fmt.Sprintf("code review passed — score %.2f (%d warnings, %d info)",
			report.SummaryScore, report.TotalWarnings, report.TotalInfo))
		return workflow.Success(t.outputs(report, true)), nil
	}

	jumpToRepair := t.Config.CodeReviewJumpToRepair && report.TotalErrors > 0
	if jumpToRepair {
		t.emit(moduleName, fmt.Sprintf("code review failed — score %.2f (%d errors). jumping to repair",
			report.SummaryScore, report.TotalErrors))
		target := stringCtx(c, jumpRepairRef, "repair")
		overrides := make(workflow.Context)
		workflow.PropagateContext(c, overrides, nil)
		overrides["project_root"] = root
		overrides["test_output"] = truncate(formatRepairFeedback(report), 6000)
		overrides[ctxFailureType] = "review"
		workflow.IncrementJumpCount(overrides)
		return workflow.JumpTo(target, overrides), nil
	}

	t.emit(moduleName, fmt.Sprintf("code review failed (advisory) — score %.2f (%d errors, %d warnings)",
		report.SummaryScore, report.TotalErrors, report.TotalWarnings))
	return workflow.FailedContinue(fmt.Errorf("code review failed (score=%.2f)", report.SummaryScore), t.outputs(report, false)), nil
}

func (t *ReviewTask) buildPrompt(c workflow.Context, root string) string {
	var sb strings.Builder
	if planOutput := stringCtx(c, "plan_output", ""); planOutput != "" {
		fmt.Fprintf(&sb, "## Plan Output\n\n%s\n\n", truncate(planOutput, 4000))
	}
	if specText := stringCtx(c, ctxSpecText, ""); specText != "" {
		fmt.Fprintf(&sb, "## Spec Context\n\n%s\n\n", truncate(specText, 4000))
	}
	fmt.Fprintf(&sb, "Categories to watch for: %s.\n\n", strings.Join(reviewCategories, ", "))
	fmt.Fprintf(&sb, "WORKING DIRECTORY: %s\n", root)
	sb.WriteString("Use the read tool to inspect source and test files under the working directory, then " +
		"report your findings as an HTML comment block of the form:\n\n" +
		"<!-- REVIEW_FINDINGS JSON\n" +
		`{"findings":[{"severity":"error|warning|info","category":"...","file":"...","line":0,"description":"..."}],` +
		`"summary_score":0.0,"total_errors":0,"total_warnings":0,"total_info":0}` + "\n-->\n\n" +
		"Do not write or edit any file — this is a read-only review pass.")
	return sb.String()
}

func (t *ReviewTask) outputs(report *ReviewReport, passed bool) map[string]any {
	return map[string]any{
		"review_passed":   passed,
		"review_score":    report.SummaryScore,
		"review_findings": report.Findings,
		"review_errors":   report.TotalErrors,
		"review_warnings": report.TotalWarnings,
	}
}

func (t *ReviewTask) emit(label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, "RVST", msg).WithLabel(label))
}

// emitReport renders the report as a markdown table block, passed through
// internal/markdown so a narrow terminal subscriber can reflow it.
func (t *ReviewTask) emitReport(label string, report *ReviewReport) {
	if t.Bus == nil {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Score: %.2f | Errors: %d | Warnings: %d | Info: %d\n\n", report.SummaryScore, report.TotalErrors, report.TotalWarnings, report.TotalInfo)
	sb.WriteString("| Severity | Category | Location | Description |\n")
	sb.WriteString("|---|---|---|---|\n")
	for i, f := range report.Findings {
		if i >= 20 {
			break
		}
		loc := "—"
		if f.File != "" {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", strings.ToUpper(f.Severity), f.Category, loc, f.Description)
	}
	body := markdown.ConvertTables(sb.String(), markdown.TableModeBullets)

	t.Bus.Publish(eventbus.New(eventbus.KindBlockStart, "RVRP", "Code Review Report").WithLabel(label))
	for _, line := range strings.Split(body, "\n") {
		t.Bus.Publish(eventbus.New(eventbus.KindBlockLine, "RVRP", line).WithLabel(label))
	}
	t.Bus.Publish(eventbus.New(eventbus.KindBlockEnd, "RVRP", "").WithLabel(label))
}

func formatRepairFeedback(report *ReviewReport) string {
	var sb strings.Builder
	sb.WriteString("CODE REVIEW FAILED — fix the following issues:\n\n")
	for _, f := range report.Findings {
		if f.Severity != "error" {
			continue
		}
		loc := ""
		if f.File != "" {
			loc = fmt.Sprintf(" [%s:%d]", f.File, f.Line)
		}
		fmt.Fprintf(&sb, "  - [%s][%s]%s %s\n", strings.ToUpper(f.Severity), f.Category, loc, f.Description)
	}
	sb.WriteString("\nFix these issues and ensure all tests still pass.")
	return sb.String()
}

const reviewerSystemPrompt = `You are a senior code reviewer performing a read-only semantic review of a
finished module. You never write or edit files. Look for code duplication, deprecated APIs,
design smells, weak error handling, performance issues, security issues, and thin test
coverage. Report structured findings in the exact HTML-comment JSON format the user prompt
specifies — this is how your review is machine-parsed. If you find nothing worth reporting,
emit an empty findings list with a high summary_score.`
