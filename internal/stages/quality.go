package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/langprofile"
	"github.com/rodmena-limited/trust5/internal/quality"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// defaultMaxQualityAttempts bounds how many times QualityTask sends a
// module back to repair before accepting a partial result.
const defaultMaxQualityAttempts = 3

// QualityTask runs the six quality pillars concurrently via
// internal/quality.Gate and decides whether the module is done, needs one
// more repair pass, or should be accepted as a partial result.
type QualityTask struct {
	Config config.QualityConfig
	Runner *exec.Manager
	Bus    *eventbus.Bus
	Logger *slog.Logger
}

func NewQualityTask(cfg config.QualityConfig, runner *exec.Manager, bus *eventbus.Bus, logger *slog.Logger) *QualityTask {
	return &QualityTask{Config: cfg, Runner: runner, Bus: bus, Logger: logger}
}

func (t *QualityTask) Execute(_ context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")
	qualityAttempt := intCtx(c, ctxQualityAttempt, 0)
	maxAttempts := intCtx(c, "max_quality_attempts", defaultMaxQualityAttempts)

	profile, _ := c[ctxLanguageProfile].(*langprofile.Profile)
	if profile == nil {
		profile = profileFromContext(c, root)
	}

	cfg := t.Config
	if planConfig, ok := c[ctxPlanConfig].(map[string]any); ok {
		if thresholdRaw, ok := planConfig["quality_threshold"].(float64); ok {
			cfg.PassScore = clamp(thresholdRaw, 0.1, 1.0)
		}
	}

	gate := quality.NewGate(cfg, profile, root, t.Runner, t.Logger)
	report := gate.Validate(context.Background())
	c[ctxQualityReport] = report

	t.emit(eventbus.CodeQuality, moduleName, fmt.Sprintf(
		"quality score %.2f (threshold %.2f), %d errors, %d warnings",
		report.Score, cfg.PassScore, report.TotalErrors, report.TotalWarnings))

	if report.Passed && report.Score >= cfg.PassScore && report.TotalErrors == 0 {
		overrides := make(workflow.Context)
		workflow.PropagateContext(c, overrides, nil)
		overrides["project_root"] = root
		overrides[ctxLanguageProfile] = profile
		overrides["quality_passed"] = true
		overrides["quality_score"] = report.Score
		overrides[ctxQualityReport] = report
		workflow.IncrementJumpCount(overrides)
		target := stringCtx(c, jumpReviewRef, "review")
		return workflow.JumpTo(target, overrides), nil
	}

	if testsPartial, _ := c["tests_partial"].(bool); testsPartial {
		return t.acceptPartial(report, "tests_partial flag set by an earlier stage"), nil
	}

	lastScore, hadLast := c[ctxLastQualityScore].(float64)
	stagnant := hadLast && report.Score <= lastScore

	if qualityAttempt >= maxAttempts {
		return t.acceptPartial(report, fmt.Sprintf("quality attempts exhausted (%d)", maxAttempts)), nil
	}

	if stagnant {
		return t.acceptPartial(report, "quality score did not improve over the previous attempt"), nil
	}

	// Recoverable: send back to repair for one more pass.
	overrides := make(workflow.Context)
	workflow.PropagateContext(c, overrides, nil)
	overrides["project_root"] = root
	overrides[ctxLanguageProfile] = profile
	overrides[ctxFailureType] = "quality"
	overrides["test_output"] = summarizeReport(report)
	overrides["tests_passed"] = false
	overrides[ctxQualityAttempt] = qualityAttempt + 1
	overrides[ctxLastQualityScore] = report.Score
	workflow.IncrementJumpCount(overrides)

	target := stringCtx(c, jumpRepairRef, "repair")
	t.emit(eventbus.CodeQuality, moduleName, fmt.Sprintf("jumping to repair for quality (attempt %d/%d)", qualityAttempt+1, maxAttempts))
	return workflow.JumpTo(target, overrides), nil
}

func (t *QualityTask) acceptPartial(report *quality.QualityReport, reason string) workflow.TaskResult {
	return workflow.FailedContinue(fmt.Errorf("accepting partial quality result: %s", reason), map[string]any{
		"quality_passed": false,
		"quality_score":  report.Score,
		"quality_report": report,
		"partial_reason": reason,
	})
}

func (t *QualityTask) emit(code, label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, code, msg).WithLabel(label))
}

func summarizeReport(report *quality.QualityReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Quality gate score %.2f, %d errors, %d warnings.\n", report.Score, report.TotalErrors, report.TotalWarnings)
	for _, pillar := range quality.AllPillars {
		result, ok := report.Pillars[pillar]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s: score=%.2f passed=%v\n", pillar, result.Score, result.Passed)
		for _, issue := range result.Issues {
			if issue.Severity == quality.SeverityError {
				fmt.Fprintf(&sb, "    [%s] %s: %s\n", issue.Rule, issue.File, issue.Message)
			}
		}
	}
	return truncate(sb.String(), testOutputLimit)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
