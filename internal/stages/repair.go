package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rodmena-limited/trust5/internal/agentloop"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/llm"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/tools/policy"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// repairRetryAfterSeconds is the delay RepairTask asks the runtime to wait
// before re-queuing after an LLM transient failure.
const repairRetryAfterSeconds = 30

// RepairTask delegates to the agent loop with a prompt built from the
// validate failure, denying the agent write access to test files so it
// cannot silence a failing test instead of fixing the code under test.
type RepairTask struct {
	Gateway *llm.Gateway
	Runner  *exec.Manager
	Bus     *eventbus.Bus
	Logger  *slog.Logger
	Model   string
}

func NewRepairTask(gateway *llm.Gateway, runner *exec.Manager, bus *eventbus.Bus, logger *slog.Logger, model string) *RepairTask {
	return &RepairTask{Gateway: gateway, Runner: runner, Bus: bus, Logger: logger, Model: model}
}

func (t *RepairTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")
	failureType := stringCtx(c, ctxFailureType, "test")
	testOutput := stringCtx(c, "test_output", "")
	testFiles, _ := c[ctxTestFiles].([]string)
	ownedFiles, _ := c[ctxOwnedFiles].([]string)
	previousFailures, _ := c["previous_failures"].([]string)
	acceptance := stringCtx(c, ctxAcceptanceCriteria, "")
	specText := stringCtx(c, ctxSpecText, "")

	access := policy.FileAccess{OwnedFiles: ownedFiles, DeniedFiles: testFiles, DenyTestPatterns: true}
	registry := buildToolset(root, access, t.Runner)

	label := fmt.Sprintf("repair:%s", moduleName)
	systemPrompt := repairSystemPrompt
	loop := agentloop.New(agentloop.Deps{
		Gateway: t.Gateway,
		Tools:   registry,
		Bus:     t.Bus,
		Logger:  t.Logger,
	}, label, t.Model, registry.Definitions(), systemPrompt)

	userPrompt := t.buildPrompt(failureType, testOutput, previousFailures, specText, acceptance)

	t.emit(eventbus.CodeRepair, moduleName, fmt.Sprintf("repair attempt starting (%s failure)", failureType))
	outcome, err := loop.Run(ctx, userPrompt)
	if err != nil {
		if outcome != nil && outcome.Stalled {
			return workflow.Terminal(err), nil
		}
		return workflow.TaskResult{}, workflow.NewTransientError(repairRetryAfterSeconds, err)
	}

	target := jumpValidateRef
	if failureType == "quality" {
		target = jumpQualityRef
	}
	targetRef := stringCtx(c, target, defaultTargetFor(target))

	overrides := make(workflow.Context)
	workflow.PropagateContext(c, overrides, nil)
	overrides["project_root"] = root
	overrides[ctxLanguageProfile] = c[ctxLanguageProfile]
	workflow.IncrementJumpCount(overrides)

	t.emit(eventbus.CodeRepair, moduleName, "repair agent finished, returning to "+targetRef)
	return workflow.JumpTo(targetRef, overrides), nil
}

func defaultTargetFor(key string) string {
	switch key {
	case jumpQualityRef:
		return "quality"
	default:
		return "validate"
	}
}

func (t *RepairTask) buildPrompt(failureType, testOutput string, previousFailures []string, specText, acceptance string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A %s failure needs to be fixed in this project.\n\n", failureType)
	fmt.Fprintf(&sb, "Failure output:\n%s\n\n", truncateMiddleStr(testOutput, testOutputLimit))
	if len(previousFailures) > 0 {
		sb.WriteString("Previous repair attempts on this same failure (most recent last):\n")
		for i, f := range lastN(previousFailures, 3) {
			fmt.Fprintf(&sb, "Attempt %d: %s\n", i+1, truncate(f, 500))
		}
		sb.WriteString("\n")
	}
	if specText != "" {
		fmt.Fprintf(&sb, "Spec context:\n%s\n\n", truncate(specText, 4000))
	}
	if acceptance != "" {
		fmt.Fprintf(&sb, "Acceptance criteria:\n%s\n\n", acceptance)
	}
	sb.WriteString("Use the read tool to inspect the failing code and its test, then use edit/write to fix the source. " +
		"You cannot modify test files — fix the implementation, not the test.")
	return sb.String()
}

func (t *RepairTask) emit(code, label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, code, msg).WithLabel(label))
}

const repairSystemPrompt = `You are a repair agent. A module's tests, lint, or syntax check failed.
Your job is to make the failing check pass by fixing the implementation — never by weakening
or deleting the check itself. You may read any file but may not write to test files.
Work iteratively: read the relevant source and failure output, make a targeted edit, and stop
once you believe the fix is complete. Do not run the test suite yourself unless a bash tool is
available and you judge it useful to confirm your fix before finishing.`

// truncateMiddleStr cuts the middle out of s once it exceeds limit,
// keeping the head and tail — the parts of a failure message most likely
// to carry the error location and its root cause.
func truncateMiddleStr(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	half := (limit - 20) / 2
	return s[:half] + "\n... [truncated] ...\n" + s[len(s)-half:]
}
