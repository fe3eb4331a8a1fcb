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

// ImplementTask runs the TDD GREEN phase: a full-access agent (read,
// write, edit, bash) writes source to make the test files WriteTestsTask
// already authored pass, without being able to touch those test files.
type ImplementTask struct {
	Gateway *llm.Gateway
	Runner  *exec.Manager
	Bus     *eventbus.Bus
	Logger  *slog.Logger
	Model   string
}

func NewImplementTask(gateway *llm.Gateway, runner *exec.Manager, bus *eventbus.Bus, logger *slog.Logger, model string) *ImplementTask {
	return &ImplementTask{Gateway: gateway, Runner: runner, Bus: bus, Logger: logger, Model: model}
}

func (t *ImplementTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")
	ownedFiles, _ := c[ctxOwnedFiles].([]string)
	testFiles, _ := c[ctxTestFiles].([]string)

	access := policy.FileAccess{OwnedFiles: ownedFiles, DeniedFiles: testFiles, DenyTestPatterns: true}
	registry := buildToolset(root, access, t.Runner)

	label := fmt.Sprintf("implement:%s", moduleName)
	loop := agentloop.New(agentloop.Deps{
		Gateway: t.Gateway,
		Tools:   registry,
		Bus:     t.Bus,
		Logger:  t.Logger,
	}, label, t.Model, registry.Definitions(), nonInteractivePrefix+implementSystemPrompt)

	var sb strings.Builder
	sb.WriteString(buildAncestorSections(c))
	sb.WriteString(tddGreenPhaseInstructions)
	fmt.Fprintf(&sb, "\nWORKING DIRECTORY: %s\n", root)

	t.emit(moduleName, "implementation started")
	outcome, err := loop.Run(ctx, sb.String())
	if err != nil {
		if outcome != nil && outcome.Stalled {
			return workflow.Terminal(err), nil
		}
		return workflow.TaskResult{}, workflow.NewTransientError(repairRetryAfterSeconds, err)
	}

	t.emit(moduleName, "implementation finished")
	return workflow.Success(map[string]any{
		"implementer_output": outcome.FinalMessage,
	}), nil
}

func (t *ImplementTask) emit(label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, "WIMP", msg).WithLabel(label))
}

const implementSystemPrompt = `You are an implementation agent. You have full read/write/edit/bash access
to the project except the module's test files, which are read-only to you. Write the source code that
makes the existing tests pass. Run the test suite yourself via bash when useful to confirm your work
before finishing, but never weaken or rewrite a test to make it pass.`
