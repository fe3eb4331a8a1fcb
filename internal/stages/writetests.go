package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rodmena-limited/trust5/internal/agentloop"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/llm"
	"github.com/rodmena-limited/trust5/internal/tools/policy"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// WriteTestsTask runs the TDD RED phase: an agent that may only read and
// write/edit files (no shell) authors the module's test files from the
// plan's acceptance criteria, without being able to run them.
type WriteTestsTask struct {
	Gateway *llm.Gateway
	Bus     *eventbus.Bus
	Logger  *slog.Logger
	Model   string
}

func NewWriteTestsTask(gateway *llm.Gateway, bus *eventbus.Bus, logger *slog.Logger, model string) *WriteTestsTask {
	return &WriteTestsTask{Gateway: gateway, Bus: bus, Logger: logger, Model: model}
}

func (t *WriteTestsTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")
	ownedFiles, _ := c[ctxOwnedFiles].([]string)

	access := policy.FileAccess{OwnedFiles: ownedFiles}
	registry := buildEditToolset(root, access)

	label := fmt.Sprintf("write-tests:%s", moduleName)
	loop := agentloop.New(agentloop.Deps{
		Gateway: t.Gateway,
		Tools:   registry,
		Bus:     t.Bus,
		Logger:  t.Logger,
	}, label, t.Model, registry.Definitions(), nonInteractivePrefix+writeTestsSystemPrompt)

	var sb strings.Builder
	sb.WriteString(buildAncestorSections(c))
	fmt.Fprintf(&sb, "WORKING DIRECTORY: %s\n", root)
	sb.WriteString("Write the test file(s) for this module's acceptance criteria now. Use the project's " +
		"normal test file naming and framework conventions. Do not write any implementation source — only tests.")

	t.emit(moduleName, "test writing started")
	outcome, err := loop.Run(ctx, sb.String())
	if err != nil {
		if outcome != nil && outcome.Stalled {
			return workflow.Terminal(err), nil
		}
		return workflow.TaskResult{}, workflow.NewTransientError(repairRetryAfterSeconds, err)
	}

	t.emit(moduleName, "test writing finished")
	return workflow.Success(map[string]any{
		"test_writer_output": outcome.FinalMessage,
	}), nil
}

func (t *WriteTestsTask) emit(label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, "WWRT", msg).WithLabel(label))
}

const writeTestsSystemPrompt = `You are a test-writing agent working the RED phase of test-driven
development. You may read any file and write/edit test files, but you have no shell access — you
cannot run the tests you write. Write clear, specific tests that encode the acceptance criteria in
the plan above; the implementer that runs after you will make them pass.`
