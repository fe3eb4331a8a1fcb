package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rodmena-limited/trust5/internal/agentloop"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/llm"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// PlanTask runs a read-only agent over the user's request and the
// project as it currently stands, producing a plan: a module breakdown,
// acceptance criteria, and a YAML frontmatter config block (setup
// commands, quality threshold, test/lint command overrides) that
// downstream stages read out of plan_config.
type PlanTask struct {
	Gateway *llm.Gateway
	Runner  *exec.Manager
	Bus     *eventbus.Bus
	Logger  *slog.Logger
	Model   string
}

func NewPlanTask(gateway *llm.Gateway, runner *exec.Manager, bus *eventbus.Bus, logger *slog.Logger, model string) *PlanTask {
	return &PlanTask{Gateway: gateway, Runner: runner, Bus: bus, Logger: logger, Model: model}
}

func (t *PlanTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")
	request := stringCtx(c, "user_request", "")
	specText := stringCtx(c, ctxSpecText, "")

	registry := buildReadonlyToolset(root)
	label := fmt.Sprintf("plan:%s", moduleName)
	loop := agentloop.New(agentloop.Deps{
		Gateway: t.Gateway,
		Tools:   registry,
		Bus:     t.Bus,
		Logger:  t.Logger,
	}, label, t.Model, registry.Definitions(), nonInteractivePrefix+planSystemPrompt)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Request:\n%s\n\n", request)
	if specText != "" {
		fmt.Fprintf(&sb, "Spec context:\n%s\n\n", truncate(specText, 6000))
	}
	fmt.Fprintf(&sb, "WORKING DIRECTORY: %s\n", root)
	sb.WriteString("Inspect the project with the read tool as needed, then produce a plan: a short module " +
		"breakdown and acceptance criteria, followed by an optional YAML frontmatter block (--- ... ---) " +
		"at the very start of your response with keys like setup_commands, quality_threshold, " +
		"test_command, lint_command, spec_id.")

	t.emit(moduleName, "planning started")
	outcome, err := loop.Run(ctx, sb.String())
	if err != nil {
		if outcome != nil && outcome.Stalled {
			return workflow.Terminal(err), nil
		}
		return workflow.TaskResult{}, workflow.NewTransientError(repairRetryAfterSeconds, err)
	}

	planConfig, body := parsePlanFrontmatter(outcome.FinalMessage)
	t.emit(moduleName, "planning finished")

	return workflow.Success(map[string]any{
		"plan_output": body,
		ctxPlanConfig:  planConfig,
	}), nil
}

func (t *PlanTask) emit(label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, "WPLN", msg).WithLabel(label))
}

const planSystemPrompt = `You are a planning agent. You have read-only access to the project. Your job
is to analyze the request against the current project state and produce a short, actionable plan: what
modules or files need to change, in what order, and what acceptance criteria define "done". You never
write or edit files.`

// parsePlanFrontmatter splits a leading "---\n ... \n---\n" YAML block off
// content into a config map and the remaining body, mirroring the plan
// agent's documented output contract. A missing or malformed frontmatter
// block yields an empty config and the content unchanged.
func parsePlanFrontmatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---\n") {
		return map[string]any{}, content
	}
	parts := strings.SplitN(content, "---\n", 3)
	if len(parts) < 3 {
		return map[string]any{}, content
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil || fm == nil {
		return map[string]any{}, content
	}
	return fm, parts[2]
}
