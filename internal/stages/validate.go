package stages

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/langprofile"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// testOutputLimit bounds how much test/lint output is copied into stage
// outputs and repair context — enough for a repair agent to see the
// failure, not so much it blows the history budget.
const testOutputLimit = 4000

// pytestPerTestTimeout bounds a single pytest test case, preventing one
// blocking test from eating the whole subprocess timeout budget.
const pytestPerTestTimeout = "30"

// ValidateTask runs syntax checks, lint, and tests for a module, routing
// failures to RepairTask via jump_to and escalating to a fresh
// implementation when repair keeps failing the same way.
type ValidateTask struct {
	Runner *exec.Manager
	Bus    *eventbus.Bus

	devDepsOnce sync.Map // project_root -> struct{}
}

// NewValidateTask builds a ValidateTask bound to runner for subprocess
// execution and bus for progress events.
func NewValidateTask(runner *exec.Manager, bus *eventbus.Bus) *ValidateTask {
	return &ValidateTask{Runner: runner, Bus: bus}
}

func (t *ValidateTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	repairAttempt := intCtx(c, ctxRepairAttempt, 0)
	maxAttempts := intCtx(c, "max_repair_attempts", MaxRepairAttempts)
	moduleName := stringCtx(c, "module_name", "")

	if raw, ok := c[ctxOwnedFiles].([]string); ok && len(raw) > 0 {
		c[ctxOwnedFiles] = normalizeOwnedFiles(raw, root)
	}
	if raw, ok := c[ctxTestFiles].([]string); ok && len(raw) > 0 {
		c[ctxTestFiles] = normalizeOwnedFiles(raw, root)
	}

	if jumpCount, _ := c["_jump_count"].(int); jumpCount >= workflow.MaxJumps(c) {
		t.emit(eventbus.CodeValidateFail, moduleName, fmt.Sprintf(
			"jump limit reached (%d/%d). Marking as failed — pipeline continues with other modules.",
			jumpCount, workflow.MaxJumps(c)))
		return workflow.FailedContinue(fmt.Errorf("jump limit exceeded — validate/repair loop ran too long"),
			map[string]any{"tests_passed": false, "jump_limit_reached": true}), nil
	}

	profile := profileFromContext(c, root)
	c[ctxLanguageProfile] = profile

	t.installDevDeps(root, profile)

	if _, ok := c[ctxTestFiles].([]string); !ok {
		discovered := discoverTestFiles(root, testExtensionsFor(profile))
		if len(discovered) > 0 {
			if owned, ok := c[ctxOwnedFiles].([]string); ok && len(owned) > 0 {
				if scoped := deriveModuleTestFiles(discovered, owned); len(scoped) > 0 {
					c[ctxTestFiles] = scoped
				}
			} else {
				c[ctxTestFiles] = discovered
			}
		}
	}

	planConfig, _ := c[ctxPlanConfig].(map[string]any)
	planTestCmd, _ := planConfig["test_command"].(string)

	var testCmd string
	if planTestCmd != "" {
		testCmd = planTestCmd
	} else {
		testCmd = joinCmd(profile.TestCommand)
	}
	syntaxCmd := joinCmd(profile.SyntaxCheckCommand)

	ownedFiles, _ := c[ctxOwnedFiles].([]string)
	if testFiles, ok := c[ctxTestFiles].([]string); ok && len(testFiles) > 0 {
		existing := existingFiles(root, testFiles)
		if len(existing) > 0 {
			if planTestCmd != "" && len(ownedFiles) > 0 {
				testCmd = scopeTestCommand(planTestCmd, existing)
			} else {
				testCmd = strings.TrimSpace(testCmd + " " + strings.Join(existing, " "))
			}
		} else if len(ownedFiles) > 0 {
			discovered := discoverTestFiles(root, testExtensionsFor(profile))
			derived := deriveModuleTestFiles(discovered, ownedFiles)
			if len(derived) > 0 {
				if planTestCmd != "" {
					testCmd = scopeTestCommand(planTestCmd, derived)
				} else {
					testCmd = strings.TrimSpace(testCmd + " " + strings.Join(derived, " "))
				}
			} else {
				testCmd = "true"
			}
		}
	}

	if profile.Name == "python" && strings.Contains(testCmd, "pytest") && !strings.Contains(testCmd, "--timeout") {
		testCmd = testCmd + " --timeout=" + pytestPerTestTimeout
	}

	t.emit(eventbus.CodeStageStart, moduleName, fmt.Sprintf(
		"validate running [%s] (attempt %d/%d) in %s", profile.Name, repairAttempt, maxAttempts, root))

	lintCmds := t.resolveLintCommands(planConfig, profile, ownedFiles, root)
	env := buildTestEnv(root, profile)

	if syntaxCmd != "" {
		if out, failed := t.run(ctx, syntaxCmd, root, env); failed {
			return t.handleFailure(stage, "syntax check failed:\n"+out, repairAttempt, maxAttempts, "syntax", profile)
		}
	}

	for _, lc := range lintCmds {
		out, failed := t.run(ctx, lc, root, env)
		if !failed {
			continue
		}
		if strings.Contains(out, "No module named") || strings.Contains(out, "command not found") {
			continue
		}
		filtered := filterTestFileLint(out, ownedFiles)
		if filtered == "" {
			continue
		}
		return t.handleFailure(stage, "lint check failed:\n"+filtered, repairAttempt, maxAttempts, "lint", profile)
	}

	out, failed := t.run(ctx, testCmd, root, env)
	if !failed {
		total := countTests(out)
		label := moduleName
		t.emit(eventbus.CodeValidatePass, label, fmt.Sprintf("all tests passed (%d tests)", total))

		overrides := make(workflow.Context)
		workflow.PropagateContext(c, overrides, nil)
		overrides["project_root"] = root
		overrides[ctxLanguageProfile] = profile
		overrides["tests_passed"] = true
		overrides["test_output"] = truncate(out, testOutputLimit)
		overrides["total_tests"] = total
		overrides["repair_attempts_used"] = repairAttempt
		workflow.IncrementJumpCount(overrides)
		target := stringCtx(c, jumpQualityRef, "quality")
		return workflow.JumpTo(target, overrides), nil
	}
	return t.handleFailure(stage, out, repairAttempt, maxAttempts, "test", profile)
}

func (t *ValidateTask) resolveLintCommands(planConfig map[string]any, profile *langprofile.Profile, ownedFiles []string, root string) []string {
	planLintCmd, _ := planConfig["lint_command"].(string)
	if planLintCmd != "" {
		for _, tool := range []string{"gofmt", "go vet", "ruff", "eslint", "tsc", "py_compile", "cargo check"} {
			if strings.Contains(planLintCmd, tool) {
				// The planner's lint command duplicates the syntax checker;
				// the syntax-check step already covers it and file-arg
				// scoping on it causes spurious failures.
				if joinCmd(profile.SyntaxCheckCommand) == planLintCmd {
					planLintCmd = ""
				}
			}
		}
	}
	if planLintCmd != "" {
		if len(ownedFiles) > 0 {
			planLintCmd = scopeLintCommand(planLintCmd, ownedFiles)
		}
		planLintCmd = stripNonexistentFiles(planLintCmd, root, ownedFiles)
		return []string{planLintCmd}
	}
	if len(profile.LintCommand) == 0 {
		return nil
	}
	return []string{joinCmd(profile.LintCommand)}
}

// run executes cmd via the shared subprocess manager, returning its
// combined output and whether it exited non-zero.
func (t *ValidateTask) run(ctx context.Context, cmd, root string, env map[string]string) (string, bool) {
	if cmd == "" {
		return "", false
	}
	res, err := t.Runner.RunCommand(ctx, cmd, root, env, "", SubprocessTimeout)
	if err != nil {
		return err.Error(), true
	}
	out := res.Stdout + "\n" + res.Stderr
	if res.ExitCode == 0 {
		return out, false
	}
	// Self-heal: a pytest-timeout-less environment rejects --timeout; retry
	// without it so the repair agent sees the real failure.
	if strings.Contains(res.Stderr, "unrecognized arguments: --timeout") && strings.Contains(cmd, "--timeout") {
		cleaned := strings.TrimSpace(strings.Split(cmd, "--timeout")[0])
		res2, err2 := t.Runner.RunCommand(ctx, cleaned, root, env, "", SubprocessTimeout)
		if err2 == nil {
			return res2.Stdout + "\n" + res2.Stderr, res2.ExitCode != 0
		}
	}
	return out, true
}

func (t *ValidateTask) handleFailure(stage *workflow.Stage, output string, attempt, maxAttempts int, failureType string, profile *langprofile.Profile) (workflow.TaskResult, error) {
	c := stage.Context
	moduleName := stringCtx(c, "module_name", "")
	previous, _ := c["previous_failures"].([]string)
	summary := truncate(output, 500)
	updated := append(append([]string{}, previous...), summary)

	reimplCount := intCtx(c, ctxReimplementCount, 0)
	maxReimpl := intCtx(c, "max_reimplementations", MaxReimplementations)

	if len(updated) >= ConsecutiveFailureLimit {
		recent := updated[len(updated)-ConsecutiveFailureLimit:]
		allSame := true
		for _, f := range recent {
			if f != recent[0] {
				allSame = false
				break
			}
		}
		if allSame {
			if reimplCount < maxReimpl {
				t.emit(eventbus.CodeValidateFail, moduleName, fmt.Sprintf(
					"same failure repeated %d times. Re-implementing from scratch (%d/%d)",
					ConsecutiveFailureLimit, reimplCount+1, maxReimpl))
				return t.jumpToReimplementation(stage, output, updated, reimplCount, maxAttempts, profile), nil
			}
			t.emit(eventbus.CodeValidateFail, moduleName, fmt.Sprintf(
				"same failure repeated %d times, all reimplementations exhausted. Continuing pipeline.", ConsecutiveFailureLimit))
			return workflow.FailedContinue(fmt.Errorf("repeated failure (%dx): %s", ConsecutiveFailureLimit, truncate(recent[0], 200)),
				map[string]any{"tests_passed": false, "failure_type": failureType, "repeated_failure": true}), nil
		}
	}

	if attempt >= maxAttempts {
		if reimplCount < maxReimpl {
			t.emit(eventbus.CodeValidateFail, moduleName, fmt.Sprintf(
				"repair exhausted (%d attempts). Re-implementing from scratch (%d/%d)", maxAttempts, reimplCount+1, maxReimpl))
			return t.jumpToReimplementation(stage, output, updated, reimplCount, maxAttempts, profile), nil
		}
		t.emit(eventbus.CodeValidateFail, moduleName, fmt.Sprintf(
			"all reimplementation attempts exhausted (%d x %d). Continuing pipeline.", maxReimpl, maxAttempts))
		return workflow.FailedContinue(fmt.Errorf("tests still failing after %d reimplementations x %d repairs", maxReimpl, maxAttempts),
			map[string]any{"tests_passed": false, "all_attempts_exhausted": true}), nil
	}

	t.emit(eventbus.CodeValidateFail, moduleName, fmt.Sprintf(
		"%s failure detected. Jumping to repair (attempt %d/%d)", failureType, attempt+1, maxAttempts))

	repairContext := make(workflow.Context)
	workflow.PropagateContext(c, repairContext, nil)
	repairContext["test_output"] = truncate(output, testOutputLimit)
	repairContext["tests_passed"] = false
	repairContext["previous_failures"] = lastN(updated, 5)
	repairContext[ctxFailureType] = failureType
	repairContext["project_root"] = stringCtx(c, "project_root", ".")
	repairContext["spec_id"] = c["spec_id"]
	repairContext[ctxLanguageProfile] = profile
	// Set repair_attempt AFTER PropagateContext so the stale value carried
	// over from the source stage doesn't clobber the increment.
	repairContext[ctxRepairAttempt] = attempt + 1
	workflow.IncrementJumpCount(repairContext)

	target := stringCtx(c, jumpRepairRef, "repair")
	return workflow.JumpTo(target, repairContext), nil
}

func (t *ValidateTask) jumpToReimplementation(stage *workflow.Stage, output string, updated []string, reimplCount, maxAttempts int, profile *langprofile.Profile) workflow.TaskResult {
	c := stage.Context
	history := lastN(updated, maxAttempts)
	var sb strings.Builder
	fmt.Fprintf(&sb, "After %d repair attempts, these tests still fail:\n%s\n\nRepair attempts tried:\n", maxAttempts, truncate(output, 2000))
	for i, f := range history {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "Attempt %d: %s", i+1, f)
	}

	reimplContext := make(workflow.Context)
	workflow.PropagateContext(c, reimplContext, nil)
	reimplContext["previous_test_failures"] = truncate(output, testOutputLimit)
	reimplContext["repair_history"] = history
	reimplContext[ctxFailureSummary] = sb.String()
	reimplContext["project_root"] = stringCtx(c, "project_root", ".")
	reimplContext[ctxLanguageProfile] = profile
	reimplContext[ctxRepairAttempt] = 0
	reimplContext[ctxReimplementCount] = reimplCount + 1
	reimplContext["previous_failures"] = []string{}
	workflow.IncrementJumpCount(reimplContext)

	target := stringCtx(c, jumpImplementRef, "implement")
	return workflow.JumpTo(target, reimplContext)
}

// installDevDeps runs the profile's dev-dependency install command once
// per project root, skipping projects with no install prefix declared.
func (t *ValidateTask) installDevDeps(root string, profile *langprofile.Profile) {
	if len(profile.DevDependencyInstall) == 0 {
		return
	}
	if _, loaded := t.devDepsOnce.LoadOrStore(root, struct{}{}); loaded {
		return
	}
	ctx := context.Background()
	_, _ = t.Runner.RunCommand(ctx, joinCmd(profile.DevDependencyInstall), root, nil, "", SubprocessTimeout)
}

func (t *ValidateTask) emit(code, label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, code, msg).WithLabel(label))
}

// profileFromContext resolves the language profile carried in the stage's
// context, re-detecting at runtime when the build-time profile is absent
// (the pipeline may have been created before setup produced manifest
// files).
func profileFromContext(c workflow.Context, root string) *langprofile.Profile {
	if p, ok := c[ctxLanguageProfile].(*langprofile.Profile); ok && p != nil {
		return p
	}
	if detected := langprofile.Detect(root, nil); detected != nil {
		return detected
	}
	return langprofile.Lookup("go")
}

func testExtensionsFor(profile *langprofile.Profile) []string {
	switch profile.Name {
	case "python":
		return []string{".py"}
	case "node":
		return []string{".js", ".ts", ".jsx", ".tsx"}
	case "rust":
		return []string{".rs"}
	default:
		return []string{".go"}
	}
}

func existingFiles(root string, files []string) []string {
	var out []string
	for _, f := range files {
		if _, err := os.Stat(root + "/" + f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func lastN(xs []string, n int) []string {
	if len(xs) <= n {
		return append([]string{}, xs...)
	}
	return append([]string{}, xs[len(xs)-n:]...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stringCtx(c workflow.Context, key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intCtx(c workflow.Context, key string, def int) int {
	if v, ok := c[key].(int); ok {
		return v
	}
	return def
}
