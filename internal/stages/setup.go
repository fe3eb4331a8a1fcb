package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/langprofile"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// setupCommandTimeout bounds a single planner-specified setup command —
// shorter than SubprocessTimeout since setup commands (dependency
// installs, scaffolding) should be quick or something is wrong.
const setupCommandTimeout = 120

// SetupTask bootstraps the project environment before planning and
// implementation begin: it runs any setup commands the planner names in
// plan_config, then installs the detected LanguageProfile's dev
// dependencies, caching both per project root keyed by a hash of the
// project's manifest file so a re-run of the same module skips
// reinstall entirely.
type SetupTask struct {
	Runner *exec.Manager
	Bus    *eventbus.Bus

	cacheOnce sync.Map // root+manifestHash -> struct{}
}

func NewSetupTask(runner *exec.Manager, bus *eventbus.Bus) *SetupTask {
	return &SetupTask{Runner: runner, Bus: bus}
}

func (t *SetupTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")

	profile := profileFromContext(c, root)
	c[ctxLanguageProfile] = profile

	cacheKey := root + ":" + manifestHash(root, profile)
	if _, loaded := t.cacheOnce.LoadOrStore(cacheKey, struct{}{}); loaded {
		t.emit(moduleName, "setup already ran for this manifest — skipping")
		return workflow.Success(map[string]any{"setup_skipped": true, ctxLanguageProfile: profile}), nil
	}

	var commandResults []string

	if planConfig, ok := c[ctxPlanConfig].(map[string]any); ok {
		if raw, ok := planConfig["setup_commands"].([]any); ok {
			for _, v := range raw {
				cmd, ok := v.(string)
				if !ok || cmd == "" {
					continue
				}
				result := t.runSetupCommand(ctx, cmd, root)
				commandResults = append(commandResults, result)
				t.emit(moduleName, fmt.Sprintf("setup command %q: %s", cmd, result))
			}
		}
	}

	if len(profile.DevDependencyInstall) > 0 {
		result := t.runSetupCommand(ctx, joinCmd(profile.DevDependencyInstall), root)
		commandResults = append(commandResults, result)
		t.emit(moduleName, "dev dependency install: "+result)
	}

	return workflow.Success(map[string]any{
		"setup_passed":    true,
		"setup_results":   commandResults,
		ctxLanguageProfile: profile,
	}), nil
}

// runSetupCommand runs a single setup command with its own timeout,
// returning a short human-readable status string rather than propagating
// an error — a failed setup command is informational, not fatal, since
// downstream stages still run and may recover (e.g. a package already
// installed by a previous attempt).
func (t *SetupTask) runSetupCommand(ctx context.Context, cmd, root string) string {
	result, err := t.Runner.RunCommand(ctx, cmd, root, nil, "", setupCommandTimeout*1_000_000_000)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if result.ExitCode != 0 {
		return fmt.Sprintf("exit %d: %s", result.ExitCode, truncate(result.Stdout+"\n"+result.Stderr, 500))
	}
	return "ok"
}

// manifestHash hashes the contents of the project's manifest file (or
// falls back to the project root path) so a SetupTask re-run on an
// unchanged project is a cache hit, and a changed manifest invalidates it.
func manifestHash(root string, profile *langprofile.Profile) string {
	h := sha256.New()
	wrote := false
	for _, name := range profile.ManifestFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		h.Write(data)
		wrote = true
	}
	if !wrote {
		h.Write([]byte(root))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (t *SetupTask) emit(label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, "WSTP", msg).WithLabel(label))
}
