package stages

import (
	"github.com/rodmena-limited/trust5/internal/tools"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
	"github.com/rodmena-limited/trust5/internal/tools/files"
	"github.com/rodmena-limited/trust5/internal/tools/policy"
)

// buildEditToolset assembles a file-editing tool set (read/write/edit/
// apply_patch, no bash) for WriteTestsTask: a test-writer must not be
// able to run the test suite it is about to author, only write it.
func buildEditToolset(root string, access policy.FileAccess) *tools.Registry {
	reg := tools.NewRegistry(access)
	cfg := files.Config{Workspace: root, MaxReadBytes: maxReadBytes}
	reg.Register(files.NewReadTool(cfg))
	reg.Register(files.NewWriteTool(cfg))
	reg.Register(files.NewEditTool(cfg))
	reg.Register(files.NewApplyPatchTool(cfg))
	return reg
}

// buildReadonlyToolset assembles a read-only tool set (read only, no
// write/edit/apply_patch/bash) for agent-loop-backed stage tasks that must
// not modify the project, like PlanTask and ReviewTask. Deliberately
// leaving bash out (not just write/edit) keeps this tool set free of
// every tool agentloop's idle-abort tracking counts as "making progress",
// so these tasks are correctly exempt from idle-abort instead of getting
// an idle counter that bash resets on every turn.
func buildReadonlyToolset(root string) *tools.Registry {
	reg := tools.NewRegistry(policy.FileAccess{})
	cfg := files.Config{Workspace: root, MaxReadBytes: maxReadBytes}
	reg.Register(files.NewReadTool(cfg))
	return reg
}

// maxReadBytes bounds a single file read a stage agent can pull into its
// context in one tool call.
const maxReadBytes = 200_000

// buildToolset assembles the read/write/edit/apply_patch/bash tool set an
// agent-loop-backed stage task hands to its Loop, scoped to root and
// restricted by access.
func buildToolset(root string, access policy.FileAccess, runner *exec.Manager) *tools.Registry {
	reg := tools.NewRegistry(access)
	cfg := files.Config{Workspace: root, MaxReadBytes: maxReadBytes}
	reg.Register(files.NewReadTool(cfg))
	reg.Register(files.NewWriteTool(cfg))
	reg.Register(files.NewEditTool(cfg))
	reg.Register(files.NewApplyPatchTool(cfg))
	if runner == nil {
		runner = exec.NewManager(root)
	}
	reg.Register(exec.NewExecTool("bash", runner))
	return reg
}
