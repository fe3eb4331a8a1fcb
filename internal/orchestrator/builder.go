// Package orchestrator assembles the per-module Stage DAG the Dispatcher
// runs: the linear plan/setup/write-tests/implement/validate chain plus
// the validate/quality/repair/review jump web layered on top of it.
package orchestrator

import (
	"fmt"

	"github.com/rodmena-limited/trust5/internal/workflow"
)

// Stage type names, shared between the DAG builder and whatever registers
// Task implementations against a workflow.Registry.
const (
	TypePlan       = "plan"
	TypeSetup      = "setup"
	TypeWriteTests = "write_tests"
	TypeImplement  = "implement"
	TypeValidate   = "validate"
	TypeRepair     = "repair"
	TypeQuality    = "quality"
	TypeReview     = "review"
)

// ModuleRequest describes one module's slice of a larger request: the
// files it owns, the test files that validate it, and which other
// modules (by ref prefix) it depends on.
type ModuleRequest struct {
	Name       string
	OwnedFiles []string
	TestFiles  []string
	DependsOn  []string // other ModuleRequest.Name values
}

// BuildOptions parameterizes a single module's Stage chain.
type BuildOptions struct {
	ProjectRoot string
	UserRequest string
	SpecText    string
	MaxJumps    int
	IncludePlan bool // false when a shared plan stage already ran upstream
	PlanOutput  string
	PlanConfig  map[string]any
}

// refFor namespaces a stage type under a module name so multiple modules'
// DAGs can share one Workflow without ref_id collisions.
func refFor(moduleName, stageType string) string {
	if moduleName == "" {
		return stageType
	}
	return fmt.Sprintf("%s:%s", moduleName, stageType)
}

// BuildModulePipeline returns the ordered Stage set for one module: plan
// (optional) -> setup -> write_tests -> implement -> validate, plus the
// repair/quality/review web reachable only via jump_to, never through
// Requisites-driven readiness (their initial Status is StatusSkipped so
// the dispatcher never schedules them until a jump explicitly resets
// their status to not_started).
func BuildModulePipeline(mod ModuleRequest, opts BuildOptions) []*workflow.Stage {
	seed := func() workflow.Context {
		c := workflow.Context{
			"project_root": opts.ProjectRoot,
			"module_name":  mod.Name,
			"_max_jumps":   opts.MaxJumps,
		}
		if len(mod.OwnedFiles) > 0 {
			c["owned_files"] = append([]string(nil), mod.OwnedFiles...)
		}
		if len(mod.TestFiles) > 0 {
			c["test_files"] = append([]string(nil), mod.TestFiles...)
		}
		if opts.SpecText != "" {
			c["spec_text"] = opts.SpecText
		}
		if !opts.IncludePlan {
			if opts.PlanOutput != "" {
				c["plan_output"] = opts.PlanOutput
			}
			if opts.PlanConfig != nil {
				c["plan_config"] = opts.PlanConfig
			}
		}
		return c
	}

	planRef := refFor(mod.Name, TypePlan)
	setupRef := refFor(mod.Name, TypeSetup)
	writeTestsRef := refFor(mod.Name, TypeWriteTests)
	implementRef := refFor(mod.Name, TypeImplement)
	validateRef := refFor(mod.Name, TypeValidate)
	repairRef := refFor(mod.Name, TypeRepair)
	qualityRef := refFor(mod.Name, TypeQuality)
	reviewRef := refFor(mod.Name, TypeReview)

	jumpRefs := func(c workflow.Context) workflow.Context {
		c["jump_repair_ref"] = repairRef
		c["jump_validate_ref"] = validateRef
		c["jump_implement_ref"] = implementRef
		c["jump_quality_ref"] = qualityRef
		c["jump_review_ref"] = reviewRef
		return c
	}

	var stages []*workflow.Stage

	setupReqs := map[string]bool{}
	if opts.IncludePlan {
		planCtx := seed()
		planCtx["user_request"] = opts.UserRequest
		stages = append(stages, &workflow.Stage{
			RefID: planRef, Type: TypePlan, Name: "plan:" + mod.Name,
			Context: jumpRefs(planCtx), Requisites: map[string]bool{}, Status: workflow.StatusNotStarted,
		})
		setupReqs[planRef] = true
	}

	stages = append(stages,
		&workflow.Stage{
			RefID: setupRef, Type: TypeSetup, Name: "setup:" + mod.Name,
			Context: jumpRefs(seed()), Requisites: setupReqs, Status: workflow.StatusNotStarted,
		},
		&workflow.Stage{
			RefID: writeTestsRef, Type: TypeWriteTests, Name: "write_tests:" + mod.Name,
			Context: jumpRefs(seed()), Requisites: map[string]bool{setupRef: true}, Status: workflow.StatusNotStarted,
		},
		&workflow.Stage{
			RefID: implementRef, Type: TypeImplement, Name: "implement:" + mod.Name,
			Context: jumpRefs(seed()), Requisites: map[string]bool{writeTestsRef: true}, Status: workflow.StatusNotStarted,
		},
		&workflow.Stage{
			RefID: validateRef, Type: TypeValidate, Name: "validate:" + mod.Name,
			Context: jumpRefs(seed()), Requisites: map[string]bool{implementRef: true}, Status: workflow.StatusNotStarted,
		},
		// repair/quality/review are reachable only by jump_to: Status
		// StatusSkipped keeps them out of ReadyStages() regardless of
		// their Requisites being satisfied, since a DAG predecessor
		// reaching a terminal status (including via an unrelated jump)
		// must never free-ride these stages into running.
		&workflow.Stage{
			RefID: repairRef, Type: TypeRepair, Name: "repair:" + mod.Name,
			Context: jumpRefs(seed()), Requisites: map[string]bool{}, Status: workflow.StatusSkipped,
		},
		&workflow.Stage{
			RefID: qualityRef, Type: TypeQuality, Name: "quality:" + mod.Name,
			Context: jumpRefs(seed()), Requisites: map[string]bool{}, Status: workflow.StatusSkipped,
		},
		&workflow.Stage{
			RefID: reviewRef, Type: TypeReview, Name: "review:" + mod.Name,
			Context: jumpRefs(seed()), Requisites: map[string]bool{}, Status: workflow.StatusSkipped,
		},
	)

	for _, dep := range mod.DependsOn {
		stages[0].Requisites[refFor(dep, TypeReview)] = true
	}

	return stages
}

// BuildWorkflow assembles one Workflow spanning every module. A single
// shared "plan" stage runs once when there's more than one module
// (StripPlanStage removes the per-module plan node and seeds its output
// directly); a lone module keeps its own plan stage, matching the serial
// fallback SPEC_FULL.md describes for the common single-module case.
func BuildWorkflow(id, userRequest, specText, projectRoot string, maxJumps int, modules []ModuleRequest) *workflow.Workflow {
	var all []*workflow.Stage

	if len(modules) <= 1 {
		mod := ModuleRequest{Name: ""}
		if len(modules) == 1 {
			mod = modules[0]
		}
		all = BuildModulePipeline(mod, BuildOptions{
			ProjectRoot: projectRoot, UserRequest: userRequest, SpecText: specText,
			MaxJumps: maxJumps, IncludePlan: true,
		})
		return workflow.NewWorkflow(id, "trust5", all)
	}

	sharedPlanRef := "plan"
	sharedPlan := &workflow.Stage{
		RefID: sharedPlanRef, Type: TypePlan, Name: "plan",
		Context: workflow.Context{
			"project_root": projectRoot, "user_request": userRequest, "spec_text": specText,
			"_max_jumps": maxJumps,
		},
		Requisites: map[string]bool{}, Status: workflow.StatusNotStarted,
	}
	all = append(all, sharedPlan)

	for _, mod := range modules {
		modStages := BuildModulePipeline(mod, BuildOptions{
			ProjectRoot: projectRoot, SpecText: specText, MaxJumps: maxJumps, IncludePlan: false,
		})
		for _, s := range modStages {
			if s.RefID == refFor(mod.Name, TypeSetup) {
				s.Requisites[sharedPlanRef] = true
			}
		}
		all = append(all, modStages...)
	}

	return workflow.NewWorkflow(id, "trust5", all)
}
