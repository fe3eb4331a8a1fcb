package workflow

// ModuleSpec describes one unit of parallel implementation work: a set of
// files it owns (no other module may own them) and the test files that
// validate it.
type ModuleSpec struct {
	ID         string
	Name       string
	OwnedFiles []string
	TestFiles  []string
	Deps       []string // IDs of modules this one depends on
}

// StripPlanStage removes the "plan" stage from stages and injects
// planOutput into the context of every stage that required it, used when
// plan already ran in an earlier phase and the caller is now assembling
// the implementation-stage DAG for phase two (the serial fallback taken
// when module count <= 1, or the parallel per-module fan-out otherwise).
func StripPlanStage(stages []*Stage, planOutput string) []*Stage {
	out := make([]*Stage, 0, len(stages))
	for _, s := range stages {
		if s.RefID == "plan" {
			continue
		}
		if s.Requisites["plan"] {
			delete(s.Requisites, "plan")
			if planOutput != "" {
				s.Context["plan_output"] = planOutput
			}
		}
		out = append(out, s)
	}
	return out
}
