// Package workflow implements the persistence-backed stage DAG scheduler:
// dispatch, jump_to control transfer, crash recovery, and the top-level
// auto-retry loop around a whole workflow run.
package workflow

import "time"

// Status is a Workflow or Stage's lifecycle state. It transitions
// monotonically except when recovery explicitly resets it.
type Status string

const (
	StatusNotStarted    Status = "not_started"
	StatusRunning       Status = "running"
	StatusSucceeded     Status = "succeeded"
	StatusFailedContinue Status = "failed_continue"
	StatusTerminal      Status = "terminal"
	StatusCanceled      Status = "canceled"
	StatusSkipped       Status = "skipped"
)

// terminalStatuses are statuses that make a stage's requisites satisfied
// for its successors — both an outright success and a continued failure
// unblock downstream stages.
var terminalStatuses = map[Status]bool{
	StatusSucceeded:      true,
	StatusFailedContinue: true,
}

// Context is a stage's mutable scratch space: a string-keyed bag of
// arbitrary serializable values. Well-known keys are listed in
// PropagatedContextKeys and the stage-specific constants in constants.go.
type Context map[string]any

// Clone returns a shallow copy; values are never deep-copied, matching the
// "arbitrary serializable values" contract — Tasks that need isolation
// must copy their own nested structures.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Stage is one node of a Workflow's DAG.
type Stage struct {
	RefID       string
	Type        string // selects the Task implementation via the registry
	Name        string
	Context     Context
	Requisites  map[string]bool // predecessor ref_ids
	Status      Status
	Outputs     map[string]any
}

// Ready reports whether every requisite of s has reached a status that
// unblocks successors (succeeded or failed_continue).
func (s *Stage) Ready(stages map[string]*Stage) bool {
	for ref := range s.Requisites {
		dep, ok := stages[ref]
		if !ok || !terminalStatuses[dep.Status] {
			return false
		}
	}
	return true
}

// Workflow is a persisted DAG run: an ordered set of stages plus overall
// status and timestamps. Persisted on every status change.
type Workflow struct {
	ID        string
	Name      string
	Status    Status
	Stages    []*Stage
	StageByID map[string]*Stage
	StartedAt time.Time
	EndedAt   time.Time
}

// NewWorkflow builds a Workflow and indexes its stages by ref_id.
func NewWorkflow(id, name string, stages []*Stage) *Workflow {
	w := &Workflow{ID: id, Name: name, Status: StatusNotStarted, Stages: stages, StageByID: make(map[string]*Stage, len(stages))}
	for _, s := range stages {
		w.StageByID[s.RefID] = s
	}
	return w
}

// ReadyStages returns every stage whose requisites are satisfied and which
// hasn't yet run (not_started) or has been reset for recovery (running).
func (w *Workflow) ReadyStages() []*Stage {
	var out []*Stage
	for _, s := range w.Stages {
		if (s.Status == StatusNotStarted || s.Status == StatusRunning) && s.Ready(w.StageByID) {
			out = append(out, s)
		}
	}
	return out
}
