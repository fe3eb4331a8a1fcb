package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStage(ref string, reqs ...string) *Stage {
	reqSet := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		reqSet[r] = true
	}
	return &Stage{RefID: ref, Type: ref, Name: ref, Context: Context{}, Requisites: reqSet, Status: StatusNotStarted}
}

func TestDispatcherRunsLinearDAGToSuccess(t *testing.T) {
	a := newTestStage("a")
	b := newTestStage("b", "a")
	w := NewWorkflow("wf1", "test", []*Stage{a, b})

	reg := NewRegistry()
	reg.Register("a", TaskFunc(func(ctx context.Context, s *Stage) (TaskResult, error) {
		return Success(nil), nil
	}))
	reg.Register("b", TaskFunc(func(ctx context.Context, s *Stage) (TaskResult, error) {
		return Success(nil), nil
	}))

	d := NewDispatcher(reg, nil, nil, nil, 2)
	if err := d.Run(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if w.Status != StatusSucceeded {
		t.Fatalf("workflow status = %v, want succeeded", w.Status)
	}
	if a.Status != StatusSucceeded || b.Status != StatusSucceeded {
		t.Fatalf("stage statuses: a=%v b=%v", a.Status, b.Status)
	}
}

// TestRepairLoopScenario reproduces SPEC_FULL's "Scenario B": validate
// fails once, jumps to repair with repair_attempt=1, repair jumps back to
// validate, which now passes.
func TestRepairLoopScenario(t *testing.T) {
	validate := newTestStage("validate")
	repair := newTestStage("repair")
	validate.Context["_jump_count"] = 0
	validate.Context["_max_jumps"] = 50

	validateCalls := 0
	reg := NewRegistry()
	reg.Register("validate", TaskFunc(func(ctx context.Context, s *Stage) (TaskResult, error) {
		validateCalls++
		if validateCalls == 1 {
			overrides := Context{}
			PropagateContext(s.Context, overrides, nil)
			overrides["repair_attempt"] = 1
			return JumpTo("repair", overrides), nil
		}
		return Success(nil), nil
	}))
	reg.Register("repair", TaskFunc(func(ctx context.Context, s *Stage) (TaskResult, error) {
		overrides := Context{}
		PropagateContext(s.Context, overrides, nil)
		return JumpTo("validate", overrides), nil
	}))

	w := NewWorkflow("wf2", "repair-loop", []*Stage{validate, repair})
	d := NewDispatcher(reg, nil, nil, nil, 1)
	if err := d.Run(context.Background(), w); err != nil {
		t.Fatal(err)
	}

	if validateCalls != 2 {
		t.Fatalf("validate called %d times, want 2", validateCalls)
	}
	if got, _ := validate.Context["repair_attempt"].(int); got != 1 {
		t.Fatalf("repair_attempt = %v, want 1", got)
	}
	if got, _ := validate.Context["_jump_count"].(int); got != 2 {
		t.Fatalf("_jump_count = %v, want 2", got)
	}
	if w.Status != StatusSucceeded {
		t.Fatalf("workflow status = %v, want succeeded", w.Status)
	}
}

func TestJumpCountExceedingMaxForcesTerminal(t *testing.T) {
	a := newTestStage("a")
	a.Context["_max_jumps"] = 2

	reg := NewRegistry()
	reg.Register("a", TaskFunc(func(ctx context.Context, s *Stage) (TaskResult, error) {
		overrides := Context{}
		PropagateContext(s.Context, overrides, nil)
		return JumpTo("a", overrides), nil
	}))

	w := NewWorkflow("wf3", "jump-exhaustion", []*Stage{a})
	d := NewDispatcher(reg, nil, nil, nil, 1)
	if err := d.Run(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if w.Status != StatusTerminal {
		t.Fatalf("workflow status = %v, want terminal", w.Status)
	}
}

func TestTransientErrorRequeuesWithoutAdvancingContext(t *testing.T) {
	a := newTestStage("a")
	attempts := 0

	reg := NewRegistry()
	reg.Register("a", TaskFunc(func(ctx context.Context, s *Stage) (TaskResult, error) {
		attempts++
		if attempts == 1 {
			return TaskResult{}, NewTransientError(0, errors.New("flaky"))
		}
		return Success(nil), nil
	}))

	w := NewWorkflow("wf4", "transient", []*Stage{a})
	d := NewDispatcher(reg, nil, nil, nil, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Run(ctx, w); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if w.Status != StatusSucceeded {
		t.Fatalf("workflow status = %v, want succeeded", w.Status)
	}
}

func TestValidateModuleGraphDetectsCycle(t *testing.T) {
	mods := []ModuleSpec{
		{ID: "x", Deps: []string{"y"}},
		{ID: "y", Deps: []string{"x"}},
	}
	if err := ValidateModuleGraph(mods); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestValidateModuleGraphDetectsSharedOwnership(t *testing.T) {
	mods := []ModuleSpec{
		{ID: "x", OwnedFiles: []string{"a.go"}},
		{ID: "y", OwnedFiles: []string{"a.go"}},
	}
	if err := ValidateModuleGraph(mods); err == nil {
		t.Fatal("expected shared-ownership error")
	}
}
