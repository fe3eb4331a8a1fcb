package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rodmena-limited/trust5/internal/eventbus"
)

// Store persists Workflow state changes. Implementations must make
// SaveStage idempotent since the dispatcher calls it on every status
// transition, including ones recovery will later revisit.
type Store interface {
	SaveWorkflow(ctx context.Context, w *Workflow) error
	SaveStage(ctx context.Context, workflowID string, s *Stage) error
}

// Dispatcher runs a single Workflow's DAG to completion: a worker pool
// pulls ready stages, instantiates their Task from the Registry, and
// interprets the TaskResult per SPEC_FULL.md §4.5 — the only
// synchronization across workers is DAG readiness.
type Dispatcher struct {
	registry *Registry
	store    Store
	bus      *eventbus.Bus
	logger   *slog.Logger
	workers  int
}

// NewDispatcher builds a Dispatcher. workers <= 0 defaults to 4.
func NewDispatcher(registry *Registry, store Store, bus *eventbus.Bus, logger *slog.Logger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, store: store, bus: bus, logger: logger, workers: workers}
}

// Run drives w's DAG to completion or a terminal transition. It returns
// when every stage has reached a terminal-for-successors status or the
// workflow itself transitions to StatusTerminal/StatusCanceled.
func (d *Dispatcher) Run(ctx context.Context, w *Workflow) error {
	w.Status = StatusRunning
	w.StartedAt = time.Now()
	d.save(ctx, w, nil)

	type job struct{ stage *Stage }
	jobs := make(chan job, len(w.Stages)*2)
	var mu sync.Mutex
	var wg sync.WaitGroup
	halted := false
	dispatched := make(map[string]bool, len(w.Stages))

	enqueueReady := func() {
		mu.Lock()
		defer mu.Unlock()
		if halted {
			return
		}
		for _, s := range w.ReadyStages() {
			if dispatched[s.RefID] {
				continue
			}
			dispatched[s.RefID] = true
			s.Status = StatusRunning
			wg.Add(1)
			jobs <- job{stage: s}
		}
	}

	worker := func() {
		for j := range jobs {
			d.runStage(ctx, w, j.stage, &mu, &halted, dispatched)
			wg.Done()
			enqueueReady()
		}
	}

	for i := 0; i < d.workers; i++ {
		go worker()
	}

	enqueueReady()
	wg.Wait()
	close(jobs)

	mu.Lock()
	defer mu.Unlock()
	if halted {
		return nil
	}
	w.Status = StatusSucceeded
	for _, s := range w.Stages {
		if s.Status == StatusFailedContinue {
			w.Status = StatusFailedContinue
		}
	}
	w.EndedAt = time.Now()
	d.save(ctx, w, nil)
	return nil
}

// runStage instantiates the stage's Task and interprets its TaskResult.
// mu guards w's stage map and the halted flag against concurrent workers.
func (d *Dispatcher) runStage(ctx context.Context, w *Workflow, s *Stage, mu *sync.Mutex, halted *bool, dispatched map[string]bool) {
	d.publish(eventbus.CodeStageStart, s.RefID)

	task := d.registry.Lookup(s.Type)
	if task == nil {
		mu.Lock()
		s.Status = StatusTerminal
		w.Status = StatusTerminal
		*halted = true
		mu.Unlock()
		d.publish(eventbus.CodeSystemError, fmt.Sprintf("no task registered for stage type %q", s.Type))
		return
	}

	result, err := task.Execute(ctx, s)
	if err != nil {
		d.handleTaskError(w, s, err, mu, halted, dispatched)
		return
	}

	mu.Lock()
	defer mu.Unlock()

	switch result.Kind {
	case ResultSuccess:
		s.Status = StatusSucceeded
		s.Outputs = result.Outputs
		d.propagateOutputs(w, s)
		d.publish(eventbus.CodeStageDone, s.RefID)

	case ResultFailedContinue:
		s.Status = StatusFailedContinue
		s.Outputs = result.Outputs
		d.propagateOutputs(w, s)
		d.publish(eventbus.CodeStageDone, fmt.Sprintf("%s (failed_continue: %v)", s.RefID, result.Err))

	case ResultJumpTo:
		d.handleJump(w, s, result, halted, dispatched)

	case ResultTerminal:
		s.Status = StatusTerminal
		w.Status = StatusTerminal
		*halted = true
		d.skipRemaining(w)
		d.publish(eventbus.CodeSystemError, fmt.Sprintf("%s terminal: %v", s.RefID, result.Err))
	}
	d.save(ctx, w, s)
}

// propagateOutputs merges a just-finished stage's Outputs into every
// successor's Context, keyed exactly as the producing Task named them
// (e.g. "plan_output"). This is the DAG's only data-flow mechanism for
// forward edges; jump_to edges instead go through the explicit
// PropagateContext allow-list, since a jump target isn't a DAG successor.
func (d *Dispatcher) propagateOutputs(w *Workflow, from *Stage) {
	for _, s := range w.Stages {
		if s.Requisites[from.RefID] {
			for k, v := range from.Outputs {
				s.Context[k] = v
			}
		}
	}
}

// handleJump increments the jump counter, checks it against the target's
// _max_jumps, merges overrides into the target's context, and resets the
// target to running so it re-enters the ready set.
func (d *Dispatcher) handleJump(w *Workflow, from *Stage, result TaskResult, halted *bool, dispatched map[string]bool) {
	target, ok := w.StageByID[result.TargetRef]
	if !ok {
		from.Status = StatusTerminal
		w.Status = StatusTerminal
		*halted = true
		d.publish(eventbus.CodeSystemError, fmt.Sprintf("jump_to unknown stage %q", result.TargetRef))
		return
	}

	count := IncrementJumpCount(result.Overrides)
	limit := MaxJumps(result.Overrides)
	if count > limit {
		from.Status = StatusTerminal
		w.Status = StatusTerminal
		*halted = true
		d.skipRemaining(w)
		d.publish(eventbus.CodeSystemError, fmt.Sprintf("jump count %d exceeded max %d at %s -> %s", count, limit, from.RefID, result.TargetRef))
		return
	}

	for k, v := range result.Overrides {
		target.Context[k] = v
	}
	target.Status = StatusNotStarted // re-enters the ready set on the next pass
	delete(dispatched, target.RefID)
	from.Status = StatusSucceeded
	d.publish(eventbus.CodeJumpTo, fmt.Sprintf("%s -> %s (jump %d/%d)", from.RefID, target.RefID, count, limit))
}

// handleTaskError distinguishes a *TransientError (re-queue after a delay,
// without advancing the stage's own retry bookkeeping) from any other
// error, which is treated as an unexpected terminal failure.
func (d *Dispatcher) handleTaskError(w *Workflow, s *Stage, err error, mu *sync.Mutex, halted *bool, dispatched map[string]bool) {
	var te *TransientError
	if as, ok := err.(*TransientError); ok {
		te = as
	}
	if te != nil {
		d.logger.Warn("transient task error, requeueing", "stage", s.RefID, "retry_after", te.RetryAfterSeconds)
		// Block this worker for the retry delay rather than scheduling an
		// async reset: the outstanding WaitGroup count for this stage must
		// stay live until it's actually ready to run again, or Run's
		// Wait() could return while a retry is still pending.
		time.Sleep(time.Duration(te.RetryAfterSeconds) * time.Second)
		mu.Lock()
		if !*halted {
			s.Status = StatusNotStarted
			delete(dispatched, s.RefID)
		}
		mu.Unlock()
		return
	}

	mu.Lock()
	defer mu.Unlock()
	s.Status = StatusTerminal
	w.Status = StatusTerminal
	*halted = true
	d.skipRemaining(w)
	d.publish(eventbus.CodeSystemError, fmt.Sprintf("%s: unexpected error: %v", s.RefID, err))
}

// skipRemaining marks every stage that hasn't reached a terminal-for-
// successors status as skipped, once the workflow halts.
func (d *Dispatcher) skipRemaining(w *Workflow) {
	for _, s := range w.Stages {
		if !terminalStatuses[s.Status] && s.Status != StatusTerminal {
			s.Status = StatusSkipped
		}
	}
}

func (d *Dispatcher) publish(code, msg string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.New(eventbus.KindMessage, code, msg))
}

func (d *Dispatcher) save(ctx context.Context, w *Workflow, s *Stage) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveWorkflow(ctx, w); err != nil {
		d.logger.Error("save workflow failed", "error", err)
	}
	if s != nil {
		if err := d.store.SaveStage(ctx, w.ID, s); err != nil {
			d.logger.Error("save stage failed", "error", err)
		}
	}
}
