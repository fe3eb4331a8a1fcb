package workflow

import "context"

// Task is a runnable stage implementation. Execute consumes the stage
// (its Context is the task's input and scratch space) and returns a
// TaskResult, or an error — a *TransientError requests a delayed
// re-queue; any other error is treated as an unexpected failure and
// surfaces as a terminal transition.
type Task interface {
	Execute(ctx context.Context, stage *Stage) (TaskResult, error)
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context, stage *Stage) (TaskResult, error)

func (f TaskFunc) Execute(ctx context.Context, stage *Stage) (TaskResult, error) {
	return f(ctx, stage)
}

// Registry maps a Stage's Type to the Task implementation that runs it.
type Registry struct {
	tasks map[string]Task
}

// NewRegistry builds an empty Task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register binds taskType to task. Re-registering a type overwrites the
// previous binding, which tests rely on to inject fakes.
func (r *Registry) Register(taskType string, task Task) {
	r.tasks[taskType] = task
}

// Lookup returns the Task bound to taskType, or nil if none is registered.
func (r *Registry) Lookup(taskType string) Task {
	return r.tasks[taskType]
}
