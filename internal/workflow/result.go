package workflow

// ResultKind discriminates TaskResult's five variants. TaskResult is
// returned by value and inspected by the dispatcher — never mutated,
// never subclassed.
type ResultKind string

const (
	ResultSuccess        ResultKind = "success"
	ResultFailedContinue ResultKind = "failed_continue"
	ResultJumpTo         ResultKind = "jump_to"
	ResultTerminal       ResultKind = "terminal"
)

// TaskResult is the tagged union a Task returns from Execute. Exactly the
// fields relevant to Kind are populated; the dispatcher never inspects a
// field outside its Kind's contract.
type TaskResult struct {
	Kind ResultKind

	// ResultSuccess / ResultFailedContinue
	Outputs map[string]any
	Err     error

	// ResultJumpTo
	TargetRef string
	Overrides Context
}

// Success builds a success TaskResult.
func Success(outputs map[string]any) TaskResult {
	return TaskResult{Kind: ResultSuccess, Outputs: outputs}
}

// FailedContinue builds a failed_continue TaskResult: the DAG advances
// despite the failure.
func FailedContinue(err error, outputs map[string]any) TaskResult {
	return TaskResult{Kind: ResultFailedContinue, Err: err, Outputs: outputs}
}

// JumpTo builds a jump_to TaskResult transferring control to targetRef.
// overrides should already carry the documented allow-list keys copied
// from the source stage (see PropagateContext) plus any destination-
// specific values written after that copy.
func JumpTo(targetRef string, overrides Context) TaskResult {
	return TaskResult{Kind: ResultJumpTo, TargetRef: targetRef, Overrides: overrides}
}

// Terminal builds a terminal TaskResult: the workflow halts, resumable.
func Terminal(err error) TaskResult {
	return TaskResult{Kind: ResultTerminal, Err: err}
}

// TransientError is raised (returned as an error, not a TaskResult) by a
// Task when a stage should be re-queued after a delay without the stage
// itself advancing a retry counter — the runtime tracks its own.
type TransientError struct {
	RetryAfterSeconds int
	Err               error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a TransientError with the given retry delay.
func NewTransientError(retryAfterSeconds int, err error) *TransientError {
	return &TransientError{RetryAfterSeconds: retryAfterSeconds, Err: err}
}
