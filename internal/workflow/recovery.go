package workflow

// nonTerminalForRecovery is the set of Workflow statuses recovery treats
// as interrupted mid-run — a crash could have left the process dead while
// any of these were current, including "terminal" (a crash during the
// brief window between deciding terminal and persisting skip-propagation
// is itself resumable).
var nonTerminalForRecovery = map[Status]bool{
	StatusRunning:        true,
	StatusTerminal:       true,
	StatusCanceled:       true,
	StatusFailedContinue: true,
}

// Recover resets a workflow loaded from storage at startup so the
// dispatcher can resume it: every stage in a non-terminal-for-recovery
// status is reset to running (preserving its context — the Task decides
// resume behavior from there), and every downstream stage still
// skipped/not-started is reset to not_started so it re-enters
// consideration.
func Recover(w *Workflow) {
	if !nonTerminalForRecovery[w.Status] {
		return
	}

	for _, s := range w.Stages {
		switch s.Status {
		case StatusRunning, StatusTerminal, StatusCanceled, StatusFailedContinue:
			s.Status = StatusRunning
		case StatusSkipped, StatusNotStarted:
			s.Status = StatusNotStarted
		}
	}
	w.Status = StatusRunning
}
