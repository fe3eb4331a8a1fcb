package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// Watchdog timing. checkInterval backs off as the pipeline runs longer,
// matching the three escalating bands a long-running pipeline passes
// through: the first hour, the next five, and anything beyond.
const (
	watchdogCheckInterval   = 12 * time.Second
	watchdogBackoffAfter1h  = 30 * time.Second
	watchdogBackoffAfter6h  = 60 * time.Second
	watchdogMaxRuntime      = 2 * time.Hour
	watchdogOKEmitInterval  = 25 // checks between "still healthy" heartbeat emits
	watchdogSentinelName    = "pipeline_complete"
	watchdogReportDir       = ".trust5"
	watchdogReportFile      = "watchdog_report.json"
)

// readonlyToolCodes/writeToolCodes classify a CodeToolCall event's tool
// name (carried in Event.Message, see agentloop.Loop.publish) for the
// idle-agent rule: a run of consecutive turns touching only read/bash
// tools without ever writing is a stuck agent, not a repair in progress.
var readonlyToolCodes = map[string]bool{
	"read": true,
	"bash": true,
}

var writeToolCodes = map[string]bool{
	"write":       true,
	"edit":        true,
	"apply_patch": true,
}

// garbledFileRe matches a source file whose first line begins with a
// lone "=" followed by a digit — the signature of a truncated diff or
// patch artifact left in place of real source by a confused agent.
var garbledFileRe = regexp.MustCompile(`^=[0-9]`)

// doubleExtRe flags a file with two extensions, e.g. "handler.go.go" or
// "main.py.bak" — usually a write tool mistake that leaves a stray
// duplicate behind the real file.
var doubleExtRe = regexp.MustCompile(`\.[A-Za-z0-9]{1,8}\.[A-Za-z0-9]{1,8}$`)

// legitDoubleExt allowlists the double-extension suffixes that are
// legitimate naming conventions rather than artifacts.
var legitDoubleExt = map[string]bool{
	".spec.ts":  true,
	".spec.js":  true,
	".test.ts":  true,
	".test.js":  true,
	".test.tsx": true,
	".d.ts":     true,
	".min.js":   true,
	".min.css":  true,
	".tar.gz":   true,
	".pb.go":    true,
}

// stubIndicators are substrings that show up in placeholder source an
// agent wrote instead of a real implementation.
var stubIndicators = []string{
	"implementation required",
	"# Module:",
	"// Module:",
	`"""Module:`,
	"TODO: implement",
	"not yet implemented",
}

var watchdogSkipDirs = map[string]bool{
	".git":         true,
	".trust5":      true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".venv":        true,
}

var watchdogSourceExts = map[string]bool{
	".go": true, ".py": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".rs": true, ".java": true, ".rb": true, ".c": true, ".cpp": true, ".h": true,
}

// Finding is one rule or filesystem-check violation the watchdog
// surfaced in a report cycle.
type Finding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // "warn" or "error"
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
}

// PipelineHealth is the watchdog's running model of the pipeline,
// updated by the event-subscriber goroutine and read by the rule loop.
// All access goes through the embedded mutex.
type PipelineHealth struct {
	mu sync.Mutex

	RepairAttempts          int
	JumpCount               int
	MaxJumps                int
	StagesCompleted         []string
	StagesFailed            []string
	ConsecutiveReadonlyTurns int
	TestPassHistory         []bool // true = pass, in chronological order
	LastStageCompletion     time.Time
	Started                 time.Time
}

func newPipelineHealth() *PipelineHealth {
	return &PipelineHealth{Started: time.Now(), LastStageCompletion: time.Now(), MaxJumps: workflow.DefaultMaxJumps}
}

func (h *PipelineHealth) observe(e eventbus.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch e.Code {
	case eventbus.CodeToolCall:
		name := strings.TrimSpace(e.Message)
		if writeToolCodes[name] {
			h.ConsecutiveReadonlyTurns = 0
		} else if readonlyToolCodes[name] {
			h.ConsecutiveReadonlyTurns++
		}
	case eventbus.CodeStageDone:
		h.LastStageCompletion = time.Now()
		if strings.Contains(e.Message, "failed_continue") {
			h.StagesFailed = append(h.StagesFailed, e.Message)
		} else {
			h.StagesCompleted = append(h.StagesCompleted, e.Message)
		}
	case eventbus.CodeJumpTo:
		h.JumpCount++
	case eventbus.CodeRepair:
		if strings.Contains(e.Message, "attempt starting") {
			h.RepairAttempts++
		}
	case eventbus.CodeValidatePass:
		h.TestPassHistory = append(h.TestPassHistory, true)
	case eventbus.CodeValidateFail:
		h.TestPassHistory = append(h.TestPassHistory, false)
	}
}

func (h *PipelineHealth) snapshot() PipelineHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *h
	cp.StagesCompleted = append([]string(nil), h.StagesCompleted...)
	cp.StagesFailed = append([]string(nil), h.StagesFailed...)
	cp.TestPassHistory = append([]bool(nil), h.TestPassHistory...)
	return cp
}

// Report is the JSON document the watchdog atomically writes to
// <root>/.trust5/watchdog_report.json every rule-check cycle.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Healthy   bool      `json:"healthy"`
	Runtime   string    `json:"runtime"`
	Findings  []Finding `json:"findings"`
	Health    struct {
		RepairAttempts           int      `json:"repair_attempts"`
		JumpCount                int      `json:"jump_count"`
		StagesCompleted          int      `json:"stages_completed"`
		StagesFailed             int      `json:"stages_failed"`
		ConsecutiveReadonlyTurns int      `json:"consecutive_readonly_turns"`
		TestPassHistory          []bool   `json:"test_pass_history"`
	} `json:"health"`
}

// WatchdogTask runs for the lifetime of the pipeline as its own stage:
// it subscribes to the event bus to build a PipelineHealth model,
// periodically runs a deterministic rule engine plus a set of
// filesystem checks against the project root, and writes a JSON report.
// It stops on a sentinel file, max runtime, or context cancellation —
// never on the rules finding a problem, since its job is to observe and
// report, not to halt the pipeline itself.
type WatchdogTask struct {
	Bus    *eventbus.Bus
	Logger *slog.Logger
}

func NewWatchdogTask(bus *eventbus.Bus, logger *slog.Logger) *WatchdogTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchdogTask{Bus: bus, Logger: logger}
}

func (t *WatchdogTask) Execute(ctx context.Context, stage *workflow.Stage) (workflow.TaskResult, error) {
	c := stage.Context
	root := stringCtx(c, "project_root", ".")
	moduleName := stringCtx(c, "module_name", "")

	health := newPipelineHealth()
	if maxJumps := intCtx(c, "max_jumps", 0); maxJumps > 0 {
		health.MaxJumps = maxJumps
	}

	var sub *eventbus.Subscriber
	if t.Bus != nil {
		sub = t.Bus.Subscribe()
		defer t.Bus.Unsubscribe(sub)
		go t.observeLoop(sub, health)
	}

	findings := t.runLoop(ctx, root, moduleName, health)

	return workflow.Success(map[string]any{
		"watchdog_findings": findings,
	}), nil
}

func (t *WatchdogTask) observeLoop(sub *eventbus.Subscriber, health *PipelineHealth) {
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			health.observe(e)
		case <-sub.Closed():
			return
		}
	}
}

// runLoop drives the periodic rule-check cycle until a stop condition
// fires, returning the findings from the final cycle.
func (t *WatchdogTask) runLoop(ctx context.Context, root, moduleName string, health *PipelineHealth) []Finding {
	started := time.Now()
	checks := 0
	var lastFindings []Finding

	for {
		select {
		case <-ctx.Done():
			return lastFindings
		default:
		}

		elapsed := time.Since(started)
		if elapsed >= watchdogMaxRuntime {
			t.emit(moduleName, "watchdog stopping: max runtime exceeded")
			return lastFindings
		}
		if t.sentinelPresent(root) {
			t.emit(moduleName, "watchdog stopping: pipeline_complete sentinel observed")
			return lastFindings
		}

		snap := health.snapshot()
		findings := t.runRules(&snap)
		findings = append(findings, t.runChecks(root)...)
		lastFindings = findings

		t.writeReport(root, &snap, findings, elapsed)

		checks++
		if len(findings) > 0 {
			for _, f := range findings {
				t.emit(moduleName, fmt.Sprintf("[%s/%s] %s", f.Severity, f.Rule, f.Message))
			}
		} else if checks%watchdogOKEmitInterval == 0 {
			t.emit(moduleName, fmt.Sprintf("watchdog healthy after %d checks (%s elapsed)", checks, elapsed.Round(time.Second)))
		}

		wait := t.interval(elapsed)
		select {
		case <-ctx.Done():
			return lastFindings
		case <-time.After(wait):
		}
	}
}

func (t *WatchdogTask) interval(elapsed time.Duration) time.Duration {
	switch {
	case elapsed > 6*time.Hour:
		return watchdogBackoffAfter6h
	case elapsed > time.Hour:
		return watchdogBackoffAfter1h
	default:
		return watchdogCheckInterval
	}
}

func (t *WatchdogTask) sentinelPresent(root string) bool {
	_, err := os.Stat(filepath.Join(root, watchdogReportDir, watchdogSentinelName))
	return err == nil
}

// runRules applies the 10 deterministic health rules to a health
// snapshot. Each rule is independent and returns at most one finding.
func (t *WatchdogTask) runRules(h *PipelineHealth) []Finding {
	var findings []Finding
	add := func(f Finding) { findings = append(findings, f) }

	if f, ok := ruleRepairLoop(h); ok {
		add(f)
	}
	if f, ok := ruleIdleAgent(h); ok {
		add(f)
	}
	if f, ok := ruleRegression(h); ok {
		add(f)
	}
	if f, ok := ruleStall(h); ok {
		add(f)
	}
	if f, ok := ruleJumpExhaustion(h); ok {
		add(f)
	}
	return findings
}

func ruleRepairLoop(h *PipelineHealth) (Finding, bool) {
	switch {
	case h.JumpCount >= 20:
		return Finding{Rule: "repair_loop", Severity: "error", Message: fmt.Sprintf("jump count %d indicates a runaway repair loop", h.JumpCount)}, true
	case h.RepairAttempts >= 3:
		return Finding{Rule: "repair_loop", Severity: "warn", Message: fmt.Sprintf("%d repair attempts on this module so far", h.RepairAttempts)}, true
	}
	return Finding{}, false
}

func ruleIdleAgent(h *PipelineHealth) (Finding, bool) {
	if h.ConsecutiveReadonlyTurns >= 8 {
		return Finding{Rule: "idle_agent", Severity: "warn", Message: fmt.Sprintf("%d consecutive read-only turns without a write", h.ConsecutiveReadonlyTurns)}, true
	}
	return Finding{}, false
}

func ruleRegression(h *PipelineHealth) (Finding, bool) {
	n := len(h.TestPassHistory)
	if n < 3 {
		return Finding{}, false
	}
	hadPass := false
	for _, p := range h.TestPassHistory[:n-3] {
		if p {
			hadPass = true
			break
		}
	}
	if !hadPass {
		return Finding{}, false
	}
	last3 := h.TestPassHistory[n-3:]
	for _, p := range last3 {
		if p {
			return Finding{}, false
		}
	}
	return Finding{Rule: "regression", Severity: "error", Message: "last 3 validation runs all failed after at least one earlier pass"}, true
}

func ruleStall(h *PipelineHealth) (Finding, bool) {
	since := time.Since(h.LastStageCompletion)
	switch {
	case since > time.Hour:
		return Finding{Rule: "stall", Severity: "error", Message: fmt.Sprintf("no stage has completed in %s", since.Round(time.Second))}, true
	case since > 30*time.Minute:
		return Finding{Rule: "stall", Severity: "warn", Message: fmt.Sprintf("no stage has completed in %s", since.Round(time.Second))}, true
	}
	return Finding{}, false
}

func ruleJumpExhaustion(h *PipelineHealth) (Finding, bool) {
	if h.MaxJumps <= 0 {
		return Finding{}, false
	}
	ratio := float64(h.JumpCount) / float64(h.MaxJumps)
	switch {
	case ratio >= 0.8:
		return Finding{Rule: "jump_exhaustion", Severity: "error", Message: fmt.Sprintf("jump count %d/%d (%.0f%%)", h.JumpCount, h.MaxJumps, ratio*100)}, true
	case ratio >= 0.6:
		return Finding{Rule: "jump_exhaustion", Severity: "warn", Message: fmt.Sprintf("jump count %d/%d (%.0f%%)", h.JumpCount, h.MaxJumps, ratio*100)}, true
	}
	return Finding{}, false
}

// runChecks walks the project tree looking for artifacts a confused
// agent leaves behind: garbled files (auto-deleted on sight), missing
// manifests, corrupted double-extension files, empty source files, and
// stub placeholders.
func (t *WatchdogTask) runChecks(root string) []Finding {
	var findings []Finding

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if watchdogSkipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		ext := filepath.Ext(path)

		if f, ok := checkGarbled(path, rel); ok {
			findings = append(findings, f)
			return nil
		}
		if f, ok := checkDoubleExtension(path, rel); ok {
			findings = append(findings, f)
		}
		if !watchdogSourceExts[ext] {
			return nil
		}
		if f, ok := checkEmptySource(path, rel, info); ok {
			findings = append(findings, f)
			return nil
		}
		if f, ok := checkStubContent(path, rel); ok {
			findings = append(findings, f)
		}
		return nil
	})

	if f, ok := checkManifestFiles(root); !ok {
		findings = append(findings, f)
	}

	return findings
}

func checkGarbled(path, rel string) (Finding, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return Finding{}, false
	}
	firstLine := string(data)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	if !garbledFileRe.MatchString(firstLine) {
		return Finding{}, false
	}
	_ = os.Remove(path)
	return Finding{Rule: "garbled_file", Severity: "error", File: rel, Message: "garbled file (diff/patch artifact) found and removed"}, true
}

func checkDoubleExtension(path, rel string) (Finding, bool) {
	base := filepath.Base(path)
	if !doubleExtRe.MatchString(base) {
		return Finding{}, false
	}
	for suffix := range legitDoubleExt {
		if strings.HasSuffix(base, suffix) {
			return Finding{}, false
		}
	}
	return Finding{Rule: "double_extension", Severity: "warn", File: rel, Message: "file has a suspicious double extension"}, true
}

func checkEmptySource(path, rel string, info os.FileInfo) (Finding, bool) {
	if info.Size() > 0 {
		return Finding{}, false
	}
	return Finding{Rule: "empty_source", Severity: "warn", File: rel, Message: "source file is empty"}, true
}

func checkStubContent(path, rel string) (Finding, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) > 8192 {
		return Finding{}, false
	}
	content := string(data)
	for _, indicator := range stubIndicators {
		if strings.Contains(content, indicator) {
			return Finding{Rule: "stub_content", Severity: "warn", File: rel, Message: fmt.Sprintf("stub placeholder content detected (%q)", indicator)}, true
		}
	}
	return Finding{}, false
}

// checkManifestFiles reports (via its negated ok) when the project root
// carries no recognizable package manifest at all — a sign the agent
// never ran the manifest-creation step the language profile expects.
func checkManifestFiles(root string) (Finding, bool) {
	candidates := []string{
		"go.mod", "package.json", "pyproject.toml", "requirements.txt",
		"Cargo.toml", "pom.xml", "build.gradle", "Gemfile",
	}
	for _, name := range candidates {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return Finding{}, true
		}
	}
	return Finding{Rule: "manifest_missing", Severity: "warn", Message: "no recognized package manifest file found at project root"}, false
}

func (t *WatchdogTask) writeReport(root string, h *PipelineHealth, findings []Finding, elapsed time.Duration) {
	dir := filepath.Join(root, watchdogReportDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	var report Report
	report.Timestamp = time.Now()
	report.Healthy = len(findings) == 0
	report.Runtime = elapsed.Round(time.Second).String()
	report.Findings = findings
	report.Health.RepairAttempts = h.RepairAttempts
	report.Health.JumpCount = h.JumpCount
	report.Health.StagesCompleted = len(h.StagesCompleted)
	report.Health.StagesFailed = len(h.StagesFailed)
	report.Health.ConsecutiveReadonlyTurns = h.ConsecutiveReadonlyTurns
	report.Health.TestPassHistory = h.TestPassHistory

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}

	tmp, err := os.CreateTemp(dir, "watchdog_report-*.tmp")
	if err != nil {
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return
	}
	tmp.Close()
	_ = os.Rename(tmpPath, filepath.Join(dir, watchdogReportFile))
}

func (t *WatchdogTask) emit(label, msg string) {
	if t.Bus == nil {
		return
	}
	t.Bus.Publish(eventbus.New(eventbus.KindMessage, eventbus.CodeWatchdog, msg).WithLabel(label))
}
