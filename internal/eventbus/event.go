// Package eventbus implements the process-wide observability pub/sub used
// by every component of the pipeline: the workflow runtime, the agent
// loop, the LLM gateway, and the watchdog all publish to a single Bus and
// never block on a slow or absent subscriber.
package eventbus

import (
	"encoding/json"
	"time"
)

// Kind discriminates the shape of an Event's payload.
type Kind string

const (
	KindMessage     Kind = "msg"
	KindBlockStart  Kind = "block_start"
	KindBlockLine   Kind = "block_line"
	KindBlockEnd    Kind = "block_end"
	KindStreamStart Kind = "stream_start"
	KindStreamToken Kind = "stream_token"
	KindStreamEnd   Kind = "stream_end"
)

// Well-known four-letter event codes. Stage tasks and the gateway emit
// these; the watchdog and CLI match on them. The taxonomy is open — new
// codes may be added — but these are the ones the engine itself produces.
const (
	CodeThinking      = "ATHK" // agent thinking/reasoning chunk
	CodeAgentTurn     = "ATRN" // agent turn boundary
	CodeAgentError    = "AERR" // agent-level error
	CodeAgentSummary  = "ASUM" // final agent response
	CodeSystemWarn    = "SWRN" // warning, non-fatal
	CodeSystemError   = "SERR" // system-level error
	CodeContentSystem = "CSYS" // system prompt block
	CodeContentUser   = "CUSR" // user input block
	CodeContentModel  = "CMDL" // model/tool-count announcement
	CodeToolCall      = "CTLC" // tool call dispatched
	CodeToolResult    = "CTLR" // tool result rendered to history
	CodeToolResponse  = "TRES" // tool execution response
	CodeValidateFail  = "VFAL" // validate stage failed
	CodeValidatePass  = "VPAS" // validate stage passed
	CodeStageStart    = "WSTG" // workflow stage started
	CodeStageDone     = "WDON" // workflow stage finished
	CodeJumpTo        = "WJMP" // workflow jump_to transfer
	CodeRepair        = "WRPR" // repair attempt
	CodeQuality       = "WQUA" // quality gate verdict
	CodeWatchdog      = "WDOG" // watchdog finding
	CodeCircuit       = "LCIR" // circuit breaker transition
	CodeRetry         = "LRTY" // LLM retry
)

// Event is an immutable observability record. Field names are long-form
// in Go for readability; the wire encoding uses the compact keys the
// engine's Unix-domain broadcast protocol specifies (§6).
type Event struct {
	Kind      Kind
	Code      string
	Timestamp time.Time
	Message   string
	Label     string
}

// New builds an Event stamped with the current time.
func New(kind Kind, code, message string) Event {
	return Event{Kind: kind, Code: code, Timestamp: time.Now(), Message: message}
}

// WithLabel attaches a label (used for block/stream grouping) and returns
// the event by value.
func (e Event) WithLabel(label string) Event {
	e.Label = label
	return e
}

type wireEvent struct {
	K string `json:"k"`
	C string `json:"c,omitempty"`
	T int64  `json:"t"`
	M string `json:"m,omitempty"`
	L string `json:"l,omitempty"`
}

// MarshalJSON encodes the event using the compact wire keys documented in
// SPEC_FULL.md §6: k=kind, c=code, t=unix-millis timestamp, m=message,
// l=label. Empty message/label are omitted.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		K: string(e.Kind),
		C: e.Code,
		T: e.Timestamp.UnixMilli(),
		M: e.Message,
		L: e.Label,
	})
}

// UnmarshalJSON decodes the compact wire format back into an Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Kind = Kind(w.K)
	e.Code = w.C
	e.Timestamp = time.UnixMilli(w.T)
	e.Message = w.M
	e.Label = w.L
	return nil
}
