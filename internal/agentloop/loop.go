// Package agentloop drives a single agent's turn-by-turn conversation with
// the LLM gateway: it dispatches tool calls, feeds results back, watches
// for an idle agent that keeps talking without writing anything, and
// enforces a wall-clock deadline per stage task.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/llm"
)

const (
	// IdleWarnTurns is the number of consecutive turns without a write
	// tool call before the loop emits a warning event.
	IdleWarnTurns = 3

	// IdleMaxTurns is the number of consecutive turns without a write tool
	// call before the loop aborts the task as stalled.
	IdleMaxTurns = 6

	// MaxHistoryMessages bounds the in-memory transcript kept per task; the
	// context packer is responsible for summarizing anything trimmed.
	MaxHistoryMessages = 40

	// ToolResultLimit truncates a tool result's content to this many
	// characters before it's appended to history, keeping runaway command
	// output from blowing the context window on its own.
	ToolResultLimit = 8000

	// EmptyResponseRetryLimit caps how many times the loop will re-prompt
	// after the model returns an empty assistant message with no tool
	// calls, before treating it as a hard failure.
	EmptyResponseRetryLimit = 2
)

// writeTools are the tool names that count as "making progress" for idle
// detection; a turn that only reads or calls non-mutating tools does not
// reset the idle counter.
var writeTools = map[string]bool{
	"write": true,
	"edit":  true,
	"bash":  true,
}

// ToolExecutor dispatches a single tool call and returns its rendered
// result. Implementations enforce the tool's access policy.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error)
}

// Deps wires a Loop to its collaborators.
type Deps struct {
	Gateway  *llm.Gateway
	Tools    ToolExecutor
	Bus      *eventbus.Bus
	Logger   *slog.Logger
}

// Loop drives one agent task's conversation to completion: a turn
// dispatches a Chat request, executes any requested tool calls, appends
// results to history, and repeats until the model stops requesting tools
// or a termination condition fires.
type Loop struct {
	deps    Deps
	label   string
	model   string
	tools   []llm.ToolDefinition
	history []llm.Message

	idleStreak    int
	emptyCount    int
	hasWriteTools bool
}

// New builds a Loop for a single task. label identifies the task in
// emitted events (e.g. "implement:module-a").
func New(deps Deps, label, model string, tools []llm.ToolDefinition, systemPrompt string) *Loop {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	l := &Loop{deps: deps, label: label, model: model, tools: tools}
	for _, t := range tools {
		if writeTools[t.Name] {
			l.hasWriteTools = true
			break
		}
	}
	if systemPrompt != "" {
		l.history = append(l.history, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	return l
}

// Outcome is the terminal state of a Run call.
type Outcome struct {
	FinalMessage string
	Turns        int
	Stalled      bool // hit IdleMaxTurns without a write tool call
	Reason       string
}

// Run drives turns until the model stops calling tools, the idle limit is
// hit, or ctx is done (caller-imposed wall-clock deadline / watchdog).
func (l *Loop) Run(ctx context.Context, userPrompt string) (*Outcome, error) {
	l.history = append(l.history, llm.Message{Role: llm.RoleUser, Content: userPrompt})
	l.publish(eventbus.CodeContentUser, userPrompt)

	turn := 0
	for {
		select {
		case <-ctx.Done():
			return &Outcome{Turns: turn, Reason: "deadline exceeded"}, ctx.Err()
		default:
		}

		turn++
		l.publish(eventbus.CodeAgentTurn, fmt.Sprintf("turn %d", turn))

		res, err := l.deps.Gateway.Chat(ctx, llm.Request{
			Model:    l.model,
			Messages: l.truncatedHistory(),
			Tools:    l.tools,
		})
		if err != nil {
			l.publish(eventbus.CodeAgentError, err.Error())
			return &Outcome{Turns: turn, Reason: err.Error()}, err
		}

		if res.Message.Content == "" && len(res.Message.ToolCalls) == 0 {
			l.emptyCount++
			if l.emptyCount > EmptyResponseRetryLimit {
				return &Outcome{Turns: turn, Reason: "empty response retry limit exceeded"}, fmt.Errorf("agent returned %d consecutive empty responses", l.emptyCount)
			}
			l.history = append(l.history, llm.Message{Role: llm.RoleUser, Content: "Continue. You returned no content and no tool calls."})
			continue
		}
		l.emptyCount = 0

		l.history = append(l.history, res.Message)

		if len(res.Message.ToolCalls) == 0 {
			l.publish(eventbus.CodeAgentSummary, res.Message.Content)
			return &Outcome{FinalMessage: res.Message.Content, Turns: turn}, nil
		}

		if stalled := l.dispatchToolCalls(ctx, res.Message.ToolCalls); stalled {
			l.publish(eventbus.CodeWatchdog, fmt.Sprintf("%s idle for %d turns with no write tool call", l.label, l.idleStreak))
			return &Outcome{Turns: turn, Stalled: true, Reason: "idle agent"}, fmt.Errorf("agent %s stalled after %d idle turns", l.label, l.idleStreak)
		}
	}
}

// dispatchToolCalls executes each requested call, appends its result to
// history, and updates idle-detection bookkeeping. It returns true once
// the idle streak reaches IdleMaxTurns. A task whose tool set has no write
// tool at all (plan, review) is exempt from idle tracking entirely - it is
// expected to spend every turn reading and never reset an idle counter
// that was never meaningful for it.
func (l *Loop) dispatchToolCalls(ctx context.Context, calls []llm.ToolCall) bool {
	wroteSomething := false
	var results []llm.Message

	for _, call := range calls {
		l.publish(eventbus.CodeToolCall, call.Name)
		result, err := l.deps.Tools.Execute(ctx, call)
		if err != nil {
			result = llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		}
		result.Content = truncateMiddle(result.Content, ToolResultLimit)
		l.publish(eventbus.CodeToolResult, result.Content)

		results = append(results, llm.Message{Role: llm.RoleTool, ToolResults: []llm.ToolResult{result}})

		if writeTools[call.Name] {
			wroteSomething = true
		}
	}

	l.history = append(l.history, results...)

	if !l.hasWriteTools {
		return false
	}

	if wroteSomething {
		l.idleStreak = 0
	} else {
		l.idleStreak++
		if l.idleStreak == IdleWarnTurns {
			l.publish(eventbus.CodeWatchdog, fmt.Sprintf("%s idle for %d turns", l.label, l.idleStreak))
		}
	}
	return l.idleStreak >= IdleMaxTurns
}

// truncatedHistory returns the tail of history bounded at
// MaxHistoryMessages, always keeping the leading system message (if any)
// so instructions are never dropped.
func (l *Loop) truncatedHistory() []llm.Message {
	if len(l.history) <= MaxHistoryMessages {
		return l.history
	}
	hasSystem := len(l.history) > 0 && l.history[0].Role == llm.RoleSystem
	tail := l.history[len(l.history)-MaxHistoryMessages:]
	if !hasSystem {
		return tail
	}
	out := make([]llm.Message, 0, len(tail)+1)
	out = append(out, l.history[0])
	out = append(out, tail...)
	return out
}

// truncateMiddle cuts the middle out of s once it exceeds limit, keeping
// the head and tail — the two parts of a tool result most likely to carry
// the error location or final status line.
func truncateMiddle(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	half := (limit - len(elision)) / 2
	return s[:half] + elision + s[len(s)-half:]
}

const elision = "\n... [truncated] ...\n"

func (l *Loop) publish(code, msg string) {
	if l.deps.Bus == nil {
		return
	}
	l.deps.Bus.Publish(eventbus.New(eventbus.KindMessage, code, msg).WithLabel(l.label))
}

// marshalArgs is a small helper tool executors can use to decode a
// ToolCall's raw JSON arguments into a typed struct.
func marshalArgs[T any](call llm.ToolCall) (T, error) {
	var out T
	err := json.Unmarshal([]byte(call.Arguments), &out)
	return out, err
}
