package agentloop

import (
	"context"
	"testing"

	"github.com/rodmena-limited/trust5/internal/llm"
)

type fakeTools struct {
	calls int
}

func (f *fakeTools) Execute(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	f.calls++
	return llm.ToolResult{ToolCallID: call.ID, Content: "ok"}, nil
}

type scriptedProvider struct {
	turns []llm.Message
	i     int
}

func (s *scriptedProvider) Name() string { return "scripted" }
func (s *scriptedProvider) Models(ctx context.Context) ([]llm.Model, error) { return nil, nil }
func (s *scriptedProvider) Complete(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	msg := s.turns[s.i]
	if s.i < len(s.turns)-1 {
		s.i++
	}
	out := make(chan llm.Chunk, 4)
	go func() {
		if msg.Content != "" {
			out <- llm.Chunk{Kind: llm.ChunkText, Text: msg.Content}
		}
		for _, tc := range msg.ToolCalls {
			tc := tc
			out <- llm.Chunk{Kind: llm.ChunkToolCall, ToolCall: &tc}
		}
		out <- llm.Chunk{Kind: llm.ChunkDone, Usage: &llm.Usage{}}
		close(out)
	}()
	return out, nil
}

func TestLoopStopsWhenNoToolCallsRequested(t *testing.T) {
	p := &scriptedProvider{turns: []llm.Message{{Content: "done"}}}
	gw := llm.New([]llm.Provider{p}, []string{"scripted"})
	tools := &fakeTools{}

	loop := New(Deps{Gateway: gw, Tools: tools}, "test", "m", nil, "")
	out, err := loop.Run(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if out.FinalMessage != "done" {
		t.Fatalf("got %q", out.FinalMessage)
	}
	if tools.calls != 0 {
		t.Fatalf("expected no tool calls, got %d", tools.calls)
	}
}

func TestLoopDetectsIdleStall(t *testing.T) {
	readOnly := llm.Message{ToolCalls: []llm.ToolCall{{ID: "1", Name: "Read", Arguments: "{}"}}}
	turns := make([]llm.Message, 0, IdleMaxTurns+1)
	for i := 0; i < IdleMaxTurns+1; i++ {
		turns = append(turns, readOnly)
	}
	p := &scriptedProvider{turns: turns}
	gw := llm.New([]llm.Provider{p}, []string{"scripted"})
	tools := &fakeTools{}

	loop := New(Deps{Gateway: gw, Tools: tools}, "test", "m", nil, "")
	out, err := loop.Run(context.Background(), "go")
	if err == nil {
		t.Fatal("expected stall error")
	}
	if !out.Stalled {
		t.Fatal("expected Stalled=true")
	}
}

func TestTruncateMiddleKeepsHeadAndTail(t *testing.T) {
	s := make([]byte, 20000)
	for i := range s {
		s[i] = 'a'
	}
	got := truncateMiddle(string(s), ToolResultLimit)
	if len(got) > ToolResultLimit+len(elision) {
		t.Fatalf("truncated length %d exceeds limit", len(got))
	}
}
