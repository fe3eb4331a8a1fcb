package llm

import (
	"context"
	"testing"
)

type fakeProvider struct {
	name    string
	calls   int
	fail    int // number of leading calls to fail with this class
	class   Class
	reply   string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Models(ctx context.Context) ([]Model, error) { return nil, nil }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (<-chan Chunk, error) {
	f.calls++
	out := make(chan Chunk, 4)
	if f.calls <= f.fail {
		go func() {
			out <- Chunk{Kind: ChunkError, Err: &ProviderError{Provider: f.name, Class: f.class, Err: context.DeadlineExceeded}}
			close(out)
		}()
		return out, nil
	}
	go func() {
		out <- Chunk{Kind: ChunkText, Text: f.reply}
		out <- Chunk{Kind: ChunkDone, Usage: &Usage{TotalTokens: 10}}
		close(out)
	}()
	return out, nil
}

func TestGatewayChatSucceedsOnFirstTry(t *testing.T) {
	p := &fakeProvider{name: "ollama", reply: "hello"}
	g := New([]Provider{p}, []string{"ollama"})

	res, err := g.Chat(context.Background(), Request{Model: "llama3"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message.Content != "hello" {
		t.Fatalf("got %q", res.Message.Content)
	}
}

func TestGatewayBreaksOnAuthError(t *testing.T) {
	// Auth and connection errors abort the fallback chain outright - a
	// bad credential or an unreachable provider is not a reason to
	// believe a different provider will do better, so the gateway
	// returns the error instead of trying "secondary".
	bad := &fakeProvider{name: "primary", fail: 999, class: ClassAuth}
	good := &fakeProvider{name: "secondary", reply: "ok"}
	g := New([]Provider{bad, good}, []string{"primary", "secondary"})

	_, err := g.Chat(context.Background(), Request{Model: "x"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if good.calls != 0 {
		t.Fatalf("expected no fallback attempt, secondary was called %d times", good.calls)
	}
}

func TestGatewayFallsThroughOnPermanentError(t *testing.T) {
	// A permanent rejection of the request shape (or a server/rate-limit
	// error) says nothing about whether another provider would succeed,
	// so the gateway does try the next one in the chain. ClassPermanent
	// has a zero retry budget, so this exercises the chain without the
	// test blocking on a real retry sleep.
	bad := &fakeProvider{name: "primary", fail: 999, class: ClassPermanent}
	good := &fakeProvider{name: "secondary", reply: "ok"}
	g := New([]Provider{bad, good}, []string{"primary", "secondary"})

	res, err := g.Chat(context.Background(), Request{Model: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != "secondary" {
		t.Fatalf("expected fallback to secondary, got %s", res.Provider)
	}
}

func TestGatewayDoesNotRetryPermanentErrors(t *testing.T) {
	p := &fakeProvider{name: "ollama", fail: 999, class: ClassPermanent}
	g := New([]Provider{p}, []string{"ollama"})

	_, err := g.Chat(context.Background(), Request{Model: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 call for a permanent error, got %d", p.calls)
	}
}

func TestFullJitterDelayRespectsCap(t *testing.T) {
	d := fullJitterDelay(500, 20) // 500*2^20 far exceeds the 300s cap
	if d > 300_000*1e6 {
		t.Fatalf("delay %v exceeds cap", d)
	}
}
