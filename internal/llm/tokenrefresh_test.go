package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeRefresher is a TokenRefresher test double. It optionally also acts as
// a ProactiveChecker when needsRefresh is non-nil, mirroring how
// cliauth.CLIRefresher implements both interfaces on the same type.
type fakeRefresher struct {
	calls        int
	failTimes    int // leading calls that return err before succeeding
	err          error
	token        string
	needsRefresh *bool
}

func (f *fakeRefresher) Refresh(ctx context.Context) (string, time.Time, error) {
	f.calls++
	if f.calls <= f.failTimes {
		if f.err != nil {
			return "", time.Time{}, f.err
		}
		return "", time.Time{}, errors.New("refresh failed")
	}
	return f.token, time.Now().Add(time.Hour), nil
}

func (f *fakeRefresher) NeedsRefresh(ctx context.Context) bool {
	if f.needsRefresh == nil {
		return false
	}
	return *f.needsRefresh
}

func TestGatewayRefreshesTokenOnAuthErrorThenRetries(t *testing.T) {
	// One leading 401, then success - tryRefresh should fire exactly once
	// and the same request should be retried and succeed without falling
	// through to another provider.
	bad := &fakeProvider{name: "primary", fail: 1, class: ClassAuth, reply: "ok"}
	refresher := &fakeRefresher{token: "new-token"}
	g := New([]Provider{bad}, []string{"primary"}, WithTokenRefresher("primary", refresher))

	res, err := g.Chat(context.Background(), Request{Model: "x"})
	if err != nil {
		t.Fatalf("expected recovery after refresh, got error: %v", err)
	}
	if res.Message.Content != "ok" {
		t.Fatalf("got %q", res.Message.Content)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly 1 refresh attempt, got %d", refresher.calls)
	}
	if bad.calls != 2 {
		t.Fatalf("expected original call plus one retry, got %d calls", bad.calls)
	}
}

func TestGatewayFallsThroughWhenRefresherFails(t *testing.T) {
	// A refresher that can never succeed must not stall the chain - the
	// gateway gives up on this provider exactly like an unregistered
	// refresher would.
	bad := &fakeProvider{name: "primary", fail: 999, class: ClassAuth}
	good := &fakeProvider{name: "secondary", reply: "ok"}
	refresher := &fakeRefresher{failTimes: 999}
	g := New([]Provider{bad, good}, []string{"primary", "secondary"}, WithTokenRefresher("primary", refresher))

	_, err := g.Chat(context.Background(), Request{Model: "x"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if good.calls != 0 {
		t.Fatalf("auth failure must still abort the chain even with a refresher registered, secondary was called %d times", good.calls)
	}
}

func TestGatewayAppliesRefreshedTokenToCredentialRotator(t *testing.T) {
	bad := &fakeRotatingProvider{fakeProvider: fakeProvider{name: "primary", fail: 1, class: ClassAuth, reply: "ok"}}
	refresher := &fakeRefresher{token: "rotated-token"}
	g := New([]Provider{bad}, []string{"primary"}, WithTokenRefresher("primary", refresher))

	if _, err := g.Chat(context.Background(), Request{Model: "x"}); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if bad.lastCredential != "rotated-token" {
		t.Fatalf("expected SetCredential to receive the refreshed token, got %q", bad.lastCredential)
	}
}

func TestGatewayMaybeProactiveRefreshSkipsWhenNotDue(t *testing.T) {
	notDue := false
	refresher := &fakeRefresher{token: "unused", needsRefresh: &notDue}
	p := &fakeProvider{name: "primary", reply: "ok"}
	g := New([]Provider{p}, []string{"primary"}, WithTokenRefresher("primary", refresher))

	if _, err := g.Chat(context.Background(), Request{Model: "x"}); err != nil {
		t.Fatal(err)
	}
	if refresher.calls != 0 {
		t.Fatalf("expected no proactive refresh when NeedsRefresh reports false, got %d calls", refresher.calls)
	}
}

func TestGatewayMaybeProactiveRefreshFiresWhenDue(t *testing.T) {
	due := true
	refresher := &fakeRefresher{token: "fresh-token", needsRefresh: &due}
	p := &fakeProvider{name: "primary", reply: "ok"}
	g := New([]Provider{p}, []string{"primary"}, WithTokenRefresher("primary", refresher))

	if _, err := g.Chat(context.Background(), Request{Model: "x"}); err != nil {
		t.Fatal(err)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly 1 proactive refresh, got %d", refresher.calls)
	}
}

// fakeRotatingProvider adds CredentialRotator to fakeProvider so a refresh
// can be observed landing on the live provider.
type fakeRotatingProvider struct {
	fakeProvider
	lastCredential string
}

func (f *fakeRotatingProvider) SetCredential(token string) { f.lastCredential = token }
