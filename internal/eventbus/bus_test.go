package eventbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(New(KindMessage, CodeStageStart, "stage plan started"))

	select {
	case e := <-sub.Events():
		if e.Code != CodeStageStart {
			t.Fatalf("got code %q, want %q", e.Code, CodeStageStart)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeSeedsReplayBuffer(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Publish(New(KindMessage, CodeAgentTurn, "turn"))
	}

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	count := 0
	for {
		select {
		case <-sub.Events():
			count++
		default:
			if count != 5 {
				t.Fatalf("replay delivered %d events, want 5", count)
			}
			return
		}
	}
}

func TestReplayBufferBoundedAt100(t *testing.T) {
	b := New()
	for i := 0; i < replayBufferSize+10; i++ {
		b.Publish(New(KindStreamToken, "", "tok"))
	}
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	count := 0
	for {
		select {
		case <-sub.Events():
			count++
		default:
			if count != replayBufferSize {
				t.Fatalf("replay delivered %d events, want %d", count, replayBufferSize)
			}
			return
		}
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // must not panic

	select {
	case <-sub.Closed():
	default:
		t.Fatal("expected Closed() to be signalled")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	e := New(KindBlockStart, CodeValidateFail, "lint failed").WithLabel("module-a")
	data, err := e.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	var got Event
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}
	if got.Kind != e.Kind || got.Code != e.Code || got.Message != e.Message || got.Label != e.Label {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestUDSSocketCreatedAndRemoved(t *testing.T) {
	dir := t.TempDir()
	b := New()
	if err := b.Init(dir, nil); err != nil {
		t.Fatal(err)
	}

	sockPath := filepath.Join(dir, ".trust5", "events.sock")
	info, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("socket mode = %v, want 0600", info.Mode().Perm())
	}

	b.Shutdown()
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Fatalf("socket not removed after shutdown: %v", err)
	}
}
