package cliauth

import (
	"strings"
	"testing"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	home := t.TempDir()
	store, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.Put(Record{Provider: "claude", APIKey: "sk-test-123"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	records, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := records["claude"]
	if !ok || rec.APIKey != "sk-test-123" {
		t.Errorf("records[claude] = %#v, want APIKey sk-test-123", rec)
	}
}

func TestStoreKeyIdempotent(t *testing.T) {
	home := t.TempDir()
	s1, err := Open(home)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	s2, err := Open(home)
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}
	if string(s1.key) != string(s2.key) {
		t.Error("expected re-opening the same home directory to reuse the same key")
	}
}

func TestStoreDeleteSingleProvider(t *testing.T) {
	home := t.TempDir()
	store, _ := Open(home)
	store.Put(Record{Provider: "claude", APIKey: "a"})
	store.Put(Record{Provider: "google", APIKey: "b"})

	if err := store.Delete("claude"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	records, _ := store.Load()
	if _, ok := records["claude"]; ok {
		t.Error("expected claude record removed")
	}
	if _, ok := records["google"]; !ok {
		t.Error("expected google record to remain")
	}
}

func TestLoginOllamaDefaultsBaseURL(t *testing.T) {
	home := t.TempDir()
	store, _ := Open(home)
	rec, err := Login(store, "ollama", strings.NewReader(""), &strings.Builder{}, true, "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if rec.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q", rec.BaseURL)
	}
}

func TestLoginHeadlessRequiresPresetKey(t *testing.T) {
	home := t.TempDir()
	store, _ := Open(home)
	if _, err := Login(store, "claude", strings.NewReader(""), &strings.Builder{}, true, ""); err == nil {
		t.Error("expected headless login without a preset key to fail")
	}
}

func TestLoginUnknownProvider(t *testing.T) {
	home := t.TempDir()
	store, _ := Open(home)
	if _, err := Login(store, "bogus", strings.NewReader(""), &strings.Builder{}, true, "x"); err == nil {
		t.Error("expected unknown provider to fail")
	}
}
