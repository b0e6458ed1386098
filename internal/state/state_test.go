package state

import (
	"context"
	"testing"

	"github.com/bitteprotocol/make-agent/internal/domain"
)

func TestSessionsMergeKeepsExistingFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV(nil)
	s := NewSessions(kv)

	if _, err := s.Merge(ctx, domain.SessionPatch{URL: domain.Ptr("https://abc.example.test")}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Merge(ctx, domain.SessionPatch{PluginID: domain.Ptr("abc.example.test"), ReceivedID: domain.Ptr("")})
	if err != nil {
		t.Fatal(err)
	}
	want := domain.SessionState{URL: "https://abc.example.test", PluginID: "abc.example.test"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	raw, ok, _ := kv.Get(ctx, SessionKey)
	if !ok {
		t.Fatal("expected session key to be written")
	}
	if raw != `{"url":"https://abc.example.test","pluginId":"abc.example.test","receivedId":""}` {
		t.Fatalf("unexpected stored snapshot %s", raw)
	}
}

func TestSessionsMergeReplacesCorruptSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV(map[string]string{SessionKey: "{not json"})
	s := NewSessions(kv)

	if _, err := s.Load(ctx); err == nil {
		t.Fatal("expected decode error for corrupt snapshot")
	}
	got, err := s.Merge(ctx, domain.SessionPatch{URL: domain.Ptr("u")})
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "u" {
		t.Fatalf("expected url to be written, got %+v", got)
	}
}

func TestSessionsRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV(map[string]string{SessionKey: `{"url":"u"}`, CredentialKey: "k"})
	s := NewSessions(kv)
	if err := s.Remove(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := kv.Get(ctx, SessionKey); ok {
		t.Fatal("expected session snapshot to be removed")
	}
	if _, ok, _ := kv.Get(ctx, CredentialKey); !ok {
		t.Fatal("credential must survive session removal")
	}
	st, err := s.Load(ctx)
	if err != nil || st != (domain.SessionState{}) {
		t.Fatalf("expected empty state after remove, got %+v, %v", st, err)
	}
}

func TestMemoryKVZeroValue(t *testing.T) {
	t.Parallel()

	var kv MemoryKV
	ctx := context.Background()
	if err := kv.Set(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := kv.Get(ctx, "a"); !ok || v != "1" {
		t.Fatalf("got %q %v", v, ok)
	}
	if err := kv.Remove(ctx, "missing"); err != nil {
		t.Fatal(err)
	}
}
