package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "relay-test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 3 {
		t.Errorf("schema version = %d, want 3", v)
	}
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.SetSyncValue(context.Background(), "@bot:x", "next_batch", "s1"); err != nil {
		t.Fatalf("SetSyncValue: %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	got, err := s.SyncValue(context.Background(), "@bot:x", "next_batch")
	if err != nil || got != "s1" {
		t.Errorf("SyncValue = %q, %v", got, err)
	}
}

func TestSyncState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.SyncValue(ctx, "@bot:x", "filter_id")
	if err != nil || got != "" {
		t.Fatalf("unset value = %q, %v", got, err)
	}
	if err := s.SetSyncValue(ctx, "@bot:x", "filter_id", "f1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncValue(ctx, "@bot:x", "filter_id", "f2"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncValue(ctx, "@other:x", "filter_id", "o1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.SyncValue(ctx, "@bot:x", "filter_id"); got != "f2" {
		t.Errorf("got %q, want f2", got)
	}
	if got, _ := s.SyncValue(ctx, "@other:x", "filter_id"); got != "o1" {
		t.Errorf("accounts must be isolated, got %q", got)
	}
}

func TestMarkProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "$ev1", "!room:x")
	if err != nil || !first {
		t.Fatalf("first MarkProcessed = %v, %v", first, err)
	}
	again, err := s.MarkProcessed(ctx, "$ev1", "!room:x")
	if err != nil || again {
		t.Fatalf("second MarkProcessed = %v, %v", again, err)
	}
}

func TestPruneProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	if _, err := s.MarkProcessed(ctx, "$old", "!r"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(47 * time.Hour) }
	if _, err := s.MarkProcessed(ctx, "$new", "!r"); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(48*time.Hour + time.Minute) }
	n, err := s.PruneProcessed(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneProcessed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if fresh, _ := s.MarkProcessed(ctx, "$new", "!r"); fresh {
		t.Error("$new should still be recorded")
	}
	if fresh, _ := s.MarkProcessed(ctx, "$old", "!r"); !fresh {
		t.Error("$old should have been pruned")
	}
}

func TestCommandLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordCommand(ctx, CommandRecord{
		RequestID: "r1", Kind: "restart", Services: []string{"api"},
		Origin: OriginDirect, Requester: "@alice:x", ChannelID: "!r", Status: StatusPublished,
	}); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	if err := s.RecordCommand(ctx, CommandRecord{
		RequestID: "r2", Kind: "stop", Services: []string{"db"}, Parameters: map[string]any{"grace": 5},
		Origin: OriginConfirmed, Requester: "@bob:x", ChannelID: "!r", Status: StatusFailed, Error: "broker down",
	}); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}

	recent, err := s.RecentCommands(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCommands: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}
	if recent[0].RequestID != "r2" || recent[0].Error != "broker down" || recent[0].Origin != OriginConfirmed {
		t.Errorf("newest record = %#v", recent[0])
	}
	if recent[0].Parameters["grace"] != float64(5) {
		t.Errorf("parameters = %v", recent[0].Parameters)
	}
	if len(recent[1].Services) != 1 || recent[1].Services[0] != "api" {
		t.Errorf("services = %v", recent[1].Services)
	}

	counts, err := s.CommandCounts(ctx)
	if err != nil {
		t.Fatalf("CommandCounts: %v", err)
	}
	if counts[StatusPublished] != 1 || counts[StatusFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
