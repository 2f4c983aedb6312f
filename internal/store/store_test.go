package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, now func() time.Time) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("new file kv: %v", err)
	}
	s, err := New(Config{KV: kv, Logger: zerolog.Nop(), Now: now})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, dir
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestAddMessagePersistsAndCaps(t *testing.T) {
	s, dir := newTestStore(t, fixedNow)

	for i := 0; i < maxChatMessages+50; i++ {
		s.AddMessage(100, int64(i), "alice", fmt.Sprintf("msg %d", i), fixedNow())
	}

	log := s.snapshot(100)
	if len(log) != maxChatMessages {
		t.Fatalf("expected log capped at %d, got %d", maxChatMessages, len(log))
	}
	// Oldest entries are evicted first.
	if log[0].Text != "msg 50" {
		t.Fatalf("expected oldest surviving entry to be msg 50, got %q", log[0].Text)
	}
	if log[len(log)-1].Text != fmt.Sprintf("msg %d", maxChatMessages+49) {
		t.Fatalf("unexpected newest entry %q", log[len(log)-1].Text)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "chat_100_messages.json"))
	if err != nil {
		t.Fatalf("read persisted log: %v", err)
	}
	var persisted []LoggedMessage
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("unmarshal persisted log: %v", err)
	}
	if len(persisted) != maxChatMessages {
		t.Fatalf("expected %d persisted entries, got %d", maxChatMessages, len(persisted))
	}
}

func TestLoadChatLogsOnStartup(t *testing.T) {
	s, dir := newTestStore(t, fixedNow)
	s.AddMessage(7, 1, "bob", "hello", fixedNow())
	s.AddMessage(7, 2, "carol", "hi", fixedNow())

	kv, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("reopen kv: %v", err)
	}
	reopened, err := New(Config{KV: kv, Logger: zerolog.Nop(), Now: fixedNow})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if got := reopened.Stats(7).TotalMessages; got != 2 {
		t.Fatalf("expected 2 messages after reload, got %d", got)
	}
}

func TestLoadChatLogsSkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chat_9_messages.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	kv, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}
	s, err := New(Config{KV: kv, Logger: zerolog.Nop(), Now: fixedNow})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if got := s.Stats(9).TotalMessages; got != 0 {
		t.Fatalf("expected corrupt log treated as empty, got %d messages", got)
	}
}

func TestRecentMessagesWindowAndFallback(t *testing.T) {
	s, _ := newTestStore(t, fixedNow)
	base := fixedNow()

	// Three messages, all two hours old.
	for i := 0; i < 3; i++ {
		s.AddMessage(5, int64(i), "dave", fmt.Sprintf("old %d", i), base.Add(-2*time.Hour))
	}

	// A one hour window misses them, but the fallback returns the raw tail.
	lines := s.RecentMessages(5, 1, 10)
	if len(lines) != 3 {
		t.Fatalf("expected fallback to return all 3 entries, got %d", len(lines))
	}
	if lines[0] != "dave: old 0" {
		t.Fatalf("unexpected line format: %q", lines[0])
	}

	// A wide window returns the filtered set directly.
	lines = s.RecentMessages(5, 3, 1)
	if len(lines) != 3 {
		t.Fatalf("expected 3 entries within 3h window, got %d", len(lines))
	}
}

func TestRecentMessagesSkipsUnparsableTimestamps(t *testing.T) {
	s, _ := newTestStore(t, fixedNow)
	s.AddMessage(6, 1, "erin", "good", fixedNow())
	s.mu.Lock()
	s.messages[6] = append(s.messages[6], LoggedMessage{UserID: 2, Username: "mallory", Text: "bad", Timestamp: "not-a-time"})
	s.mu.Unlock()

	lines := s.RecentMessages(6, 24, 1)
	if len(lines) != 1 || lines[0] != "erin: good" {
		t.Fatalf("expected only the parsable entry, got %v", lines)
	}
}

func TestMessageCountGrowsWithWindow(t *testing.T) {
	s, _ := newTestStore(t, fixedNow)
	base := fixedNow()
	s.AddMessage(3, 1, "a", "now", base)
	s.AddMessage(3, 1, "a", "5h ago", base.Add(-5*time.Hour))
	s.AddMessage(3, 1, "a", "30h ago", base.Add(-30*time.Hour))

	if got := s.MessageCount(3, 1); got != 1 {
		t.Fatalf("1h window: expected 1, got %d", got)
	}
	if got := s.MessageCount(3, 6); got != 2 {
		t.Fatalf("6h window: expected 2, got %d", got)
	}
	if got := s.MessageCount(3, 48); got != 3 {
		t.Fatalf("48h window: expected 3, got %d", got)
	}
}

func TestStatsCountsDistinctUsers(t *testing.T) {
	s, _ := newTestStore(t, fixedNow)
	base := fixedNow()
	s.AddMessage(4, 1, "a", "x", base)
	s.AddMessage(4, 1, "a", "y", base)
	s.AddMessage(4, 2, "b", "z", base)
	s.AddMessage(4, 3, "c", "stale", base.Add(-48*time.Hour))

	stats := s.Stats(4)
	if stats.TotalMessages != 4 {
		t.Fatalf("expected 4 total, got %d", stats.TotalMessages)
	}
	if stats.Recent24h != 3 {
		t.Fatalf("expected 3 recent, got %d", stats.Recent24h)
	}
	if stats.ActiveUsers != 2 {
		t.Fatalf("expected 2 active users, got %d", stats.ActiveUsers)
	}
}

func TestClearOldMessages(t *testing.T) {
	s, _ := newTestStore(t, fixedNow)
	base := fixedNow()
	s.AddMessage(8, 1, "a", "keep", base)
	s.AddMessage(8, 1, "a", "drop", base.Add(-10*24*time.Hour))

	s.ClearOldMessages(7)
	log := s.snapshot(8)
	if len(log) != 1 || log[0].Text != "keep" {
		t.Fatalf("expected only the fresh entry to survive, got %v", log)
	}
}
