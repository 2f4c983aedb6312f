package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanupExpiredFiles(t *testing.T) {
	s, dir := newTestStore(t, fixedNow)
	now := fixedNow()

	s.AddMessage(1, 1, "a", "stale chat", now)
	s.AddMessage(2, 1, "a", "fresh chat", now)
	s.AddDialogTurn(1, Turn{Role: RoleUser, Content: "stale dialog"})

	stale := now.Add(-31 * 24 * time.Hour)
	fresh := now.Add(-29 * 24 * time.Hour)
	chtimes(t, filepath.Join(dir, "chat_1_messages.json"), stale)
	chtimes(t, filepath.Join(dir, "dialog_history_1.json"), stale)
	chtimes(t, filepath.Join(dir, "chat_2_messages.json"), fresh)

	deleted, failed := s.CleanupExpiredFiles(30)
	if deleted != 2 || failed != 0 {
		t.Fatalf("expected deleted=2 failed=0, got deleted=%d failed=%d", deleted, failed)
	}

	if _, err := os.Stat(filepath.Join(dir, "chat_1_messages.json")); !os.IsNotExist(err) {
		t.Fatalf("expected stale chat log deleted, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dialog_history_1.json")); !os.IsNotExist(err) {
		t.Fatalf("expected stale dialog history deleted, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_2_messages.json")); err != nil {
		t.Fatalf("expected fresh chat log retained: %v", err)
	}

	// The cache entry for the deleted log is dropped with the file.
	if got := s.Stats(1).TotalMessages; got != 0 {
		t.Fatalf("expected cached log dropped, got %d messages", got)
	}
	if got := s.Stats(2).TotalMessages; got != 1 {
		t.Fatalf("expected fresh log untouched, got %d messages", got)
	}
}

func TestCleanupIgnoresForeignFiles(t *testing.T) {
	s, dir := newTestStore(t, fixedNow)
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}
	chtimes(t, path, fixedNow().Add(-365*24*time.Hour))

	deleted, failed := s.CleanupExpiredFiles(30)
	if deleted != 0 || failed != 0 {
		t.Fatalf("expected nothing deleted, got deleted=%d failed=%d", deleted, failed)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected foreign file retained: %v", err)
	}
}

func TestManagedKeyChatID(t *testing.T) {
	cases := []struct {
		key  string
		id   int64
		want bool
	}{
		{"chat_42_messages.json", 42, true},
		{"dialog_history_7.json", 7, true},
		{"chat_-100123_messages.json", -100123, true},
		{"notes.txt", 0, false},
		{"dialog_history_x.json", 0, false},
		{"chat__messages.json", 0, false},
	}
	for _, tc := range cases {
		id, ok := managedKeyChatID(tc.key)
		if ok != tc.want || id != tc.id {
			t.Fatalf("managedKeyChatID(%q) = (%d, %v), want (%d, %v)", tc.key, id, ok, tc.id, tc.want)
		}
	}
}

func TestCleanupConcurrentWithWrites(t *testing.T) {
	s, dir := newTestStore(t, fixedNow)
	now := fixedNow()
	stale := now.Add(-40 * 24 * time.Hour)

	for i := int64(1); i <= 20; i++ {
		s.AddMessage(i, 1, "a", "old", now)
		chtimes(t, filepath.Join(dir, fmt.Sprintf("chat_%d_messages.json", i)), stale)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 20; i++ {
			s.AddMessage(i, 2, "b", "during sweep", now)
		}
	}()
	s.CleanupExpiredFiles(30)
	<-done

	// The store must stay usable for every chat regardless of how the
	// sweep and the writes interleaved.
	for i := int64(1); i <= 20; i++ {
		s.AddMessage(i, 3, "c", "after sweep", now)
		if got := s.Stats(i).TotalMessages; got < 1 {
			t.Fatalf("chat %d unusable after sweep, got %d messages", i, got)
		}
	}
}

func chtimes(t *testing.T, path string, ts time.Time) {
	t.Helper()
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
