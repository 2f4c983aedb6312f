package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureChatUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureChat(ctx, 10, "group", "first title"); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	if err := s.EnsureChat(ctx, 10, "supergroup", "renamed"); err != nil {
		t.Fatalf("update chat: %v", err)
	}

	c, err := s.GetChat(ctx, 10)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if c.Type != "supergroup" || c.Title != "renamed" {
		t.Fatalf("expected updated chat, got %+v", c)
	}

	chats, err := s.ListChats(ctx)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected 1 chat, got %d", len(chats))
	}
}

func TestGetChatNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetChat(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWelcomeSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetWelcome(ctx, WelcomeSettings{ChatID: 1, Message: "hi {user_name}", DeleteDelay: 30}); err != nil {
		t.Fatalf("set welcome: %v", err)
	}
	if err := s.SetWelcome(ctx, WelcomeSettings{ChatID: 1, Message: "updated", DeleteDelay: 90}); err != nil {
		t.Fatalf("upsert welcome: %v", err)
	}

	w, err := s.GetWelcome(ctx, 1)
	if err != nil {
		t.Fatalf("get welcome: %v", err)
	}
	if w.Message != "updated" || w.DeleteDelay != 90 {
		t.Fatalf("unexpected welcome settings: %+v", w)
	}
}

func TestSetWelcomeRejectsEmptyMessage(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetWelcome(context.Background(), WelcomeSettings{ChatID: 1, Message: "  "}); err == nil {
		t.Fatalf("expected error for empty message")
	}
}

func TestGetWelcomeNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetWelcome(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLogActionSanitizesMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.LogAction(ctx, AuditEntry{ChatID: 1, UserID: 2, Action: "test", MetaJSON: "{broken"}); err != nil {
		t.Fatalf("log action with broken meta: %v", err)
	}

	var meta string
	if err := s.db.QueryRowContext(ctx, "SELECT meta_json FROM audit_log WHERE action = 'test'").Scan(&meta); err != nil {
		t.Fatalf("read audit row: %v", err)
	}
	if meta != "{}" {
		t.Fatalf("expected invalid meta replaced with {}, got %q", meta)
	}
}

func TestDriverNames(t *testing.T) {
	cases := []struct {
		in        string
		logical   string
		sqlDriver string
	}{
		{"postgres", "postgres", "pgx"},
		{"pgx", "postgres", "pgx"},
		{"sqlite", "sqlite", "sqlite"},
		{"sqlite3", "sqlite", "sqlite"},
		{"SQLite", "sqlite", "sqlite"},
	}
	for _, tc := range cases {
		logical := normalizeDriver(tc.in)
		if logical != tc.logical {
			t.Fatalf("normalizeDriver(%q) = %q, want %q", tc.in, logical, tc.logical)
		}
		if got := sqlDriverName(logical); got != tc.sqlDriver {
			t.Fatalf("sqlDriverName(%q) = %q, want %q", logical, got, tc.sqlDriver)
		}
	}
}
