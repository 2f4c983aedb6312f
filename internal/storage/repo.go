package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

func (s *Store) EnsureChat(ctx context.Context, chatID int64, chatType, title string) error {
	if chatType == "" {
		chatType = "unknown"
	}
	q := s.sql.Insert("chats").
		Columns("id", "type", "title", "last_seen_at").
		Values(chatID, chatType, title, nowExpr(s.driver)).
		Suffix("ON CONFLICT(id) DO UPDATE SET type=excluded.type, title=excluded.title, last_seen_at=excluded.last_seen_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build ensure chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("ensure chat: %w", err)
	}
	return nil
}

func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	q := s.sql.Select("id", "type", "title", "last_seen_at", "created_at").
		From("chats").
		OrderBy("last_seen_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]Chat, 0)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Type, &c.Title, &c.LastSeenAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return out, nil
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	q := s.sql.Select("id", "type", "title", "last_seen_at", "created_at").
		From("chats").
		Where(sq.Eq{"id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get chat query: %w", err)
	}

	var c Chat
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&c.ID, &c.Type, &c.Title, &c.LastSeenAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (s *Store) SetWelcome(ctx context.Context, w WelcomeSettings) error {
	if strings.TrimSpace(w.Message) == "" {
		return fmt.Errorf("welcome message is empty")
	}
	q := s.sql.Insert("welcome_settings").
		Columns("chat_id", "message", "delete_delay_seconds", "updated_at").
		Values(w.ChatID, w.Message, w.DeleteDelay, nowExpr(s.driver)).
		Suffix("ON CONFLICT(chat_id) DO UPDATE SET message=excluded.message, delete_delay_seconds=excluded.delete_delay_seconds, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set welcome query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set welcome: %w", err)
	}
	return nil
}

func (s *Store) GetWelcome(ctx context.Context, chatID int64) (WelcomeSettings, error) {
	q := s.sql.Select("chat_id", "message", "delete_delay_seconds", "updated_at").
		From("welcome_settings").
		Where(sq.Eq{"chat_id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return WelcomeSettings{}, fmt.Errorf("build get welcome query: %w", err)
	}

	var w WelcomeSettings
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&w.ChatID, &w.Message, &w.DeleteDelay, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WelcomeSettings{}, ErrNotFound
		}
		return WelcomeSettings{}, fmt.Errorf("get welcome: %w", err)
	}
	return w, nil
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" {
		e.MetaJSON = "{}"
	}
	if !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("chat_id", "user_id", "action", "meta_json").
		Values(e.ChatID, e.UserID, e.Action, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
