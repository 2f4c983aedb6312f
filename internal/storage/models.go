package storage

import "time"

type Chat struct {
	ID         int64
	Type       string
	Title      string
	LastSeenAt time.Time
	CreatedAt  time.Time
}

type WelcomeSettings struct {
	ChatID      int64
	Message     string
	DeleteDelay int
	UpdatedAt   time.Time
}

type AuditEntry struct {
	ChatID   int64
	UserID   int64
	Action   string
	MetaJSON string
}
