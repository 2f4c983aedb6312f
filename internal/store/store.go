package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxChatMessages = 1000
	maxDialogTurns  = 100

	chatLogPrefix    = "chat_"
	chatLogSuffix    = "_messages.json"
	dialogFilePrefix = "dialog_history_"
	dialogFileSuffix = ".json"
)

// LoggedMessage is one recorded group message. Timestamp stays a raw ISO-8601
// string in memory and on disk; entries with an unparsable timestamp are
// skipped by time-window scans instead of poisoning the whole log.
type LoggedMessage struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Text      string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Turn is one role-tagged utterance in a per-chat dialog history.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type ChatStats struct {
	TotalMessages int `json:"total_messages"`
	Recent24h     int `json:"recent_24h"`
	ActiveUsers   int `json:"active_users"`
}

// Store keeps a write-through cache of every chat's message log on top of a
// KV layer. In-memory state is always at least as fresh as disk. Access to a
// chat's log and files is serialized by a per-chat mutex, so concurrent
// handler execution and the retention sweep cannot interleave writes to the
// same file.
type Store struct {
	kv     KV
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	locks    map[int64]*sync.Mutex
	messages map[int64][]LoggedMessage
}

type Config struct {
	KV     KV
	Logger zerolog.Logger
	Now    func() time.Time
}

func New(cfg Config) (*Store, error) {
	if cfg.KV == nil {
		return nil, fmt.Errorf("kv is nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Store{
		kv:       cfg.KV,
		logger:   cfg.Logger,
		now:      cfg.Now,
		locks:    map[int64]*sync.Mutex{},
		messages: map[int64][]LoggedMessage{},
	}
	s.loadChatLogs()
	return s, nil
}

func chatLogKey(chatID int64) string {
	return fmt.Sprintf("%s%d%s", chatLogPrefix, chatID, chatLogSuffix)
}

func dialogKey(chatID int64) string {
	return fmt.Sprintf("%s%d%s", dialogFilePrefix, chatID, dialogFileSuffix)
}

// chatIDFromKey extracts the chat id from a chat log key. Returns false for
// keys that do not follow the naming convention.
func chatIDFromKey(key string) (int64, bool) {
	if !strings.HasPrefix(key, chatLogPrefix) || !strings.HasSuffix(key, chatLogSuffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, chatLogPrefix), chatLogSuffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Store) chatLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

// ChatIDs returns every chat with a cached message log, in stable order.
func (s *Store) ChatIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.messages))
	for id := range s.messages {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) utcNow() time.Time {
	return s.now().UTC()
}

func parseTimestamp(raw string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
