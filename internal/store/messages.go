package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// loadChatLogs warms the in-memory cache from every persisted chat log.
// Unreadable files are logged and skipped.
func (s *Store) loadChatLogs() {
	keys, err := s.kv.Scan(chatLogPrefix)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to scan chat logs")
		return
	}
	for _, k := range keys {
		chatID, ok := chatIDFromKey(k.Key)
		if !ok {
			continue
		}
		raw, found, err := s.kv.Get(k.Key)
		if err != nil || !found {
			if err != nil {
				s.logger.Warn().Err(err).Str("key", k.Key).Msg("failed to load chat log")
			}
			continue
		}
		var msgs []LoggedMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			s.logger.Warn().Err(err).Str("key", k.Key).Msg("malformed chat log, skipping")
			continue
		}
		s.messages[chatID] = msgs
	}
	s.logger.Info().Int("chats", len(s.messages)).Msg("chat message logs loaded")
}

// AddMessage appends a group message to the chat's log, evicts entries beyond
// the cap, and persists the log. Persistence failures are logged and
// swallowed; the in-memory log is still updated.
func (s *Store) AddMessage(chatID, userID int64, username, text string, ts time.Time) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	msg := LoggedMessage{
		UserID:    userID,
		Username:  username,
		Text:      text,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	log := append(s.messages[chatID], msg)
	if len(log) > maxChatMessages {
		log = log[len(log)-maxChatMessages:]
	}
	s.messages[chatID] = log
	s.mu.Unlock()

	s.persistChatLog(chatID, log)
	s.logger.Debug().Int64("chat_id", chatID).Int64("user_id", userID).Msg("message recorded")
}

func (s *Store) persistChatLog(chatID int64, log []LoggedMessage) {
	raw, err := json.Marshal(log)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to encode chat log")
		return
	}
	if err := s.kv.Put(chatLogKey(chatID), raw); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to persist chat log")
	}
}

func (s *Store) snapshot(chatID int64) []LoggedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.messages[chatID]
	if !ok {
		return nil
	}
	out := make([]LoggedMessage, len(log))
	copy(out, log)
	return out
}

// RecentMessages returns "username: text" lines for messages newer than
// now-hours. When the time window yields fewer than minMessages lines, the
// filter is dropped and the last minMessages raw entries are returned instead,
// trading recency for a usable summarization corpus.
func (s *Store) RecentMessages(chatID int64, hours, minMessages int) []string {
	log := s.snapshot(chatID)
	if len(log) == 0 {
		return []string{}
	}

	threshold := s.utcNow().Add(-time.Duration(hours) * time.Hour)
	recent := make([]string, 0, len(log))
	for _, msg := range log {
		ts, ok := parseTimestamp(msg.Timestamp)
		if !ok || ts.Before(threshold) {
			continue
		}
		recent = append(recent, formatLine(msg))
	}

	if len(recent) < minMessages {
		start := len(log) - minMessages
		if start < 0 {
			start = 0
		}
		fallback := make([]string, 0, len(log)-start)
		for _, msg := range log[start:] {
			fallback = append(fallback, formatLine(msg))
		}
		return fallback
	}
	return recent
}

func formatLine(msg LoggedMessage) string {
	return fmt.Sprintf("%s: %s", msg.Username, msg.Text)
}

// MessageCount reports how many messages arrived within the last hours.
func (s *Store) MessageCount(chatID int64, hours int) int {
	log := s.snapshot(chatID)
	if len(log) == 0 {
		return 0
	}
	threshold := s.utcNow().Add(-time.Duration(hours) * time.Hour)
	count := 0
	for _, msg := range log {
		if ts, ok := parseTimestamp(msg.Timestamp); ok && !ts.Before(threshold) {
			count++
		}
	}
	return count
}

// Stats summarizes a chat's log: total size, 24h volume and distinct senders
// over the last 24 hours.
func (s *Store) Stats(chatID int64) ChatStats {
	log := s.snapshot(chatID)
	if len(log) == 0 {
		return ChatStats{}
	}
	threshold := s.utcNow().Add(-24 * time.Hour)
	users := map[int64]struct{}{}
	recent := 0
	for _, msg := range log {
		ts, ok := parseTimestamp(msg.Timestamp)
		if !ok || ts.Before(threshold) {
			continue
		}
		recent++
		users[msg.UserID] = struct{}{}
	}
	return ChatStats{
		TotalMessages: len(log),
		Recent24h:     recent,
		ActiveUsers:   len(users),
	}
}

// ClearOldMessages drops entries older than days from every chat's log and
// re-persists logs that shrank. Entries with unparsable timestamps are
// dropped as well.
func (s *Store) ClearOldMessages(days int) {
	threshold := s.utcNow().Add(-time.Duration(days) * 24 * time.Hour)
	for _, chatID := range s.ChatIDs() {
		lock := s.chatLock(chatID)
		lock.Lock()

		s.mu.Lock()
		log := s.messages[chatID]
		kept := make([]LoggedMessage, 0, len(log))
		for _, msg := range log {
			if ts, ok := parseTimestamp(msg.Timestamp); ok && !ts.Before(threshold) {
				kept = append(kept, msg)
			}
		}
		removed := len(log) - len(kept)
		if removed > 0 {
			s.messages[chatID] = kept
		}
		s.mu.Unlock()

		if removed > 0 {
			s.persistChatLog(chatID, kept)
			s.logger.Info().Int64("chat_id", chatID).Int("removed", removed).Msg("old messages pruned")
		}
		lock.Unlock()
	}
}
