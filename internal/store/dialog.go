package store

import (
	"encoding/json"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// AddDialogTurn appends a turn to the chat's dialog history file. Turns with
// a missing/unknown role or empty content are rejected before any storage is
// touched; the rejection is logged, not returned. The stored turn carries a
// server-assigned timestamp and the history is capped at the most recent 100
// turns, overwriting the whole file.
func (s *Store) AddDialogTurn(chatID int64, turn Turn) {
	if !validRole(turn.Role) || turn.Content == "" {
		s.logger.Error().
			Int64("chat_id", chatID).
			Str("role", turn.Role).
			Msg("invalid dialog turn, dropped")
		return
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	history := s.readDialogFile(chatID)
	turn.Timestamp = s.utcNow().Format(time.RFC3339)
	history = append(history, turn)
	if len(history) > maxDialogTurns {
		history = history[len(history)-maxDialogTurns:]
	}

	raw, err := json.Marshal(history)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to encode dialog history")
		return
	}
	if err := s.kv.Put(dialogKey(chatID), raw); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to persist dialog history")
		return
	}
	s.logger.Debug().Int64("chat_id", chatID).Str("role", turn.Role).Msg("dialog turn recorded")
}

// readDialogFile returns the persisted history or an empty slice. A corrupt
// file is treated as empty; the next successful write recreates it.
func (s *Store) readDialogFile(chatID int64) []Turn {
	raw, found, err := s.kv.Get(dialogKey(chatID))
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to read dialog history")
		return []Turn{}
	}
	if !found || len(raw) == 0 {
		return []Turn{}
	}
	var history []Turn
	if err := json.Unmarshal(raw, &history); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("malformed dialog history, treating as empty")
		return []Turn{}
	}
	return history
}

// DialogHistory returns up to limit most-recent turns with role and content
// only; timestamps are stripped. Missing, empty or unparsable files yield an
// empty history.
func (s *Store) DialogHistory(chatID int64, limit int) []Turn {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	history := s.readDialogFile(chatID)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if !validRole(t.Role) || t.Content == "" {
			continue
		}
		out = append(out, Turn{Role: t.Role, Content: t.Content})
	}
	return out
}

// ClearDialogHistory removes the chat's dialog history file. Absence is not
// an error.
func (s *Store) ClearDialogHistory(chatID int64) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.kv.Delete(dialogKey(chatID)); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to delete dialog history")
		return
	}
	s.logger.Info().Int64("chat_id", chatID).Msg("dialog history cleared")
}
