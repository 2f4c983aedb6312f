package store

import (
	"strconv"
	"strings"
	"time"
)

// CleanupExpiredFiles deletes chat log and dialog history files whose
// modification time is older than retentionDays. Per-file failures are
// counted and the sweep continues. Returns how many files were deleted and
// how many failed.
func (s *Store) CleanupExpiredFiles(retentionDays int) (deleted, failed int) {
	cutoff := s.utcNow().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	keys, err := s.kv.Scan("")
	if err != nil {
		s.logger.Error().Err(err).Msg("retention sweep: scan failed")
		return 0, 0
	}

	for _, k := range keys {
		chatID, ok := managedKeyChatID(k.Key)
		if !ok {
			continue
		}
		if !k.ModTime.UTC().Before(cutoff) {
			continue
		}

		// Hold the chat lock across delete and cache drop so a concurrent
		// handler cannot write the file back between the two steps.
		lock := s.chatLock(chatID)
		lock.Lock()
		err := s.kv.Delete(k.Key)
		if err == nil {
			if _, isLog := chatIDFromKey(k.Key); isLog {
				s.dropCachedLog(chatID)
			}
		}
		lock.Unlock()

		if err != nil {
			failed++
			s.logger.Error().Err(err).Str("key", k.Key).Msg("retention sweep: delete failed")
			continue
		}
		deleted++
		s.logger.Info().Str("key", k.Key).Time("mod_time", k.ModTime).Msg("expired file deleted")
	}

	if deleted > 0 || failed > 0 {
		s.logger.Info().Int("deleted", deleted).Int("failed", failed).Msg("retention sweep finished")
	} else {
		s.logger.Info().Msg("retention sweep found nothing to delete")
	}
	return deleted, failed
}

func (s *Store) dropCachedLog(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, chatID)
}

// managedKeyChatID reports the chat a managed key belongs to. Keys that are
// neither chat logs nor dialog histories are not ours to touch.
func managedKeyChatID(key string) (int64, bool) {
	if id, ok := chatIDFromKey(key); ok {
		return id, true
	}
	if !strings.HasPrefix(key, dialogFilePrefix) || !strings.HasSuffix(key, dialogFileSuffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, dialogFilePrefix), dialogFileSuffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
