package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"snailbot/internal/crypto"
)

const redisConfigKey = "snailbot:config"

// sensitiveKeys are envelope-encrypted when the document is cached to redis.
var sensitiveKeys = []string{"ai.openai.api_key"}

// Manager is the hot-reloadable configuration document: a flat map of dotted
// keys, seeded from environment variables and mirrored to redis so the admin
// panel and the bot share one view. The store and schedulers resolve values
// at call time; nothing here is cached by consumers.
type Manager struct {
	mu     sync.RWMutex
	values map[string]any

	redis  *redis.Client
	sealer *crypto.Manager
	logger zerolog.Logger
}

type ManagerOptions struct {
	Redis  *redis.Client
	Sealer *crypto.Manager
	Logger zerolog.Logger
}

func NewManager(ctx context.Context, opts ManagerOptions) *Manager {
	m := &Manager{
		values: defaultDocument(),
		redis:  opts.Redis,
		sealer: opts.Sealer,
		logger: opts.Logger,
	}

	if m.redis != nil {
		if loaded, err := m.loadFromRedis(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("failed to load config from redis, using env values")
		} else if loaded {
			m.logger.Info().Msg("config loaded from redis cache")
			return m
		}
		if err := m.Save(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("failed to seed config cache in redis")
		}
	}
	return m
}

// defaultDocument builds the document from environment variables, using the
// same defaults the bot shipped with.
func defaultDocument() map[string]any {
	return map[string]any{
		"bot.name":        mustEnv("BOT_NAME", "Snail AI Assistant"),
		"bot.username":    mustEnv("BOT_USERNAME", "snaily_ai_bot"),
		"bot.description": mustEnv("BOT_DESCRIPTION", "A friendly AI assistant for chat, drawing, search and group summaries"),

		"ai.openai.api_key":      mustEnv("OPENAI_API_KEY", ""),
		"ai.openai.api_base_url": mustEnv("OPENAI_API_BASE_URL", "https://api.openai.com/v1"),
		"ai.openai.model":        mustEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		"ai.openai.max_tokens":   mustInt("OPENAI_MAX_TOKENS", 1000),
		"ai.openai.temperature":  mustFloat("OPENAI_TEMPERATURE", 0.7),

		"ai.drawing.model":   mustEnv("DRAWING_MODEL", "dall-e-3"),
		"ai.drawing.size":    mustEnv("DRAWING_SIZE", "1024x1024"),
		"ai.drawing.quality": mustEnv("DRAWING_QUALITY", "standard"),

		"features.chat.enabled":            mustBool("CHAT_ENABLED", true),
		"features.chat.system_prompt":      mustEnv("CHAT_SYSTEM_PROMPT", "You are a friendly, helpful AI assistant. Answer concisely."),
		"features.chat.history_enabled":    mustBool("CHAT_HISTORY_ENABLED", true),
		"features.chat.history_max_length": mustInt("CHAT_HISTORY_MAX_LENGTH", 10),
		"features.chat.auto_reply_private": mustBool("AUTO_REPLY_PRIVATE", false),

		"features.search.enabled":     mustBool("SEARCH_ENABLED", true),
		"features.search.max_results": mustInt("SEARCH_MAX_RESULTS", 5),

		"features.drawing.enabled":     mustBool("DRAWING_ENABLED", true),
		"features.drawing.daily_limit": mustInt("DRAWING_DAILY_LIMIT", 10),

		"features.auto_summary.enabled":        mustBool("AUTO_SUMMARY_ENABLED", true),
		"features.auto_summary.admin_only":     mustBool("AUTO_SUMMARY_ADMIN_ONLY", false),
		"features.auto_summary.interval_hours": mustInt("AUTO_SUMMARY_INTERVAL_HOURS", 24),
		"features.auto_summary.min_messages":   mustInt("AUTO_SUMMARY_MIN_MESSAGES", 50),
		"features.auto_summary.summary_prompt": mustEnv("AUTO_SUMMARY_PROMPT", "Summarize the main topics and content of the following group conversation:"),

		"features.welcome_message.enabled":      mustBool("WELCOME_MESSAGE_ENABLED", true),
		"features.welcome_message.message":      mustEnv("WELCOME_MESSAGE", "Welcome {user_name} to the group!"),
		"features.welcome_message.delete_delay": mustInt("WELCOME_MSG_DELETE_DELAY", 60),

		"features.hotspot_push.enabled":       mustBool("HOTSPOT_PUSH_ENABLED", false),
		"features.hotspot_push.push_schedule": mustEnv("HOTSPOT_PUSH_SCHEDULE", "09:00"),
		"features.hotspot_push.chat_id":       mustInt64("TELEGRAM_PUSH_CHAT_ID", 0),
		"features.hotspot_push.sources":       mustEnv("HOTSPOT_SOURCES", ""),
		"features.hotspot_push.keywords":      mustEnv("HOTSPOT_KEYWORDS", ""),

		"features.knowledge_base.enabled":       mustBool("KNOWLEDGE_BASE_ENABLED", true),
		"features.knowledge_base.system_prompt": mustEnv("KNOWLEDGE_BASE_PROMPT", "You answer questions about this community and its projects from the documentation you were given. If the answer is not covered, say so instead of guessing."),

		"features.history_cleanup.enabled":        mustBool("HISTORY_CLEANUP_ENABLED", true),
		"features.history_cleanup.retention_days": mustInt("HISTORY_CLEANUP_RETENTION_DAYS", 30),
		"features.history_cleanup.hour":           mustInt("HISTORY_CLEANUP_HOUR", 3),
		"features.history_cleanup.minute":         mustInt("HISTORY_CLEANUP_MINUTE", 0),
	}
}

func (m *Manager) Get(key string, def any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

func (m *Manager) GetString(key, def string) string {
	if v, ok := m.Get(key, def).(string); ok {
		return v
	}
	return def
}

// GetInt coerces json-decoded numbers back to int.
func (m *Manager) GetInt(key string, def int) int {
	switch v := m.Get(key, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetInt64 preserves the full range of telegram chat ids.
func (m *Manager) GetInt64(key string, def int64) int64 {
	switch v := m.Get(key, def).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return def
	}
}

func (m *Manager) GetFloat(key string, def float64) float64 {
	switch v := m.Get(key, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func (m *Manager) GetBool(key string, def bool) bool {
	if v, ok := m.Get(key, def).(bool); ok {
		return v
	}
	return def
}

func (m *Manager) IsFeatureEnabled(name string) bool {
	return m.GetBool("features."+name+".enabled", false)
}

func (m *Manager) Set(key string, value any) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// Snapshot returns a copy of the whole document.
func (m *Manager) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Save mirrors the document to redis, sealing sensitive values first.
func (m *Manager) Save(ctx context.Context) error {
	if m.redis == nil {
		return nil
	}
	doc := m.Snapshot()
	if m.sealer != nil {
		for _, key := range sensitiveKeys {
			raw, ok := doc[key].(string)
			if !ok || raw == "" {
				continue
			}
			sealed, err := m.sealer.SealString(raw)
			if err != nil {
				return fmt.Errorf("seal %s: %w", key, err)
			}
			doc[key] = sealed
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config document: %w", err)
	}
	if err := m.redis.Set(ctx, redisConfigKey, b, 0).Err(); err != nil {
		return fmt.Errorf("cache config in redis: %w", err)
	}
	return nil
}

func (m *Manager) loadFromRedis(ctx context.Context) (bool, error) {
	raw, err := m.redis.Get(ctx, redisConfigKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config from redis: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return false, fmt.Errorf("decode cached config: %w", err)
	}
	if m.sealer != nil {
		for _, key := range sensitiveKeys {
			sealed, ok := doc[key].(string)
			if !ok || sealed == "" {
				continue
			}
			plain, err := m.sealer.OpenString(sealed)
			if err != nil {
				m.logger.Warn().Err(err).Str("key", key).Msg("failed to open sealed config value")
				continue
			}
			doc[key] = plain
		}
	}

	m.mu.Lock()
	for k, v := range doc {
		m.values[k] = v
	}
	m.mu.Unlock()
	return true, nil
}
