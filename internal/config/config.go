package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingBotToken = errors.New("BOT_TOKEN is required")
	ErrMissingDataDir  = errors.New("DATA_DIR must not be empty")
)

// Config holds the static bootstrap settings read once at startup. The
// hot-reloadable feature document lives in Manager.
type Config struct {
	BotToken     string
	AdminUserIDs []int64

	DataDir string

	Web   WebConfig
	Redis RedisConfig
	DB    DBConfig
	HTTP  HTTPConfig
	Log   LogConfig

	MasterKeyID string
	MasterKeys  map[string][]byte
}

type WebConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
	Username    string
	Password    string
	SessionTTL  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type HTTPConfig struct {
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// Local development keeps secrets in a .env file; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{
		BotToken:     mustEnv("BOT_TOKEN", ""),
		AdminUserIDs: parseIDList(mustEnv("ADMIN_USER_IDS", "")),
		DataDir:      mustEnv("DATA_DIR", "data"),
		Web: WebConfig{
			ListenAddr:  mustEnv("WEB_LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			Username:    mustEnv("WEB_USERNAME", ""),
			Password:    mustEnv("WEB_PASSWORD", ""),
			SessionTTL:  mustDuration("WEB_SESSION_TTL", 12*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:snailbot.db?_pragma=busy_timeout(5000)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 60*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 2),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, ErrMissingDataDir
	}

	keyID, keys, err := loadMasterKeys()
	if err != nil {
		return nil, err
	}
	cfg.MasterKeyID = keyID
	cfg.MasterKeys = keys

	return cfg, nil
}

// loadMasterKeys reads the optional envelope-encryption key. Without one,
// sensitive config values are cached to redis unencrypted.
func loadMasterKeys() (string, map[string][]byte, error) {
	b64 := mustEnv("MASTER_KEY_B64", "")
	if b64 == "" {
		return "", nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("decode MASTER_KEY_B64: %w", err)
	}
	if len(raw) != 32 {
		return "", nil, fmt.Errorf("MASTER_KEY_B64 must be 32 bytes after base64 decode")
	}
	id := mustEnv("MASTER_KEY_ID", "default")
	return id, map[string][]byte{id: raw}, nil
}

func parseIDList(raw string) []int64 {
	out := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
