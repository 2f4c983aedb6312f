// Package webapp serves the admin panel API: login sessions, runtime config
// editing, feature toggles and welcome message management.
package webapp

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"snailbot/internal/config"
	"snailbot/internal/storage"
	"snailbot/internal/store"
)

const sessionKeyPrefix = "snailbot:session:"

// Keys whose values must never leave the process in cleartext.
var maskedKeys = []string{"ai.openai.api_key"}

type Server struct {
	web      config.WebConfig
	manager  *config.Manager
	registry *storage.Store
	messages *store.Store
	redis    *redis.Client
	logger   zerolog.Logger
	started  time.Time
}

type Config struct {
	Web      config.WebConfig
	Manager  *config.Manager
	Registry *storage.Store
	Messages *store.Store
	Redis    *redis.Client
	Logger   zerolog.Logger
}

func New(cfg Config) *Server {
	return &Server{
		web:      cfg.Web,
		manager:  cfg.Manager,
		registry: cfg.Registry,
		messages: cfg.Messages,
		redis:    cfg.Redis,
		logger:   cfg.Logger,
		started:  time.Now().UTC(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/login", s.login)
	r.Post("/logout", s.logout)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.requireSession)
		api.Get("/status", s.statusHandler)
		api.Get("/config", s.getConfig)
		api.Put("/config", s.putConfig)
		api.Post("/features/{feature}/toggle", s.toggleFeature)
		api.Post("/welcome_message", s.setWelcome)
	})

	return r
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.web.Username == "" || s.web.Password == "" {
		s.respondError(w, http.StatusServiceUnavailable, "admin panel is not configured")
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(body.Username), []byte(s.web.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(body.Password), []byte(s.web.Password)) == 1
	if !userOK || !passOK {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token := uuid.NewString()
	if err := s.redis.Set(r.Context(), sessionKeyPrefix+token, body.Username, s.web.SessionTTL).Err(); err != nil {
		s.logger.Error().Err(err).Msg("failed to store session")
		s.respondError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(s.web.SessionTTL.Seconds()),
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" {
		if err := s.redis.Del(r.Context(), sessionKeyPrefix+token).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to delete session")
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := s.redis.Get(r.Context(), sessionKeyPrefix+token).Result()
		if errors.Is(err, redis.Nil) {
			s.respondError(w, http.StatusUnauthorized, "session expired")
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to read session")
			s.respondError(w, http.StatusInternalServerError, "session store unavailable")
			return
		}
		// Sliding expiry keeps active admins logged in.
		_ = s.redis.Expire(r.Context(), sessionKeyPrefix+token, s.web.SessionTTL).Err()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	chatIDs := s.messages.ChatIDs()
	total := 0
	for _, id := range chatIDs {
		total += s.messages.Stats(id).TotalMessages
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"chats":          len(chatIDs),
		"messages":       total,
	})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	for _, key := range maskedKeys {
		if v, ok := snap[key]; ok {
			if str, ok := v.(string); ok && str != "" {
				snap[key] = "********"
			}
		}
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Key) == "" {
		s.respondError(w, http.StatusBadRequest, "key and value are required")
		return
	}
	s.manager.Set(body.Key, body.Value)
	if err := s.manager.Save(r.Context()); err != nil {
		s.logger.Error().Err(err).Str("key", body.Key).Msg("failed to persist config")
		s.respondError(w, http.StatusInternalServerError, "failed to persist config")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) toggleFeature(w http.ResponseWriter, r *http.Request) {
	feature := chi.URLParam(r, "feature")
	if feature == "" {
		s.respondError(w, http.StatusBadRequest, "feature name is required")
		return
	}
	key := "features." + feature + ".enabled"
	if _, ok := s.manager.Snapshot()[key]; !ok {
		s.respondError(w, http.StatusNotFound, "unknown feature")
		return
	}
	enabled := !s.manager.GetBool(key, false)
	s.manager.Set(key, enabled)
	if err := s.manager.Save(r.Context()); err != nil {
		s.logger.Error().Err(err).Str("feature", feature).Msg("failed to persist toggle")
		s.respondError(w, http.StatusInternalServerError, "failed to persist config")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"feature": feature, "enabled": enabled})
}

func (s *Server) setWelcome(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChatID      int64  `json:"chat_id"`
		Message     string `json:"message"`
		DeleteDelay int    `json:"delete_delay_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ChatID == 0 || strings.TrimSpace(body.Message) == "" {
		s.respondError(w, http.StatusBadRequest, "chat_id and message are required")
		return
	}
	if err := s.registry.SetWelcome(r.Context(), storage.WelcomeSettings{
		ChatID:      body.ChatID,
		Message:     body.Message,
		DeleteDelay: body.DeleteDelay,
	}); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", body.ChatID).Msg("failed to save welcome message")
		s.respondError(w, http.StatusInternalServerError, "failed to save welcome message")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]any{"error": msg})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
