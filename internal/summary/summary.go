package summary

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"snailbot/internal/config"
	"snailbot/internal/metrics"
	"snailbot/internal/store"
)

const (
	// Manual requests may cover at most one week.
	MinHours = 1
	MaxHours = 168

	// Scheduled runs require a larger corpus than manual requests.
	defaultScheduledMinMessages = 50
	defaultManualMinMessages    = 10
)

var (
	ErrInvalidHours      = errors.New("hours must be between 1 and 168")
	ErrNoMessages        = errors.New("no messages recorded in the requested window")
	ErrNotEnoughMessages = errors.New("not enough messages for a meaningful summary")
)

// Summarizer produces a summary of formatted chat lines. A nil error with a
// non-empty string is the only success shape; any error means "no summary
// this time" and is never fatal.
type Summarizer interface {
	Summarize(ctx context.Context, messages []string, title string) (string, error)
}

// Notifier delivers a generated summary back to its chat.
type Notifier interface {
	SendSummary(ctx context.Context, chatID int64, text string) error
}

// Service decides when a chat has accumulated enough messages to justify a
// summarization call, on both the scheduled and the on-demand path.
type Service struct {
	store      *store.Store
	summarizer Summarizer
	notifier   Notifier
	cfg        *config.Manager
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	Store      *store.Store
	Summarizer Summarizer
	Notifier   Notifier
	Manager    *config.Manager
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func New(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		store:      cfg.Store,
		summarizer: cfg.Summarizer,
		notifier:   cfg.Notifier,
		cfg:        cfg.Manager,
		logger:     cfg.Logger,
		metrics:    m,
	}
}

// ParseHours validates the optional hours argument of a manual summary
// request. An empty argument falls back to 24 hours; non-integer input and
// values outside [1,168] are rejected before any store or LLM access.
func ParseHours(arg string) (int, error) {
	if arg == "" {
		return 24, nil
	}
	hours, err := strconv.Atoi(arg)
	if err != nil {
		return 0, ErrInvalidHours
	}
	if hours < MinHours || hours > MaxHours {
		return 0, ErrInvalidHours
	}
	return hours, nil
}

// OnDemand generates a summary of the last hours of a chat, with a
// statistics footer. The caller must have validated hours via ParseHours.
func (s *Service) OnDemand(ctx context.Context, chatID int64, chatTitle string, hours int) (string, error) {
	count := s.store.MessageCount(chatID, hours)
	if count == 0 {
		return "", ErrNoMessages
	}
	minMessages := s.cfg.GetInt("features.auto_summary.min_messages", defaultManualMinMessages)
	if count < minMessages {
		return "", fmt.Errorf("%w (%d/%d)", ErrNotEnoughMessages, count, minMessages)
	}

	lines := s.store.RecentMessages(chatID, hours, minMessages)
	text, err := s.summarizer.Summarize(ctx, lines, chatTitle)
	if err != nil {
		s.metrics.SummariesFailed.Inc()
		return "", fmt.Errorf("summarize chat %d: %w", chatID, err)
	}
	s.metrics.SummariesGenerated.Inc()

	stats := s.store.Stats(chatID)
	footer := fmt.Sprintf("\n\nStats:\n- window: %d hours\n- messages: %d\n- active users: %d",
		hours, count, stats.ActiveUsers)
	return text + footer, nil
}

// SummarizeSingle condenses one message, used when a summary request replies
// to a specific message. The minimum-corpus check does not apply.
func (s *Service) SummarizeSingle(ctx context.Context, text string) (string, error) {
	out, err := s.summarizer.Summarize(ctx, []string{text}, "single message")
	if err != nil {
		s.metrics.SummariesFailed.Inc()
		return "", err
	}
	s.metrics.SummariesGenerated.Inc()
	return out, nil
}

// RunScheduled sweeps every known chat and summarizes the ones that
// accumulated enough messages during the last interval. One chat's failure
// never aborts the sweep.
func (s *Service) RunScheduled(ctx context.Context) {
	if !s.cfg.IsFeatureEnabled("auto_summary") {
		return
	}
	intervalHours := s.cfg.GetInt("features.auto_summary.interval_hours", 24)
	minMessages := s.cfg.GetInt("features.auto_summary.min_messages", defaultScheduledMinMessages)

	for _, chatID := range s.store.ChatIDs() {
		if err := s.summarizeChat(ctx, chatID, intervalHours, minMessages); err != nil {
			s.metrics.SummariesFailed.Inc()
			s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("scheduled summary failed")
		}
	}
	s.logger.Info().Msg("scheduled summary sweep finished")
}

func (s *Service) summarizeChat(ctx context.Context, chatID int64, intervalHours, minMessages int) error {
	count := s.store.MessageCount(chatID, intervalHours)
	if count < minMessages {
		s.logger.Debug().
			Int64("chat_id", chatID).
			Int("count", count).
			Int("min", minMessages).
			Msg("not enough messages, skipping summary")
		return nil
	}

	lines := s.store.RecentMessages(chatID, intervalHours, minMessages)
	if len(lines) == 0 {
		return nil
	}
	text, err := s.summarizer.Summarize(ctx, lines, fmt.Sprintf("group %d", chatID))
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	s.metrics.SummariesGenerated.Inc()

	if s.notifier != nil {
		if err := s.notifier.SendSummary(ctx, chatID, text); err != nil {
			return fmt.Errorf("deliver summary: %w", err)
		}
	}
	return nil
}

// RunRetention deletes persisted files older than the configured retention
// window. The feature flag is checked at scheduling time, not here.
func (s *Service) RunRetention(ctx context.Context) {
	retentionDays := s.cfg.GetInt("features.history_cleanup.retention_days", 30)
	deleted, failed := s.store.CleanupExpiredFiles(retentionDays)
	s.metrics.FilesCleaned.Add(float64(deleted))
	s.logger.Info().
		Int("retention_days", retentionDays).
		Int("deleted", deleted).
		Int("failed", failed).
		Msg("retention job finished")
}
