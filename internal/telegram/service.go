package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/rs/zerolog"

	"snailbot/internal/ai"
	"snailbot/internal/config"
	"snailbot/internal/limits"
	"snailbot/internal/metrics"
	"snailbot/internal/storage"
	"snailbot/internal/store"
	"snailbot/internal/summary"
)

type Service struct {
	messages    *store.Store
	registry    *storage.Store
	ai          *ai.Client
	cfg         *config.Manager
	summaries   *summary.Service
	drawLimiter *limits.DailyLimiter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	admins      map[int64]struct{}
}

type Config struct {
	Messages    *store.Store
	Registry    *storage.Store
	AI          *ai.Client
	Manager     *config.Manager
	Summaries   *summary.Service
	DrawLimiter *limits.DailyLimiter
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	AdminIDs    []int64
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Service{
		messages:    cfg.Messages,
		registry:    cfg.Registry,
		ai:          cfg.AI,
		cfg:         cfg.Manager,
		summaries:   cfg.Summaries,
		drawLimiter: cfg.DrawLimiter,
		logger:      cfg.Logger,
		metrics:     m,
		admins:      admins,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("status", s.status))
	d.AddHandler(handlers.NewCommand("reset", s.reset))
	d.AddHandler(handlers.NewCommand("chat", s.chat))
	d.AddHandler(handlers.NewCommand("search", s.search))
	d.AddHandler(handlers.NewCommand("ask", s.ask))
	d.AddHandler(handlers.NewCommand("draw", s.draw))
	d.AddHandler(handlers.NewCommand("draw_help", s.drawHelp))
	d.AddHandler(handlers.NewCommand("summary", s.summaryCommand))
	d.AddHandler(handlers.NewCommand("summary_stats", s.summaryStats))
	d.AddHandler(handlers.NewCommand("set_welcome", s.setWelcome))
	d.AddHandler(handlers.NewCommand("welcome_test", s.welcomeTest))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return len(msg.NewChatMembers) > 0
	}, s.newMembers))
	d.AddHandler(handlers.NewMessage(message.Text, s.plainText))
}

func (s *Service) isAdmin(userID int64) bool {
	_, ok := s.admins[userID]
	return ok
}

func isGroup(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}

func (s *Service) ensureChat(ctx context.Context, chat *gotgbot.Chat) {
	if s.registry == nil || chat == nil {
		return
	}
	if err := s.registry.EnsureChat(ctx, chat.Id, chat.Type, chat.Title); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chat.Id).Msg("failed to upsert chat")
	}
}

// Announcer delivers scheduled summaries through the bot, decoupling the
// summary service from the telegram transport.
type Announcer struct {
	Bot *gotgbot.Bot
}

func (a Announcer) SendSummary(ctx context.Context, chatID int64, text string) error {
	_, err := a.Bot.SendMessageWithContext(ctx, chatID, text, nil)
	return err
}
