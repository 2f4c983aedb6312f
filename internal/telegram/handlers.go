package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"snailbot/internal/ai"
	"snailbot/internal/storage"
	"snailbot/internal/store"
	"snailbot/internal/summary"
)

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	s.ensureChat(context.Background(), ctx.EffectiveChat)
	name := "there"
	if ctx.EffectiveUser != nil && ctx.EffectiveUser.FirstName != "" {
		name = ctx.EffectiveUser.FirstName
	}
	return s.reply(ctx, b, fmt.Sprintf("Hi %s! I am a group assistant bot. Use /help to see what I can do.", name))
}

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	text := strings.Join([]string{
		"Commands:",
		"/chat <text> - talk to the assistant",
		"/search <query> - search and answer",
		"/ask <question> - answer from the knowledge base",
		"/draw <prompt> - generate an image",
		"/draw_help - image generation tips",
		"/summary [hours] - summarize recent chat (default 24h, max 168h)",
		"/summary_stats - message statistics for this chat",
		"/reset - clear your dialog history",
		"/status - bot status",
		"Admin:",
		"/set_welcome <text> - set the welcome message for this chat",
		"/welcome_test - preview the welcome message",
	}, "\n")
	return s.reply(ctx, b, text)
}

func (s *Service) status(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	chatID := ctx.EffectiveChat.Id
	stats := s.messages.Stats(chatID)
	lines := []string{
		"Status: online",
		fmt.Sprintf("Messages logged: %d", stats.TotalMessages),
		fmt.Sprintf("Messages (24h): %d", stats.Recent24h),
		fmt.Sprintf("Active users (24h): %d", stats.ActiveUsers),
		"Features:",
	}
	for _, f := range []string{"chat", "search", "drawing", "auto_summary", "welcome_message", "history_cleanup"} {
		state := "off"
		if s.cfg.IsFeatureEnabled(f) {
			state = "on"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", f, state))
	}
	return s.reply(ctx, b, strings.Join(lines, "\n"))
}

func (s *Service) reset(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	s.messages.ClearDialogHistory(ctx.EffectiveChat.Id)
	return s.reply(ctx, b, "Dialog history cleared.")
}

func (s *Service) chat(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	prompt := strings.TrimSpace(commandRemainder(msg.GetText()))
	if prompt == "" {
		return s.reply(ctx, b, "Usage: /chat <text>")
	}
	if !s.cfg.IsFeatureEnabled("chat") {
		return s.reply(ctx, b, "Chat is disabled.")
	}
	return s.converse(b, ctx, prompt)
}

// converse runs one dialog exchange: history + prompt in, reply out, both
// turns persisted.
func (s *Service) converse(b *gotgbot.Bot, ctx *ext.Context, prompt string) error {
	chatID := ctx.EffectiveChat.Id
	s.ensureChat(context.Background(), ctx.EffectiveChat)

	historyMax := s.cfg.GetInt("features.chat.history_max_length", 10)
	history := s.messages.DialogHistory(chatID, historyMax)
	turns := make([]ai.Message, 0, len(history)+1)
	for _, t := range history {
		turns = append(turns, ai.Message{Role: t.Role, Content: t.Content})
	}
	turns = append(turns, ai.Message{Role: store.RoleUser, Content: prompt})

	s.metrics.AIRequests.Inc()
	answer, err := s.ai.ChatCompletion(context.Background(), turns)
	if err != nil {
		s.metrics.AIFailures.Inc()
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("chat completion failed")
		return s.reply(ctx, b, "The assistant is unavailable right now. Please try again later.")
	}

	s.messages.AddDialogTurn(chatID, store.Turn{Role: store.RoleUser, Content: prompt})
	s.messages.AddDialogTurn(chatID, store.Turn{Role: store.RoleAssistant, Content: answer})
	return s.reply(ctx, b, answer)
}

func (s *Service) search(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	query := strings.TrimSpace(commandRemainder(msg.GetText()))
	if query == "" {
		return s.reply(ctx, b, "Usage: /search <query>")
	}
	if !s.cfg.IsFeatureEnabled("search") {
		return s.reply(ctx, b, "Search is disabled.")
	}
	s.ensureChat(context.Background(), ctx.EffectiveChat)

	s.metrics.AIRequests.Inc()
	answer, err := s.ai.SearchWeb(context.Background(), query)
	if err != nil {
		s.metrics.AIFailures.Inc()
		s.logger.Error().Err(err).Msg("search failed")
		return s.reply(ctx, b, "Search is unavailable right now.")
	}
	return s.reply(ctx, b, answer)
}

func (s *Service) ask(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	question := strings.TrimSpace(commandRemainder(msg.GetText()))
	if question == "" {
		return s.reply(ctx, b, "Usage: /ask <question>\nExample: /ask how do I get access to the beta?")
	}
	if !s.cfg.IsFeatureEnabled("knowledge_base") {
		return s.reply(ctx, b, "Knowledge base answers are disabled.")
	}
	s.ensureChat(context.Background(), ctx.EffectiveChat)

	// Placeholder while the model works; deleted before the real answer.
	thinking, err := b.SendMessage(ctx.EffectiveChat.Id, "Thinking, one moment...", nil)
	if err != nil {
		thinking = nil
	}

	s.metrics.AIRequests.Inc()
	answer, err := s.ai.AnswerQuestion(context.Background(), question)
	if thinking != nil {
		if _, derr := b.DeleteMessage(ctx.EffectiveChat.Id, thinking.MessageId, nil); derr != nil {
			s.logger.Debug().Err(derr).Msg("failed to delete placeholder message")
		}
	}
	if err != nil {
		s.metrics.AIFailures.Inc()
		s.logger.Error().Err(err).Msg("knowledge base answer failed")
		return s.reply(ctx, b, "I could not answer that right now. Please try again later.")
	}
	return s.reply(ctx, b, answer)
}

func (s *Service) draw(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	prompt := strings.TrimSpace(commandRemainder(msg.GetText()))
	if prompt == "" {
		return s.reply(ctx, b, "Usage: /draw <prompt>\nSee /draw_help for tips.")
	}
	if !s.cfg.IsFeatureEnabled("drawing") {
		return s.reply(ctx, b, "Drawing is disabled.")
	}
	s.ensureChat(context.Background(), ctx.EffectiveChat)

	limit := int64(s.cfg.GetInt("features.drawing.daily_limit", 10))
	if s.drawLimiter != nil {
		allowed, used, err := s.drawLimiter.Allow(context.Background(), ctx.EffectiveUser.Id, limit, s.now())
		if err != nil {
			s.logger.Error().Err(err).Msg("draw limiter failed")
		} else if !allowed {
			return s.reply(ctx, b, fmt.Sprintf("Daily drawing limit reached (%d/%d). Try again tomorrow.", used, limit))
		}
	}

	s.metrics.AIRequests.Inc()
	url, err := s.ai.GenerateImage(context.Background(), prompt)
	if err != nil {
		s.metrics.AIFailures.Inc()
		s.logger.Error().Err(err).Msg("image generation failed")
		return s.reply(ctx, b, "Image generation failed. Please try again later.")
	}
	_, err = b.SendPhoto(ctx.EffectiveChat.Id, gotgbot.InputFileByURL(url), &gotgbot.SendPhotoOpts{
		Caption: prompt,
	})
	if err != nil {
		// Telegram may refuse to fetch the image itself.
		return s.reply(ctx, b, "Here is your image: "+url)
	}
	return nil
}

func (s *Service) drawHelp(b *gotgbot.Bot, ctx *ext.Context) error {
	text := strings.Join([]string{
		"Image generation tips:",
		"- Describe the subject, style and mood: /draw a watercolor fox in autumn woods",
		"- Mention lighting or composition for better results",
		fmt.Sprintf("- Daily limit: %d images per user", s.cfg.GetInt("features.drawing.daily_limit", 10)),
	}, "\n")
	return s.reply(ctx, b, text)
}

func (s *Service) summaryCommand(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if s.cfg.GetBool("features.auto_summary.admin_only", false) && !s.isAdmin(ctx.EffectiveUser.Id) {
		return s.reply(ctx, b, "Only admins can request summaries.")
	}

	arg := strings.TrimSpace(commandRemainder(msg.GetText()))
	hours, err := summary.ParseHours(arg)
	if err != nil {
		return s.reply(ctx, b, "Usage: /summary [hours] (1 to 168)")
	}

	s.ensureChat(context.Background(), ctx.EffectiveChat)

	// Replying to a message summarizes just that message, no minimum corpus.
	if reply := msg.ReplyToMessage; reply != nil && strings.TrimSpace(reply.GetText()) != "" {
		text, err := s.summaries.SummarizeSingle(context.Background(), reply.GetText())
		if err != nil {
			s.logger.Error().Err(err).Int64("chat_id", ctx.EffectiveChat.Id).Msg("single message summary failed")
			return s.reply(ctx, b, "Summary generation failed. Please try again later.")
		}
		return s.reply(ctx, b, text)
	}
	text, err := s.summaries.OnDemand(context.Background(), ctx.EffectiveChat.Id, ctx.EffectiveChat.Title, hours)
	if err != nil {
		switch {
		case errors.Is(err, summary.ErrNoMessages):
			return s.reply(ctx, b, fmt.Sprintf("No messages recorded in the last %d hours.", hours))
		case errors.Is(err, summary.ErrNotEnoughMessages):
			return s.reply(ctx, b, "Not enough messages for a meaningful summary yet.")
		default:
			s.logger.Error().Err(err).Int64("chat_id", ctx.EffectiveChat.Id).Msg("on-demand summary failed")
			return s.reply(ctx, b, "Summary generation failed. Please try again later.")
		}
	}
	s.auditAction(ctx, "summary", map[string]any{"hours": hours})
	return s.reply(ctx, b, text)
}

func (s *Service) summaryStats(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	stats := s.messages.Stats(ctx.EffectiveChat.Id)
	text := strings.Join([]string{
		"Chat statistics:",
		fmt.Sprintf("- total messages logged: %d", stats.TotalMessages),
		fmt.Sprintf("- messages in last 24h: %d", stats.Recent24h),
		fmt.Sprintf("- active users in last 24h: %d", stats.ActiveUsers),
	}, "\n")
	return s.reply(ctx, b, text)
}

func (s *Service) setWelcome(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if !isGroup(ctx.EffectiveChat.Type) {
		return s.reply(ctx, b, "Run this command in a group or supergroup.")
	}
	if !s.isAdmin(ctx.EffectiveUser.Id) {
		return s.reply(ctx, b, "Only admins can set the welcome message.")
	}
	text := strings.TrimSpace(commandRemainder(msg.GetText()))
	if text == "" {
		return s.reply(ctx, b, "Usage: /set_welcome <text>\nPlaceholders: {user_name}, {user_mention}, {chat_title}")
	}
	s.ensureChat(context.Background(), ctx.EffectiveChat)
	if err := s.registry.SetWelcome(context.Background(), storage.WelcomeSettings{
		ChatID:      ctx.EffectiveChat.Id,
		Message:     text,
		DeleteDelay: s.cfg.GetInt("features.welcome_message.delete_delay", 60),
	}); err != nil {
		s.logger.Error().Err(err).Msg("set welcome failed")
		return s.reply(ctx, b, "Failed to save the welcome message.")
	}
	s.auditAction(ctx, "set_welcome", map[string]any{"length": len(text)})
	return s.reply(ctx, b, "Welcome message saved.")
}

func (s *Service) welcomeTest(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	text := s.renderWelcome(ctx.EffectiveChat, ctx.EffectiveUser)
	if text == "" {
		return s.reply(ctx, b, "No welcome message configured.")
	}
	return s.reply(ctx, b, text)
}

func (s *Service) newMembers(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	if !s.cfg.IsFeatureEnabled("welcome_message") {
		return nil
	}
	s.ensureChat(context.Background(), ctx.EffectiveChat)

	delay := s.welcomeDeleteDelay(ctx.EffectiveChat.Id)
	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		if member.IsBot {
			continue
		}
		text := s.renderWelcome(ctx.EffectiveChat, member)
		if text == "" {
			continue
		}
		sent, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
		if err != nil {
			s.logger.Warn().Err(err).Int64("chat_id", ctx.EffectiveChat.Id).Msg("failed to send welcome")
			continue
		}
		if delay > 0 {
			s.deleteLater(b, ctx.EffectiveChat.Id, sent.MessageId, time.Duration(delay)*time.Second)
		}
	}
	return nil
}

func (s *Service) welcomeDeleteDelay(chatID int64) int {
	if s.registry != nil {
		if w, err := s.registry.GetWelcome(context.Background(), chatID); err == nil {
			return w.DeleteDelay
		}
	}
	return s.cfg.GetInt("features.welcome_message.delete_delay", 60)
}

// renderWelcome resolves the per-chat welcome override, falling back to the
// global template, and substitutes placeholders.
func (s *Service) renderWelcome(chat *gotgbot.Chat, user *gotgbot.User) string {
	tmpl := s.cfg.GetString("features.welcome_message.message", "")
	if s.registry != nil {
		if w, err := s.registry.GetWelcome(context.Background(), chat.Id); err == nil && w.Message != "" {
			tmpl = w.Message
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Int64("chat_id", chat.Id).Msg("failed to read welcome settings")
		}
	}
	if strings.TrimSpace(tmpl) == "" {
		return ""
	}
	mention := user.FirstName
	if user.Username != "" {
		mention = "@" + user.Username
	}
	r := strings.NewReplacer(
		"{user_name}", user.FirstName,
		"{user_mention}", mention,
		"{chat_title}", chat.Title,
	)
	return r.Replace(tmpl)
}

func (s *Service) deleteLater(b *gotgbot.Bot, chatID, messageID int64, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if _, err := b.DeleteMessage(chatID, messageID, nil); err != nil {
			s.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("failed to delete welcome message")
		}
	})
}

// plainText records group chatter for summaries and answers direct
// conversation (private chats and replies to the bot).
func (s *Service) plainText(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	text := strings.TrimSpace(msg.GetText())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}
	chatID := ctx.EffectiveChat.Id

	if isGroup(ctx.EffectiveChat.Type) && s.cfg.IsFeatureEnabled("auto_summary") {
		s.messages.AddMessage(chatID, ctx.EffectiveUser.Id, displayName(ctx.EffectiveUser), text, s.now())
		s.metrics.MessagesLogged.Inc()
	}

	if !s.cfg.IsFeatureEnabled("chat") {
		return nil
	}
	if ctx.EffectiveChat.Type == "private" {
		if s.cfg.GetBool("features.chat.auto_reply_private", true) {
			return s.converse(b, ctx, text)
		}
		return nil
	}
	if s.isReplyToBot(b, msg) {
		return s.converse(b, ctx, text)
	}
	return nil
}

func (s *Service) isReplyToBot(b *gotgbot.Bot, msg *gotgbot.Message) bool {
	reply := msg.ReplyToMessage
	return reply != nil && reply.From != nil && reply.From.Id == b.User.Id
}

func (s *Service) auditAction(ctx *ext.Context, action string, meta map[string]any) {
	if s.registry == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return
	}
	raw, _ := json.Marshal(meta)
	if err := s.registry.LogAction(context.Background(), storage.AuditEntry{
		ChatID:   ctx.EffectiveChat.Id,
		UserID:   ctx.EffectiveUser.Id,
		Action:   action,
		MetaJSON: string(raw),
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit log failed")
	}
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func displayName(u *gotgbot.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
