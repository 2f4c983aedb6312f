// Package hotspot pushes a daily digest of hot topics from an aggregated
// news feed to a configured chat. Items are keyword-filtered and condensed
// through the LLM before sending.
package hotspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"snailbot/internal/config"
	"snailbot/internal/metrics"
)

const (
	defaultFeedURL = "https://newsnow.busiyi.world/api/s/entire"

	// userAgent keeps the aggregator from rejecting the request as a bot.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/"

	maxPageBytes = 64 << 10
)

// Item is one entry in a source feed.
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Extra struct {
		Hover string `json:"hover"`
		Info  string `json:"info"`
	} `json:"extra"`
}

// SourceFeed is one source's batch of items.
type SourceFeed struct {
	ID    string `json:"id"`
	Items []Item `json:"items"`
}

// Summarizer condenses one news item into a digest line.
type Summarizer interface {
	SummarizeNews(ctx context.Context, content string) (string, error)
}

// Notifier delivers a digest to a chat.
type Notifier interface {
	SendSummary(ctx context.Context, chatID int64, text string) error
}

type Service struct {
	cfg        *config.Manager
	summarizer Summarizer
	notifier   Notifier
	httpClient *http.Client
	feedURL    string
	pause      time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	Manager    *config.Manager
	Summarizer Summarizer
	Notifier   Notifier
	HTTPClient *http.Client
	FeedURL    string
	Pause      time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func New(cfg Config) *Service {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.FeedURL == "" {
		cfg.FeedURL = defaultFeedURL
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 2 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		cfg:        cfg.Manager,
		summarizer: cfg.Summarizer,
		notifier:   cfg.Notifier,
		httpClient: cfg.HTTPClient,
		feedURL:    cfg.FeedURL,
		pause:      cfg.Pause,
		logger:     cfg.Logger,
		metrics:    m,
	}
}

// ParseSchedule parses a HH:MM push time.
func ParseSchedule(schedule string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(schedule), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schedule %q is not in HH:MM format", schedule)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("schedule %q is not in HH:MM format", schedule)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("schedule %q is not in HH:MM format", schedule)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule %q is out of range", schedule)
	}
	return hour, minute, nil
}

// Run executes one push sweep. Config is resolved at call time so admin
// panel changes apply to the next run without rescheduling.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.IsFeatureEnabled("hotspot_push") {
		return
	}
	chatID := s.cfg.GetInt64("features.hotspot_push.chat_id", 0)
	if chatID == 0 {
		s.logger.Warn().Msg("hotspot push chat id not configured, skipping")
		return
	}
	sources := splitList(s.cfg.GetString("features.hotspot_push.sources", ""))
	if len(sources) == 0 {
		s.logger.Warn().Msg("no hotspot sources configured, skipping")
		return
	}
	keywords := s.compileKeywords(splitList(s.cfg.GetString("features.hotspot_push.keywords", "")))

	feeds, err := s.fetch(ctx, sources)
	if err != nil {
		s.logger.Error().Err(err).Msg("hotspot feed fetch failed")
		return
	}

	pushed := 0
	for _, feed := range feeds {
		items := feed.Items
		if filterable(feed.ID) {
			items = filterByKeywords(items, keywords)
		}
		if len(items) == 0 {
			continue
		}

		text := s.composeDigest(ctx, feed.ID, items)
		if text == "" {
			continue
		}
		if err := s.notifier.SendSummary(ctx, chatID, text); err != nil {
			s.logger.Error().Err(err).Str("source", feed.ID).Msg("hotspot push failed")
			continue
		}
		s.metrics.HotspotPushes.Inc()
		pushed++

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.pause):
		}
	}

	if pushed == 0 {
		s.logger.Info().Msg("no hotspot news matched, nothing pushed")
	} else {
		s.logger.Info().Int("sources", pushed).Int64("chat_id", chatID).Msg("hotspot digest pushed")
	}
}

func (s *Service) fetch(ctx context.Context, sources []string) ([]SourceFeed, error) {
	body, err := json.Marshal(map[string]any{"sources": sources})
	if err != nil {
		return nil, fmt.Errorf("marshal feed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.feedURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed status %d", resp.StatusCode)
	}

	var feeds []SourceFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	return feeds, nil
}

// filterable reports whether a source's items go through keyword filtering.
// Curated feeds are pushed whole.
func filterable(sourceID string) bool {
	switch strings.ToLower(sourceID) {
	case "github-trending-today", "producthunt":
		return false
	}
	return true
}

func (s *Service) compileKeywords(keywords []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		re, err := regexp.Compile("(?i)" + kw)
		if err != nil {
			s.logger.Warn().Err(err).Str("keyword", kw).Msg("invalid hotspot keyword, ignoring")
			continue
		}
		out = append(out, re)
	}
	return out
}

func filterByKeywords(items []Item, keywords []*regexp.Regexp) []Item {
	if len(keywords) == 0 {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		for _, re := range keywords {
			if re.MatchString(item.Title) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

func (s *Service) composeDigest(ctx context.Context, sourceID string, items []Item) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		summary := s.summarizeItem(ctx, sourceID, item)
		if strings.EqualFold(sourceID, "github-trending-today") && item.Extra.Info != "" {
			lines = append(lines, fmt.Sprintf("▪️ [%s](%s)\n%s\n%s", item.Title, item.URL, item.Extra.Info, summary))
		} else {
			lines = append(lines, fmt.Sprintf("▪️ [%s](%s)\n%s", item.Title, item.URL, summary))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return digestTitle(sourceID) + "\n\n" + strings.Join(lines, "\n\n")
}

func (s *Service) summarizeItem(ctx context.Context, sourceID string, item Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	if item.Extra.Hover != "" {
		fmt.Fprintf(&b, "Description: %s\n", item.Extra.Hover)
	}
	// Trending repos are self-describing; everything else gets the page body.
	if item.URL != "" && !strings.EqualFold(sourceID, "github-trending-today") {
		if page, ok := s.fetchPage(ctx, item.URL); ok {
			fmt.Fprintf(&b, "Content: %s\n", page)
		}
	}

	summary, err := s.summarizer.SummarizeNews(ctx, b.String())
	if err != nil {
		s.logger.Error().Err(err).Str("item", item.Title).Msg("news item summary failed")
		return "summary unavailable"
	}
	return summary
}

func (s *Service) fetchPage(ctx context.Context, pageURL string) (string, bool) {
	pageCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(pageCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", false
	}
	return string(body), true
}

func digestTitle(sourceID string) string {
	switch strings.ToLower(sourceID) {
	case "github-trending-today":
		return "🔥 Today on GitHub Trending"
	case "producthunt":
		return "🔥 Today on Product Hunt"
	}
	return "🔥 Hot topics: " + sourceName(sourceID)
}

// sourceName turns "hacker-news" into "Hacker News".
func sourceName(sourceID string) string {
	words := strings.Split(strings.ReplaceAll(sourceID, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
