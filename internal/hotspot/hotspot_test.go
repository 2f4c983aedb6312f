package hotspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"snailbot/internal/config"
)

type fakeSummarizer struct {
	inputs []string
	result string
	err    error
}

func (f *fakeSummarizer) SummarizeNews(_ context.Context, content string) (string, error) {
	f.inputs = append(f.inputs, content)
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

type fakeNotifier struct {
	sent []string
	to   []int64
}

func (f *fakeNotifier) SendSummary(_ context.Context, chatID int64, text string) error {
	f.to = append(f.to, chatID)
	f.sent = append(f.sent, text)
	return nil
}

func newTestManager(t *testing.T) *config.Manager {
	t.Helper()
	m := config.NewManager(context.Background(), config.ManagerOptions{Logger: zerolog.Nop()})
	m.Set("features.hotspot_push.enabled", true)
	m.Set("features.hotspot_push.chat_id", int64(-100500))
	return m
}

func newTestService(t *testing.T, manager *config.Manager, feedURL string, sum Summarizer, not Notifier) *Service {
	t.Helper()
	return New(Config{
		Manager:    manager,
		Summarizer: sum,
		Notifier:   not,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		FeedURL:    feedURL,
		Pause:      time.Millisecond,
		Logger:     zerolog.Nop(),
	})
}

func serveFeeds(t *testing.T, hits *atomic.Int32, feeds []SourceFeed) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page" {
			_, _ = w.Write([]byte("full article body"))
			return
		}
		hits.Add(1)
		var req struct {
			Sources []string `json:"sources"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode feed request: %v", err)
		}
		if len(req.Sources) == 0 {
			t.Errorf("expected sources in feed request")
		}
		_ = json.NewEncoder(w).Encode(feeds)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunPushesFilteredDigest(t *testing.T) {
	var hn1, hn2, hn3, gh Item
	hn1.Title = "Go 1.25 released"
	hn2.Title = "Cooking tips for beginners"
	hn3.Title = "Understanding GO generics"
	gh.Title = "some/repo"
	gh.URL = "https://example.com/some/repo"
	gh.Extra.Info = "★ 1200"

	var hits atomic.Int32
	srv := serveFeeds(t, &hits, []SourceFeed{
		{ID: "hacker-news", Items: []Item{hn1, hn2, hn3}},
		{ID: "github-trending-today", Items: []Item{gh}},
	})

	manager := newTestManager(t)
	manager.Set("features.hotspot_push.sources", "hacker-news,github-trending-today")
	manager.Set("features.hotspot_push.keywords", "go")

	sum := &fakeSummarizer{result: "condensed"}
	not := &fakeNotifier{}
	s := newTestService(t, manager, srv.URL, sum, not)

	s.Run(context.Background())

	if len(not.sent) != 2 {
		t.Fatalf("expected 2 digests pushed, got %d: %v", len(not.sent), not.sent)
	}
	for _, chatID := range not.to {
		if chatID != -100500 {
			t.Fatalf("digest sent to wrong chat %d", chatID)
		}
	}

	hnDigest := not.sent[0]
	if !strings.HasPrefix(hnDigest, "🔥 Hot topics: Hacker News") {
		t.Fatalf("unexpected digest header: %q", hnDigest)
	}
	if !strings.Contains(hnDigest, "Go 1.25 released") || !strings.Contains(hnDigest, "Understanding GO generics") {
		t.Fatalf("keyword matches missing from digest: %q", hnDigest)
	}
	if strings.Contains(hnDigest, "Cooking tips") {
		t.Fatalf("non-matching item leaked into digest: %q", hnDigest)
	}
	if !strings.Contains(hnDigest, "condensed") {
		t.Fatalf("item summary missing from digest: %q", hnDigest)
	}

	ghDigest := not.sent[1]
	if !strings.HasPrefix(ghDigest, "🔥 Today on GitHub Trending") {
		t.Fatalf("unexpected trending header: %q", ghDigest)
	}
	// Curated feeds skip keyword filtering entirely.
	if !strings.Contains(ghDigest, "some/repo") || !strings.Contains(ghDigest, "★ 1200") {
		t.Fatalf("trending item missing from digest: %q", ghDigest)
	}
}

func TestRunFetchesArticleBody(t *testing.T) {
	// The feed slice is filled in after the server starts because the item
	// URL has to point back at the test server.
	var feeds []SourceFeed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page" {
			_, _ = w.Write([]byte("full article body"))
			return
		}
		_ = json.NewEncoder(w).Encode(feeds)
	}))
	t.Cleanup(srv.Close)

	var item Item
	item.Title = "Go article"
	item.URL = srv.URL + "/page"
	feeds = []SourceFeed{{ID: "hacker-news", Items: []Item{item}}}

	manager := newTestManager(t)
	manager.Set("features.hotspot_push.sources", "hacker-news")

	sum := &fakeSummarizer{result: "condensed"}
	not := &fakeNotifier{}
	s := newTestService(t, manager, srv.URL, sum, not)

	s.Run(context.Background())

	if len(sum.inputs) != 1 {
		t.Fatalf("expected 1 summarizer call, got %d", len(sum.inputs))
	}
	if !strings.Contains(sum.inputs[0], "Title: Go article") {
		t.Fatalf("title missing from summarizer input: %q", sum.inputs[0])
	}
	if !strings.Contains(sum.inputs[0], "full article body") {
		t.Fatalf("article body missing from summarizer input: %q", sum.inputs[0])
	}
}

func TestRunSkipsWhenDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := serveFeeds(t, &hits, []SourceFeed{{ID: "hacker-news"}})

	manager := newTestManager(t)
	manager.Set("features.hotspot_push.enabled", false)
	manager.Set("features.hotspot_push.sources", "hacker-news")

	not := &fakeNotifier{}
	s := newTestService(t, manager, srv.URL, &fakeSummarizer{}, not)
	s.Run(context.Background())

	if hits.Load() != 0 || len(not.sent) != 0 {
		t.Fatalf("expected no activity while disabled, got hits=%d sent=%d", hits.Load(), len(not.sent))
	}
}

func TestRunSkipsWithoutChatOrSources(t *testing.T) {
	var hits atomic.Int32
	srv := serveFeeds(t, &hits, []SourceFeed{{ID: "hacker-news"}})

	manager := newTestManager(t)
	manager.Set("features.hotspot_push.chat_id", int64(0))
	manager.Set("features.hotspot_push.sources", "hacker-news")
	s := newTestService(t, manager, srv.URL, &fakeSummarizer{}, &fakeNotifier{})
	s.Run(context.Background())

	manager = newTestManager(t)
	s = newTestService(t, manager, srv.URL, &fakeSummarizer{}, &fakeNotifier{})
	s.Run(context.Background())

	if hits.Load() != 0 {
		t.Fatalf("expected no feed requests, got %d", hits.Load())
	}
}

func TestSummaryFailureDoesNotDropItem(t *testing.T) {
	var hits atomic.Int32
	var item Item
	item.Title = "Go 1.25 released"
	srv := serveFeeds(t, &hits, []SourceFeed{{ID: "hacker-news", Items: []Item{item}}})

	manager := newTestManager(t)
	manager.Set("features.hotspot_push.sources", "hacker-news")

	not := &fakeNotifier{}
	s := newTestService(t, manager, srv.URL, &fakeSummarizer{err: context.DeadlineExceeded}, not)
	s.Run(context.Background())

	if len(not.sent) != 1 {
		t.Fatalf("expected digest pushed despite summary failure, got %d", len(not.sent))
	}
	if !strings.Contains(not.sent[0], "summary unavailable") {
		t.Fatalf("expected fallback line in digest: %q", not.sent[0])
	}
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in     string
		hour   int
		minute int
		ok     bool
	}{
		{"09:00", 9, 0, true},
		{"23:59", 23, 59, true},
		{" 7:30 ", 7, 30, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"0900", 0, 0, false},
		{"nine:zero", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		hour, minute, err := ParseSchedule(tc.in)
		if tc.ok && (err != nil || hour != tc.hour || minute != tc.minute) {
			t.Fatalf("ParseSchedule(%q) = (%d, %d, %v), want (%d, %d)", tc.in, hour, minute, err, tc.hour, tc.minute)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseSchedule(%q) accepted invalid input", tc.in)
		}
	}
}

func TestFilterableSources(t *testing.T) {
	if filterable("github-trending-today") || filterable("ProductHunt") {
		t.Fatalf("curated sources must bypass keyword filtering")
	}
	if !filterable("hacker-news") {
		t.Fatalf("regular sources must be filtered")
	}
}

func TestSourceName(t *testing.T) {
	if got := sourceName("hacker-news"); got != "Hacker News" {
		t.Fatalf("sourceName = %q, want %q", got, "Hacker News")
	}
	if got := sourceName("weibo"); got != "Weibo" {
		t.Fatalf("sourceName = %q, want %q", got, "Weibo")
	}
}
