package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"snailbot/internal/config"
)

// Message is one chat-completion turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client wraps an OpenAI-compatible API. Model, credentials and prompts are
// resolved from the config manager at call time so admin-panel changes take
// effect without a restart.
type Client struct {
	cfg         *config.Manager
	httpClient  *http.Client
	maxRetries  int
	backoffBase time.Duration
	logger      zerolog.Logger
}

type Options struct {
	Config      *config.Manager
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 400 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Client{
		cfg:         opts.Config,
		httpClient:  opts.HTTPClient,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		logger:      opts.Logger,
	}
}

// ChatCompletion sends the configured system prompt plus the given turns and
// returns the assistant reply.
func (c *Client) ChatCompletion(ctx context.Context, turns []Message) (string, error) {
	system := c.cfg.GetString("features.chat.system_prompt", "")
	messages := make([]Message, 0, len(turns)+1)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, turns...)

	return c.complete(ctx, messages)
}

// complete posts the given messages as-is, without injecting any system
// prompt. Callers that need one prepend their own.
func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	payload := map[string]any{
		"model":    c.cfg.GetString("ai.openai.model", "gpt-3.5-turbo"),
		"messages": messages,
	}
	if maxTokens := c.cfg.GetInt("ai.openai.max_tokens", 1000); maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}
	if temp := c.cfg.GetFloat("ai.openai.temperature", 0.7); temp > 0 {
		payload["temperature"] = temp
	}

	body, err := c.call(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}
	return parseChatCompletion(body)
}

// Summarize condenses formatted chat lines into a summary. Only the most
// recent 100 lines are sent to keep the prompt bounded.
func (c *Client) Summarize(ctx context.Context, messages []string, title string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to summarize")
	}
	window := messages
	if len(window) > 100 {
		window = window[len(window)-100:]
	}

	prompt := c.cfg.GetString("features.auto_summary.summary_prompt",
		"Summarize the main topics and content of the following group conversation:")
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nChat: ")
	b.WriteString(title)
	fmt.Fprintf(&b, "\nMessage count: %d\n\nMessages:\n", len(messages))
	b.WriteString(strings.Join(window, "\n"))
	b.WriteString("\n\nProvide a concise summary covering the main topics, important information or decisions, and active participants.")

	return c.ChatCompletion(ctx, []Message{{Role: "user", Content: b.String()}})
}

// SearchWeb simulates a web search: the query is answered from the model's
// knowledge with a disclaimer about real-time information.
func (c *Client) SearchWeb(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(
		"Search query: %q\n\nAnswer from your knowledge base. If the query needs real-time data (weather, news, prices), say you cannot provide live information and point to an official source. Keep the answer concise.",
		query)
	result, err := c.ChatCompletion(ctx, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Search results: %s\n\n%s\n\nNote: based on the model's knowledge base, check official sources for current information.", query, result), nil
}

// maxNewsContentLen bounds the raw article text sent for condensing.
const maxNewsContentLen = 8000

// SummarizeNews condenses one news item (title, blurb and optionally the
// fetched article body) into a short digest entry.
func (c *Client) SummarizeNews(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("no content to summarize")
	}
	if len(content) > maxNewsContentLen {
		content = content[:maxNewsContentLen]
	}
	prompt := "Summarize the following news item in one or two sentences. Keep names, numbers and dates accurate.\n\n" + content
	return c.complete(ctx, []Message{{Role: "user", Content: prompt}})
}

// AnswerQuestion answers a question against the configured knowledge base
// prompt instead of the general chat persona.
func (c *Client) AnswerQuestion(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question is empty")
	}
	system := c.cfg.GetString("features.knowledge_base.system_prompt", "")
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: question})
	return c.complete(ctx, messages)
}

// GenerateImage requests one image and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":   c.cfg.GetString("ai.drawing.model", "dall-e-3"),
		"prompt":  prompt,
		"size":    c.cfg.GetString("ai.drawing.size", "1024x1024"),
		"quality": c.cfg.GetString("ai.drawing.quality", "standard"),
		"n":       1,
	}
	body, err := c.call(ctx, "/images/generations", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return "", fmt.Errorf("missing image url in response")
	}
	return resp.Data[0].URL, nil
}

// call posts the payload with retry on transient provider errors.
func (c *Client) call(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	endpointURL, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		respBody, retry, err := c.callOnce(ctx, endpointURL, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !retry || attempt == c.maxRetries {
			break
		}
		backoff := c.backoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte) (respBody []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey := c.cfg.GetString("ai.openai.api_key", ""); strings.TrimSpace(apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, false, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("provider temporary status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("provider status %d", resp.StatusCode)
	}
	return respBody, false, nil
}

func (c *Client) endpointURL(endpoint string) (string, error) {
	base := strings.TrimSpace(c.cfg.GetString("ai.openai.api_base_url", ""))
	if base == "" {
		return "", fmt.Errorf("api base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + endpoint
	return u.String(), nil
}

func parseChatCompletion(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("missing message content in chat completion response")
	}
	return content, nil
}
