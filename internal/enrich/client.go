// Package enrich calls an OpenAI-compatible chat-completions endpoint to
// derive a summary, a short excerpt and a plain-language explanation from a
// document body.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/actions-digest/internal/crawler"
	"github.com/JakeFAU/actions-digest/internal/metrics"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 1600
	defaultTemperature = 0.7
	defaultTimeout     = 120 * time.Second
	maxErrorBody       = 512
)

// Config holds client settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Waiter paces outbound calls. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client implements crawler.Enricher.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	waiter     Waiter
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithWaiter paces every request through w.
func WithWaiter(w Waiter) Option {
	return func(cl *Client) { cl.waiter = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New creates a client. BaseURL is required; zero-valued model settings fall
// back to gpt-4o-mini, 1600 tokens and temperature 0.7.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("enrichment base url is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Enrich sends body to the provider and splits the answer into its three
// sections. Transport and HTTP failures return *crawler.ProviderError; an
// answer without the expected labels returns *crawler.MalformedResponseError.
func (c *Client) Enrich(ctx context.Context, body string) (crawler.Enrichment, error) {
	text, err := c.complete(ctx, body)
	if err != nil {
		return crawler.Enrichment{}, err
	}
	enrichment, err := ParseResponse(text)
	if err != nil {
		c.logger.Warn("enrichment response malformed", zap.Error(err), zap.Int("response_chars", len(text)))
		return crawler.Enrichment{}, err
	}
	return enrichment, nil
}

func (c *Client) complete(ctx context.Context, body string) (string, error) {
	if c.waiter != nil {
		if err := c.waiter.Wait(ctx, c.endpoint); err != nil {
			return "", &crawler.ProviderError{Err: err}
		}
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(body)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &crawler.ProviderError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveEnrichmentDuration(time.Since(start))
	if err != nil {
		return "", &crawler.ProviderError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close enrichment response body", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &crawler.ProviderError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &crawler.ProviderError{Status: resp.StatusCode, Err: errors.New(truncate(string(raw), maxErrorBody))}
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return "", &crawler.ProviderError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if chat.Error != nil {
		return "", &crawler.ProviderError{Status: resp.StatusCode, Err: errors.New(chat.Error.Message)}
	}
	if len(chat.Choices) == 0 {
		return "", &crawler.ProviderError{Status: resp.StatusCode, Err: errors.New("no choices returned")}
	}
	return chat.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
