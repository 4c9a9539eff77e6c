// ABOUTME: HTTP client for the Gemini generateContent endpoint
// ABOUTME: Single-attempt by contract - retry policy belongs to the callers

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the service responds with HTTP 429.
// Callers that retry (the assistant orchestrator) key their backoff on it.
var ErrRateLimited = errors.New("rate limited")

// Options configures a Client
type Options struct {
	APIKey          string
	Model           string
	Endpoint        string // base URL, e.g. https://generativelanguage.googleapis.com/v1beta
	SearchGrounding bool
	Timeout         time.Duration
}

// Client talks to the generative completion service. It performs exactly one
// HTTP attempt per call; rate-limit retry policy lives with the caller.
type Client struct {
	apiKey          string
	model           string
	endpoint        string
	searchGrounding bool
	httpClient      *http.Client
	limiter         *rate.Limiter
	logger          *slog.Logger
}

// New creates a Client. Pass nil logger for default.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:          opts.APIKey,
		model:           opts.Model,
		endpoint:        strings.TrimRight(opts.Endpoint, "/"),
		searchGrounding: opts.SearchGrounding,
		httpClient:      &http.Client{Timeout: timeout},
		// Space outgoing requests; bursts of summarize/draft/respond calls
		// otherwise trip the upstream limiter immediately.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:  logger.With("component", "gemini"),
	}
}

// GenerateContent sends systemInstruction + prompt and returns the joined
// completion text. An empty string with nil error means the response carried
// no text parts.
func (c *Client) GenerateContent(ctx context.Context, systemInstruction, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	reqBody := Request{
		Contents: []Content{
			{Role: "user", Parts: []Part{{Text: prompt}}},
		},
	}
	if systemInstruction != "" {
		reqBody.SystemInstruction = &Content{Parts: []Part{{Text: systemInstruction}}}
	}
	if c.searchGrounding {
		reqBody.Tools = []Tool{{GoogleSearch: &GoogleSearch{}}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("rate limited", "model", c.model)
		return "", fmt.Errorf("generateContent: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generateContent failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var geminiResp Response
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if geminiResp.Error != nil {
		return "", fmt.Errorf("API error: %s", geminiResp.Error.Message)
	}

	var b strings.Builder
	if len(geminiResp.Candidates) > 0 {
		for _, part := range geminiResp.Candidates[0].Content.Parts {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())

	c.logger.Debug("completion received",
		"model", c.model,
		"elapsed", time.Since(start),
		"response_len", len(text))
	return text, nil
}
