// Package llm adapts OpenAI-compatible chat completion APIs to core.ICompletionService
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"index_trader/internal/core"
	pkghttp "index_trader/pkg/http"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// ClientConfig configures the completion client
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client calls /chat/completions over the resilient HTTP client
type Client struct {
	http    *pkghttp.Client
	limiter *rate.Limiter
	cfg     ClientConfig
	logger  core.ILogger
}

var _ core.ICompletionService = (*Client)(nil)

// NewClient creates a completion client
func NewClient(cfg ClientConfig, logger core.ILogger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		http: pkghttp.NewClient(strings.TrimRight(cfg.BaseURL, "/"), pkghttp.Options{Timeout: cfg.Timeout},
			pkghttp.BearerSigner{Token: cfg.APIKey}),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cfg:     cfg,
		logger:  logger.WithField("component", "llm_client"),
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []core.Message  `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// Complete sends messages and returns the first choice's content
func (c *Client) Complete(ctx context.Context, messages []core.Message, opts core.CompletionOptions) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	req := chatRequest{
		Model:       firstNonEmpty(opts.Model, c.cfg.Model),
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	switch {
	case len(opts.ResponseSchema) > 0:
		req.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: "response", Schema: opts.ResponseSchema},
		}
	case opts.JSONOutput:
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	c.logger.Debug("LLM request", "model", req.Model, "messages", len(messages))

	body, err := c.http.PostJSON(ctx, "/chat/completions", req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return "", &MalformedOutputError{Reason: "response body is not JSON", Raw: string(body)}
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return "", fmt.Errorf("chat completion error: %s", msg.String())
		}
		return "", &MalformedOutputError{Reason: "response has no choices", Raw: string(body)}
	}

	c.logger.Debug("LLM response", "content", content.String())
	return content.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
