// Package llm implements the OCR and Translate stage clients on top of an
// OpenAI-compatible chat-completions endpoint.
package llm

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

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

const maxErrorBody = 4 << 10

// Client handles communication with an OpenAI-compatible chat-completions API
type Client struct {
	stage      domain.Stage
	baseURL    string
	model      string
	apiKey     string
	timeout    time.Duration
	stream     bool
	httpClient *http.Client
	retry      *RetryConfig
	onChunk    func(string)
	logger     *observability.Logger
}

// ClientConfig holds connection settings for one inference service
type ClientConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	Stream     bool
	MaxRetries int // zero disables retries
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(rc *RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithChunkHandler receives streamed content fragments as they arrive.
func WithChunkHandler(fn func(string)) Option {
	return func(c *Client) { c.onChunk = fn }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Message represents a chat message. Content is either a string or []ContentPart.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model              string                 `json:"model"`
	Messages           []Message              `json:"messages"`
	Stream             bool                   `json:"stream"`
	Temperature        *float64               `json:"temperature,omitempty"`
	TopP               *float64               `json:"top_p,omitempty"`
	TopK               int                    `json:"top_k,omitempty"`
	MaxTokens          int                    `json:"max_tokens,omitempty"`
	ChatTemplateKwargs map[string]interface{} `json:"chat_template_kwargs,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents a message delta in streaming response
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a client bound to one pipeline stage
func NewClient(stage domain.Stage, cfg ClientConfig, opts ...Option) *Client {
	c := &Client{
		stage:      stage,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		stream:     cfg.Stream,
		httpClient: &http.Client{},
		retry:      DefaultRetryConfig(),
	}
	c.retry.MaxRetries = cfg.MaxRetries
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.OrNop(c.logger).WithStage(string(stage))
	return c
}

// Complete sends one chat-completion request and returns the aggregated content.
// Every failure is returned as a *domain.StageError.
func (c *Client) Complete(ctx context.Context, req *Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req.Model = c.model
	req.Stream = c.stream

	body, err := json.Marshal(req)
	if err != nil {
		return "", domain.NewStageError(c.stage, domain.FailureInput, 0, fmt.Errorf("marshal request: %w", err))
	}

	resp, err := c.send(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if c.stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", c.normalize(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", domain.NewStageError(c.stage, domain.FailureHTTPStatus, resp.StatusCode,
			fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var content string
	if c.stream {
		content, err = newEventReader(resp.Body).collect(c.onChunk)
	} else {
		content, err = decodeMessage(resp.Body)
	}
	if err != nil {
		return "", c.normalize(ctx, err)
	}

	if strings.TrimSpace(content) == "" {
		return "", domain.NewStageError(c.stage, domain.FailureEmptyOutput, resp.StatusCode, fmt.Errorf("empty completion"))
	}

	return content, nil
}

func (c *Client) normalize(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return domain.NewStageError(c.stage, "", 0, err)
}

func decodeMessage(r io.Reader) (string, error) {
	var out Response
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}
