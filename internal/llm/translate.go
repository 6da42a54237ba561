package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/domain"
)

// TranslateClient translates recognized page text with a chat model
type TranslateClient struct {
	client      *Client
	temperature float64
	topP        float64
	topK        int
	maxTokens   int
}

var _ domain.TranslateClient = (*TranslateClient)(nil)

// NewTranslateClient builds a translate client from stage configuration
func NewTranslateClient(cfg config.StageConfig, opts ...Option) *TranslateClient {
	return &TranslateClient{
		client:      NewClient(domain.StageTranslate, clientConfig(cfg), opts...),
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		topK:        cfg.TopK,
		maxTokens:   cfg.MaxTokens,
	}
}

// Translate sends sourceText as the user message; thinking mode is disabled.
func (t *TranslateClient) Translate(ctx context.Context, sourceText, prompt string) (string, error) {
	if strings.TrimSpace(sourceText) == "" {
		return "", domain.NewStageError(domain.StageTranslate, domain.FailureInput, 0, fmt.Errorf("no source text"))
	}

	temperature, topP := t.temperature, t.topP
	req := &Request{
		Temperature: &temperature,
		TopP:        &topP,
		TopK:        t.topK,
		MaxTokens:   t.maxTokens,
		Messages: []Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: sourceText},
		},
		ChatTemplateKwargs: map[string]interface{}{"enable_thinking": false},
	}

	return t.client.Complete(ctx, req)
}
