package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/domain"
)

const ocrInstruction = "Please identify the text in the picture"

// OCRClient recognizes page images with a vision model
type OCRClient struct {
	client      *Client
	temperature float64
	maxTokens   int
}

var _ domain.OCRClient = (*OCRClient)(nil)

// NewOCRClient builds an OCR client from stage configuration
func NewOCRClient(cfg config.StageConfig, opts ...Option) *OCRClient {
	return &OCRClient{
		client:      NewClient(domain.StageOCR, clientConfig(cfg), opts...),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Recognize sends the image as a data URL alongside the system prompt
func (o *OCRClient) Recognize(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", domain.NewStageError(domain.StageOCR, domain.FailureInput, 0, fmt.Errorf("read image: %w", err))
	}

	temperature := o.temperature
	req := &Request{
		Temperature: &temperature,
		MaxTokens:   o.maxTokens,
		Messages: []Message{
			{Role: "system", Content: prompt},
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "image_url", ImageURL: &ImageURL{URL: "data:image;base64," + base64.StdEncoding.EncodeToString(data)}},
					{Type: "text", Text: ocrInstruction},
				},
			},
		},
	}

	return o.client.Complete(ctx, req)
}

func clientConfig(cfg config.StageConfig) ClientConfig {
	return ClientConfig{
		BaseURL:    cfg.Endpoint,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		Stream:     cfg.Stream,
		MaxRetries: cfg.MaxRetries,
	}
}
