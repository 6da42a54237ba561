// Package prompt supplies the system prompts for the OCR and Translate stages.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/spherical/page-pipeline/internal/cache"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

// Provider reads the active prompt set from the store through a TTL cache.
// It is safe for concurrent use.
type Provider struct {
	store  domain.PromptStore
	cache  cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

var _ domain.PromptSource = (*Provider)(nil)

// NewProvider creates a provider. A nil cache disables caching.
func NewProvider(store domain.PromptStore, c cache.Client, ttl time.Duration, logger *observability.Logger) *Provider {
	return &Provider{
		store:  store,
		cache:  c,
		ttl:    ttl,
		logger: observability.OrNop(logger).WithOperation("prompts"),
	}
}

// Defaults returns the built-in prompt set.
func Defaults() domain.PromptSet {
	return domain.PromptSet{
		OCRPrompt:       DefaultOCRPrompt,
		TranslatePrompt: DefaultTranslatePrompt,
		Operator:        "system",
	}
}

// Prompts returns the active prompt set: cached, then stored, then defaults.
// A store failure falls back to the defaults rather than failing the run.
func (p *Provider) Prompts(ctx context.Context) (domain.PromptSet, error) {
	if ps, ok := p.cached(ctx); ok {
		return ps, nil
	}

	stored, err := p.store.LatestPrompts(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p.logger.Debug().Msg("no stored prompts, using defaults")
		return Defaults(), nil
	case err != nil:
		p.logger.Warn().Err(err).Msg("failed to load prompts, using defaults")
		return Defaults(), nil
	}

	ps := fillBlank(*stored)
	p.remember(ctx, ps)
	return ps, nil
}

// Save validates and stores a new prompt revision, then drops the cached copy.
func (p *Provider) Save(ctx context.Context, ps domain.PromptSet) (domain.PromptSet, error) {
	ps.OCRPrompt = strings.TrimSpace(ps.OCRPrompt)
	ps.TranslatePrompt = strings.TrimSpace(ps.TranslatePrompt)
	if ps.OCRPrompt == "" || ps.TranslatePrompt == "" {
		return domain.PromptSet{}, domain.ValidationError("both OCR and translate prompts are required", nil)
	}

	if err := p.store.SavePrompts(ctx, &ps); err != nil {
		return domain.PromptSet{}, err
	}

	if err := p.Invalidate(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("failed to invalidate prompt cache")
	}

	p.logger.Info().Str("operator", ps.Operator).
		Int("ocr_prompt_len", len(ps.OCRPrompt)).
		Int("translate_prompt_len", len(ps.TranslatePrompt)).
		Msg("prompts updated")
	return ps, nil
}

// EnsureDefaults stores the built-in prompts when none exist yet.
func (p *Provider) EnsureDefaults(ctx context.Context) error {
	_, err := p.store.LatestPrompts(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	defaults := Defaults()
	if err := p.store.SavePrompts(ctx, &defaults); err != nil {
		return err
	}
	p.logger.Info().Msg("default prompts stored")
	return nil
}

// Invalidate drops the cached prompt set.
func (p *Provider) Invalidate(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Delete(ctx, cache.PromptKey())
}

func (p *Provider) cached(ctx context.Context) (domain.PromptSet, bool) {
	if p.cache == nil {
		return domain.PromptSet{}, false
	}

	data, err := p.cache.Get(ctx, cache.PromptKey())
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn().Err(err).Msg("prompt cache read failed")
		}
		return domain.PromptSet{}, false
	}

	var ps domain.PromptSet
	if err := json.Unmarshal(data, &ps); err != nil {
		p.logger.Warn().Err(err).Msg("discarding malformed cached prompts")
		return domain.PromptSet{}, false
	}
	return ps, true
}

func (p *Provider) remember(ctx context.Context, ps domain.PromptSet) {
	if p.cache == nil || p.ttl <= 0 {
		return
	}

	data, err := json.Marshal(ps)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cache.PromptKey(), data, p.ttl); err != nil {
		p.logger.Warn().Err(err).Msg("prompt cache write failed")
	}
}

// fillBlank substitutes defaults for empty fields of a stored set.
func fillBlank(ps domain.PromptSet) domain.PromptSet {
	if strings.TrimSpace(ps.OCRPrompt) == "" {
		ps.OCRPrompt = DefaultOCRPrompt
	}
	if strings.TrimSpace(ps.TranslatePrompt) == "" {
		ps.TranslatePrompt = DefaultTranslatePrompt
	}
	return ps
}
