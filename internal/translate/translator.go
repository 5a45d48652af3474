// Package translate turns page text into a target language in provider
// sized batches, keeping output aligned with input.
package translate

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

// BatchTranslator translates one batch. The result must have one entry
// per input.
type BatchTranslator interface {
	TranslateBatch(ctx context.Context, texts []string, target string) ([]string, error)
}

// Translator splits inputs into batches, runs them concurrently and
// substitutes the original text for every batch that fails.
type Translator struct {
	provider      BatchTranslator
	batchSize     int
	concurrency   int
	defaultTarget string
	limiter       *rate.Limiter
	cache         *lru.Cache[string, string]
	logger        *zap.Logger
}

func New(provider BatchTranslator, cfg config.TranslationConfig, logger *zap.Logger) (*Translator, error) {
	t := &Translator{
		provider:      provider,
		batchSize:     max(cfg.BatchSize, 1),
		concurrency:   max(cfg.Concurrency, 1),
		defaultTarget: cfg.DefaultLanguage,
		logger:        logger.Named("translate"),
	}
	if t.defaultTarget == "" {
		t.defaultTarget = "as"
	}
	if cfg.RequestsPerSec > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), t.concurrency)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, string](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create translation cache: %w", err)
		}
		t.cache = cache
	}
	return t, nil
}

// NewFromConfig builds a Translator backed by Bhashini.
func NewFromConfig(cfg config.TranslationConfig, logger *zap.Logger) (*Translator, error) {
	provider := NewBhashini(cfg.Endpoint, cfg.APIKey, cfg.SourceLanguage, cfg.Timeout, cfg.MaxRetryElapsed, logger)
	return New(provider, cfg, logger)
}

func (t *Translator) DefaultTarget() string { return t.defaultTarget }

func cacheKey(target, text string) string {
	return target + "\x00" + text
}

// Translate returns exactly len(texts) strings in input order. Failed
// batches yield their original texts; the only error is cancellation.
func (t *Translator) Translate(ctx context.Context, texts []string, target string) ([]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		target = t.defaultTarget
	}

	out := make([]string, len(texts))
	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if cached, ok := t.lookup(target, text); ok {
			out[i] = cached
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(t.concurrency)

	for start := 0; start < len(pending); start += t.batchSize {
		idx := pending[start:min(start+t.batchSize, len(pending))]
		g.Go(func() error {
			t.runBatch(ctx, texts, idx, target, out)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// runBatch writes into out only at the positions named by idx.
func (t *Translator) runBatch(ctx context.Context, texts []string, idx []int, target string, out []string) {
	batch := make([]string, len(idx))
	for j, i := range idx {
		batch[j] = texts[i]
	}

	fallback := func(err error) {
		t.logger.Warn("translation batch failed, keeping original texts",
			zap.Int("size", len(batch)),
			zap.String("target", target),
			zap.Error(err),
		)
		for j, i := range idx {
			out[i] = batch[j]
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			fallback(err)
			return
		}
	}

	translated, err := t.provider.TranslateBatch(ctx, batch, target)
	if err == nil && len(translated) != len(batch) {
		err = fmt.Errorf("%w: got %d translations for %d inputs", ErrBadResponse, len(translated), len(batch))
	}
	if err != nil {
		fallback(err)
		return
	}

	for j, i := range idx {
		out[i] = translated[j]
		if t.cache != nil {
			t.cache.Add(cacheKey(target, batch[j]), translated[j])
		}
	}
}

func (t *Translator) lookup(target, text string) (string, bool) {
	if t.cache == nil {
		return "", false
	}
	return t.cache.Get(cacheKey(target, text))
}
