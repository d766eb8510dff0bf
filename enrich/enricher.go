// Package enrich coordinates per-product enrichment: cache lookup, rate
// limit check, page fetch with fallback, and cache write-through. Products
// run concurrently under a bounded worker pool with per-item failure
// isolation; one bad page never aborts its siblings or the batch.
package enrich

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dealscout/cache"
	"dealscout/fetch"
	"dealscout/product"
)

// Fetcher is the page-fetching collaborator. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetch.Outcome
}

// Store is the shared cache / rate limiter. *cache.Store satisfies it, and
// a nil *cache.Store degrades to always-miss / always-admit.
type Store interface {
	Get(key string) *cache.Entry
	Put(key string, value any, ttl time.Duration) error
	Admit(origin string) bool
}

// Config tunes the enrichment pass.
type Config struct {
	// Parallelism bounds concurrent fetches. Default 5.
	Parallelism int
	// CacheTTL is the write-through TTL for enrichment results. Default 6h.
	CacheTTL time.Duration
	// MinFields is the extraction count that counts as fully enriched.
	// Must agree with the fetcher's setting. Default 3.
	MinFields int
}

func (c *Config) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = 5
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 6 * time.Hour
	}
	if c.MinFields <= 0 {
		c.MinFields = 3
	}
}

// ItemFailure records one product's enrichment failure for the summary.
type ItemFailure struct {
	ProductID string `json:"product_id"`
	URL       string `json:"url"`
	Reason    string `json:"reason"`
}

// Summary aggregates what happened across the batch. The pipeline returns
// it alongside the result so callers can tell clean from degraded runs.
type Summary struct {
	Enriched    int           `json:"enriched"`
	Partial     int           `json:"partial"`
	Failed      int           `json:"failed"`
	CacheHits   int           `json:"cache_hits"`
	RateLimited int           `json:"rate_limited"`
	Failures    []ItemFailure `json:"failures,omitempty"`
}

// Degraded reports whether any item fell short of full enrichment.
func (s Summary) Degraded() bool {
	return s.Partial > 0 || s.Failed > 0 || s.RateLimited > 0
}

// cachedEnrichment is the cache entry payload for one enriched product.
type cachedEnrichment struct {
	Fields map[string]string `json:"fields"`
	Source product.Source    `json:"source"`
}

// Enricher runs the per-product enrichment workflow.
type Enricher struct {
	cfg     Config
	fetcher Fetcher
	store   Store
	logger  *zap.Logger
}

// New creates an Enricher. A nil store means no caching and no rate
// limiting, matching the nil-receiver behavior of *cache.Store.
func New(cfg Config, fetcher Fetcher, store Store, logger *zap.Logger) *Enricher {
	cfg.applyDefaults()
	if store == nil {
		store = (*cache.Store)(nil)
	}
	return &Enricher{cfg: cfg, fetcher: fetcher, store: store, logger: logger}
}

type itemResult struct {
	p       product.Product
	kind    string // "enriched" | "partial" | "failed" | "cache" | "rate"
	failure *ItemFailure
}

// Enrich enriches a batch of products. The output has the same length and
// order as the input; each element is an updated copy. Cancellation of ctx
// stops scheduling new fetches but whatever already settled is kept.
func (e *Enricher) Enrich(ctx context.Context, products []product.Product) ([]product.Product, Summary) {
	results := make([]itemResult, len(products))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Parallelism)
	for i, p := range products {
		g.Go(func() error {
			results[i] = e.enrichOne(ctx, p)
			return nil
		})
	}
	g.Wait()

	out := make([]product.Product, len(products))
	var summary Summary
	for i, r := range results {
		out[i] = r.p
		switch r.kind {
		case "enriched":
			summary.Enriched++
		case "cache":
			summary.Enriched++
			summary.CacheHits++
		case "partial":
			summary.Partial++
		case "rate":
			summary.Partial++
			summary.RateLimited++
		case "failed":
			summary.Failed++
		}
		if r.failure != nil {
			summary.Failures = append(summary.Failures, *r.failure)
		}
	}

	e.logger.Info("enrichment batch settled",
		zap.Int("total", len(products)),
		zap.Int("enriched", summary.Enriched),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed),
		zap.Int("cache_hits", summary.CacheHits),
		zap.Int("rate_limited", summary.RateLimited))
	return out, summary
}

func (e *Enricher) enrichOne(ctx context.Context, p product.Product) itemResult {
	if err := ctx.Err(); err != nil {
		// request deadline hit before this item was scheduled
		p.Status = p.Status.Advance(product.StatusPartial)
		return itemResult{p: p, kind: "partial"}
	}

	key := "enriched:" + p.StableKey()

	if entry := e.store.Get(key); entry != nil {
		var cached cachedEnrichment
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			e.applyFields(&p, cached.Fields)
			p.Status = p.Status.Advance(product.StatusEnriched)
			p.Source = cached.Source
			e.logger.Debug("enrichment cache hit", zap.String("product_id", p.ID))
			return itemResult{p: p, kind: "cache"}
		}
	}

	origin := product.Origin(p.URL)
	if origin == "" {
		p.Status = p.Status.Advance(product.StatusFailed)
		return itemResult{p: p, kind: "failed", failure: &ItemFailure{
			ProductID: p.ID, URL: p.URL, Reason: "unusable product url",
		}}
	}

	if !e.store.Admit(origin) {
		// Quota spent for this origin this window. The product is not
		// dropped, just left under-enriched for this round.
		p.Status = p.Status.Advance(product.StatusPartial)
		e.logger.Debug("rate limited, deferring enrichment",
			zap.String("product_id", p.ID), zap.String("origin", origin))
		return itemResult{p: p, kind: "rate"}
	}

	outcome := e.fetcher.Fetch(ctx, p.URL)
	switch outcome.Kind {
	case fetch.OutcomeTimeout:
		p.Status = p.Status.Advance(product.StatusFailed)
		return itemResult{p: p, kind: "failed", failure: &ItemFailure{
			ProductID: p.ID, URL: p.URL, Reason: "fetch timeout",
		}}
	case fetch.OutcomeBlocked:
		p.Status = p.Status.Advance(product.StatusFailed)
		return itemResult{p: p, kind: "failed", failure: &ItemFailure{
			ProductID: p.ID, URL: p.URL, Reason: "origin blocked",
		}}
	case fetch.OutcomeRenderRequired:
		p.Status = p.Status.Advance(product.StatusPartial)
		return itemResult{p: p, kind: "partial"}
	}

	e.applyFields(&p, outcome.Fields)
	p.Source = outcome.Source

	kind := "partial"
	if outcome.Sufficient(e.cfg.MinFields) {
		p.Status = p.Status.Advance(product.StatusEnriched)
		kind = "enriched"
	} else {
		p.Status = p.Status.Advance(product.StatusPartial)
	}

	if len(outcome.Fields) > 0 {
		err := e.store.Put(key, cachedEnrichment{
			Fields: outcome.Fields,
			Source: outcome.Source,
		}, e.cfg.CacheTTL)
		if err != nil {
			e.logger.Warn("enrichment cache write failed",
				zap.String("product_id", p.ID), zap.Error(err))
		}
	}
	return itemResult{p: p, kind: kind}
}

// applyFields folds extracted fields into the product. SERP-provided
// identity fields win; extraction only fills gaps.
func (e *Enricher) applyFields(p *product.Product, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case "name":
			// keep the SERP title as the canonical one
		case "image":
			if p.ImageURL == "" {
				p.ImageURL = v
			}
		case "price":
			if p.Price == nil {
				price := product.ParsePrice(v)
				if price != nil {
					if cur, ok := fields["currency"]; ok && cur != "" {
						price.Currency = cur
					}
					p.Price = price
				}
			}
		case "currency":
			// folded into price above
		default:
			if _, exists := p.Attributes[k]; !exists {
				p.SetAttr(k, v)
			}
		}
	}
}
