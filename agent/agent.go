// Package agent is the pipeline coordinator: search, normalize, enrich,
// dedupe, rank. Only an empty candidate set fails a request; every other
// condition degrades the response instead.
package agent

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"dealscout/enrich"
	"dealscout/product"
	"dealscout/rank"
)

// ErrNoCandidates is returned when zero usable results survive
// normalization. It is the only request-level failure the pipeline emits.
var ErrNoCandidates = eris.New("no usable product candidates")

// ErrEmptyQuery is returned for a blank search query.
var ErrEmptyQuery = eris.New("empty search query")

// Searcher is the SERP collaborator. *search.SerperProvider and
// *search.SerpAPIProvider satisfy it via search.Provider.
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]product.RawResult, error)
	Kind() product.ProviderKind
}

// Enricher settles a product batch. *enrich.Enricher satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, products []product.Product) ([]product.Product, enrich.Summary)
}

// Ranker orders the deduplicated survivors. *rank.Ranker satisfies it.
type Ranker interface {
	Rank(ctx context.Context, query string, products []product.Product) (rank.Recommendation, error)
}

// Options tunes one search request.
type Options struct {
	// ResultCount is how many SERP results to request. Default 10.
	ResultCount int
	// TopN truncates the final ranked list. Zero means no truncation.
	TopN int
	// EnrichTimeout bounds the enrichment phase. On expiry the pipeline
	// proceeds with whatever settled. Default 60s.
	EnrichTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.ResultCount <= 0 {
		o.ResultCount = 10
	}
	if o.EnrichTimeout <= 0 {
		o.EnrichTimeout = 60 * time.Second
	}
}

// Result is a completed pipeline run.
type Result struct {
	Recommendation rank.Recommendation `json:"recommendation"`
	Summary        enrich.Summary      `json:"summary"`
	// Degraded is set when enrichment fell short for any item or the
	// ranker used its heuristic fallback.
	Degraded bool `json:"degraded"`
}

// Agent wires the pipeline stages together.
type Agent struct {
	searcher Searcher
	enricher Enricher
	ranker   Ranker
	dedupe   product.DedupeOptions
	logger   *zap.Logger
}

// New creates an Agent.
func New(searcher Searcher, enricher Enricher, ranker Ranker, dedupe product.DedupeOptions, logger *zap.Logger) *Agent {
	return &Agent{
		searcher: searcher,
		enricher: enricher,
		ranker:   ranker,
		dedupe:   dedupe,
		logger:   logger,
	}
}

// SearchAndRecommend runs the full pipeline for one query.
func (a *Agent) SearchAndRecommend(ctx context.Context, query string, opts Options) (Result, error) {
	opts.applyDefaults()
	if isBlank(query) {
		return Result{}, ErrEmptyQuery
	}
	start := time.Now()

	raw, err := a.searcher.Search(ctx, query, opts.ResultCount)
	if err != nil {
		// provider failure is a non-fatal empty result set
		a.logger.Warn("search provider failed",
			zap.String("provider", string(a.searcher.Kind())), zap.Error(err))
		raw = nil
	}

	candidates := a.normalize(raw)
	if len(candidates) == 0 {
		a.logger.Info("no candidates after normalization", zap.String("query", query))
		return Result{}, ErrNoCandidates
	}

	enrichCtx, cancel := context.WithTimeout(ctx, opts.EnrichTimeout)
	enriched, summary := a.enricher.Enrich(enrichCtx, candidates)
	cancel()

	deduped := product.Dedupe(enriched, a.dedupe)

	rec, err := a.ranker.Rank(ctx, query, deduped)
	if err != nil {
		return Result{}, eris.Wrap(err, "rank products")
	}
	if opts.TopN > 0 && len(rec.Ranked) > opts.TopN {
		rec.Ranked = rec.Ranked[:opts.TopN]
	}

	result := Result{
		Recommendation: rec,
		Summary:        summary,
		Degraded:       rec.Degraded || summary.Degraded(),
	}
	a.logger.Info("search pipeline completed",
		zap.String("query", query),
		zap.Int("serp_results", len(raw)),
		zap.Int("candidates", len(candidates)),
		zap.Int("deduped", len(deduped)),
		zap.Int("ranked", len(rec.Ranked)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// normalize converts raw results to products, dropping malformed entries.
func (a *Agent) normalize(raw []product.RawResult) []product.Product {
	out := make([]product.Product, 0, len(raw))
	for _, r := range raw {
		p, err := product.Normalize(r, a.searcher.Kind())
		if err != nil {
			a.logger.Debug("dropped malformed search result",
				zap.String("title", r.Title), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
