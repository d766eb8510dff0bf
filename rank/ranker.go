// Package rank orders deduplicated products for a query using an LLM with
// a deterministic heuristic fallback when the model output is unusable.
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"dealscout/product"
)

// ErrNoProducts is returned when Rank is called with nothing to rank.
var ErrNoProducts = eris.New("no products to rank")

// Config tunes the ranking call.
type Config struct {
	// CandidateCap bounds how many products go into the prompt. Default 10.
	CandidateCap int
	// MaxTokens for the model response. Default 3000.
	MaxTokens int
	// Temperature for the model call. Default 0.2.
	Temperature float64
}

func (c *Config) applyDefaults() {
	if c.CandidateCap <= 0 {
		c.CandidateCap = 10
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 3000
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.2
	}
}

// Ranked is one product plus the model's verdict on it.
type Ranked struct {
	Product     product.Product `json:"product"`
	Score       float64         `json:"score"`
	Explanation string          `json:"explanation,omitempty"`
}

// Recommendation is the ordered result of a ranking pass.
type Recommendation struct {
	Query      string   `json:"query"`
	Ranked     []Ranked `json:"ranked"`
	Categories []string `json:"categories,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
	// Degraded is set when the heuristic fallback ordered the products
	// instead of the model.
	Degraded bool `json:"degraded"`
}

// Ranker asks a model to score candidates against the query.
type Ranker struct {
	model  llms.Model
	cfg    Config
	logger *zap.Logger
}

// New creates a Ranker around an llms.Model.
func New(model llms.Model, cfg Config, logger *zap.Logger) *Ranker {
	cfg.applyDefaults()
	return &Ranker{model: model, cfg: cfg, logger: logger}
}

// Rank orders products by relevance to the query. Model or parse failures
// never fail the call: after one retry the heuristic ordering is returned
// with Degraded set.
func (r *Ranker) Rank(ctx context.Context, query string, products []product.Product) (Recommendation, error) {
	if len(products) == 0 {
		return Recommendation{}, ErrNoProducts
	}

	candidates := r.capCandidates(products)
	prompt := buildRankingPrompt(query, candidates)

	rec, err := r.rankOnce(ctx, query, prompt, candidates)
	if err == nil {
		return rec, nil
	}
	r.logger.Warn("ranking response unusable, retrying with strict instruction", zap.Error(err))

	strict := prompt + "\n\nReturn ONLY the JSON object. No prose, no markdown, no code fences."
	rec, err = r.rankOnce(ctx, query, strict, candidates)
	if err == nil {
		return rec, nil
	}
	r.logger.Error("ranking failed twice, using heuristic ordering", zap.Error(err))
	return r.fallback(query, candidates, "Automatic ordering by detail completeness and search position; model ranking was unavailable."), nil
}

func (r *Ranker) rankOnce(ctx context.Context, query, prompt string, candidates []product.Product) (Recommendation, error) {
	resp, err := llms.GenerateFromSinglePrompt(ctx, r.model, prompt,
		llms.WithJSONMode(),
		llms.WithTemperature(r.cfg.Temperature),
		llms.WithMaxTokens(r.cfg.MaxTokens))
	if err != nil {
		return Recommendation{}, eris.Wrap(err, "ranking model call")
	}
	return parseRankingResponse(query, resp, candidates)
}

// capCandidates enforces the candidate cap, dropping the least complete,
// worst positioned products first. Order of survivors is preserved.
func (r *Ranker) capCandidates(products []product.Product) []product.Product {
	if len(products) <= r.cfg.CandidateCap {
		return products
	}
	type scored struct {
		idx int
		p   product.Product
	}
	ranked := make([]scored, len(products))
	for i, p := range products {
		ranked[i] = scored{idx: i, p: p}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		ca, cb := ranked[a].p.Completeness(), ranked[b].p.Completeness()
		if ca != cb {
			return ca > cb
		}
		return ranked[a].p.Position < ranked[b].p.Position
	})
	ranked = ranked[:r.cfg.CandidateCap]
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].idx < ranked[b].idx })
	out := make([]product.Product, len(ranked))
	for i, s := range ranked {
		out[i] = s.p
	}
	r.logger.Debug("candidate cap applied",
		zap.Int("in", len(products)), zap.Int("out", len(out)))
	return out
}

func (r *Ranker) fallback(query string, candidates []product.Product, reason string) Recommendation {
	ordered := make([]product.Product, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(a, b int) bool {
		ca, cb := ordered[a].Completeness(), ordered[b].Completeness()
		if ca != cb {
			return ca > cb
		}
		return ordered[a].Position < ordered[b].Position
	})
	ranked := make([]Ranked, len(ordered))
	for i, p := range ordered {
		ranked[i] = Ranked{Product: p, Score: 0.5, Explanation: reason}
	}
	return Recommendation{
		Query:     query,
		Ranked:    ranked,
		Rationale: reason,
		Degraded:  true,
	}
}

// buildRankingPrompt asks for a two-step analysis: product-type specific
// evaluation categories first, then per-product scores using them.
func buildRankingPrompt(query string, products []product.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a product ranking specialist helping rank %d products for the search query: %q

YOUR TASK: perform a two-step analysis.
1. FIRST: identify 4-6 evaluation categories specific to this product type and search context.
2. SECOND: rank each product using those categories.

The categories must be specific to this exact product type, relevant to the
query intent, and comparable across this result set. Do not use generic
predefined categories.

When ranking, weigh relevance to the query first, then price-value ratio,
brand and customer sentiment where available, and differentiating features.
Some products have limited details; rank on what is available and do not
heavily penalize missing data alone.

Respond with JSON in this exact structure:
{
  "evaluation_categories": [{"name": "...", "description": "..."}],
  "rankings": [{"product": 1, "score": 0.95, "explanation": "..."}]
}

"product" is the 1-based product number below, "score" is 0.0-1.0.

PRODUCTS:
`, len(products), query)

	for i, p := range products {
		fmt.Fprintf(&b, "\nPRODUCT #%d:\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
		fmt.Fprintf(&b, "Store: %s\n", orUnknown(p.Merchant))
		fmt.Fprintf(&b, "Brand: %s\n", orUnknown(p.Attributes["brand"]))
		fmt.Fprintf(&b, "Price: %s\n", formatPrice(p.Price))
		if rating := p.Attributes["rating"]; rating != "" {
			fmt.Fprintf(&b, "Rating: %s (%s reviews)\n", rating, orZero(p.Attributes["reviewCount"]))
		}
		if desc := p.Attributes["description"]; desc != "" {
			fmt.Fprintf(&b, "Description Snippet: %s\n", clip(desc, 80))
		}
		if specs := specExcerpt(p.Attributes, 4); specs != "" {
			fmt.Fprintf(&b, "Key Specifications: %s\n", specs)
		}
		if ship := p.Attributes["shipping"]; ship != "" {
			fmt.Fprintf(&b, "Shipping: %s\n", ship)
		}
	}
	return b.String()
}

// identity and bookkeeping keys that carry no ranking signal
var excludedSpecKeys = map[string]bool{
	"brand": true, "description": true, "rating": true, "reviewCount": true,
	"shipping": true, "productId": true, "sku": true, "mpn": true,
	"condition": true, "provider": true, "currency": true,
}

func specExcerpt(attrs map[string]string, limit int) string {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if !excludedSpecKeys[k] && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + clip(attrs[k], 60)
	}
	return strings.Join(parts, "; ")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatPrice(p *product.Price) string {
	if p == nil {
		return "Not Available"
	}
	return fmt.Sprintf("%.2f %s", float64(p.AmountMinor)/100, p.Currency)
}

type rankingResponse struct {
	EvaluationCategories []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"evaluation_categories"`
	Rankings []struct {
		Product     int     `json:"product"`
		Score       float64 `json:"score"`
		Explanation string  `json:"explanation"`
	} `json:"rankings"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON tolerates code fences and surrounding prose around the object.
func extractJSON(s string) (string, error) {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", eris.New("no JSON object in ranking response")
	}
	return s[start : end+1], nil
}

func parseRankingResponse(query, raw string, candidates []product.Product) (Recommendation, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return Recommendation{}, err
	}
	var parsed rankingResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Recommendation{}, eris.Wrap(err, "decode ranking response")
	}
	if len(parsed.Rankings) == 0 {
		return Recommendation{}, eris.New("ranking response has no rankings")
	}

	seen := make(map[int]bool, len(parsed.Rankings))
	ranked := make([]Ranked, 0, len(candidates))
	for _, entry := range parsed.Rankings {
		idx := entry.Product - 1
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		score := entry.Score
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		ranked = append(ranked, Ranked{
			Product:     candidates[idx],
			Score:       score,
			Explanation: strings.TrimSpace(entry.Explanation),
		})
	}
	if len(ranked) == 0 {
		return Recommendation{}, eris.New("ranking response references no known products")
	}
	// products the model skipped go to the bottom in input order
	for i, p := range candidates {
		if !seen[i] {
			ranked = append(ranked, Ranked{Product: p, Explanation: "Not scored by the model."})
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].Score > ranked[b].Score })

	var categories []string
	for _, c := range parsed.EvaluationCategories {
		if c.Name != "" {
			categories = append(categories, c.Name)
		}
	}

	return Recommendation{
		Query:      query,
		Ranked:     ranked,
		Categories: categories,
		Rationale:  rationaleFromCategories(categories),
	}, nil
}

func rationaleFromCategories(categories []string) string {
	if len(categories) == 0 {
		return "Ranked by model-assessed relevance to the query."
	}
	return "Ranked by model-assessed relevance using: " + strings.Join(categories, ", ") + "."
}
