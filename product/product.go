package product

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// EnrichmentStatus tracks how far a product got through enrichment.
// It only advances pending -> {enriched, partial, failed}, never back.
type EnrichmentStatus string

const (
	StatusPending  EnrichmentStatus = "pending"
	StatusEnriched EnrichmentStatus = "enriched"
	StatusPartial  EnrichmentStatus = "partial"
	StatusFailed   EnrichmentStatus = "failed"
)

// statusRank orders statuses for dedupe merge decisions.
var statusRank = map[EnrichmentStatus]int{
	StatusEnriched: 3,
	StatusPartial:  2,
	StatusFailed:   1,
	StatusPending:  0,
}

func (s EnrichmentStatus) Rank() int {
	return statusRank[s]
}

// Advance moves the status forward only. A product that is already enriched
// never regresses to partial or failed.
func (s EnrichmentStatus) Advance(next EnrichmentStatus) EnrichmentStatus {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// Source records where the product's data came from.
type Source string

const (
	SourceSERP     Source = "serp_only"
	SourceHTTP     Source = "http_fetch"
	SourceHeadless Source = "headless_fallback"
)

// Price is a normalized price in minor currency units.
type Price struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// Product is the canonical record flowing through the pipeline.
type Product struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Price      *Price            `json:"price,omitempty"`
	URL        string            `json:"url"`
	Merchant   string            `json:"merchant,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Status     EnrichmentStatus  `json:"enrichment_status"`
	Source     Source            `json:"source"`
	Position   int               `json:"position"`
}

// SetAttr adds an attribute, allocating the map on first use.
func (p *Product) SetAttr(key, value string) {
	if key == "" || value == "" {
		return
	}
	if p.Attributes == nil {
		p.Attributes = make(map[string]string)
	}
	p.Attributes[key] = value
}

// Completeness counts how many identity and attribute fields are populated.
// Used by the heuristic ranking fallback.
func (p *Product) Completeness() int {
	n := len(p.Attributes)
	if p.Price != nil {
		n++
	}
	if p.Merchant != "" {
		n++
	}
	if p.ImageURL != "" {
		n++
	}
	return n
}

// StableKey returns the identifier preferred for cache keys: a provider
// product ID, SKU or MPN when enrichment surfaced one, else the URL hash.
func (p *Product) StableKey() string {
	for _, k := range []string{"productId", "sku", "mpn"} {
		if v, ok := p.Attributes[k]; ok && v != "" {
			return "id:" + v
		}
	}
	return "urlhash:" + HashURL(p.URL)
}

// NormalizeURL strips query parameters, fragments and trailing slashes and
// lowercases the host, so duplicate listings hash to the same key.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return strings.TrimRight(u.String(), "/")
}

// HashURL returns a stable hex digest of the normalized URL.
func HashURL(raw string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(raw)))
	return hex.EncodeToString(sum[:])
}

// Origin returns the host a URL points at, for rate-limit accounting.
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

// deriveID builds the product ID from its identifying fields. The same input
// always yields the same ID across pipeline runs.
func deriveID(normURL, title, merchant string) string {
	var seed string
	if normURL != "" {
		seed = "url:" + normURL
	} else {
		seed = "tm:" + strings.ToLower(title) + "|" + strings.ToLower(merchant)
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}
