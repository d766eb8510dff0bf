// Package search talks to SERP providers and returns raw shopping hits.
// Providers form a closed set selected by configuration at construction
// time; a provider failure is non-fatal and surfaces as an error the
// pipeline treats as an empty result.
package search

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"dealscout/product"
)

// Provider searches a SERP backend for shopping results.
type Provider interface {
	Search(ctx context.Context, query string, num int) ([]product.RawResult, error)
	Kind() product.ProviderKind
}

// Config selects and configures a provider.
type Config struct {
	Provider product.ProviderKind
	APIKey   string
	// BaseURL overrides the provider endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
}

// New constructs the configured provider. Unknown providers are rejected
// here rather than branched on mid-pipeline.
func New(cfg Config, client *http.Client) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("search: missing API key")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	switch cfg.Provider {
	case product.ProviderSerper, "":
		return newSerper(cfg, client), nil
	case product.ProviderSerpAPI:
		return newSerpAPI(cfg, client), nil
	default:
		return nil, eris.Errorf("search: unsupported provider %q", cfg.Provider)
	}
}
