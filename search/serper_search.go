package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"dealscout/product"
)

const defaultSerperURL = "https://google.serper.dev/shopping"

// SerperProvider queries the serper.dev shopping API.
type SerperProvider struct {
	client  *http.Client
	apiKey  string
	baseURL string
	logger  *zap.Logger
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	Shopping []product.RawResult `json:"shopping"`
	Credits  int                 `json:"credits"`
}

func newSerper(cfg Config, client *http.Client) *SerperProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSerperURL
	}
	return &SerperProvider{
		client:  client,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		logger:  zap.NewNop(),
	}
}

// WithLogger replaces the provider's logger.
func (s *SerperProvider) WithLogger(logger *zap.Logger) *SerperProvider {
	s.logger = logger
	return s
}

func (s *SerperProvider) Kind() product.ProviderKind {
	return product.ProviderSerper
}

func (s *SerperProvider) Search(ctx context.Context, query string, num int) ([]product.RawResult, error) {
	if num <= 0 {
		num = 10
	}
	body, err := json.Marshal(serperRequest{Q: query, Num: num})
	if err != nil {
		return nil, eris.Wrap(err, "serper: failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "serper: failed to create request")
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serper: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, eris.Errorf("serper: API returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "serper: failed to decode response")
	}

	if out.Credits > 0 {
		s.logger.Debug("serper credits remaining", zap.Int("credits", out.Credits))
	}

	// serper leaves position implicit in the array order for some plans
	for i := range out.Shopping {
		if out.Shopping[i].Position == 0 {
			out.Shopping[i].Position = i + 1
		}
	}
	return out.Shopping, nil
}
