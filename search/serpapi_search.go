package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"dealscout/product"
)

const defaultSerpAPIURL = "https://serpapi.com/search"

// SerpAPIProvider queries serpapi.com's google_shopping engine.
type SerpAPIProvider struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

type serpAPIResponse struct {
	ShoppingResults []struct {
		Position  int     `json:"position"`
		Title     string  `json:"title"`
		Link      string  `json:"link"`
		Source    string  `json:"source"`
		Price     string  `json:"price"`
		Thumbnail string  `json:"thumbnail"`
		Rating    float64 `json:"rating"`
		Reviews   int     `json:"reviews"`
		ProductID string  `json:"product_id"`
		Delivery  string  `json:"delivery"`
	} `json:"shopping_results"`
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
}

func newSerpAPI(cfg Config, client *http.Client) *SerpAPIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSerpAPIURL
	}
	return &SerpAPIProvider{
		client:  client,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
	}
}

func (s *SerpAPIProvider) Kind() product.ProviderKind {
	return product.ProviderSerpAPI
}

func (s *SerpAPIProvider) Search(ctx context.Context, query string, num int) ([]product.RawResult, error) {
	if num <= 0 {
		num = 10
	}

	params := url.Values{}
	params.Set("engine", "google_shopping")
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: failed to create request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("serpapi: API returned status %d", resp.StatusCode)
	}

	var out serpAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "serpapi: failed to decode response")
	}

	results := make([]product.RawResult, 0, len(out.ShoppingResults))
	for i, item := range out.ShoppingResults {
		pos := item.Position
		if pos == 0 {
			pos = i + 1
		}
		results = append(results, product.RawResult{
			Title:     item.Title,
			Price:     item.Price,
			Link:      item.Link,
			Source:    item.Source,
			Thumbnail: item.Thumbnail,
			Position:  pos,
			Rating:    item.Rating,
			Reviews:   item.Reviews,
			Delivery:  item.Delivery,
			ProductID: item.ProductID,
		})
	}

	if len(results) > num {
		results = results[:num]
	}
	return results, nil
}
