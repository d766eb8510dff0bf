package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealscout/product"
)

func TestNew_ProviderSelection(t *testing.T) {
	client := &http.Client{}

	p, err := New(Config{Provider: product.ProviderSerper, APIKey: "k"}, client)
	require.NoError(t, err)
	assert.Equal(t, product.ProviderSerper, p.Kind())

	p, err = New(Config{Provider: product.ProviderSerpAPI, APIKey: "k"}, client)
	require.NoError(t, err)
	assert.Equal(t, product.ProviderSerpAPI, p.Kind())

	// empty defaults to serper
	p, err = New(Config{APIKey: "k"}, client)
	require.NoError(t, err)
	assert.Equal(t, product.ProviderSerper, p.Kind())

	_, err = New(Config{Provider: "bing", APIKey: "k"}, client)
	assert.Error(t, err)

	_, err = New(Config{Provider: product.ProviderSerper}, client)
	assert.Error(t, err)
}

func TestSerper_Search(t *testing.T) {
	var gotKey, gotMethod string
	var gotBody serperRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"shopping": []map[string]any{
				{"title": "Wireless Mouse A", "link": "https://a.example.com/1", "price": "$19.99", "source": "Store A"},
				{"title": "Wireless Mouse B", "link": "https://b.example.com/2", "price": "$24.99", "source": "Store B"},
			},
			"credits": 42,
		})
	}))
	defer srv.Close()

	provider, err := New(Config{Provider: product.ProviderSerper, APIKey: "secret", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	results, err := provider.Search(context.Background(), "wireless mouse", 10)
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "wireless mouse", gotBody.Q)
	assert.Equal(t, 10, gotBody.Num)

	require.Len(t, results, 2)
	assert.Equal(t, "Wireless Mouse A", results[0].Title)
	// positions backfilled from array order
	assert.Equal(t, 1, results[0].Position)
	assert.Equal(t, 2, results[1].Position)
}

func TestSerper_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	provider, err := New(Config{Provider: product.ProviderSerper, APIKey: "k", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = provider.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSerpAPI_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google_shopping", q.Get("engine"))
		assert.Equal(t, "usb hub", q.Get("q"))
		assert.Equal(t, "secret", q.Get("api_key"))

		json.NewEncoder(w).Encode(map[string]any{
			"shopping_results": []map[string]any{
				{"position": 1, "title": "Hub 1", "link": "https://x.example.com/1", "price": "$12.00", "source": "X", "product_id": "p-1"},
				{"position": 2, "title": "Hub 2", "link": "https://x.example.com/2", "price": "$13.00", "source": "X"},
				{"position": 3, "title": "Hub 3", "link": "https://x.example.com/3", "price": "$14.00", "source": "X"},
			},
		})
	}))
	defer srv.Close()

	provider, err := New(Config{Provider: product.ProviderSerpAPI, APIKey: "secret", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	results, err := provider.Search(context.Background(), "usb hub", 2)
	require.NoError(t, err)

	// truncated to the requested count
	require.Len(t, results, 2)
	assert.Equal(t, "Hub 1", results[0].Title)
	assert.Equal(t, "p-1", results[0].ProductID)
}
