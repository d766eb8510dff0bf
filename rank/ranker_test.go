package rank

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"dealscout/product"
)

type scriptedModel struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) > 0 {
		for _, part := range messages[0].Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.responses[idx]}},
	}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func rankProduct(n int, attrs map[string]string) product.Product {
	p := product.Product{
		ID:       fmt.Sprintf("p%d", n),
		Title:    fmt.Sprintf("Product %d", n),
		URL:      fmt.Sprintf("https://example.com/p%d", n),
		Merchant: "example",
		Position: n,
		Status:   product.StatusEnriched,
	}
	for k, v := range attrs {
		p.SetAttr(k, v)
	}
	return p
}

func TestRank_OrdersByModelScore(t *testing.T) {
	model := &scriptedModel{responses: []string{`{
		"evaluation_categories": [
			{"name": "Battery Life", "description": "How long the device lasts"},
			{"name": "Comfort", "description": "Wearing comfort"}
		],
		"rankings": [
			{"product": 1, "score": 0.4, "explanation": "Decent but heavy"},
			{"product": 2, "score": 0.9, "explanation": "Best overall fit"},
			{"product": 3, "score": 0.7, "explanation": "Good value"}
		]
	}`}}

	ranker := New(model, Config{}, zap.NewNop())
	products := []product.Product{
		rankProduct(1, nil), rankProduct(2, nil), rankProduct(3, nil),
	}

	rec, err := ranker.Rank(context.Background(), "wireless headphones", products)
	require.NoError(t, err)

	require.Len(t, rec.Ranked, 3)
	assert.Equal(t, "p2", rec.Ranked[0].Product.ID)
	assert.Equal(t, "p3", rec.Ranked[1].Product.ID)
	assert.Equal(t, "p1", rec.Ranked[2].Product.ID)
	assert.Equal(t, 0.9, rec.Ranked[0].Score)
	assert.Equal(t, "Best overall fit", rec.Ranked[0].Explanation)
	assert.Equal(t, []string{"Battery Life", "Comfort"}, rec.Categories)
	assert.False(t, rec.Degraded)
}

func TestRank_EmptyInput(t *testing.T) {
	ranker := New(&scriptedModel{}, Config{}, zap.NewNop())
	_, err := ranker.Rank(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrNoProducts)
}

func TestRank_RetryThenSuccess(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"I think product 2 is clearly the best choice here.",
		`{"rankings": [{"product": 1, "score": 0.8, "explanation": "ok"}]}`,
	}}

	ranker := New(model, Config{}, zap.NewNop())
	rec, err := ranker.Rank(context.Background(), "q", []product.Product{rankProduct(1, nil)})
	require.NoError(t, err)

	assert.Equal(t, 2, model.calls)
	// retry carries a stricter instruction
	assert.Contains(t, model.prompts[1], "ONLY the JSON object")
	assert.False(t, rec.Degraded)
}

func TestRank_FallbackAfterTwoFailures(t *testing.T) {
	model := &scriptedModel{responses: []string{"not json", "still not json"}}

	incomplete := rankProduct(3, nil)
	complete := rankProduct(1, map[string]string{
		"brand": "Acme", "description": "long and useful", "rating": "4.5",
	})
	mid := rankProduct(2, map[string]string{"brand": "Other"})

	ranker := New(model, Config{}, zap.NewNop())
	rec, err := ranker.Rank(context.Background(), "q", []product.Product{incomplete, complete, mid})
	require.NoError(t, err)

	assert.True(t, rec.Degraded)
	assert.NotEmpty(t, rec.Rationale)
	require.Len(t, rec.Ranked, 3)
	// completeness desc, then position asc
	assert.Equal(t, "p1", rec.Ranked[0].Product.ID)
	assert.Equal(t, "p2", rec.Ranked[1].Product.ID)
	assert.Equal(t, "p3", rec.Ranked[2].Product.ID)
}

func TestRank_ModelErrorFallsBack(t *testing.T) {
	model := &scriptedModel{err: fmt.Errorf("connection refused")}

	ranker := New(model, Config{}, zap.NewNop())
	rec, err := ranker.Rank(context.Background(), "q", []product.Product{rankProduct(1, nil)})
	require.NoError(t, err)
	assert.True(t, rec.Degraded)
}

func TestRank_CandidateCap(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"rankings": [{"product": 1, "score": 0.9, "explanation": "x"}]}`,
	}}

	var products []product.Product
	for i := 1; i <= 15; i++ {
		attrs := map[string]string{}
		if i <= 12 {
			attrs["brand"] = "Acme" // more complete than the tail
		}
		products = append(products, rankProduct(i, attrs))
	}

	ranker := New(model, Config{CandidateCap: 10}, zap.NewNop())
	_, err := ranker.Rank(context.Background(), "q", products)
	require.NoError(t, err)

	require.NotEmpty(t, model.prompts)
	assert.Contains(t, model.prompts[0], "rank 10 products")
	assert.NotContains(t, model.prompts[0], "PRODUCT #11:")
}

func TestRank_UnscoredProductsGoLast(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"rankings": [{"product": 2, "score": 0.9, "explanation": "winner"}]}`,
	}}

	ranker := New(model, Config{}, zap.NewNop())
	rec, err := ranker.Rank(context.Background(), "q", []product.Product{
		rankProduct(1, nil), rankProduct(2, nil),
	})
	require.NoError(t, err)

	require.Len(t, rec.Ranked, 2)
	assert.Equal(t, "p2", rec.Ranked[0].Product.ID)
	assert.Equal(t, "p1", rec.Ranked[1].Product.ID)
}
