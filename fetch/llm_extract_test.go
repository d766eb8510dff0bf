package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// scriptedModel replays canned responses in order.
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

const productPage = `<html><head><title>Bose QC45</title></head><body>
<article><h1>Bose QuietComfort 45</h1>
<p>Noise cancelling over-ear headphones with 24 hour battery life and
Bluetooth 5.1. Lightweight design with plush ear cushions for all day
comfort. Includes carry case and audio cable.</p></article>
</body></html>`

func TestLLMExtractor_Extract(t *testing.T) {
	model := &scriptedModel{responses: []string{`{
		"description": "Noise cancelling over-ear headphones.",
		"specifications": {"battery": "24 hours", "bluetooth": 5.1},
		"features": ["noise cancelling", "carry case"],
		"brand": "Bose",
		"category": "headphones"
	}`}}

	extractor := NewLLMExtractor(model, zap.NewNop())
	fields, err := extractor.Extract(context.Background(), productPage, "https://example.com/bose", "Bose QC45")
	require.NoError(t, err)

	assert.Equal(t, "Noise cancelling over-ear headphones.", fields["description"])
	assert.Equal(t, "24 hours", fields["battery"])
	assert.Equal(t, "5.1", fields["bluetooth"])
	assert.Equal(t, "noise cancelling, carry case", fields["features"])
	assert.Equal(t, "Bose", fields["brand"])
	assert.Equal(t, "headphones", fields["category"])
}

func TestLLMExtractor_CodeFencedResponse(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"```json\n{\"description\": \"Fenced description.\", \"brand\": \"Acme\"}\n```",
	}}

	extractor := NewLLMExtractor(model, zap.NewNop())
	fields, err := extractor.Extract(context.Background(), productPage, "https://example.com/p", "Widget")
	require.NoError(t, err)
	assert.Equal(t, "Fenced description.", fields["description"])
	assert.Equal(t, "Acme", fields["brand"])
}

func TestLLMExtractor_MalformedResponse(t *testing.T) {
	model := &scriptedModel{responses: []string{"sorry, I cannot help with that"}}

	extractor := NewLLMExtractor(model, zap.NewNop())
	_, err := extractor.Extract(context.Background(), productPage, "https://example.com/p", "Widget")
	assert.Error(t, err)
}
