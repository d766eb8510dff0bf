package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// maxExtractionChars bounds how much page text goes into the extraction
// prompt.
const maxExtractionChars = 15000

// LLMExtractor recovers product attributes from pages whose markup carries
// no usable structured data. The page's main content is isolated with
// readability, converted to markdown and handed to the model in JSON mode.
type LLMExtractor struct {
	model  llms.Model
	logger *zap.Logger
}

type llmSpecs struct {
	Description    string         `json:"description"`
	Specifications map[string]any `json:"specifications"`
	Features       []string       `json:"features"`
	Brand          string         `json:"brand"`
	Category       string         `json:"category"`
}

// NewLLMExtractor wraps a completion model for attribute extraction.
func NewLLMExtractor(model llms.Model, logger *zap.Logger) *LLMExtractor {
	return &LLMExtractor{model: model, logger: logger}
}

// Extract asks the model for a structured attribute set. The model's output
// is parsed defensively; anything unparseable is an error, never a panic.
func (e *LLMExtractor) Extract(ctx context.Context, html, pageURL, name string) (map[string]string, error) {
	text := e.contentMarkdown(html, pageURL)
	if text == "" {
		return nil, eris.New("no processable text content in page")
	}
	if len(text) > maxExtractionChars {
		text = text[:maxExtractionChars] + "\n... (truncated)"
	}

	prompt := buildExtractionPrompt(text, name)
	resp, err := llms.GenerateFromSinglePrompt(ctx, e.model, prompt,
		llms.WithJSONMode(),
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(2000),
	)
	if err != nil {
		return nil, eris.Wrap(err, "extraction model call failed")
	}

	var specs llmSpecs
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &specs); err != nil {
		return nil, eris.Wrap(err, "extraction response is not valid JSON")
	}

	fields := make(map[string]string)
	setField(fields, "description", specs.Description)
	setField(fields, "brand", specs.Brand)
	setField(fields, "category", specs.Category)
	for k, v := range specs.Specifications {
		if v == nil {
			continue
		}
		setField(fields, strings.TrimSpace(k), fmt.Sprint(v))
	}
	if len(specs.Features) > 0 {
		var valid []string
		for _, f := range specs.Features {
			if f = strings.TrimSpace(f); f != "" {
				valid = append(valid, f)
			}
		}
		setField(fields, "features", strings.Join(valid, ", "))
	}

	e.logger.Debug("llm extraction produced fields",
		zap.String("url", pageURL), zap.Int("fields", len(fields)))
	return fields, nil
}

// contentMarkdown isolates the page's main content and converts it to
// markdown so the prompt keeps headings and tables without markup noise.
func (e *LLMExtractor) contentMarkdown(html, pageURL string) string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(html), parsedURL)
	if err != nil || article.Content == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		// fall back to the plain text extraction
		return strings.TrimSpace(article.TextContent)
	}
	return strings.TrimSpace(md)
}

func buildExtractionPrompt(text, name string) string {
	contextStr := ""
	if name != "" {
		contextStr = fmt.Sprintf(" for the product named %q", name)
	}
	return fmt.Sprintf(`Analyze the following content extracted from a product page%s.

Extract key product information and return ONLY a single valid JSON object with these exact keys:
- "description": the main product description (string or null)
- "specifications": technical specifications as an object of name -> value (e.g. {"Screen Size": "14 inch"})
- "features": key selling points as an array of strings
- "brand": the product brand (string or null)
- "category": the primary product category (string or null)

If a piece of information cannot be found reliably, use null, {} or [] as appropriate.

Product page content:
%s
`, contextStr, text)
}

// stripCodeFence removes a markdown fence if the model wrapped its JSON in
// one despite the JSON-mode instruction.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
