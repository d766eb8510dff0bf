package fetch

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
)

// jsonldProduct mirrors the schema.org Product shape we care about. Brand
// and offers appear both as plain strings and as nested objects in the wild.
type jsonldProduct struct {
	Type        any             `json:"@type"`
	Graph       []jsonldProduct `json:"@graph"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Brand       any             `json:"brand"`
	SKU         string          `json:"sku"`
	MPN         string          `json:"mpn"`
	Model       string          `json:"model"`
	Image       any             `json:"image"`
	Offers      any             `json:"offers"`
}

type jsonldOffer struct {
	Price         any    `json:"price"`
	PriceCurrency string `json:"priceCurrency"`
	Availability  string `json:"availability"`
	ItemCondition string `json:"itemCondition"`
}

// ExtractFields pulls product attributes out of a page body using a tiered
// approach: JSON-LD first, then OpenGraph/product meta tags, then itemprop
// microdata, then trafilatura page metadata. Later tiers never overwrite
// earlier ones.
func ExtractFields(body []byte, pageURL string) map[string]string {
	fields := make(map[string]string)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fields
	}

	extractJSONLD(doc, fields)
	if len(fields) < 3 {
		extractOpenGraph(doc, fields)
	}
	if len(fields) < 3 {
		extractMicrodata(doc, fields)
	}
	if len(fields) < 3 {
		extractPageMetadata(body, pageURL, fields)
	}
	return fields
}

func extractJSONLD(doc *goquery.Document, fields map[string]string) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}

		var nodes []jsonldProduct
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
				return true
			}
		} else {
			var node jsonldProduct
			if err := json.Unmarshal([]byte(raw), &node); err != nil {
				return true
			}
			nodes = append([]jsonldProduct{node}, node.Graph...)
		}

		for _, node := range nodes {
			if !isProductType(node.Type) {
				continue
			}
			applyJSONLDProduct(node, fields)
			return false
		}
		return true
	})
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Product" || strings.HasSuffix(v, "/Product")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && (s == "Product" || strings.HasSuffix(s, "/Product")) {
				return true
			}
		}
	}
	return false
}

func applyJSONLDProduct(node jsonldProduct, fields map[string]string) {
	setField(fields, "name", node.Name)
	setField(fields, "description", node.Description)
	setField(fields, "sku", node.SKU)
	setField(fields, "mpn", node.MPN)
	setField(fields, "model", node.Model)

	switch brand := node.Brand.(type) {
	case string:
		setField(fields, "brand", brand)
	case map[string]any:
		if name, ok := brand["name"].(string); ok {
			setField(fields, "brand", name)
		}
	}

	switch img := node.Image.(type) {
	case string:
		setField(fields, "image", img)
	case []any:
		if len(img) > 0 {
			if s, ok := img[0].(string); ok {
				setField(fields, "image", s)
			}
		}
	}

	offer := firstOffer(node.Offers)
	if offer == nil {
		return
	}
	switch p := offer.Price.(type) {
	case string:
		setField(fields, "price", p)
	case float64:
		setField(fields, "price", strconv.FormatFloat(p, 'f', -1, 64))
	}
	setField(fields, "currency", offer.PriceCurrency)
	if offer.Availability != "" {
		setField(fields, "availability", tailSegment(offer.Availability))
	}
	if offer.ItemCondition != "" {
		setField(fields, "condition", strings.ToLower(strings.TrimSuffix(
			tailSegment(offer.ItemCondition), "Condition")))
	}
}

func firstOffer(raw any) *jsonldOffer {
	decode := func(m map[string]any) *jsonldOffer {
		buf, err := json.Marshal(m)
		if err != nil {
			return nil
		}
		var o jsonldOffer
		if err := json.Unmarshal(buf, &o); err != nil {
			return nil
		}
		return &o
	}
	switch v := raw.(type) {
	case map[string]any:
		return decode(v)
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				return decode(m)
			}
		}
	}
	return nil
}

func extractOpenGraph(doc *goquery.Document, fields map[string]string) {
	og := map[string]string{
		"og:title":               "name",
		"og:description":         "description",
		"og:image":               "image",
		"og:brand":               "brand",
		"product:brand":          "brand",
		"og:price:amount":        "price",
		"product:price:amount":   "price",
		"og:price:currency":      "currency",
		"product:price:currency": "currency",
		"og:availability":        "availability",
		"product:availability":   "availability",
	}
	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		key, ok := og[prop]
		if !ok {
			return
		}
		content, _ := s.Attr("content")
		setField(fields, key, content)
	})
}

func extractMicrodata(doc *goquery.Document, fields map[string]string) {
	for _, prop := range []string{"name", "brand", "description", "sku", "price"} {
		sel := doc.Find(`[itemprop="` + prop + `"]`).First()
		if sel.Length() == 0 {
			continue
		}
		if content, ok := sel.Attr("content"); ok && content != "" {
			setField(fields, prop, content)
			continue
		}
		setField(fields, prop, strings.TrimSpace(sel.Text()))
	}
}

// extractPageMetadata is the last resort before giving up on structured
// data: trafilatura's metadata heuristics recover at least a title,
// description and image from most pages.
func extractPageMetadata(body []byte, pageURL string, fields map[string]string) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL: parsedURL,
	})
	if err != nil {
		return
	}
	setField(fields, "name", result.Metadata.Title)
	setField(fields, "description", result.Metadata.Description)
	setField(fields, "image", result.Metadata.Image)
	setField(fields, "sitename", result.Metadata.Sitename)
}

func setField(fields map[string]string, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if _, exists := fields[key]; exists {
		return
	}
	fields[key] = value
}

func tailSegment(s string) string {
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}
