package product

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ProviderKind names the SERP provider a RawResult came from.
type ProviderKind string

const (
	ProviderSerper  ProviderKind = "serper"
	ProviderSerpAPI ProviderKind = "serpapi"
)

// RawResult is a provider-specific search hit before normalization.
type RawResult struct {
	Title     string  `json:"title"`
	Price     string  `json:"price"`
	Link      string  `json:"link"`
	Source    string  `json:"source"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Position  int     `json:"position"`
	Rating    float64 `json:"rating,omitempty"`
	Reviews   int     `json:"ratingCount,omitempty"`
	Delivery  string  `json:"delivery,omitempty"`
	ProductID string  `json:"productId,omitempty"`
}

// ErrMalformedResult marks a search hit that cannot become a Product.
// Such hits are dropped from the batch, not fatal to it.
var ErrMalformedResult = eris.New("malformed search result")

var priceNumRe = regexp.MustCompile(`(\d+(?:[.,]\d{3})*(?:[.,]\d{1,2})?)`)

// Normalize maps a raw search hit into a canonical Product. It is pure and
// total: malformed price or image fields degrade to absent rather than
// failing. Title and URL are required.
func Normalize(raw RawResult, provider ProviderKind) (Product, error) {
	title := strings.TrimSpace(raw.Title)
	link := strings.TrimSpace(raw.Link)
	if title == "" {
		return Product{}, eris.Wrap(ErrMalformedResult, "missing title")
	}
	if link == "" {
		return Product{}, eris.Wrap(ErrMalformedResult, "missing url")
	}

	normURL := NormalizeURL(link)
	merchant := strings.ToLower(strings.TrimSpace(raw.Source))

	p := Product{
		ID:       deriveID(normURL, title, merchant),
		Title:    title,
		Price:    ParsePrice(raw.Price),
		URL:      link,
		Merchant: merchant,
		ImageURL: strings.TrimSpace(raw.Thumbnail),
		Status:   StatusPending,
		Source:   SourceSERP,
		Position: raw.Position,
	}

	if raw.Rating > 0 {
		p.SetAttr("rating", strconv.FormatFloat(raw.Rating, 'f', -1, 64))
	}
	if raw.Reviews > 0 {
		p.SetAttr("reviewCount", strconv.Itoa(raw.Reviews))
	}
	if raw.Delivery != "" {
		p.SetAttr("shipping", raw.Delivery)
	}
	if raw.ProductID != "" {
		p.SetAttr("productId", raw.ProductID)
	}
	if cond := detectCondition(raw.Price); cond != "" {
		p.SetAttr("condition", cond)
	}
	p.SetAttr("provider", string(provider))

	return p, nil
}

// ParsePrice extracts the first numeric amount from a raw price string and
// converts it to minor units. Returns nil when nothing parseable is found.
func ParsePrice(s string) *Price {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	currency := "USD"
	switch {
	case strings.Contains(s, "€"):
		currency = "EUR"
	case strings.Contains(s, "£"):
		currency = "GBP"
	}

	m := priceNumRe.FindString(s)
	if m == "" {
		return nil
	}

	// The last separator is the decimal point when followed by one or two
	// digits; three digits mean a thousands separator ("$1,299" is 1299,
	// not 1.299). Everything before it is grouping and gets stripped.
	whole, frac := m, "0"
	if i := strings.LastIndexAny(m, ".,"); i >= 0 {
		if len(m)-i-1 == 3 {
			whole, frac = m[:i]+m[i+1:], "0"
		} else {
			whole, frac = m[:i], m[i+1:]
		}
		whole = strings.Map(func(r rune) rune {
			if r == '.' || r == ',' {
				return -1
			}
			return r
		}, whole)
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return nil
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return nil
	}
	amount := w*100 + f
	if amount <= 0 {
		return nil
	}
	return &Price{AmountMinor: amount, Currency: currency}
}

// detectCondition pulls the listing condition retailers append to the price
// text, e.g. "$299.00 refurbished".
func detectCondition(priceStr string) string {
	lower := strings.ToLower(priceStr)
	for _, cond := range []string{"refurbished", "used", "renewed", "new"} {
		if strings.Contains(lower, " "+cond) {
			return cond
		}
	}
	return ""
}
