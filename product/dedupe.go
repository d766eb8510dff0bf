package product

import (
	"math"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/kljensen/snowball"
)

// DedupeOptions holds the tunable matching thresholds. Defaults are loaded
// from the heuristics config; see config.Heuristics.
type DedupeOptions struct {
	// TitleSimilarity is the minimum stemmed-title similarity (0..1) for two
	// listings from the same merchant to be considered the same product.
	TitleSimilarity float64
	// PriceTolerance is the maximum relative price difference for the
	// title-similarity rule, e.g. 0.02 for 2%.
	PriceTolerance float64
}

// DefaultDedupeOptions returns the matching thresholds used when no
// heuristics file overrides them.
func DefaultDedupeOptions() DedupeOptions {
	return DedupeOptions{
		TitleSimilarity: 0.90,
		PriceTolerance:  0.02,
	}
}

// Dedupe collapses products that refer to the same real-world listing.
// Exact normalized-URL matches always collapse; beyond that, two products
// from the same merchant whose stemmed titles are close enough and whose
// prices agree within tolerance are treated as the same product. Output
// preserves first-occurrence order of the surviving representatives.
func Dedupe(products []Product, opts DedupeOptions) []Product {
	if len(products) <= 1 {
		return products
	}
	if opts.TitleSimilarity <= 0 {
		opts = DefaultDedupeOptions()
	}

	type entry struct {
		rep      Product
		normURL  string
		titleKey string
	}

	var kept []entry
	byURL := make(map[string]int, len(products))

	for _, p := range products {
		normURL := NormalizeURL(p.URL)

		matched := -1
		if i, ok := byURL[normURL]; ok && normURL != "" {
			matched = i
		} else {
			key := stemTitle(p.Title)
			for i := range kept {
				if kept[i].rep.Merchant != p.Merchant || p.Merchant == "" {
					continue
				}
				if !priceWithin(kept[i].rep.Price, p.Price, opts.PriceTolerance) {
					continue
				}
				if levenshtein.Match(kept[i].titleKey, key, nil) >= opts.TitleSimilarity {
					matched = i
					break
				}
			}
		}

		if matched < 0 {
			kept = append(kept, entry{rep: p, normURL: normURL, titleKey: stemTitle(p.Title)})
			if normURL != "" {
				byURL[normURL] = len(kept) - 1
			}
			continue
		}
		kept[matched].rep = merge(kept[matched].rep, p)
	}

	out := make([]Product, len(kept))
	for i := range kept {
		out[i] = kept[i].rep
	}
	return out
}

// merge combines two records for the same product. The one with the higher
// enrichment status wins as the base; attributes present in exactly one side
// are never dropped, and conflicts prefer the longer, more specific value.
func merge(a, b Product) Product {
	base, other := a, b
	if b.Status.Rank() > a.Status.Rank() {
		base, other = b, a
		// Order in the batch follows the first occurrence.
		base.Position = a.Position
	}

	if base.Price == nil {
		base.Price = other.Price
	}
	if base.ImageURL == "" {
		base.ImageURL = other.ImageURL
	}
	if base.Merchant == "" {
		base.Merchant = other.Merchant
	}
	cloned := false
	for k, v := range other.Attributes {
		cur, ok := base.Attributes[k]
		if !ok || len(strings.TrimSpace(cur)) < len(strings.TrimSpace(v)) {
			if !cloned {
				// copy-on-write so the input slice's maps stay untouched
				base.Attributes = cloneAttrs(base.Attributes)
				cloned = true
			}
			base.Attributes[k] = v
		}
	}
	return base
}

func cloneAttrs(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func priceWithin(a, b *Price, tolerance float64) bool {
	if a == nil || b == nil {
		// Unknown price on either side does not rule the match out.
		return true
	}
	if a.Currency != b.Currency {
		return false
	}
	hi := math.Max(float64(a.AmountMinor), float64(b.AmountMinor))
	if hi == 0 {
		return true
	}
	diff := math.Abs(float64(a.AmountMinor) - float64(b.AmountMinor))
	return diff/hi <= tolerance
}

// stemTitle lowercases, stems and rejoins the title tokens so cosmetic
// variations ("Mice" vs "Mouse", punctuation) compare equal.
func stemTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	for i, w := range fields {
		if stem, err := snowball.Stem(w, "english", true); err == nil {
			fields[i] = stem
		}
	}
	return strings.Join(fields, " ")
}
