package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNormalize(t *testing.T, raw RawResult) Product {
	t.Helper()
	p, err := Normalize(raw, ProviderSerper)
	require.NoError(t, err)
	return p
}

func TestDedupe_IdenticalURLCollapses(t *testing.T) {
	a := mustNormalize(t, RawResult{
		Title:  "Anker PowerCore 10000",
		Link:   "https://example.com/p/anker-10000?ref=a",
		Source: "example",
		Price:  "$25.99",
	})
	a.SetAttr("color", "black")

	b := mustNormalize(t, RawResult{
		Title:  "Anker PowerCore 10000 mAh",
		Link:   "https://example.com/p/anker-10000?ref=b",
		Source: "example",
	})
	b.SetAttr("capacity", "10000mAh")
	b.Status = StatusEnriched

	out := Dedupe([]Product{a, b}, DefaultDedupeOptions())
	require.Len(t, out, 1)

	// union of attributes from both sides
	assert.Equal(t, "black", out[0].Attributes["color"])
	assert.Equal(t, "10000mAh", out[0].Attributes["capacity"])
	// higher enrichment status wins as base
	assert.Equal(t, StatusEnriched, out[0].Status)
	// price survives from the side that had one
	require.NotNil(t, out[0].Price)
	assert.Equal(t, int64(2599), out[0].Price.AmountMinor)
}

func TestDedupe_SimilarTitleSameMerchant(t *testing.T) {
	a := mustNormalize(t, RawResult{
		Title:  "Sony WH-1000XM5 Wireless Headphones",
		Link:   "https://shop.example.com/sony-wh1000xm5",
		Source: "example",
		Price:  "$348.00",
	})
	b := mustNormalize(t, RawResult{
		Title:  "Sony WH-1000XM5 Wireless Headphone",
		Link:   "https://shop.example.com/sony-wh1000xm5-black",
		Source: "example",
		Price:  "$349.99",
	})

	out := Dedupe([]Product{a, b}, DefaultDedupeOptions())
	assert.Len(t, out, 1)
}

func TestDedupe_DifferentMerchantsStaySeparate(t *testing.T) {
	a := mustNormalize(t, RawResult{
		Title:  "Sony WH-1000XM5 Wireless Headphones",
		Link:   "https://a.example.com/sony",
		Source: "store-a",
		Price:  "$348.00",
	})
	b := mustNormalize(t, RawResult{
		Title:  "Sony WH-1000XM5 Wireless Headphones",
		Link:   "https://b.example.com/sony",
		Source: "store-b",
		Price:  "$348.00",
	})

	out := Dedupe([]Product{a, b}, DefaultDedupeOptions())
	assert.Len(t, out, 2)
}

func TestDedupe_PriceOutsideToleranceStaysSeparate(t *testing.T) {
	a := mustNormalize(t, RawResult{
		Title:  "Dell 27 Monitor S2722QC",
		Link:   "https://example.com/dell-monitor-1",
		Source: "example",
		Price:  "$299.99",
	})
	b := mustNormalize(t, RawResult{
		Title:  "Dell 27 Monitor S2722QC",
		Link:   "https://example.com/dell-monitor-2",
		Source: "example",
		Price:  "$249.99",
	})

	out := Dedupe([]Product{a, b}, DefaultDedupeOptions())
	assert.Len(t, out, 2)
}

func TestDedupe_OrderPreserved(t *testing.T) {
	first := mustNormalize(t, RawResult{
		Title: "Keyboard A", Link: "https://example.com/a", Source: "s1",
	})
	second := mustNormalize(t, RawResult{
		Title: "Mouse B", Link: "https://example.com/b", Source: "s2",
	})
	dupOfFirst := mustNormalize(t, RawResult{
		Title: "Keyboard A", Link: "https://example.com/a?v=2", Source: "s1",
	})

	out := Dedupe([]Product{first, second, dupOfFirst}, DefaultDedupeOptions())
	require.Len(t, out, 2)
	assert.Equal(t, "Keyboard A", out[0].Title)
	assert.Equal(t, "Mouse B", out[1].Title)
}

func TestStatusAdvanceNeverRegresses(t *testing.T) {
	s := StatusEnriched
	assert.Equal(t, StatusEnriched, s.Advance(StatusPartial))
	assert.Equal(t, StatusEnriched, s.Advance(StatusFailed))
	assert.Equal(t, StatusPartial, StatusPending.Advance(StatusPartial))
}
