package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHeuristics(t *testing.T) {
	h := DefaultHeuristics()
	assert.Equal(t, 0.90, h.Dedupe.TitleSimilarity)
	assert.Equal(t, 0.02, h.Dedupe.PriceTolerance)
	assert.Equal(t, 10, h.Rank.CandidateCap)
	assert.Equal(t, 3, h.Fetch.MinFields)
	assert.Equal(t, 1000, h.Fetch.MinBodyBytes)
}

func TestLoadHeuristics_EmptyPathUsesDefaults(t *testing.T) {
	h, err := LoadHeuristics("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHeuristics(), h)
}

func TestLoadHeuristics_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heuristics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dedupe:
  title_similarity: 0.85
rank:
  candidate_cap: 5
`), 0o644))

	h, err := LoadHeuristics(path)
	require.NoError(t, err)

	assert.Equal(t, 0.85, h.Dedupe.TitleSimilarity)
	assert.Equal(t, 5, h.Rank.CandidateCap)
	// untouched keys keep their defaults
	assert.Equal(t, 0.02, h.Dedupe.PriceTolerance)
	assert.Equal(t, 3, h.Fetch.MinFields)
}

func TestLoadHeuristics_MissingFileErrors(t *testing.T) {
	_, err := LoadHeuristics(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadHeuristics_BadYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dedupe: ["), 0o644))

	_, err := LoadHeuristics(path)
	assert.Error(t, err)
}
