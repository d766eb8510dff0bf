package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Heuristics are the matching and ranking tunables. They ship with
// compiled-in defaults and can be overridden by a yaml file.
type Heuristics struct {
	Dedupe struct {
		TitleSimilarity float64 `yaml:"title_similarity"`
		PriceTolerance  float64 `yaml:"price_tolerance"`
	} `yaml:"dedupe"`
	Rank struct {
		CandidateCap int `yaml:"candidate_cap"`
		MaxTokens    int `yaml:"max_tokens"`
	} `yaml:"rank"`
	Fetch struct {
		MinFields    int `yaml:"min_fields"`
		MinBodyBytes int `yaml:"min_body_bytes"`
	} `yaml:"fetch"`
}

func DefaultHeuristics() Heuristics {
	var h Heuristics
	h.Dedupe.TitleSimilarity = 0.90
	h.Dedupe.PriceTolerance = 0.02
	h.Rank.CandidateCap = 10
	h.Rank.MaxTokens = 3000
	h.Fetch.MinFields = 3
	h.Fetch.MinBodyBytes = 1000
	return h
}

// LoadHeuristics reads overrides from path. An empty path returns the
// defaults; a missing or unreadable file is an error so a typoed path does
// not silently fall back.
func LoadHeuristics(path string) (Heuristics, error) {
	h := DefaultHeuristics()
	if path == "" {
		return h, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return h, err
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, err
	}
	return h, nil
}
