package main

import (
	"log"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"dealscout/agent"
	"dealscout/api"
	"dealscout/cache"
	"dealscout/config"
	"dealscout/enrich"
	"dealscout/fetch"
	"dealscout/product"
	"dealscout/rank"
	"dealscout/search"
)

func main() {
	// =========
	// Profiling
	// =========
	go func() {
		http.ListenAndServe(":6060", nil)
	}()

	// =========
	// Config
	// =========
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	heuristics, err := config.LoadHeuristics(cfg.HeuristicsPath)
	if err != nil {
		log.Fatalf("Failed to load heuristics: %v", err)
	}

	// =========
	// Logging
	// =========
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	// =========
	// Cache / rate limiter
	// =========
	store, err := cache.Open(cache.Options{
		Path:         cfg.CachePath,
		MaxPerWindow: cfg.RateLimitMax,
		Window:       cfg.RateLimitWin,
	}, logger)
	if err != nil {
		logger.Warn("cache unavailable, running without it", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	// =========
	// Search provider
	// =========
	provider, err := search.New(search.Config{
		Provider: product.ProviderKind(cfg.SearchProvider),
		APIKey:   cfg.SearchAPIKey,
	}, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		logger.Fatal("failed to create search provider", zap.Error(err))
	}

	// =========
	// LLM
	// =========
	model, err := openai.New(
		openai.WithToken(cfg.LLMAPIKey),
		openai.WithModel(cfg.LLMModel),
	)
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}

	// =========
	// Page fetcher
	// =========
	var renderer fetch.Renderer
	if cfg.HeadlessEnable {
		renderer = fetch.NewChromeRenderer(logger, "", cfg.ProxyURL, 30*time.Second)
	}
	fetcher, err := fetch.New(fetch.Config{
		MinFields:    heuristics.Fetch.MinFields,
		MinBodyBytes: heuristics.Fetch.MinBodyBytes,
		ProxyURL:     cfg.ProxyURL,
	}, renderer, fetch.NewLLMExtractor(model, logger), logger)
	if err != nil {
		logger.Fatal("failed to create fetcher", zap.Error(err))
	}

	// =========
	// Pipeline
	// =========
	enricher := enrich.New(enrich.Config{
		Parallelism: cfg.EnrichWorkers,
		CacheTTL:    cfg.CacheTTL,
		MinFields:   heuristics.Fetch.MinFields,
	}, fetcher, store, logger)

	ranker := rank.New(model, rank.Config{
		CandidateCap: heuristics.Rank.CandidateCap,
		MaxTokens:    heuristics.Rank.MaxTokens,
	}, logger)

	pipeline := agent.New(provider, enricher, ranker, product.DedupeOptions{
		TitleSimilarity: heuristics.Dedupe.TitleSimilarity,
		PriceTolerance:  heuristics.Dedupe.PriceTolerance,
	}, logger)

	// =========
	// HTTP API
	// =========
	handlers := api.NewHandlers(pipeline, cfg.EnrichTimeout, logger)
	server := api.NewServer(handlers, cfg.AppPort, cfg.AuthToken, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
