package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort   int
	AuthToken string

	SearchProvider string
	SearchAPIKey   string

	LLMAPIKey string
	LLMModel  string

	CachePath      string
	CacheTTL       time.Duration
	RateLimitMax   int
	RateLimitWin   time.Duration
	EnrichWorkers  int
	EnrichTimeout  time.Duration
	HeadlessEnable bool
	ProxyURL       string

	HeuristicsPath string
}

func Load() (*Config, error) {
	appPort, err := strconv.Atoi(getEnvDefault("APP_PORT", "8080"))
	if err != nil {
		return nil, err
	}

	return &Config{
		AppPort:   appPort,
		AuthToken: os.Getenv("AUTH_TOKEN"),

		SearchProvider: getEnvDefault("SEARCH_PROVIDER", "serper"),
		SearchAPIKey:   getEnv("SEARCH_API_KEY"),

		LLMAPIKey: getEnv("LLM_API_KEY"),
		LLMModel:  getEnvDefault("LLM_MODEL", "gpt-4o-mini"),

		CachePath:      getEnvDefault("CACHE_PATH", "dealscout.db"),
		CacheTTL:       getEnvDuration("CACHE_TTL", 6*time.Hour),
		RateLimitMax:   getEnvInt("RATE_LIMIT_MAX", 10),
		RateLimitWin:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		EnrichWorkers:  getEnvInt("ENRICH_WORKERS", 5),
		EnrichTimeout:  getEnvDuration("ENRICH_TIMEOUT", 60*time.Second),
		HeadlessEnable: getEnvBool("HEADLESS_ENABLED", true),
		ProxyURL:       os.Getenv("PROXY_URL"),

		HeuristicsPath: os.Getenv("HEURISTICS_PATH"),
	}, nil
}

func getEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Environment variable %s is required but not set", key)
	}
	return value
}

func getEnvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Environment variable %s must be an integer, got %q", key, value)
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Fatalf("Environment variable %s must be a boolean, got %q", key, value)
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Environment variable %s must be a duration, got %q", key, value)
	}
	return d
}
