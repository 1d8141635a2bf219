package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries every recognized runtime option. Values come from the
// environment, optionally seeded from a .env file in the working directory.
type Config struct {
	// Object storage (predictions + photo cache buckets).
	StorageEndpoint  string
	StorageRegion    string
	StorageAccessKey string
	StorageSecretKey string
	PredBucket       string
	CacheBucket      string

	// Label store.
	DatabaseDSN string

	// Run cache.
	RedisAddr string

	// Identity directory (OAuth2 client credentials).
	GraphBaseURL      string
	GraphTokenURL     string
	GraphClientID     string
	GraphClientSecret string
	GraphScope        string

	// Classifier.
	ModelPath string

	// Triage thresholds.
	MinConf float64
	LowConf float64

	// Run builder.
	BatchLimit int
	RunID      string

	// API surface.
	Port        string
	JWTSecret   string
	JWTAudience string
}

// Load reads configuration from the environment. A missing .env file is not
// an error; explicit environment variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StorageEndpoint:   os.Getenv("STORAGE_ENDPOINT"),
		StorageRegion:     getEnv("STORAGE_REGION", "us-east-1"),
		StorageAccessKey:  os.Getenv("STORAGE_ACCESS_KEY"),
		StorageSecretKey:  os.Getenv("STORAGE_SECRET_KEY"),
		PredBucket:        getEnv("PRED_BUCKET", "predictions"),
		CacheBucket:       getEnv("CACHE_BUCKET", "profilepics-cache"),
		DatabaseDSN:       getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=pictriage port=5432 sslmode=disable"),
		RedisAddr:         getEnv("REDIS_ADDR", "redis:6379"),
		GraphBaseURL:      getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
		GraphTokenURL:     os.Getenv("GRAPH_TOKEN_URL"),
		GraphClientID:     os.Getenv("GRAPH_CLIENT_ID"),
		GraphClientSecret: os.Getenv("GRAPH_CLIENT_SECRET"),
		GraphScope:        getEnv("GRAPH_SCOPE", "https://graph.microsoft.com/.default"),
		ModelPath:         getEnv("MODEL_PATH", "models/profilepic.onnx"),
		RunID:             os.Getenv("RUN_ID"),
		Port:              getEnv("PORT", "8080"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:       os.Getenv("JWT_AUDIENCE"),
	}

	var err error
	if cfg.MinConf, err = getEnvFloat("MIN_CONF", 0.95); err != nil {
		return nil, err
	}
	if cfg.LowConf, err = getEnvFloat("LOW_CONF", 0.70); err != nil {
		return nil, err
	}
	if cfg.BatchLimit, err = getEnvInt("BATCH_LIMIT", 0); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}
