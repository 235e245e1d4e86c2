package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Store retry configuration
	StoreMaxRetries   int
	StoreRetryBackoff time.Duration
	StoreTimeout      time.Duration

	// Pending release worker
	ReleaseWorkerInterval time.Duration
	ReleaseMaxAttempts    int

	// Rate limiting
	PurchaseRateLimit  int
	PurchaseRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Store retries
		StoreMaxRetries:   getEnvAsInt("STORE_MAX_RETRIES", 3),
		StoreRetryBackoff: getEnvAsDuration("STORE_RETRY_BACKOFF", "100ms"),
		StoreTimeout:      getEnvAsDuration("STORE_TIMEOUT", "5s"),

		// Pending release worker
		ReleaseWorkerInterval: getEnvAsDuration("RELEASE_WORKER_INTERVAL", "10s"),
		ReleaseMaxAttempts:    getEnvAsInt("RELEASE_MAX_ATTEMPTS", 0), // 0 = unbounded

		// Rate limiting
		PurchaseRateLimit:  getEnvAsInt("PURCHASE_RATE_LIMIT", 10),
		PurchaseRateWindow: getEnvAsDuration("PURCHASE_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
