package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
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
	PubNubUserID       string

	// Seat pool configuration
	TotalSeats      int
	DesignatedSeats int
	FloatingBase    int

	// Booking policy configuration
	CutoffHour int
	Timezone   string

	// Transaction configuration
	TxMaxRetries int
	TxRetryDelay time.Duration

	// Cache configuration
	RosterCacheTTL time.Duration

	// Rate limiting
	BookingRateLimit  int
	BookingRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	// .env is optional; real deployments use actual environment variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Skipping .env file: %v", err)
	}

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
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "deskbook-server"),

		// Seat pool
		TotalSeats:      getEnvAsInt("TOTAL_SEATS", 50),
		DesignatedSeats: getEnvAsInt("DESIGNATED_SEATS", 40),
		FloatingBase:    getEnvAsInt("FLOATING_BASE", 10),

		// Policy; the cutoff hour was still being iterated on by the office
		// admins, so it stays configurable instead of hardcoded
		CutoffHour: getEnvAsInt("CUTOFF_HOUR", 12),
		Timezone:   getEnv("TIMEZONE", "Local"),

		// Transactions
		TxMaxRetries: getEnvAsInt("TX_MAX_RETRIES", 3),
		TxRetryDelay: getEnvAsDuration("TX_RETRY_DELAY", "50ms"),

		// Cache
		RosterCacheTTL: getEnvAsDuration("ROSTER_CACHE_TTL", "30s"),

		// Rate limiting
		BookingRateLimit:  getEnvAsInt("BOOKING_RATE_LIMIT", 30),
		BookingRateWindow: getEnvAsDuration("BOOKING_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

// Location resolves the configured timezone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Invalid TIMEZONE %q, using local zone: %v", c.Timezone, err)
		return time.Local
	}
	return loc
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
