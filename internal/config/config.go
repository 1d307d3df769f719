package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Environment
	Environment string

	// Server
	Port        string
	FrontendURL string

	// Storage
	StorageBackend string // postgres, sqlite or redis
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	MigrateOnStart bool

	// x402 facilitator
	FacilitatorURL      string
	FacilitatorAPIKey   string
	FacilitatorTimeout  time.Duration
	ChainID             int64
	TokenAddress        string
	ArcadeWalletAddress string
	PendingPaymentTTL   time.Duration
	NonceRetention      time.Duration

	// Game settings
	PrizePoolPercentage decimal.Decimal
	SessionTimeout      time.Duration
	SessionMaxAge       time.Duration

	// Leaderboard cache
	LeaderboardCacheSize int
	LeaderboardCacheTTL  time.Duration
	LeaderboardTopN      int

	// Scheduler
	PrizeFinalizationSchedule  string
	LeaderboardRefreshSchedule string
	SessionCleanupSchedule     string
	JobHistorySize             int

	// Rate limiting
	PaymentRateLimit  int
	PaymentRateWindow time.Duration

	// Admin
	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	AdminTokenTTL     time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),

		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "postgres")),
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/arcade?sslmode=disable"),
		SQLitePath:     getEnv("SQLITE_PATH", "arcade.db"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),

		FacilitatorURL:      getEnv("FACILITATOR_URL", "https://facilitator.cronoslabs.org"),
		FacilitatorAPIKey:   getEnv("FACILITATOR_API_KEY", ""),
		FacilitatorTimeout:  getEnvDuration("FACILITATOR_TIMEOUT", 30*time.Second),
		ChainID:             int64(getEnvInt("CHAIN_ID", 338)),
		TokenAddress:        getEnv("USDC_TOKEN_ADDRESS", "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0"),
		ArcadeWalletAddress: getEnv("ARCADE_WALLET_ADDRESS", ""),
		PendingPaymentTTL:   getEnvDuration("PENDING_PAYMENT_TTL", 60*time.Second),
		NonceRetention:      getEnvDuration("NONCE_RETENTION", 30*24*time.Hour),

		PrizePoolPercentage: getEnvDecimal("PRIZE_POOL_PERCENTAGE", decimal.NewFromInt(70)),
		SessionTimeout:      getEnvDuration("SESSION_TIMEOUT", 15*time.Minute),
		SessionMaxAge:       getEnvDuration("SESSION_MAX_AGE", 30*time.Minute),

		LeaderboardCacheSize: getEnvInt("LEADERBOARD_CACHE_SIZE", 256),
		LeaderboardCacheTTL:  getEnvDuration("LEADERBOARD_CACHE_TTL", 30*time.Second),
		LeaderboardTopN:      getEnvInt("LEADERBOARD_TOP_N", 100),

		PrizeFinalizationSchedule:  getEnv("PRIZE_FINALIZATION_SCHEDULE", "daily 00:05"),
		LeaderboardRefreshSchedule: getEnv("LEADERBOARD_REFRESH_SCHEDULE", "hourly :00"),
		SessionCleanupSchedule:     getEnv("SESSION_CLEANUP_SCHEDULE", "daily 03:00"),
		JobHistorySize:             getEnvInt("JOB_HISTORY_SIZE", 100),

		PaymentRateLimit:  getEnvInt("PAYMENT_RATE_LIMIT", 10),
		PaymentRateWindow: getEnvDuration("PAYMENT_RATE_WINDOW", 15*time.Minute),

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		AdminTokenTTL:     getEnvDuration("ADMIN_TOKEN_TTL", 4*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s", "15m"); a bare integer is read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
