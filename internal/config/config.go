package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Storage
	StoreBackend    string
	DatabaseURL     string
	DBMaxConns      int
	MigrationsDir   string
	StoreTimeout    time.Duration
	StoreMaxRetries int

	// Redis (optional; locks and split notifications stay in-process without it)
	RedisURL string
	LockWait time.Duration
	LockTTL  time.Duration

	// Auth
	JWTSecret  string
	JWTTTL     time.Duration
	BcryptCost int

	// Engagement thresholds
	IdleThreshold        time.Duration
	ActivityGapThreshold time.Duration
	ReaperInterval       time.Duration

	// Rate limiting on auth routes
	AuthRateLimit  int
	AuthRateWindow time.Duration

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		StoreBackend:         getEnvOrDefault("STORE_BACKEND", StoreBackendPostgres),
		DBMaxConns:           getEnvAsIntOrDefault("DB_MAX_CONNS", 20),
		MigrationsDir:        getEnvOrDefault("MIGRATIONS_DIR", "./migrations"),
		StoreTimeout:         getEnvAsDurationOrDefault("STORE_TIMEOUT", 5*time.Second),
		StoreMaxRetries:      getEnvAsIntOrDefault("STORE_MAX_RETRIES", 3),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		LockWait:             getEnvAsDurationOrDefault("LOCK_WAIT", 5*time.Second),
		LockTTL:              getEnvAsDurationOrDefault("LOCK_TTL", 30*time.Second),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		JWTTTL:               getEnvAsDurationOrDefault("JWT_TTL", 24*time.Hour),
		BcryptCost:           getEnvAsIntOrDefault("BCRYPT_COST", 10),
		IdleThreshold:        getEnvAsDurationOrDefault("IDLE_THRESHOLD", 180*time.Second),
		ActivityGapThreshold: getEnvAsDurationOrDefault("ACTIVITY_GAP_THRESHOLD", 2*time.Hour),
		ReaperInterval:       getEnvAsDurationOrDefault("REAPER_INTERVAL", 5*time.Minute),
		AuthRateLimit:        getEnvAsIntOrDefault("AUTH_RATE_LIMIT", 20),
		AuthRateWindow:       getEnvAsDurationOrDefault("AUTH_RATE_WINDOW", time.Minute),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.StoreBackend != StoreBackendMemory {
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go duration strings ("90s", "2h") or a
// bare integer number of seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
