package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	// MasterSecret seeds every signing key via HKDF. If unset an ephemeral
	// secret is generated at startup and all tokens die with the process.
	MasterSecret string

	Issuer string // Label shown in authenticator apps (default: steeple)

	StoreDriver   string // Store backend (sqlite, redis) (default: sqlite)
	DatabaseFile  string // SQLite database file (default: steeple.db)
	RedisAddr     string // Redis address (default: localhost:6379)
	RedisPassword string // Optional Redis password
	RedisDB       int    // Redis database number (default: 0)

	SessionTTL   time.Duration // Sliding session inactivity budget (default: 24h)
	CSRFMaxAge   time.Duration // CSRF token maximum age (default: 12h)
	ChallengeTTL time.Duration // Pending enrollment lifetime (default: 10m)
	MarkerTTL    time.Duration // Two-factor marker cookie lifetime (default: 12h)

	SessionCookie string // Session cookie name (default: steeple_session)
	CSRFCookie    string // CSRF cookie name (default: steeple_csrf)
	MarkerCookie  string // Marker cookie name (default: steeple_2fa)
	CookieSecure  bool   // Set Secure on cookies (default: true outside dev)
	HSTS          bool   // Emit Strict-Transport-Security (default: follows CookieSecure)

	// TwoFactorPrefixes are extra path prefixes requiring step-up, on top
	// of the built-in table. Comma separated.
	TwoFactorPrefixes []string

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expiry sweep interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		MasterSecret: os.Getenv("STEEPLE_MASTER_SECRET"),
		Issuer:       getEnvOrDefault("STEEPLE_ISSUER", "steeple"),

		StoreDriver:   getEnvOrDefault("STEEPLE_STORE_DRIVER", "sqlite"),
		DatabaseFile:  getEnvOrDefault("STEEPLE_DATABASE_FILE", "steeple.db"),
		RedisAddr:     getEnvOrDefault("STEEPLE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("STEEPLE_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("STEEPLE_REDIS_DB", 0),

		SessionTTL:   getEnvDurationOrDefault("STEEPLE_SESSION_TTL", 24*time.Hour),
		CSRFMaxAge:   getEnvDurationOrDefault("STEEPLE_CSRF_MAX_AGE", 12*time.Hour),
		ChallengeTTL: getEnvDurationOrDefault("STEEPLE_CHALLENGE_TTL", 10*time.Minute),
		MarkerTTL:    getEnvDurationOrDefault("STEEPLE_MARKER_TTL", 12*time.Hour),

		SessionCookie: getEnvOrDefault("STEEPLE_SESSION_COOKIE", "steeple_session"),
		CSRFCookie:    getEnvOrDefault("STEEPLE_CSRF_COOKIE", "steeple_csrf"),
		MarkerCookie:  getEnvOrDefault("STEEPLE_MARKER_COOKIE", "steeple_2fa"),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	cfg.CookieSecure = getEnvBoolOrDefault("STEEPLE_COOKIE_SECURE", cfg.Env != "dev")
	cfg.HSTS = getEnvBoolOrDefault("STEEPLE_HSTS", cfg.CookieSecure)

	if prefixes := os.Getenv("STEEPLE_TWOFACTOR_PREFIXES"); prefixes != "" {
		for _, p := range strings.Split(prefixes, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TwoFactorPrefixes = append(cfg.TwoFactorPrefixes, p)
			}
		}
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	return defaultValue
}
