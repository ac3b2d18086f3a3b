package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything read from the environment.
type Config struct {
	Port              int
	DBDSN             string
	DBConnectAttempts int
	DBTimeout         time.Duration
	AutoMigrate       bool
	RedisURL          string
	JWTAccessTTL      time.Duration
	JWTRefreshTTL     time.Duration
	JWTSecret         string
	AllowOrigins      []string
	CookieSecure      bool
	RateLimitPublic   RateLimitConfig
	RateLimitAuth     RateLimitConfig
}

// RateLimitConfig is a token bucket size and refill rate.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads a .env file when present, then the environment, applying defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	port, err := parseIntEnv("PORT", 8080)
	if err != nil || port <= 0 {
		return nil, errors.New("invalid PORT")
	}
	cfg.Port = port

	cfg.DBDSN = strings.TrimSpace(getEnv("DB_DSN", ""))
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is required")
	}

	if cfg.DBConnectAttempts, err = parseIntEnv("DB_CONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.DBConnectAttempts < 1 {
		cfg.DBConnectAttempts = 1
	}
	if cfg.DBTimeout, err = parseDurationEnv("DB_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate, err = parseBoolEnv("AUTO_MIGRATE", true); err != nil {
		return nil, err
	}

	cfg.RedisURL = strings.TrimSpace(getEnv("REDIS_URL", ""))
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	if cfg.JWTAccessTTL, err = parseDurationEnv("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JWTRefreshTTL, err = parseDurationEnv("JWT_REFRESH_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}

	for _, origin := range strings.Split(getEnv("ALLOW_ORIGINS", ""), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	cfg.CookieSecure = true
	for _, origin := range cfg.AllowOrigins {
		if strings.Contains(origin, "localhost") {
			cfg.CookieSecure = false
			break
		}
	}
	if cfg.CookieSecure, err = parseBoolEnv("COOKIE_SECURE", cfg.CookieSecure); err != nil {
		return nil, err
	}

	cfg.RateLimitPublic = RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
	cfg.RateLimitAuth = RateLimitConfig{RequestsPerSecond: 10, Burst: 40}
	if err := parseRateLimit("RATE_LIMIT_PUBLIC", &cfg.RateLimitPublic); err != nil {
		return nil, err
	}
	if err := parseRateLimit("RATE_LIMIT_AUTH", &cfg.RateLimitAuth); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil || dur <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return dur, nil
}

func parseIntEnv(key string, def int) (int, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, errors.New("invalid " + key)
	}
	return b, nil
}

// parseRateLimit reads <prefix>_RPS and <prefix>_BURST into rl.
func parseRateLimit(prefix string, rl *RateLimitConfig) error {
	if val := strings.TrimSpace(getEnv(prefix+"_RPS", "")); val != "" {
		rps, err := strconv.ParseFloat(val, 64)
		if err != nil || rps <= 0 {
			return errors.New("invalid " + prefix + "_RPS")
		}
		rl.RequestsPerSecond = rps
	}
	burst, err := parseIntEnv(prefix+"_BURST", rl.Burst)
	if err != nil || burst <= 0 {
		return errors.New("invalid " + prefix + "_BURST")
	}
	rl.Burst = burst
	return nil
}
