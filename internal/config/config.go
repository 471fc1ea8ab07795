// Package config loads service configuration from the environment. A local
// .env file is honored when present; real deployments set variables
// directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the composition root wires together.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxBodyBytes    int64
	EdgeRatePerSec  int
	EdgeRateBurst   int
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the PostgreSQL DSN.
type DatabaseConfig struct {
	DSN string
}

// RedisConfig holds the attempt-window backend settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig carries the identity thresholds and lifetimes.
type AuthConfig struct {
	BcryptCost       int
	MinPasswordLen   int
	MaxLoginAttempts int
	LockDuration     time.Duration
	IPWindow         time.Duration
	IPMaxFailures    int64
	SessionTTL       time.Duration
	RememberTTL      time.Duration
	RestrictedTTL    time.Duration
	ResetTTL         time.Duration
	AdminResetTTL    time.Duration
	VerificationTTL  time.Duration
	ResendWindow     time.Duration
	ResendMax        int64
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("TENBASE_HTTP_ADDR", ":8080"),
			ReadTimeout:     getDuration("TENBASE_HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDuration("TENBASE_HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDuration("TENBASE_HTTP_IDLE_TIMEOUT", 60*time.Second),
			MaxBodyBytes:    getInt64("TENBASE_HTTP_MAX_BODY_BYTES", 1<<20),
			EdgeRatePerSec:  getInt("TENBASE_HTTP_RATE_PER_SEC", 20),
			EdgeRateBurst:   getInt("TENBASE_HTTP_RATE_BURST", 40),
			ShutdownTimeout: getDuration("TENBASE_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN: os.Getenv("TENBASE_PG_DSN"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("TENBASE_REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("TENBASE_REDIS_PASSWORD"),
			DB:       getInt("TENBASE_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			BcryptCost:       getInt("TENBASE_BCRYPT_COST", 12),
			MinPasswordLen:   getInt("TENBASE_MIN_PASSWORD_LEN", 8),
			MaxLoginAttempts: getInt("TENBASE_MAX_LOGIN_ATTEMPTS", 10),
			LockDuration:     getDuration("TENBASE_LOCK_DURATION", time.Hour),
			IPWindow:         getDuration("TENBASE_IP_WINDOW", 15*time.Minute),
			IPMaxFailures:    getInt64("TENBASE_IP_MAX_FAILURES", 5),
			SessionTTL:       getDuration("TENBASE_SESSION_TTL", 8*time.Hour),
			RememberTTL:      getDuration("TENBASE_REMEMBER_TTL", 30*24*time.Hour),
			RestrictedTTL:    getDuration("TENBASE_RESTRICTED_TTL", time.Hour),
			ResetTTL:         getDuration("TENBASE_RESET_TTL", 2*time.Hour),
			AdminResetTTL:    getDuration("TENBASE_ADMIN_RESET_TTL", 24*time.Hour),
			VerificationTTL:  getDuration("TENBASE_VERIFICATION_TTL", 24*time.Hour),
			ResendWindow:     getDuration("TENBASE_RESEND_WINDOW", 15*time.Minute),
			ResendMax:        getInt64("TENBASE_RESEND_MAX", 3),
		},
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("TENBASE_PG_DSN is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
