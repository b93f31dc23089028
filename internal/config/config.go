// Package config loads the service configuration from the environment,
// with an optional .env file for development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the service configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache, fixed oracle

	AdminOwner   string // authority for fee/recipient changes
	FeeRecipient string // receives the fee share
	FeeBps       int64  // fee rate in basis points

	Operator  string   // custody account sellers approve and buyers grant allowances to
	NativeTag string   // native payment currency symbol
	TokenTags []string // allowance-based payment currency symbols
}

// Load reads configuration from the environment. A .env file is honored
// when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment")
	}

	return &Config{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		AdminOwner:   getEnv("ADMIN_OWNER", "admin"),
		FeeRecipient: getEnv("FEE_RECIPIENT", "treasury"),
		FeeBps:       getEnvInt("FEE_BPS", 100),
		Operator:     getEnv("CUSTODY_OPERATOR", "marketplace"),
		NativeTag:    getEnv("NATIVE_CURRENCY", "ETH"),
		TokenTags:    splitList(getEnv("TOKEN_CURRENCIES", "DAI,LINK")),
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		slog.Warn("ignoring malformed integer env var", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
