// Package config loads process configuration for the hub server.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	portEnv         = "PORT"
	databasePathEnv = "DATABASE_PATH"
	logLevelEnv     = "LOG_LEVEL"

	defaultPort         = 3000
	defaultDatabasePath = "hub.db"
	defaultLogLevel     = "info"
)

// Config holds the hub server's environment-derived settings.
type Config struct {
	Port         int
	DatabasePath string
	LogLevel     string
}

// Load reads configuration from the process environment, first giving a
// local .env file (if present) a chance to populate it. Absence of .env is
// expected in production and is not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:         getInt(portEnv, defaultPort),
		DatabasePath: getString(databasePathEnv, defaultDatabasePath),
		LogLevel:     getString(logLevelEnv, defaultLogLevel),
	}
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
