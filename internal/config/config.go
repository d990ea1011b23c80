package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	DefaultHTTPPort       = "8080"
	DefaultReconcileQueue = 64
)

// Config holds the runtime settings shared by the server and the CLI.
type Config struct {
	DatabaseURL    string
	HTTPPort       string
	LogLevel       string
	ReconcileQueue int
}

// Load reads an optional .env file and then the process environment.
// The returned bool reports whether a .env file was found.
func Load() (Config, bool) {
	loaded := godotenv.Load() == nil
	cfg := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		HTTPPort:       getenv("HTTP_PORT", DefaultHTTPPort),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		ReconcileQueue: DefaultReconcileQueue,
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = connStrFromEnv()
	}
	if v := os.Getenv("RECONCILE_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconcileQueue = n
		}
	}
	return cfg, loaded
}

// ResolveDB picks the connection string: an explicit flag value wins over the
// environment.
func (c Config) ResolveDB(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if c.DatabaseURL == "" {
		return "", errors.New("--db flag or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
	}
	return c.DatabaseURL, nil
}

func connStrFromEnv() string {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
