package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env            string
	ListenAddr     string
	DatabaseURL    string
	LogLevel       string
	ScoreWorkers   int
	ScoreThreshold float64
	PollInterval   time.Duration
	RequireAPIKey  bool
	MigrateOnStart bool
	// AdminToken guards key issuance and revocation; empty disables both.
	AdminToken string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Load() (Config, error) {
	cfg := Config{
		Env:            getenv("APP_ENV", "development"),
		ListenAddr:     getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		ScoreWorkers:   getenvInt("SCORE_WORKERS", 2),
		ScoreThreshold: getenvFloat("SCORE_THRESHOLD", 0.7),
		PollInterval:   getenvDuration("SCORE_POLL_INTERVAL", 500*time.Millisecond),
		RequireAPIKey:  getenvBool("REQUIRE_API_KEY", true),
		MigrateOnStart: getenvBool("MIGRATE_ON_START", true),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
	}
	if cfg.DatabaseURL == "" {
		// Callers decide whether this is fatal.
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if out, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && out > 0 {
			return out
		}
	}
	return def
}
