package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all velocityd configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string `json:"listen_addr"`
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	PoolSize        int    `json:"pool_size"`
	MaxRetries      int    `json:"max_retries"`
	RiskExpr        string `json:"risk_expr"`
	Offline         bool   `json:"offline"`
	Simulate        bool   `json:"simulate"`
	ReviewCron      string `json:"review_cron"`
	StaleAfterHours int    `json:"stale_after_hours"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":4600",
		DBPath:          filepath.Join(velocityDir(), "velocity.db"),
		LogLevel:        "info",
		PoolSize:        10,
		MaxRetries:      3,
		Offline:         true,
		ReviewCron:      "0 9 * * *",
		StaleAfterHours: 24,
	}
}

func velocityDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".velocity"
	}
	return filepath.Join(home, ".velocity")
}

func settingsPath() string {
	return filepath.Join(velocityDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("VELOCITY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VELOCITY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VELOCITY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VELOCITY_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("VELOCITY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("VELOCITY_RISK_EXPR"); v != "" {
		cfg.RiskExpr = v
	}
	if v := os.Getenv("VELOCITY_OFFLINE"); v != "" {
		cfg.Offline = v == "true" || v == "1"
	}
	if v := os.Getenv("VELOCITY_SIMULATE"); v != "" {
		cfg.Simulate = v == "true" || v == "1"
	}
	if v := os.Getenv("VELOCITY_REVIEW_CRON"); v != "" {
		cfg.ReviewCron = v
	}
	if v := os.Getenv("VELOCITY_STALE_AFTER_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StaleAfterHours = n
		}
	}

	return cfg
}

func (c Config) staleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}
