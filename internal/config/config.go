// Package config loads coordinator settings from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	Port           int
	AllowedOrigins []string

	RedisURL    string
	DatabaseURL string
	JWTSecret   string

	StockfishPath         string
	AnalysisDepth         int
	AnalysisMaxConcurrent int
	AnalysisAsync         bool

	StartClockSeconds int

	ConnRatePerSecond float64
	ConnBurst         int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:                  3000,
		AnalysisDepth:         15,
		AnalysisMaxConcurrent: 2,
		StartClockSeconds:     600,
		ConnRatePerSecond:     1,
		ConnBurst:             5,
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AnalysisDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_MAX_CONCURRENT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AnalysisMaxConcurrent = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_ASYNC")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AnalysisAsync = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("START_CLOCK_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StartClockSeconds = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("CONN_RATE_PER_SECOND")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.ConnRatePerSecond = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONN_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConnBurst = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
