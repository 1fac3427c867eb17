package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env and then .env.local from the working directory.
// Missing files are not an error; .env.local overrides .env.
func LoadEnv() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("Could not load .env", "error", err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			slog.Warn("Could not load .env.local", "error", err)
		}
	}
}

// ApplyEnv overrides settings from GODLP_* environment variables.
func ApplyEnv(s *Settings) {
	if v := strings.TrimSpace(os.Getenv("GODLP_HOST_URL")); v != "" {
		s.Host.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GODLP_HOST_TOKEN")); v != "" {
		s.Host.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("GODLP_API_ADDR")); v != "" {
		s.General.APIAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("GODLP_LOG_LEVEL")); v != "" {
		s.General.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("GODLP_MAX_CONCURRENT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Queue.MaxConcurrentDownloads = n
		} else {
			slog.Warn("Ignoring GODLP_MAX_CONCURRENT", "value", v, "error", err)
		}
	}
	s.Validate()
}

// ParseLogLevel maps a settings level name to a slog level.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
