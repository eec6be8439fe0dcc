package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port           int
	DatabaseDriver string
	DatabaseURL    string
	LogLevel       slog.Level

	FrontendURL string
	PublicURL   string

	AgentBinary      string
	AgentProfilePath string
	AgentLogDir      string
	AgentBufferLines int
	AgentStatusLines int
	AgentStopGrace   time.Duration

	GitHubToken          string
	GitHubAPIURL         string
	LabelSyncMaxAttempts int

	RunTokenSecret string
}

// Load reads configuration from environment variables and validates required fields.
// A .env file in the working directory, if present, seeds variables that are not
// already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return Config{}, fmt.Errorf("parse PORT: %w", err)
	}

	bufferLines, err := getEnvInt("AGENT_LOG_BUFFER_LINES", 100)
	if err != nil {
		return Config{}, fmt.Errorf("parse AGENT_LOG_BUFFER_LINES: %w", err)
	}

	statusLines, err := getEnvInt("AGENT_STATUS_LINES", 20)
	if err != nil {
		return Config{}, fmt.Errorf("parse AGENT_STATUS_LINES: %w", err)
	}

	stopGrace, err := getEnvDuration("AGENT_STOP_GRACE", 10*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("parse AGENT_STOP_GRACE: %w", err)
	}

	syncAttempts, err := getEnvInt("LABEL_SYNC_MAX_ATTEMPTS", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse LABEL_SYNC_MAX_ATTEMPTS: %w", err)
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}

	cfg := Config{
		Port:                 port,
		DatabaseDriver:       getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:          getEnv("DATABASE_URL", "file:agents.db?_foreign_keys=on"),
		LogLevel:             level,
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:5173"),
		PublicURL:            getEnv("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", port)),
		AgentBinary:          getEnv("AGENT_BINARY", "claude"),
		AgentProfilePath:     getEnv("AGENT_PROFILE", ""),
		AgentLogDir:          getEnv("AGENT_LOG_DIR", "logs/agents"),
		AgentBufferLines:     bufferLines,
		AgentStatusLines:     statusLines,
		AgentStopGrace:       stopGrace,
		GitHubToken:          getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL:         strings.TrimRight(getEnv("GITHUB_API_URL", "https://api.github.com"), "/"),
		LabelSyncMaxAttempts: syncAttempts,
		RunTokenSecret:       getEnv("RUN_TOKEN_SECRET", ""),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.DatabaseDriver {
	case "pgx", "sqlite3":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be pgx or sqlite3, got %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AgentBufferLines <= 0 {
		return fmt.Errorf("AGENT_LOG_BUFFER_LINES must be positive")
	}
	if c.AgentStatusLines <= 0 {
		return fmt.Errorf("AGENT_STATUS_LINES must be positive")
	}
	if c.LabelSyncMaxAttempts <= 0 {
		return fmt.Errorf("LABEL_SYNC_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}
