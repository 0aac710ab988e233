package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL           string
	WSBaseURL            string
	TokenDBPath          string
	RequestTimeout       time.Duration
	RequestsPerSecond    float64
	HistoryPageSize      int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	LoginUsername        string
	LoginPassword        string
	LogLevel             string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:           getEnv("API_BASE_URL", "http://localhost:8000"),
		WSBaseURL:            strings.TrimSpace(os.Getenv("WS_BASE_URL")),
		TokenDBPath:          getEnv("TOKEN_DB_PATH", "./state/session.db"),
		RequestTimeout:       getDuration("REQUEST_TIMEOUT", 15*time.Second),
		RequestsPerSecond:    getFloat("REQUESTS_PER_SECOND", 0),
		HistoryPageSize:      getInt("HISTORY_PAGE_SIZE", 50),
		ReconnectBaseDelay:   getDuration("RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    getDuration("RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectMaxAttempts: getInt("RECONNECT_MAX_ATTEMPTS", 10),
		LoginUsername:        strings.TrimSpace(os.Getenv("LOGIN_USERNAME")),
		LoginPassword:        os.Getenv("LOGIN_PASSWORD"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = deriveWSBaseURL(cfg.APIBaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}

	if strings.TrimSpace(c.WSBaseURL) == "" {
		return fmt.Errorf("WS_BASE_URL cannot be empty")
	}

	if strings.TrimSpace(c.TokenDBPath) == "" {
		return fmt.Errorf("TOKEN_DB_PATH cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.HistoryPageSize <= 0 {
		return fmt.Errorf("HISTORY_PAGE_SIZE must be positive")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be positive")
	}

	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be at least RECONNECT_BASE_DELAY")
	}

	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be positive")
	}

	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("REQUESTS_PER_SECOND cannot be negative")
	}

	return nil
}

// deriveWSBaseURL maps the REST base URL onto the websocket scheme when no
// explicit WS_BASE_URL is configured.
func deriveWSBaseURL(apiBaseURL string) string {
	switch {
	case strings.HasPrefix(apiBaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiBaseURL, "https://")
	case strings.HasPrefix(apiBaseURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiBaseURL, "http://")
	}

	return apiBaseURL
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}
