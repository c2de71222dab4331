package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL     = "http://localhost:8000/api"
	DefaultHTTPTimeout = 30 * time.Second
)

// Config holds process settings resolved from the environment.
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration

	// APIToken is a static bearer token. APITokenParam names an SSM parameter
	// holding {"token": "..."}; it is only consulted when APIToken is empty.
	APIToken      string
	APITokenParam string

	LogLevel  string
	LogFormat string
}

// Load reads a .env file from the working directory if one exists, then the
// CHAT_* environment variables.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the CHAT_* environment variables without touching .env files.
func FromEnv() (Config, error) {
	timeout, err := envDuration("CHAT_HTTP_TIMEOUT", DefaultHTTPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:       envOrDefault("CHAT_API_BASE_URL", DefaultBaseURL),
		HTTPTimeout:   timeout,
		APIToken:      strings.TrimSpace(os.Getenv("CHAT_API_TOKEN")),
		APITokenParam: strings.TrimSpace(os.Getenv("CHAT_API_TOKEN_PARAM")),
		LogLevel:      envOrDefault("CHAT_LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("CHAT_LOG_FORMAT", "auto"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("config: base url is required")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("config: http timeout must be positive, got %s", c.HTTPTimeout)
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envDuration accepts Go durations ("45s") and bare seconds ("45").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("config: %s: invalid duration %q", key, v)
}
