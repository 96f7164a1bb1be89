package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// AllowedOrigins is a comma-separated list for CORS and the websocket
	// origin check; "*" allows any origin.
	AllowedOrigins string `env:"ALLOWED_ORIGINS" default:"*"`

	// StaticDir, when set, is served at / for the classroom client.
	StaticDir string `env:"STATIC_DIR"`

	MaxClientsPerRoom int `env:"MAX_CLIENTS_PER_ROOM" default:"200"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MaxClientsPerRoom <= 0 {
		return fmt.Errorf("MAX_CLIENTS_PER_ROOM must be positive, got %d", cfg.MaxClientsPerRoom)
	}
	if cfg.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS must not be empty")
	}
	return nil
}

// AllowedOriginList splits AllowedOrigins into trimmed entries.
func (c *Config) AllowedOriginList() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
