package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Addr        string `env:"ADDR"`
	DatabaseDSN string `env:"DATABASE_DSN"`

	// LLM settings
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	OpenAIModel        string `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL"`
	AgentMaxIterations int    `env:"AGENT_MAX_ITERATIONS" envDefault:"8"`
	HistoryTokenBudget int    `env:"HISTORY_TOKEN_BUDGET" envDefault:"1500"`

	// Uploads
	UploadMaxBytes int64         `env:"UPLOAD_MAX_BYTES" envDefault:"209715200"`
	TableCacheTTL  time.Duration `env:"TABLE_CACHE_TTL" envDefault:"2h"`

	WebsiteURL     string `env:"WEBSITE_URL" envDefault:"https://www.google.com"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT"`
}

// Load reads an optional .env file, then the environment. defaultAddr is used
// when ADDR is unset.
func Load(defaultAddr string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.UploadMaxBytes <= 0:
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.UploadMaxBytes)
	case c.TableCacheTTL <= 0:
		return fmt.Errorf("TABLE_CACHE_TTL must be positive, got %s", c.TableCacheTTL)
	case c.AgentMaxIterations <= 0:
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be positive, got %d", c.AgentMaxIterations)
	case c.HistoryTokenBudget < 0:
		return fmt.Errorf("HISTORY_TOKEN_BUDGET must not be negative, got %d", c.HistoryTokenBudget)
	case c.OpenAIModel == "":
		return errors.New("OPENAI_MODEL must not be empty")
	}
	return nil
}

func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
