package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// History
	StateTable string        `env:"STATE_TABLE"`
	BadgerDir  string        `env:"BADGER_DIR" envDefault:".chatppt/history"`
	HistoryTTL time.Duration `env:"HISTORY_TTL" envDefault:"720h"`

	// Prompts, model names and the OpenAI token
	ParamPrefix string `env:"PARAM_PREFIX" envDefault:"/chatppt"`
	ParamDir    string `env:"PARAM_DIR"`

	// Files: uploads, extracted pictures, rendered decks
	StorageBucket string `env:"STORAGE_BUCKET"`
	StoragePrefix string `env:"STORAGE_PREFIX"`
	StorageDir    string `env:"STORAGE_DIR" envDefault:"."`
	OutputDir     string `env:"OUTPUT_DIR" envDefault:"outputs"`
	OutputExt     string `env:"OUTPUT_EXT" envDefault:"pptx"`

	// Rendering
	TemplatePath string `env:"TEMPLATE_PATH" envDefault:"templates/SimpleTemplate.pptx"`
	LayoutFile   string `env:"LAYOUT_FILE"`
	RendererURL  string `env:"RENDERER_URL,required,notEmpty"`

	// Upstreams
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	ImageSearchURL string `env:"IMAGE_SEARCH_URL" envDefault:"https://www.bing.com"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.HistoryTTL <= 0 {
		return nil, errors.New("parse config: HISTORY_TTL must be positive")
	}
	return cfg, nil
}

// ValidateLambda checks the settings the Lambda deployment cannot default.
func (c *Config) ValidateLambda() error {
	if c.StateTable == "" {
		return errors.New("config: STATE_TABLE is required")
	}
	if c.ParamPrefix == "" {
		return errors.New("config: PARAM_PREFIX is required")
	}
	return nil
}
