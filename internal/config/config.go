package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DBFile      string        `envconfig:"PALAVER_DB" default:"palaver.db"`
	APIAddr     string        `envconfig:"API_ADDR" default:":8080"`
	BaseURL     string        `envconfig:"BASE_URL" default:"http://localhost:8080"`
	UploadsPath string        `envconfig:"UPLOADS_PATH" default:"uploads"`
	AuthSecret  string        `envconfig:"AUTH_SECRET"`
	TokenExpiry time.Duration `envconfig:"TOKEN_EXPIRY" default:"24h"`
}

func Load(cliMode bool) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	return nil
}
