package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// parseEnv overlays cfg with PIKAPOST_* environment variables.
func parseEnv(cfg *Config) error {
	if err := envconfig.Process("pikapost", cfg); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}
