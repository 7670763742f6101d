// Package config assembles runtime settings for the pikapost CLI from
// defaults, an optional JSON file, environment variables and command-line
// flags, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend modes.
const (
	ModeREST = "rest"
	ModeSQL  = "sql"
)

// Config holds runtime settings for the pikapost client.
type Config struct {
	// Mode selects the gateway: "rest" (hosted backend) or "sql" (self-hosted).
	Mode string `envconfig:"MODE"`

	// REST gateway.
	RESTEndpoint string `envconfig:"REST_ENDPOINT"`
	RESTAnonKey  string `envconfig:"REST_ANON_KEY"`
	TokenPath    string `envconfig:"TOKEN_PATH"`

	// SQL gateway.
	DatabaseDSN string `envconfig:"DATABASE_DSN"`

	// Blob storage for the SQL mode: S3-compatible when S3Endpoint is set,
	// a local directory otherwise.
	S3Region     string `envconfig:"S3_REGION"`
	S3Endpoint   string `envconfig:"S3_ENDPOINT"`
	S3AccessKey  string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey  string `envconfig:"S3_SECRET_KEY"`
	S3PublicBase string `envconfig:"S3_PUBLIC_BASE"`
	BlobDir      string `envconfig:"BLOB_DIR"`
	BlobBaseURL  string `envconfig:"BLOB_BASE_URL"`

	LogLevel string `envconfig:"LOG_LEVEL"`
}

// LoadDefaults populates c with sensible defaults for a local setup.
func (c *Config) LoadDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".pikapost")

	c.Mode = ModeSQL
	c.TokenPath = filepath.Join(dir, "token")
	c.DatabaseDSN = "file:" + filepath.Join(dir, "pikapost.db")
	c.S3Region = "us-east-1"
	c.BlobDir = filepath.Join(dir, "blobs")
	c.BlobBaseURL = "http://localhost:9000"
	c.LogLevel = "info"
}

// Validate checks the settings required by the selected mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeREST:
		if c.RESTEndpoint == "" || c.RESTAnonKey == "" {
			return fmt.Errorf("rest mode requires an endpoint and an anon key")
		}
	case ModeSQL:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("sql mode requires a database dsn")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), environment variables and command-line flags. Later
// sources take precedence over earlier ones.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
