package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/luyichen/pikapost/internal/flagx"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling; absent keys
// leave the current value untouched.
type jsonConfig struct {
	Mode         *string `json:"mode"`
	RESTEndpoint *string `json:"rest_endpoint"`
	RESTAnonKey  *string `json:"rest_anon_key"`
	TokenPath    *string `json:"token_path"`
	DatabaseDSN  *string `json:"database_dsn"`
	S3Region     *string `json:"s3_region"`
	S3Endpoint   *string `json:"s3_endpoint"`
	S3AccessKey  *string `json:"s3_access_key"`
	S3SecretKey  *string `json:"s3_secret_key"`
	S3PublicBase *string `json:"s3_public_base"`
	BlobDir      *string `json:"blob_dir"`
	BlobBaseURL  *string `json:"blob_base_url"`
	LogLevel     *string `json:"log_level"`
}

// parseJson overlays cfg with values from the file named by -c/-config.
func parseJson(cfg *Config) error {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	overlay := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	overlay(&cfg.Mode, jc.Mode)
	overlay(&cfg.RESTEndpoint, jc.RESTEndpoint)
	overlay(&cfg.RESTAnonKey, jc.RESTAnonKey)
	overlay(&cfg.TokenPath, jc.TokenPath)
	overlay(&cfg.DatabaseDSN, jc.DatabaseDSN)
	overlay(&cfg.S3Region, jc.S3Region)
	overlay(&cfg.S3Endpoint, jc.S3Endpoint)
	overlay(&cfg.S3AccessKey, jc.S3AccessKey)
	overlay(&cfg.S3SecretKey, jc.S3SecretKey)
	overlay(&cfg.S3PublicBase, jc.S3PublicBase)
	overlay(&cfg.BlobDir, jc.BlobDir)
	overlay(&cfg.BlobBaseURL, jc.BlobBaseURL)
	overlay(&cfg.LogLevel, jc.LogLevel)
	return nil
}
