package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/artspark/artspark/internal/pkg/env"
)

// Config holds artwork object storage configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	PublicBaseURL   string // Optional CDN/public base for serving artworks
	Enabled         bool
}

// LoadConfig loads storage configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		PublicBaseURL:   env.GetEnv("S3_PUBLIC_BASE_URL", ""),
		Enabled:         env.GetEnv("ARTWORK_STORAGE_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when artwork storage is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when artwork storage is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when artwork storage is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if artwork mirroring to object storage is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKeyFor generates a standardized object key for an artwork.
// Format: artworks/YYYY/MM/UUID.png
func ObjectKeyFor(artworkUUID string, createdAt time.Time) string {
	return fmt.Sprintf("artworks/%04d/%02d/%s.png", createdAt.Year(), int(createdAt.Month()), artworkUUID)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
