// Package config reads process settings from the environment.
package config

import (
	"fmt"
	"log"
	"time"

	"omr-grader/internal/layout"
	"omr-grader/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	Workers    int           `env:"OMR_WORKERS" envDefault:"0"` // 0 means batch.DefaultWorkers
	Timeout    time.Duration `env:"OMR_TIMEOUT" envDefault:"0s"`
	DebugDir   string        `env:"OMR_DEBUG_DIR" envDefault:""`
	Layout     string        `env:"OMR_LAYOUT" envDefault:"standard-18x9"`
	LayoutFile string        `env:"OMR_LAYOUT_FILE" envDefault:""`

	StorageBackend    string `env:"STORAGE_BACKEND" envDefault:"local"`
	StorageDir        string `env:"STORAGE_DIR" envDefault:"./omr-data"`
	ReportBucket      string `env:"REPORT_BUCKET" envDefault:"reports"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" envDefault:""`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"./omr-data/history.db"`
	Port        int    `env:"PORT" envDefault:"3001"`
}

// Load reads an optional env file and then the environment. A missing
// default .env is not an error; a missing explicit file is.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		log.Printf("loading env from file %s", envFile)
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading env file '%s': %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables only")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("OMR_WORKERS must not be negative, got %d", cfg.Workers)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("OMR_TIMEOUT must not be negative, got %s", cfg.Timeout)
	}
	return &cfg, nil
}

// ResolveLayout returns the file layout when one is configured, otherwise
// the registered layout by name.
func (c *Config) ResolveLayout() (*layout.Layout, error) {
	return layout.Resolve(c.Layout, c.LayoutFile)
}

// ObjectStore builds the configured report store.
func (c *Config) ObjectStore() (storage.ObjectStore, error) {
	switch c.StorageBackend {
	case StorageLocal, "":
		return storage.NewLocalObjectStore(c.StorageDir)
	case StorageS3:
		if c.S3EndpointURL != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
			log.Println("Warning: S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing.")
		}
		return storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        c.S3EndpointURL,
			Region:          c.S3Region,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}
