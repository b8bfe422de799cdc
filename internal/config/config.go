// Package config loads server settings from the environment and the guest
// device profile from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the settings for `tq serve`.
type Config struct {
	DatabaseURL string // TQ_DATABASE_URL (required)
	GRPCAddr    string // TQ_GRPC_ADDR (default ":9090"; health + reflection only)
	HTTPAddr    string // TQ_HTTP_ADDR (default ":8080")
	NATSURL     string // TQ_NATS_URL (optional, empty = change feed over SSE only)
	AuthToken   string // TQ_AUTH_TOKEN (optional, empty = auth disabled)

	// Watcher presence
	PresenceIdle time.Duration // TQ_PRESENCE_IDLE (default 2m)

	// Audit export settings
	ExportInterval   time.Duration // TQ_EXPORT_INTERVAL (default 10m; 0 = disabled)
	ExportS3Bucket   string        // TQ_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string        // TQ_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string        // TQ_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Key      string        // TQ_EXPORT_S3_KEY (default "tablequeue/export.jsonl")
	ExportGitRepo    string        // TQ_EXPORT_GIT_REPO (enables git when set; path to clone)
	ExportGitFile    string        // TQ_EXPORT_GIT_FILE (default "tablequeue.jsonl")
	ExportGitBranch  string        // TQ_EXPORT_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:      os.Getenv("TQ_DATABASE_URL"),
		GRPCAddr:         envOrDefault("TQ_GRPC_ADDR", ":9090"),
		HTTPAddr:         envOrDefault("TQ_HTTP_ADDR", ":8080"),
		NATSURL:          os.Getenv("TQ_NATS_URL"),
		AuthToken:        os.Getenv("TQ_AUTH_TOKEN"),
		ExportS3Bucket:   os.Getenv("TQ_EXPORT_S3_BUCKET"),
		ExportS3Endpoint: os.Getenv("TQ_EXPORT_S3_ENDPOINT"),
		ExportS3Region:   envOrDefault("TQ_EXPORT_S3_REGION", "us-east-1"),
		ExportS3Key:      envOrDefault("TQ_EXPORT_S3_KEY", "tablequeue/export.jsonl"),
		ExportGitRepo:    os.Getenv("TQ_EXPORT_GIT_REPO"),
		ExportGitFile:    envOrDefault("TQ_EXPORT_GIT_FILE", "tablequeue.jsonl"),
		ExportGitBranch:  envOrDefault("TQ_EXPORT_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("TQ_DATABASE_URL is required")
	}

	var err error
	if c.ExportInterval, err = envDuration("TQ_EXPORT_INTERVAL", "10m"); err != nil {
		return nil, err
	}
	if c.PresenceIdle, err = envDuration("TQ_PRESENCE_IDLE", "2m"); err != nil {
		return nil, err
	}

	return c, nil
}

func envDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
