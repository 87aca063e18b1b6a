package main

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/bitrise-io/go-videorelay/stepconf"
	"github.com/docker/go-units"
)

const (
	sourceDrive = "drive"
	sourceS3    = "s3"
)

// Config is read from the environment.
type Config struct {
	Port int `env:"PORT"`

	PageID          string          `env:"PAGE_ID,required"`
	PageToken       stepconf.Secret `env:"PAGE_TOKEN,required"`
	GraphAPIURL     string          `env:"GRAPH_API_URL"`
	GraphAPIVersion string          `env:"GRAPH_API_VERSION"`

	SourceProvider     string          `env:"SOURCE_PROVIDER,opt[drive,s3]"`
	DriveAccessToken   stepconf.Secret `env:"DRIVE_ACCESS_TOKEN"`
	DriveAPIURL        string          `env:"DRIVE_API_URL"`
	S3Bucket           string          `env:"S3_BUCKET"`
	AWSRegion          string          `env:"AWS_REGION"`
	AWSAccessKeyID     string          `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey stepconf.Secret `env:"AWS_SECRET_ACCESS_KEY"`

	ChunkSize      string   `env:"CHUNK_SIZE"`
	ChunkAttempts  int      `env:"CHUNK_ATTEMPTS"`
	AllowedObjects []string `env:"ALLOWED_OBJECTS"`

	Verbose   bool `env:"VERBOSE"`
	Analytics bool `env:"ANALYTICS"`
}

func defaultConfig() Config {
	return Config{
		Port:            3000,
		GraphAPIVersion: "v19.0",
		SourceProvider:  sourceDrive,
		ChunkSize:       "50MiB",
		ChunkAttempts:   1,
	}
}

func loadConfig(envGetter stepconf.EnvGetter) (Config, error) {
	cfg := defaultConfig()
	if err := stepconf.NewInputParser(envGetter).Parse(&cfg); err != nil {
		return Config{}, err
	}

	switch cfg.SourceProvider {
	case sourceDrive:
		if cfg.DriveAccessToken == "" {
			return Config{}, fmt.Errorf("DRIVE_ACCESS_TOKEN is required for the drive source")
		}
	case sourceS3:
		if cfg.S3Bucket == "" || cfg.AWSRegion == "" {
			return Config{}, fmt.Errorf("S3_BUCKET and AWS_REGION are required for the s3 source")
		}
	}

	if _, err := cfg.relayConfig(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) relayConfig() (relay.Config, error) {
	chunkSize, err := units.RAMInBytes(c.ChunkSize)
	if err != nil {
		return relay.Config{}, fmt.Errorf("invalid CHUNK_SIZE: %w", err)
	}
	if chunkSize <= 0 {
		return relay.Config{}, fmt.Errorf("CHUNK_SIZE must be positive: %s", c.ChunkSize)
	}
	if c.ChunkAttempts < 1 {
		return relay.Config{}, fmt.Errorf("CHUNK_ATTEMPTS must be at least 1: %d", c.ChunkAttempts)
	}

	return relay.Config{
		MaxChunkSize:  chunkSize,
		ChunkAttempts: c.ChunkAttempts,
		RetryWait:     5 * time.Second,
	}, nil
}
