package main

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	relayanalytics "github.com/bitrise-io/go-videorelay/analytics"
	"github.com/bitrise-io/go-videorelay/metrics"
	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/bitrise-io/go-videorelay/sink/graphvideo"
	"github.com/bitrise-io/go-videorelay/source/drive"
	"github.com/bitrise-io/go-videorelay/source/s3source"
	"github.com/prometheus/client_golang/prometheus"
)

// relayService holds the wired orchestrator and what has to be flushed on exit.
type relayService struct {
	orchestrator *relay.Orchestrator
	tracker      analytics.Tracker
	registry     *prometheus.Registry
}

func newRelayService(ctx context.Context, cfg Config, repository env.Repository, logger log.Logger) (*relayService, error) {
	relayConfig, err := cfg.relayConfig()
	if err != nil {
		return nil, err
	}

	source, err := newSource(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s source: %w", cfg.SourceProvider, err)
	}

	sink, err := graphvideo.NewClient(graphvideo.Params{
		BaseURL:     cfg.GraphAPIURL,
		APIVersion:  cfg.GraphAPIVersion,
		PageID:      cfg.PageID,
		AccessToken: string(cfg.PageToken),
	}, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}

	registry := prometheus.NewRegistry()
	opts := []relay.Option{relay.WithMetrics(metrics.New(registry))}

	var tracker analytics.Tracker
	if cfg.Analytics {
		tracker, err = relayanalytics.NewDefaultRelayTracker(repository, cfg.SourceProvider, logger)
		if err != nil {
			logger.Warnf("Analytics disabled: %s", err)
		} else {
			opts = append(opts, relay.WithTracker(tracker))
		}
	}

	orchestrator, err := relay.New(source, sink, relayConfig, logger, opts...)
	if err != nil {
		return nil, err
	}

	return &relayService{
		orchestrator: orchestrator,
		tracker:      tracker,
		registry:     registry,
	}, nil
}

func newSource(ctx context.Context, cfg Config, logger log.Logger) (relay.SourceReader, error) {
	switch cfg.SourceProvider {
	case sourceS3:
		return s3source.New(ctx, s3source.Params{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: string(cfg.AWSSecretAccessKey),
		}, logger)
	case sourceDrive, "":
		return drive.NewReader(drive.Params{
			BaseURL:     cfg.DriveAPIURL,
			AccessToken: string(cfg.DriveAccessToken),
		}, nil, logger)
	}
	return nil, fmt.Errorf("unknown source provider: %s", cfg.SourceProvider)
}

// close waits for the queued analytics events.
func (s *relayService) close() {
	if s.tracker != nil {
		s.tracker.Wait()
	}
}
