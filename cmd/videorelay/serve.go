package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-videorelay/server"
	"github.com/spf13/cobra"
)

const envHelp = `Environment:
  PORT                   listen port (default 3000)
  PAGE_ID                page the videos are published to (required)
  PAGE_TOKEN             page access token (required)
  GRAPH_API_URL          video upload host (default https://graph-video.facebook.com)
  GRAPH_API_VERSION      API version (default v19.0)
  SOURCE_PROVIDER        drive or s3 (default drive)
  DRIVE_ACCESS_TOKEN     bearer token of the Drive API
  DRIVE_API_URL          Drive API host (default https://www.googleapis.com)
  S3_BUCKET, AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
                         S3 source
  CHUNK_SIZE             largest chunk sent at once (default 50MiB)
  CHUNK_ATTEMPTS         attempts per chunk (default 1)
  ALLOWED_OBJECTS        | separated glob patterns of accepted source object ids
  VERBOSE                debug logs
  ANALYTICS              send upload events`

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP relay service",
		Long:  "Start the HTTP relay service.\n\n" + envHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, repository, logger, err := setup()
	if err != nil {
		return err
	}

	service, err := newRelayService(ctx, cfg, repository, logger)
	if err != nil {
		return err
	}
	defer service.close()

	handler, err := server.NewRouter(service.orchestrator, server.RouterParams{
		AllowedObjects: cfg.AllowedObjects,
		Gatherer:       service.registry,
	}, logger)
	if err != nil {
		return err
	}

	return server.NewServer(cfg.Port, handler, logger).Start(ctx)
}
