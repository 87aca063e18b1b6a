package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/bitrise-io/go-videorelay/sink/graphvideo"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var caption string

	cmd := &cobra.Command{
		Use:   "upload <source-object-id>",
		Short: "Relay a single source object and exit",
		Long:  "Relay a single source object and exit.\n\n" + envHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runUpload(ctx, args[0], caption)
		},
	}
	cmd.Flags().StringVar(&caption, "caption", relay.DefaultCaption, "title and description of the published video")

	return cmd
}

func runUpload(ctx context.Context, objectID, caption string) error {
	cfg, repository, logger, err := setup()
	if err != nil {
		return err
	}

	service, err := newRelayService(ctx, cfg, repository, logger)
	if err != nil {
		return err
	}
	defer service.close()

	result, err := service.orchestrator.Run(ctx, relay.Request{SourceObjectID: objectID, Caption: caption})
	if err != nil {
		if body := relay.RemoteBody(err); len(body) > 0 {
			logger.Errorf("Remote error: %s", body)
		}
		return err
	}

	logger.Donef("%s (%s) relayed in %d chunks, %s per chunk on average",
		result.Name, units.HumanSize(float64(result.TotalSize)), result.Stats.Chunks, result.Stats.Average().Round(time.Millisecond))
	logger.Printf("Video URL: %s", graphvideo.VideoURL(result.ObjectID))
	return nil
}
