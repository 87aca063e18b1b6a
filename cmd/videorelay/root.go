package main

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-videorelay/stepconf"
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "videorelay",
		Short: "Relay videos from cloud storage into resumable video uploads",
		Long: `videorelay streams a stored video from Google Drive or S3 into the
resumable video upload of a page, one sink-chosen chunk at a time.

Configuration is read from environment variables, see "videorelay serve --help".`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newUploadCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("videorelay %s (commit: %s)\n", version, commit)
		},
	})
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

// setup reads the config from the environment and builds the logger.
func setup() (Config, env.Repository, log.Logger, error) {
	repository := env.NewRepository()
	logger := log.NewLogger()

	cfg, err := loadConfig(repository)
	if err != nil {
		return Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.EnableDebugLog(cfg.Verbose)
	stepconf.Print(cfg)
	logger.Println()

	return cfg, repository, logger, nil
}
