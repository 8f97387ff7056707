// Package cmd provides the CLI commands for filerecall.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/filerecall/filerecall/internal/config"
	"github.com/filerecall/filerecall/internal/core"
	"github.com/filerecall/filerecall/internal/logging"
	"github.com/filerecall/filerecall/pkg/version"
)

var (
	dataDir   string
	debugMode bool

	loggingCleanup func()
	svc            *core.Service
)

// NewRootCmd creates the root command for the filerecall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filerecall",
		Short: "Local, offline file recommendation engine",
		Long: `filerecall combines semantic similarity, recency and co-access
signals to recommend files related to the one you're looking at.

It runs entirely locally: no network calls, no telemetry.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: setupService,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return teardownService()
		},
	}

	cmd.SetVersionTemplate("filerecall version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory (default: config/env resolved)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.filerecall/logs/")

	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newRecommendCmd())
	cmd.AddCommand(newActivityCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupService loads configuration, wires logging, and constructs the
// core.Service every subcommand delegates to.
func setupService(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}

	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	cfg, err := config.Load(wd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	svc, err = core.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start filerecall: %w", err)
	}

	return nil
}

func teardownService() error {
	var err error
	if svc != nil {
		err = svc.Close()
		svc = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
