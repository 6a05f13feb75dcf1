package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/maternify/backend/services"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *services.Config

	root := &cobra.Command{
		Use:           "maternify",
		Short:         "Maternal health backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = services.LoadConfig()
			setupLogging(cfg.Log)
		},
	}

	config := func() *services.Config { return cfg }

	serve := newServeCommand(config)
	root.AddCommand(serve)
	root.AddCommand(newMigrateCommand(config))
	root.AddCommand(newSeedCommand(config))
	root.AddCommand(newRemindersCommand())

	// serve is the default
	root.RunE = serve.RunE
	return root
}

// setupLogging installs the JSON handler as the default logger. When a log
// file is configured, records also go to a rotated file.
func setupLogging(cfg services.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
