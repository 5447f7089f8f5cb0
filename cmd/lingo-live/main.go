// Command lingo-live holds a spoken English lesson with a live tutor model
// from the terminal.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vango-go/lingo-live/pkg/config"
	"github.com/vango-go/lingo-live/pkg/live/sessions"
)

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string

	cfg    config.Config
	logger *slog.Logger

	// tracker admits one live session per process.
	tracker *sessions.Tracker
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{tracker: sessions.NewTracker(1)}

	root := &cobra.Command{
		Use:           "lingo-live",
		Short:         "Practice spoken English with a live AI tutor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load; existing environment wins")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text|json")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newDevicesCmd(opts))
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = strings.ToLower(o.logLevel)
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = strings.ToLower(o.logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = setupLogger(cfg, os.Stderr)
	slog.SetDefault(o.logger)
	return nil
}

// setupLogger writes to stderr so the transcript owns stdout.
func setupLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
