package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pepen/api/internal/config"
)

type rootOptions struct {
	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{cfg: config.Load()}
	serve := newServeCommand(opts)

	cmd := &cobra.Command{
		Use:           "pepen-api",
		Short:         "Real-time leaflet collaboration server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.Flags().AddFlagSet(serve.Flags())

	cmd.AddCommand(serve)
	cmd.AddCommand(newSuggestCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	return cmd
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
