package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"pepen/api/internal/config"
	"pepen/api/internal/directory"
)

// buildDirectory wires the configured backends in lookup order: Meili,
// Postgres, Redis, then the static list. Unreachable backends are skipped.
func buildDirectory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*directory.Service, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	domains := directory.ParseDomains(cfg.CompanyEmailDomains)
	var entries []directory.Entry
	if path := strings.TrimSpace(cfg.DirectoryFile); path != "" {
		file, err := directory.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
		entries = file.Entries
		if len(file.Domains) > 0 {
			domains = directory.ParseDomains(file.Domains)
		}
	}

	var backends []directory.Directory
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := directory.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		closers = append(closers, meili.Close)
		backends = append(backends, meili)
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		if db, err := directory.OpenPostgres(ctx, cfg.DatabaseURL); err != nil {
			logStartupFailure(logger, "postgres", err)
		} else {
			closers = append(closers, func() { _ = db.Close() })
			pg := directory.NewPostgres(db)
			if err := pg.EnsureSchema(ctx); err != nil {
				logStartupFailure(logger, "postgres", err)
			} else {
				backends = append(backends, pg)
			}
		}
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		if rdb, err := directory.NewRedis(cfg.RedisURL); err != nil {
			logStartupFailure(logger, "redis", err)
		} else {
			closers = append(closers, func() { _ = rdb.Close() })
			backends = append(backends, rdb)
		}
	}

	return directory.NewService(domains, directory.NewStatic(entries), logger, backends...), closeAll, nil
}

func logStartupFailure(logger *slog.Logger, backend string, err error) {
	logger.Warn("directory backend disabled", "backend", backend, "error", err)
}

func newSuggestCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggest <query>",
		Short: "Print email suggestions for a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			logger := newLogger(opts.cfg)
			dir, closeDir, err := buildDirectory(cmd.Context(), opts.cfg, logger)
			if err != nil {
				return err
			}
			defer closeDir()

			items, err := dir.SuggestEmails(cmd.Context(), query, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", directory.DefaultLimit, "maximum suggestions (1-20)")
	cmd.Flags().StringVar(&opts.cfg.DirectoryFile, "directory-file", opts.cfg.DirectoryFile, "YAML directory seed file")
	return cmd
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the directory into Redis, Postgres and Meilisearch",
		Long: `Load the directory into every configured backend.

Entries come from --directory-file when given, otherwise the built-in list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(opts.cfg)
			dir, closeDir, err := buildDirectory(cmd.Context(), opts.cfg, logger)
			if err != nil {
				return err
			}
			defer closeDir()

			count, err := dir.SeedFallback(cmd.Context())
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d entries into %v\n", count, dir.Backends())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.cfg.DirectoryFile, "directory-file", opts.cfg.DirectoryFile, "YAML directory seed file")
	return cmd
}
