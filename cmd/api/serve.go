package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pepen/api/internal/app"
	"pepen/api/internal/collab"
	"pepen/api/internal/socket"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Long: `Run the session server.

Clients connect to /socket and exchange {"event", "data"} JSON frames.
Email suggestions are served on /api/suggest-emails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.cfg.Addr, "addr", opts.cfg.Addr, "listen address")
	cmd.Flags().StringVar(&opts.cfg.DirectoryFile, "directory-file", opts.cfg.DirectoryFile, "YAML directory seed file")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	logger := newLogger(cfg)

	dir, closeDir, err := buildDirectory(ctx, cfg, logger.With("component", "directory"))
	if err != nil {
		return err
	}
	defer closeDir()

	registry := socket.NewRegistry(cfg.SocketSendBuffer, logger.With("component", "socket"))
	engine := collab.NewEngine(registry, collab.Options{
		Domains: dir.Domains(),
		Logger:  logger.With("component", "collab"),
	})
	hub := collab.NewHub(engine, cfg.HubQueue)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	origins := app.OriginPolicy{Allowed: cfg.AllowedOrigins(), Strict: cfg.Production()}
	sockets := socket.NewHandler(hub, registry, socket.Options{
		AllowOrigin:  origins.Allows,
		PingInterval: cfg.SocketPingInterval,
		WriteTimeout: cfg.SocketWriteTimeout,
		BaseContext:  hubCtx,
		Logger:       logger.With("component", "socket"),
	})
	httpServer := app.NewHTTPServer(app.Options{
		Directory: dir,
		Hub:       hub,
		Socket:    sockets,
		Origins:   origins,
		Logger:    logger.With("component", "http"),
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pepen api listening", "addr", cfg.Addr, "env", cfg.Env, "directory", dir.Backends())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	registry.CloseAll()
	stopHub()
	<-hub.Done()
	return nil
}
