package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/convoflow/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address, overrides HTTP_ADDR",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if addr := c.String("addr"); addr != "" {
				cfg.HTTPAddr = addr
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}

			handler := server.New(a.runner, func(o *server.Options) {
				o.CORSOrigins = cfg.CORSOrigins
				o.RateLimitRequests = cfg.RateLimitRequests
				o.RateLimitWindow = cfg.RateLimitWindow
				o.Ready = a.ready
				o.Logger = logger
			}).Handler()

			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("server.start", "addr", cfg.HTTPAddr, "provider", cfg.ModelProvider, "review", cfg.ReviewMode)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
				close(serverErr)
			}()

			select {
			case err := <-serverErr:
				if err != nil {
					_ = a.Close(context.Background())
					return err
				}
			case <-ctx.Done():
			}

			logger.Info("server.shutdown")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server.shutdown.failed", "error", err)
			}
			return a.Close(shutdownCtx)
		},
	}
}
