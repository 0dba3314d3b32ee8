package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go/internal/server"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/northwind"
	"github.com/ammar0144/entity4go/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Northwind data service over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		svc, cleanup, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if cfg.Server.Mode != "" {
			gin.SetMode(cfg.Server.Mode)
		}
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           svc.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", "addr", cfg.Server.Addr, "service", svc.ServiceName())
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		case sig := <-sigChan:
			logger.Info("shutdown signal", "signal", sig.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("http server stopped")
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the Northwind sample data in the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Northwind sample data restored")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

// openService connects the database and optional cache, migrates the schema and
// seeds the fixture when configured.
func openService(ctx context.Context) (*server.Service, func(), error) {
	dbManager, err := db.NewSingletonManager(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	closers := []func() error{dbManager.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}

	var cache *redis.Manager
	if cfg.Redis.Enabled {
		cache, err = redis.NewManager(&cfg.Redis, redis.WithLogger(logger))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, cache.Close)
	}

	if err := northwind.Migrate(dbManager.DB()); err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.Server.Seed {
		if err := northwind.Seed(ctx, dbManager.DB()); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	svc, err := server.NewService(cfg.Server, dbManager, cache, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}
