package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/moneyfest/internal/config"
	"github.com/JonMunkholm/moneyfest/internal/core"
	"github.com/JonMunkholm/moneyfest/internal/logging"
	"github.com/JonMunkholm/moneyfest/internal/similar"
	"github.com/JonMunkholm/moneyfest/internal/store"
	"github.com/JonMunkholm/moneyfest/internal/synchub"
	"github.com/JonMunkholm/moneyfest/internal/web"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Values already in the environment win over .env.
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	service, err := core.NewService(ctx, st, synchub.NewHub(logger), core.Options{
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
		UploadWait:           cfg.Upload.MaxWaitTime,
		Similarity: similar.Params{
			PayeeThreshold:  cfg.Similarity.PayeeThreshold,
			AmountTolerance: cfg.Similarity.AmountTolerance,
			Surrounding:     cfg.Similarity.Surrounding,
			Limit:           cfg.Similarity.Limit,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	server, err := web.NewServer(service, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Archive.Enabled {
		g.Go(func() error {
			service.StartArchiveScheduler(gctx, core.ArchiveConfig{
				AfterDays:     cfg.Archive.AfterDays,
				CheckInterval: cfg.Archive.CheckInterval,
			})
			return nil
		})
	}

	g.Go(func() error {
		if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			logger.Info("waiting for uploads to complete", "active", status.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				logger.Warn("uploads did not complete in time", "error", err)
			} else {
				logger.Info("all uploads completed")
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		slog.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), nil
	}

	pg, err := store.OpenPostgres(ctx, store.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("connected to database", "max_conns", cfg.Database.MaxConns)
	return pg, nil
}
