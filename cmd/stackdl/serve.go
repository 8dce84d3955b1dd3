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

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
	"gocloud.dev/blob/fileblob"
	"golang.org/x/sync/errgroup"

	"github.com/datallboy/stackdl/internal/api"
	"github.com/datallboy/stackdl/internal/app"
	"github.com/datallboy/stackdl/internal/engine"
	"github.com/datallboy/stackdl/internal/events"
	"github.com/datallboy/stackdl/internal/infra/config"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/store"
	"github.com/datallboy/stackdl/internal/transport/httpdl"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download daemon and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	bucket, err := fileblob.OpenBucket(cfg.Store.BlobDir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return fmt.Errorf("open blob dir %s: %w", cfg.Store.BlobDir, err)
	}
	defer bucket.Close()

	session := httpdl.NewSession(bucket, log, sessionOptions(cfg.Transport))
	// segments of a previous run cannot be resumed, their resume data is gone
	if n, err := session.Purge(ctx); err != nil {
		log.Warn("Could not purge partial downloads: %v", err)
	} else if n > 0 {
		log.Info("Purged %d partial segments from a previous run", n)
	}

	dispatcher := engine.NewSerialDispatcher()
	defer dispatcher.Close()

	hub := events.NewHub(log)

	appCtx := app.NewContext(cfg, log)
	appCtx.Store = st
	appCtx.Output = bucket
	appCtx.Events = hub

	svc := app.NewService(appCtx, session, engine.WithDispatcher(dispatcher))
	if _, err := svc.Restore(ctx); err != nil {
		return err
	}

	e := echo.New()
	api.RegisterRoutes(e, appCtx, svc, hub)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		appCtx.Scheduler.WatchMemoryPressure(gctx, memoryPressure(gctx))
		return nil
	})

	g.Go(func() error {
		log.Info("API listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// paused records are picked up again by the next run
		svc.PauseAll()
		return err
	})

	return g.Wait()
}
