package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/app"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

func main() {
	// best-effort: without a .env the real environment and defaults apply
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-library-go")

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	db, err := database.ConnectX(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Migrate(ctx, db, sugar.Named("migrate")); err != nil {
		sugar.Fatalf("migrate: %v", err)
	}
	a, err := app.New(ctx, cfg, db, sugar)
	if err != nil {
		sugar.Fatalf("wire services: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router.RegisterRoutes(sugar.Named("http"), a, cfg.HTTP.Prefix),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("http server listening", "addr", srv.Addr, "prefix", cfg.HTTP.Prefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")
		doneCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("http server shutdown failed: %v", err)
		}
		return nil
	})
	if cfg.Schedule.Disabled {
		sugar.Info("scheduled jobs disabled")
	} else {
		sched, err := a.Scheduler(cfg.Schedule)
		if err != nil {
			sugar.Fatalf("scheduler: %v", err)
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		sugar.Errorf("service stopped: %v", err)
		os.Exit(1)
	}
	sugar.Info("goodbye")
}
