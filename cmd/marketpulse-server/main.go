package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"marketpulse/internal/api"
	"marketpulse/internal/app"
	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/httpapi"
	"marketpulse/internal/scheduler"
	"marketpulse/internal/store"
	"marketpulse/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config:\n%v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/marketpulse-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLoggerTo(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	grpcSrv := api.NewServer(logger)
	updater := a.Updater(grpcSrv.ObserveCycle)

	sched := scheduler.New(ctx, logger)
	entry, err := sched.Every(cfg.Schedule.Interval, updater)
	if err != nil {
		return err
	}

	apiSrv := httpapi.NewServer(httpapi.Config{
		Universe:    a.Universe,
		Bars:        a.Bars,
		Snapshots:   a.Snapshots,
		Runs:        runStore(a),
		Updater:     updater,
		Providers:   a.Providers,
		Fetcher:     a.Fetcher,
		Analyzer:    a.Analyzer,
		Calendar:    a.Calendar,
		BaseContext: ctx,
		Log:         logger,
	})
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return grpcSrv.ListenAndServe(gctx, grpcAddr)
	})
	g.Go(func() error {
		sched.Start()
		logger.Info("update schedule", "every", cfg.Schedule.Interval, "next", sched.Next(entry))
		if cfg.Schedule.RunOnStart {
			_, err := updater.RunCycle(gctx, domain.TriggerStartup)
			if err != nil && !errors.Is(err, domain.ErrCycleInProgress) {
				logger.Error("startup update failed", "error", err)
			}
		}
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		grpcSrv.Shutdown(shutdownCtx)
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("update cycle still running at shutdown")
		}
		return nil
	})
	return g.Wait()
}

// runStore keeps a nil *SQLiteRunStore from becoming a non-nil interface.
func runStore(a *app.App) store.RunStore {
	if a.Runs == nil {
		return nil
	}
	return a.Runs
}
