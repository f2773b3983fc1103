// Package main runs the send workers, the delayed-retry promoter and the outbox sweeper.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emailez/backend/config"
	"github.com/emailez/backend/internal/bootstrap"
	"github.com/emailez/backend/internal/worker"
)

func main() {
	logger := bootstrap.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	app, err := bootstrap.Open(context.Background(), cfg, false, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer app.Close()

	processor := worker.NewEmailProcessor(app.Dispatch, app.Queue, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.Worker.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx, cfg.Worker.Concurrency, cfg.Worker.PromoteInterval)
	}()
	go func() {
		defer wg.Done()
		worker.RunSweeper(ctx, app.Dispatch, worker.SweeperConfig{
			Interval: cfg.Worker.OutboxSweepInterval,
			Grace:    cfg.Worker.OutboxGrace,
			Batch:    cfg.Worker.OutboxBatch,
		}, logger)
	}()
	logger.Info("worker started",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("metrics_port", cfg.Worker.MetricsPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}
