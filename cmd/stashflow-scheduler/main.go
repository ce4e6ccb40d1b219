// Stashflow Scheduler — фоновый демон планирования публикаций.
//
// Scheduler:
//   - Раз в период проходит по включённым автоматизациям и ставит drafts в очередь
//   - Возвращает в работу публикации, зависшие в processing
//   - Перепланирует просроченные публикации, потерянные очередью
//   - Отдаёт /healthz и /metrics
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Stashflow/internal/app"
	"github.com/shaiso/Stashflow/internal/config"
	"github.com/shaiso/Stashflow/internal/scheduler"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("ERROR", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting stashflow-scheduler", "env", cfg.Environment)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stashflow-scheduler failed", "error", err)
		cancel()
		os.Exit(1)
	}

	logger.Info("stashflow-scheduler stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := scheduler.NewRunner(logger)
	for _, sw := range a.Sweeps() {
		runner.Add(sw)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if a.MQ != nil && !a.MQ.IsConnected() {
			w.Write([]byte("ok (rabbitmq reconnecting)"))
			return
		}
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		runner.Start(gctx)
		<-gctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()

		if err := srv.Shutdown(stopCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		if err := runner.Stop(stopCtx); err != nil {
			logger.Warn("sweeps did not finish before shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}
