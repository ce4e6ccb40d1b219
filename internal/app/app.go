// Package app собирает зависимости Stashflow из конфигурации: пул БД,
// RabbitMQ, хранилище, scheduler и recovery-sweepers.
//
// Используется и демоном (cmd/stashflow-scheduler), и ops CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Stashflow/internal/config"
	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/mq"
	"github.com/shaiso/Stashflow/internal/queue"
	"github.com/shaiso/Stashflow/internal/recovery"
	"github.com/shaiso/Stashflow/internal/repo"
	"github.com/shaiso/Stashflow/internal/scheduler"
	"github.com/shaiso/Stashflow/internal/store"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

// App — собранные зависимости процесса.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *telemetry.Metrics

	Pool      *pgxpool.Pool
	MQ        *mq.Connection // nil, если RabbitMQ выключен или недоступен
	Publisher *mq.Publisher  // nil вместе с MQ

	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Stuck     *recovery.StuckSweeper
	PastDue   *recovery.PastDueSweeper
}

// New подключается к БД и RabbitMQ и собирает App.
//
// Недоступный RabbitMQ не ошибка: сигналы тогда пишутся в лог, а
// воркер публикации находит задачи опросом очереди.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: telemetry.NewMetrics(reg),
	}

	pool, err := repo.NewPool(ctx, repo.PoolConfig{
		URL:               cfg.Database.URL,
		MaxConns:          cfg.Database.MaxConns,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	logger.Info("database connected")

	var signals recovery.Signals = recovery.LogSignals{Logger: logger}
	var notifier store.JobNotifier

	if cfg.RabbitMQ.Enabled {
		conn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running with log-only signals", "error", err)
		} else {
			a.MQ = conn
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			a.Publisher = mq.NewPublisher(conn, logger)
			notifier = a.Publisher
			signals = mq.NewSignaler(a.Publisher, mq.SignalerConfig{
				AlertsPerMinute: cfg.Alerts.PerMinute,
				AlertBurst:      cfg.Alerts.Burst,
			}, logger)
		}
	}

	a.Store = store.New(pool, notifier, logger)

	a.Scheduler = scheduler.New(scheduler.Config{
		Store:       a.Store,
		Metrics:     a.Metrics,
		Logger:      telemetry.WithSweep(logger, telemetry.SweepSchedule),
		LockTimeout: cfg.Scheduler.LockTimeout,
	})

	a.Stuck = recovery.NewStuckSweeper(recovery.StuckConfig{
		Store:        a.Store,
		Signals:      signals,
		Metrics:      a.Metrics,
		Logger:       logger,
		Threshold:    cfg.Stuck.Threshold,
		BatchSize:    cfg.Stuck.BatchSize,
		MaxRetries:   cfg.Recovery.MaxRetries,
		RequeueDelay: cfg.Recovery.RequeueDelay,
	})

	a.PastDue = recovery.NewPastDueSweeper(recovery.PastDueConfig{
		Store:        a.Store,
		Signals:      signals,
		Metrics:      a.Metrics,
		Logger:       logger,
		Grace:        cfg.PastDue.Grace,
		LockCutoff:   cfg.PastDue.LockCutoff,
		BatchSize:    cfg.PastDue.BatchSize,
		MaxRetries:   cfg.Recovery.MaxRetries,
		RequeueDelay: cfg.Recovery.RequeueDelay,
	})

	return a, nil
}

// Sweeps возвращает три sweep с периодами и начальными задержками из конфигурации.
func (a *App) Sweeps() []scheduler.Sweep {
	cfg := a.Config
	return []scheduler.Sweep{
		{
			Name:         telemetry.SweepSchedule,
			InitialDelay: cfg.Scheduler.InitialDelay,
			Period:       cfg.Scheduler.Period,
			Run: func(ctx context.Context) error {
				_, err := a.Scheduler.Tick(ctx)
				return err
			},
		},
		{
			Name:         telemetry.SweepStuck,
			InitialDelay: cfg.Stuck.InitialDelay,
			Period:       cfg.Stuck.Period,
			Run: func(ctx context.Context) error {
				_, err := a.Stuck.Sweep(ctx)
				return err
			},
		},
		{
			Name:         telemetry.SweepPastDue,
			InitialDelay: cfg.PastDue.InitialDelay,
			Period:       cfg.PastDue.Period,
			Run: func(ctx context.Context) error {
				_, err := a.PastDue.Sweep(ctx)
				return err
			},
		},
	}
}

// ErrUnknownSweep — неизвестное имя sweep.
var ErrUnknownSweep = errors.New("unknown sweep")

// ErrNoBroker — команда требует RabbitMQ, а он не подключён.
var ErrNoBroker = errors.New("RabbitMQ is not connected")

// RunSweep выполняет один проход sweep по имени и возвращает его отчёт.
func (a *App) RunSweep(ctx context.Context, name string) (any, error) {
	switch name {
	case telemetry.SweepSchedule:
		return a.Scheduler.Tick(ctx)
	case telemetry.SweepStuck:
		return a.Stuck.Sweep(ctx)
	case telemetry.SweepPastDue:
		return a.PastDue.Sweep(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSweep, name)
	}
}

// QueueCounts возвращает число задач публикации по состояниям.
func (a *App) QueueCounts(ctx context.Context) (map[queue.State]int, error) {
	return a.Store.QueueCounts(ctx)
}

// Draft возвращает draft по ID.
func (a *App) Draft(ctx context.Context, id uuid.UUID) (*domain.Draft, error) {
	return a.Store.GetDraft(ctx, id)
}

// Automation возвращает автоматизацию по ID.
func (a *App) Automation(ctx context.Context, id uuid.UUID) (*domain.Automation, error) {
	return a.Store.GetAutomation(ctx, id)
}

// ExecutionLogs возвращает последние limit записей журнала автоматизации.
func (a *App) ExecutionLogs(ctx context.Context, automationID uuid.UUID, limit int) ([]domain.ExecutionLog, error) {
	return a.Store.ListRecentExecutionLogs(ctx, automationID, limit)
}

// WatchAlerts потребляет events.alerts до отмены ctx.
func (a *App) WatchAlerts(ctx context.Context, fn func(msg mq.Message) error) error {
	if a.MQ == nil {
		return ErrNoBroker
	}
	consumer := mq.NewConsumer(a.MQ, a.Logger, mq.ConsumerConfig{
		Queue: mq.QueueEventsAlerts,
		Handler: func(_ context.Context, d *mq.Delivery) error {
			return fn(d.Message)
		},
		RequeueOnError: true,
	})
	err := consumer.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close закрывает соединения.
func (a *App) Close() {
	if a.MQ != nil {
		if err := a.MQ.Close(); err != nil {
			a.Logger.Warn("failed to close RabbitMQ connection", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
