package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Stashflow/internal/telemetry"
)

// Sweep — периодическая задача Runner'а.
type Sweep struct {
	// Name — имя sweep в логах (schedule, stuck, past_due).
	Name string

	// InitialDelay — задержка первого запуска после Start.
	InitialDelay time.Duration

	// Period — период повторных запусков.
	Period time.Duration

	// Run выполняет один проход.
	Run func(ctx context.Context) error
}

// Runner запускает sweeps по расписанию поверх robfig/cron.
//
// Каждый sweep сначала срабатывает через InitialDelay после Start,
// затем каждые Period. Пока sweep выполняется, его следующий запуск
// в этом процессе пропускается.
type Runner struct {
	cron   *cron.Cron
	sweeps []Sweep
	ctx    context.Context
	logger *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	return &Runner{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ctx:    context.Background(),
		logger: logger,
	}
}

// Add регистрирует sweep. Вызывать до Start.
func (r *Runner) Add(sw Sweep) {
	r.sweeps = append(r.sweeps, sw)
}

// Start планирует все sweeps и запускает cron.
//
// Sweeps получают контекст без отмены: прерванный посередине sweep
// оставил бы незакрытые блокировки до следующего прохода.
func (r *Runner) Start(ctx context.Context) {
	r.ctx = context.WithoutCancel(ctx)
	now := time.Now()

	for _, sw := range r.sweeps {
		logger := telemetry.WithSweep(r.logger, sw.Name)
		r.cron.Schedule(delayedEvery{first: now.Add(sw.InitialDelay), period: sw.Period}, cron.FuncJob(func() {
			r.runSweep(sw, logger)
		}))
		logger.Info("sweep scheduled",
			"initial_delay", sw.InitialDelay,
			"period", sw.Period,
		)
	}

	r.cron.Start()
}

func (r *Runner) runSweep(sw Sweep, logger *slog.Logger) {
	started := time.Now()
	if err := sw.Run(telemetry.WithLogger(r.ctx, logger)); err != nil {
		logger.Error("sweep failed", "error", err, "duration", time.Since(started))
		return
	}
	logger.Debug("sweep finished", "duration", time.Since(started))
}

// Stop останавливает планирование и ждёт завершения запущенных sweeps
// или отмены ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// delayedEvery — cron.Schedule: первый запуск в first, дальше каждые period.
type delayedEvery struct {
	first  time.Time
	period time.Duration
}

// Next реализует cron.Schedule.
func (s delayedEvery) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	if s.period <= 0 {
		return time.Time{}
	}
	n := t.Sub(s.first)/s.period + 1
	return s.first.Add(n * s.period)
}
