// Package scheduler реализует Automation Scheduler и запуск sweeps.
//
// Scheduler на каждом тике проходит по включённым автоматизациям и для
// каждой:
//
//  1. захватывает блокировку выполнения (условный UPDATE, без advisory locks)
//  2. вычисляет правила расписания в часовом поясе владельца
//  3. захватывает нужное количество drafts (optimistic locking)
//  4. применяет значения по умолчанию и jitter
//  5. в одной транзакции переводит draft в scheduled и ставит задачу
//  6. пишет одну запись ExecutionLog
//  7. снимает блокировку (всегда)
//
// Структура:
//   - scheduler.go — Scheduler.Tick и обработка одной автоматизации
//   - runner.go    — Runner: периодический запуск sweeps через robfig/cron
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Store:   st,
//	    Metrics: metrics,
//	    Logger:  logger,
//	})
//
//	runner := scheduler.NewRunner(logger)
//	runner.Add(scheduler.Sweep{
//	    Name:         telemetry.SweepSchedule,
//	    InitialDelay: 5 * time.Second,
//	    Period:       5 * time.Minute,
//	    Run: func(ctx context.Context) error {
//	        _, err := sched.Tick(ctx)
//	        return err
//	    },
//	})
//	runner.Start(ctx)
//	defer runner.Stop(shutdownCtx)
//
// Несколько реплик могут работать одновременно: вся координация
// идёт через условные обновления строк.
package scheduler
