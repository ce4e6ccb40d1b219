package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/queue"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

const (
	// StalePendingAttempts — столько попыток у ожидающей задачи значит,
	// что её сжигает сбой инфраструктуры.
	StalePendingAttempts = 2

	// ActiveAttemptsAlert — после стольких попыток активной задачи
	// шлётся сигнал мониторинга.
	ActiveAttemptsAlert = 4

	// RecoveredAlertThreshold — больше стольких восстановлений за батч
	// шлётся алерт.
	RecoveredAlertThreshold = 10
)

// Диагностические сообщения past-due recovery.
const (
	msgPastDueMissing  = "Publish job was lost, requeued"
	msgPastDueFinished = "Publish job finished without publishing, requeued"
	msgPastDueStale    = "Publish job kept failing to start, requeued"
)

// PastDueStore — хранилище и очередь для PastDueSweeper.
type PastDueStore interface {
	ListPastDue(ctx context.Context, dueBefore, lockCutoff time.Time, maxRetries, limit int) ([]domain.Draft, error)

	// GetJob возвращает queue.ErrJobNotFound, если задачи нет.
	GetJob(ctx context.Context, draftID uuid.UUID) (*queue.Job, error)
	RemoveJob(ctx context.Context, draftID uuid.UUID) error
	RequeueDraft(ctx context.Context, q domain.DraftRequeue, reason string) error
	SetDraftError(ctx context.Context, draftID uuid.UUID, message string) error
}

// PastDueConfig — настройки PastDueSweeper.
type PastDueConfig struct {
	Store   PastDueStore
	Signals Signals
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	Grace        time.Duration // насколько должно опоздать время публикации (default: 2m)
	LockCutoff   time.Duration // возраст блокировки воркера, после которого она не живая (default: 10m)
	BatchSize    int           // default: 100
	MaxRetries   int           // default: 7
	RequeueDelay time.Duration // default: 1m
}

// PastDueSweeper сверяет просроченные scheduled drafts с очередью.
type PastDueSweeper struct {
	store        PastDueStore
	signals      Signals
	metrics      *telemetry.Metrics
	logger       *slog.Logger
	grace        time.Duration
	lockCutoff   time.Duration
	batchSize    int
	maxRetries   int
	requeueDelay time.Duration
	now          func() time.Time
}

// NewPastDueSweeper создаёт PastDueSweeper.
func NewPastDueSweeper(cfg PastDueConfig) *PastDueSweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	signals := cfg.Signals
	if signals == nil {
		signals = LogSignals{Logger: logger}
	}

	return &PastDueSweeper{
		store:        cfg.Store,
		signals:      signals,
		metrics:      cfg.Metrics,
		logger:       telemetry.WithSweep(logger, telemetry.SweepPastDue),
		grace:        orDefault(cfg.Grace, 2*time.Minute),
		lockCutoff:   orDefault(cfg.LockCutoff, 10*time.Minute),
		batchSize:    orDefault(cfg.BatchSize, DefaultBatchSize),
		maxRetries:   orDefault(cfg.MaxRetries, DefaultMaxRetries),
		requeueDelay: orDefault(cfg.RequeueDelay, DefaultRequeueDelay),
		now:          time.Now,
	}
}

// decision — что делать с draft по состоянию его задачи.
type decision struct {
	action  string
	remove  bool
	requeue bool
	message string
}

// decide сопоставляет состояние задачи с действием. job == nil — задачи нет.
func decide(job *queue.Job) decision {
	if job == nil {
		return decision{action: ActionRequeue, requeue: true, message: msgPastDueMissing}
	}

	switch {
	case job.State.IsFinished():
		return decision{action: ActionRemoveAndRequeue, remove: true, requeue: true, message: msgPastDueFinished}
	case job.State.IsPending() && job.AttemptsMade >= StalePendingAttempts:
		return decision{action: ActionRemoveAndRequeue, remove: true, requeue: true, message: msgPastDueStale}
	case job.State == queue.StateActive && job.AttemptsMade >= ActiveAttemptsAlert:
		return decision{action: ActionMonitor}
	default:
		return decision{action: ActionLeave}
	}
}

// Sweep выполняет один проход.
func (s *PastDueSweeper) Sweep(ctx context.Context) (report Report, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(telemetry.SweepPastDue, started, err) }()

	now := s.now().UTC()

	drafts, err := s.store.ListPastDue(ctx, now.Add(-s.grace), now.Add(-s.lockCutoff), s.maxRetries, s.batchSize)
	if err != nil {
		return newReport(telemetry.SweepPastDue, 0), fmt.Errorf("list past-due drafts: %w", err)
	}
	report = newReport(telemetry.SweepPastDue, len(drafts))
	if len(drafts) == 0 {
		return report, nil
	}

	s.logger.Info("found past-due drafts", "count", len(drafts))

	for i := range drafts {
		d := &drafts[i]
		dec, err := s.recover(ctx, d, now)
		if err != nil {
			s.logger.Error("failed to recover past-due draft", "draft_id", d.ID, "error", err)
			report.Failed++
			s.metrics.RecoveryFailure(telemetry.SweepPastDue)

			if err := s.store.SetDraftError(ctx, d.ID, "Past-due recovery failed: "+err.Error()); err != nil {
				s.logger.Error("failed to record draft error", "draft_id", d.ID, "error", err)
			}
			continue
		}
		report.record(dec.action, dec.requeue)
		s.metrics.RecoveryAction(telemetry.SweepPastDue, dec.action)
	}

	if report.Recovered > RecoveredAlertThreshold {
		s.signals.HighRecoveryRate(ctx, telemetry.SweepPastDue, report.Recovered, report.Found)
	}
	if exceedsRate(report.Failed, report.Found, FailureRateThreshold) {
		s.signals.HighFailureRate(ctx, telemetry.SweepPastDue, report.Failed, report.Found)
	}

	s.logger.Info("past-due recovery completed",
		"found", report.Found,
		"recovered", report.Recovered,
		"untouched", report.Untouched,
		"failed", report.Failed,
	)

	return report, nil
}

func (s *PastDueSweeper) recover(ctx context.Context, d *domain.Draft, now time.Time) (decision, error) {
	job, err := s.store.GetJob(ctx, d.ID)
	if err != nil && !errors.Is(err, queue.ErrJobNotFound) {
		return decision{}, fmt.Errorf("get job: %w", err)
	}
	if errors.Is(err, queue.ErrJobNotFound) {
		job = nil
	}

	dec := decide(job)
	logger := telemetry.WithDraftID(s.logger, d.ID.String())

	if dec.action == ActionMonitor {
		logger.Warn("job still active after many attempts", "attempts", job.AttemptsMade)
		s.signals.JobStillActive(ctx, d.ID, job.AttemptsMade)
		return dec, nil
	}
	if !dec.requeue {
		return dec, nil
	}

	if dec.remove {
		if err := s.store.RemoveJob(ctx, d.ID); err != nil {
			return decision{}, fmt.Errorf("remove job: %w", err)
		}
	}

	q := requeueFor(d, dec.message, now.Add(s.requeueDelay))
	if err := s.store.RequeueDraft(ctx, q, queue.ReasonPastDueRecovery); err != nil {
		return decision{}, fmt.Errorf("requeue draft: %w", err)
	}

	attrs := []any{"action", dec.action, "deliver_at", q.DeliverAt}
	if job != nil {
		attrs = append(attrs, "job_state", job.State, "attempts", job.AttemptsMade)
	}
	logger.Info("requeued past-due draft", attrs...)

	return dec, nil
}
