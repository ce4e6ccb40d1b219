package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/queue"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

// Диагностические сообщения stuck-recovery.
const (
	msgStuckRetry = "Recovered after worker crash: file was uploaded but not published, retrying"
	msgStuckReset = "Recovered after worker crash: publish did not complete, returned to drafts"
)

// StuckStore — хранилище для StuckSweeper.
type StuckStore interface {
	// ReleaseStaleClaims снимает маркеры захвата, которые scheduler
	// выставил раньше cutoff, но так и не перевёл draft в scheduled.
	ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error)

	ListStuck(ctx context.Context, lockCutoff, statusCutoff time.Time, limit int) ([]domain.Draft, error)
	ReleaseExecutionLock(ctx context.Context, draftID uuid.UUID) error

	// CompleteGhostPublish в одной транзакции помечает draft опубликованным
	// и увеличивает счётчик публикаций пользователя, если он ещё не был
	// увеличен. Возвращает true, если счётчик увеличен этим вызовом.
	CompleteGhostPublish(ctx context.Context, d *domain.Draft, now time.Time) (bool, error)

	// RequeueDraft в одной транзакции возвращает draft в scheduled и
	// ставит задачу в очередь на DeliverAt.
	RequeueDraft(ctx context.Context, q domain.DraftRequeue, reason string) error

	ResetToDraft(ctx context.Context, draftID uuid.UUID, message string) error
}

// StuckConfig — настройки StuckSweeper.
type StuckConfig struct {
	Store   StuckStore
	Signals Signals
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	Threshold    time.Duration // возраст блокировки/статуса (default: 1h)
	BatchSize    int           // default: 100
	MaxRetries   int           // default: 7
	RequeueDelay time.Duration // default: 1m
}

// StuckSweeper чинит drafts с протухшей блокировкой воркера или
// застрявшие в uploading/publishing. Заодно возвращает в пул drafts,
// захваченные упавшим scheduler.
type StuckSweeper struct {
	store        StuckStore
	signals      Signals
	metrics      *telemetry.Metrics
	logger       *slog.Logger
	threshold    time.Duration
	batchSize    int
	maxRetries   int
	requeueDelay time.Duration
	now          func() time.Time
}

// NewStuckSweeper создаёт StuckSweeper.
func NewStuckSweeper(cfg StuckConfig) *StuckSweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	signals := cfg.Signals
	if signals == nil {
		signals = LogSignals{Logger: logger}
	}

	return &StuckSweeper{
		store:        cfg.Store,
		signals:      signals,
		metrics:      cfg.Metrics,
		logger:       telemetry.WithSweep(logger, telemetry.SweepStuck),
		threshold:    orDefault(cfg.Threshold, time.Hour),
		batchSize:    orDefault(cfg.BatchSize, DefaultBatchSize),
		maxRetries:   orDefault(cfg.MaxRetries, DefaultMaxRetries),
		requeueDelay: orDefault(cfg.RequeueDelay, DefaultRequeueDelay),
		now:          time.Now,
	}
}

// Sweep выполняет один проход.
func (s *StuckSweeper) Sweep(ctx context.Context) (report Report, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(telemetry.SweepStuck, started, err) }()

	now := s.now().UTC()
	cutoff := now.Add(-s.threshold)

	released := s.releaseStaleClaims(ctx, cutoff)

	drafts, err := s.store.ListStuck(ctx, cutoff, cutoff, s.batchSize)
	if err != nil {
		return newReport(telemetry.SweepStuck, 0), fmt.Errorf("list stuck drafts: %w", err)
	}
	report = newReport(telemetry.SweepStuck, len(drafts))
	report.ReleasedClaims = released
	if len(drafts) == 0 {
		return report, nil
	}

	s.logger.Info("found stuck drafts", "count", len(drafts))

	for i := range drafts {
		d := &drafts[i]
		action, err := s.recover(ctx, d, now)
		if err != nil {
			s.logger.Error("failed to recover stuck draft",
				"draft_id", d.ID,
				"status", d.Status,
				"error", err,
			)
			report.Failed++
			s.metrics.RecoveryFailure(telemetry.SweepStuck)
			continue
		}
		report.record(action, action != ActionLeave)
		s.metrics.RecoveryAction(telemetry.SweepStuck, action)
	}

	if exceedsRate(report.Failed, report.Found, FailureRateThreshold) {
		s.signals.HighFailureRate(ctx, telemetry.SweepStuck, report.Failed, report.Found)
	}

	s.logger.Info("stuck recovery completed",
		"found", report.Found,
		"recovered", report.Recovered,
		"untouched", report.Untouched,
		"failed", report.Failed,
	)

	return report, nil
}

// releaseStaleClaims возвращает в пул drafts, захваченные scheduler,
// который упал между Claim и ScheduleDraft. Ошибка не прерывает проход.
func (s *StuckSweeper) releaseStaleClaims(ctx context.Context, cutoff time.Time) int {
	n, err := s.store.ReleaseStaleClaims(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to release stale draft claims", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("released stale draft claims", "count", n)
	}
	return int(n)
}

// recover чинит один draft и возвращает имя действия.
// Блокировка воркера снимается всегда и первой.
func (s *StuckSweeper) recover(ctx context.Context, d *domain.Draft, now time.Time) (string, error) {
	logger := telemetry.WithDraftID(s.logger, d.ID.String())
	logger.Debug("recovering stuck draft",
		"status", d.Status,
		"in_flight", d.Status.IsInFlight(),
		"execution_locked", d.IsExecutionLocked(),
	)

	if err := s.store.ReleaseExecutionLock(ctx, d.ID); err != nil {
		return "", err
	}

	// Финальный draft без внешней публикации чинить нечего: достаточно
	// снять блокировку. Опубликованный с deviation идёт через GhostPublish,
	// чтобы счётчик публикаций был увеличен.
	if d.Status.IsTerminal() && !d.HasDeviation() {
		logger.Info("released lock on finished draft", "status", d.Status)
		return ActionLeave, nil
	}

	state := Classify(d, s.maxRetries)

	switch st := state.(type) {
	case GhostPublish:
		incremented, err := s.store.CompleteGhostPublish(ctx, d, now)
		if err != nil {
			return "", fmt.Errorf("complete ghost publish: %w", err)
		}
		logger.Info("completed ghost publish",
			"deviation_id", st.DeviationID,
			"post_count_incremented", incremented,
		)
		if incremented {
			s.signals.PostCountIncremented(ctx, d.UserID, d.ID)
		}
		s.signals.StorageCleanup(ctx, d.ID, d.UserID)

	case PartialPublish:
		q := requeueFor(d, msgStuckRetry, now.Add(s.requeueDelay))
		if err := s.store.RequeueDraft(ctx, q, queue.ReasonStuckRecovery); err != nil {
			return "", fmt.Errorf("requeue draft: %w", err)
		}
		logger.Info("requeued partially published draft",
			"stash_item_id", st.StashItemID,
			"deliver_at", q.DeliverAt,
		)

	case FailedUpload:
		if err := s.store.ResetToDraft(ctx, d.ID, msgStuckReset); err != nil {
			return "", fmt.Errorf("reset to draft: %w", err)
		}
		logger.Info("reset stuck draft", "retry_count", d.RetryCount)
	}

	return state.Action(), nil
}
