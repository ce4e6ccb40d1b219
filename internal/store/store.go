// Package store собирает репозитории и очередь в одно хранилище для
// scheduler и recovery-sweepers.
//
// Операции, которые меняют draft и очередь вместе, выполняются в одной
// транзакции: если постановка в очередь не удалась, draft остаётся
// в прежнем состоянии. После коммита воркер публикации будится
// сообщением job.ready; ошибка уведомления не откатывает операцию.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/mq"
	"github.com/shaiso/Stashflow/internal/queue"
	"github.com/shaiso/Stashflow/internal/repo"
)

// DB — пул соединений с поддержкой транзакций (*pgxpool.Pool).
type DB interface {
	repo.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// JobNotifier будит воркер публикации (*mq.Publisher).
type JobNotifier interface {
	NotifyJobReady(ctx context.Context, payload mq.JobReadyPayload) error
}

// Store — хранилище поверх PostgreSQL.
type Store struct {
	db          DB
	automations *repo.AutomationRepo
	drafts      *repo.DraftRepo
	logs        *repo.ExecutionLogRepo
	users       *repo.UserRepo
	queue       *queue.PgQueue
	notifier    JobNotifier
	logger      *slog.Logger
}

// New создаёт Store. notifier может быть nil: тогда уведомлений нет.
func New(db DB, notifier JobNotifier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:          db,
		automations: repo.NewAutomationRepo(db),
		drafts:      repo.NewDraftRepo(db),
		logs:        repo.NewExecutionLogRepo(db),
		users:       repo.NewUserRepo(db),
		queue:       queue.New(db),
		notifier:    notifier,
		logger:      logger,
	}
}

// --- Automations ---

func (s *Store) GetAutomation(ctx context.Context, id uuid.UUID) (*domain.Automation, error) {
	return s.automations.GetByID(ctx, id)
}

func (s *Store) ListEnabledAutomations(ctx context.Context) ([]domain.Automation, error) {
	return s.automations.ListEnabled(ctx)
}

func (s *Store) TryAcquireAutomation(ctx context.Context, id uuid.UUID, now time.Time, staleAfter time.Duration) (bool, error) {
	return s.automations.TryAcquire(ctx, id, now, staleAfter)
}

func (s *Store) ReleaseAutomation(ctx context.Context, id uuid.UUID) error {
	return s.automations.Release(ctx, id)
}

func (s *Store) ListEnabledRules(ctx context.Context, automationID uuid.UUID) ([]domain.ScheduleRule, error) {
	return s.automations.ListEnabledRules(ctx, automationID)
}

func (s *Store) ListDefaultValues(ctx context.Context, automationID uuid.UUID) ([]domain.DefaultValue, error) {
	return s.automations.ListDefaultValues(ctx, automationID)
}

func (s *Store) UserTimezone(ctx context.Context, userID uuid.UUID) (string, error) {
	return s.users.Timezone(ctx, userID)
}

// --- Execution log ---

func (s *Store) AppendExecutionLog(ctx context.Context, log *domain.ExecutionLog) error {
	return s.logs.Append(ctx, log)
}

func (s *Store) ListRecentExecutionLogs(ctx context.Context, automationID uuid.UUID, limit int) ([]domain.ExecutionLog, error) {
	return s.logs.ListRecent(ctx, automationID, limit)
}

func (s *Store) LastTriggeredAt(ctx context.Context, automationID uuid.UUID, ruleType domain.RuleType) (*time.Time, error) {
	return s.logs.LastTriggeredAt(ctx, automationID, ruleType)
}

func (s *Store) ScheduledSince(ctx context.Context, automationID uuid.UUID, ruleType domain.RuleType, since time.Time) (int, error) {
	return s.logs.ScheduledSince(ctx, automationID, ruleType, since)
}

// --- Drafts ---

func (s *Store) GetDraft(ctx context.Context, id uuid.UUID) (*domain.Draft, error) {
	return s.drafts.GetByID(ctx, id)
}

func (s *Store) ListCandidates(ctx context.Context, userID uuid.UUID, newestFirst bool, limit int) ([]domain.Draft, error) {
	return s.drafts.ListCandidates(ctx, userID, newestFirst, limit)
}

func (s *Store) ClaimDraft(ctx context.Context, draftID uuid.UUID, version int64, now time.Time) (bool, error) {
	return s.drafts.Claim(ctx, draftID, version, now)
}

func (s *Store) ReleaseDraftClaim(ctx context.Context, draftID uuid.UUID) error {
	return s.drafts.ReleaseClaim(ctx, draftID)
}

// ScheduleDraft переводит draft в scheduled и ставит задачу в одной транзакции.
func (s *Store) ScheduleDraft(ctx context.Context, sch domain.DraftSchedule) error {
	payload := queue.Payload{
		DraftID:    sch.DraftID,
		UserID:     sch.UserID,
		UploadMode: sch.UploadMode,
		Reason:     queue.ReasonAutomation,
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := repo.NewDraftRepo(tx).MarkScheduled(ctx, sch); err != nil {
			return err
		}
		return queue.New(tx).Enqueue(ctx, payload, sch.ActualPublishAt)
	})
	if err != nil {
		return fmt.Errorf("schedule draft %s: %w", sch.DraftID, err)
	}

	s.notify(ctx, payload, sch.ActualPublishAt)
	return nil
}

func (s *Store) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.drafts.ReleaseStaleClaims(ctx, cutoff)
}

func (s *Store) ListStuck(ctx context.Context, lockCutoff, statusCutoff time.Time, limit int) ([]domain.Draft, error) {
	return s.drafts.ListStuck(ctx, lockCutoff, statusCutoff, limit)
}

func (s *Store) ListPastDue(ctx context.Context, dueBefore, lockCutoff time.Time, maxRetries, limit int) ([]domain.Draft, error) {
	return s.drafts.ListPastDue(ctx, dueBefore, lockCutoff, maxRetries, limit)
}

func (s *Store) ReleaseExecutionLock(ctx context.Context, draftID uuid.UUID) error {
	return s.drafts.ReleaseExecutionLock(ctx, draftID)
}

// CompleteGhostPublish помечает draft опубликованным и один раз
// увеличивает счётчик публикаций пользователя.
func (s *Store) CompleteGhostPublish(ctx context.Context, d *domain.Draft, now time.Time) (bool, error) {
	var incremented bool

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		drafts := repo.NewDraftRepo(tx)
		if err := drafts.MarkPublished(ctx, d.ID, now); err != nil {
			return err
		}

		ok, err := drafts.MarkPostCountIncremented(ctx, d.ID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := repo.NewUserRepo(tx).IncrementPostCount(ctx, d.UserID); err != nil {
			return err
		}
		incremented = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("complete ghost publish %s: %w", d.ID, err)
	}
	return incremented, nil
}

// RequeueDraft возвращает draft в scheduled и ставит задачу в одной транзакции.
func (s *Store) RequeueDraft(ctx context.Context, q domain.DraftRequeue, reason string) error {
	payload := queue.Payload{
		DraftID:    q.DraftID,
		UserID:     q.UserID,
		UploadMode: q.UploadMode,
		Reason:     reason,
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := repo.NewDraftRepo(tx).Requeue(ctx, q); err != nil {
			return err
		}
		return queue.New(tx).Enqueue(ctx, payload, q.DeliverAt)
	})
	if err != nil {
		return fmt.Errorf("requeue draft %s: %w", q.DraftID, err)
	}

	s.notify(ctx, payload, q.DeliverAt)
	return nil
}

func (s *Store) ResetToDraft(ctx context.Context, draftID uuid.UUID, message string) error {
	return s.drafts.ResetToDraft(ctx, draftID, message)
}

func (s *Store) SetDraftError(ctx context.Context, draftID uuid.UUID, message string) error {
	return s.drafts.SetError(ctx, draftID, message)
}

// --- Queue ---

func (s *Store) GetJob(ctx context.Context, draftID uuid.UUID) (*queue.Job, error) {
	return s.queue.GetJob(ctx, draftID)
}

func (s *Store) RemoveJob(ctx context.Context, draftID uuid.UUID) error {
	return s.queue.Remove(ctx, draftID)
}

// QueueCounts возвращает число задач по состояниям.
func (s *Store) QueueCounts(ctx context.Context) (map[queue.State]int, error) {
	return s.queue.Counts(ctx)
}

// notify будит воркер публикации. Ошибка только логируется: задача
// уже в очереди, воркер заберёт её при опросе.
func (s *Store) notify(ctx context.Context, p queue.Payload, deliverAt time.Time) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyJobReady(ctx, mq.JobReadyPayload{
		DraftID:   p.DraftID,
		UserID:    p.UserID,
		DeliverAt: deliverAt,
		Reason:    p.Reason,
	})
	if err != nil {
		s.logger.Warn("failed to notify job ready",
			"draft_id", p.DraftID,
			"error", err,
		)
	}
}
