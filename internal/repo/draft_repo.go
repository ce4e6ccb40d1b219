package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Stashflow/internal/domain"
)

// DraftRepo — репозиторий drafts.
type DraftRepo struct {
	db DBTX
}

// NewDraftRepo создаёт новый DraftRepo.
func NewDraftRepo(db DBTX) *DraftRepo {
	return &DraftRepo{db: db}
}

const draftColumns = `
	d.id, d.user_id, d.automation_id, d.status,
	d.execution_lock_id, d.execution_locked_at, d.execution_version,
	d.retry_count, d.deviation_id, d.stash_item_id,
	d.scheduled_at, d.actual_publish_at, d.published_at,
	d.jitter_seconds, d.upload_mode, d.error_message,
	d.post_count_incremented, d.fields,
	(SELECT COUNT(*) FROM draft_files f WHERE f.draft_id = d.id),
	d.created_at, d.updated_at`

// GetByID возвращает draft по ID.
func (r *DraftRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts d WHERE d.id = $1`
	return scanDraft(r.db.QueryRow(ctx, query, id))
}

// ListCandidates возвращает drafts пользователя, доступные для выбора:
// статус draft, scheduled_at пуст и есть хотя бы один файл.
func (r *DraftRepo) ListCandidates(ctx context.Context, userID uuid.UUID, newestFirst bool, limit int) ([]domain.Draft, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := `SELECT ` + draftColumns + `
		FROM drafts d
		WHERE d.user_id = $1
		  AND d.status = 'draft'
		  AND d.scheduled_at IS NULL
		  AND EXISTS (SELECT 1 FROM draft_files f WHERE f.draft_id = d.id)
		ORDER BY d.created_at ` + order + `
		LIMIT $2
	`
	return r.list(ctx, "list candidates", query, userID, limit)
}

// Claim атомарно захватывает draft при совпадении версии.
// Возвращает false, если версия, статус или scheduled_at уже изменились.
func (r *DraftRepo) Claim(ctx context.Context, id uuid.UUID, version int64, now time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET scheduled_at = $3,
		    execution_version = execution_version + 1,
		    updated_at = $3
		WHERE id = $1
		  AND execution_version = $2
		  AND status = 'draft'
		  AND scheduled_at IS NULL
	`, id, version, now)
	if err != nil {
		return false, fmt.Errorf("claim draft: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ReleaseClaim снимает маркер захвата с draft, который так и не был
// поставлен в очередь. Не трогает drafts в других статусах.
func (r *DraftRepo) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET scheduled_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, id)
	if err != nil {
		return fmt.Errorf("release draft claim: %w", err)
	}
	return nil
}

// ReleaseStaleClaims снимает маркеры захвата, оставшиеся от scheduler,
// упавшего между Claim и MarkScheduled: status = 'draft', но scheduled_at
// выставлен раньше cutoff. Возвращает число освобождённых drafts.
func (r *DraftRepo) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET scheduled_at = NULL, updated_at = NOW()
		WHERE status = 'draft'
		  AND scheduled_at IS NOT NULL
		  AND scheduled_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale draft claims: %w", err)
	}
	return result.RowsAffected(), nil
}

// MarkScheduled переводит захваченный draft в scheduled.
func (r *DraftRepo) MarkScheduled(ctx context.Context, s domain.DraftSchedule) error {
	fieldsJSON, err := json.Marshal(s.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET status = 'scheduled',
		    scheduled_at = $2,
		    actual_publish_at = $3,
		    jitter_seconds = $4,
		    automation_id = $5,
		    fields = $6,
		    error_message = NULL,
		    updated_at = $2
		WHERE id = $1 AND status = 'draft'
	`, s.DraftID, s.ScheduledAt, s.ActualPublishAt, s.JitterSeconds, s.AutomationID, fieldsJSON)
	if err != nil {
		return fmt.Errorf("mark draft scheduled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ListStuck возвращает drafts с протухшей блокировкой воркера или
// застрявшие в legacy-статусах uploading/publishing.
func (r *DraftRepo) ListStuck(ctx context.Context, lockCutoff, statusCutoff time.Time, limit int) ([]domain.Draft, error) {
	query := `SELECT ` + draftColumns + `
		FROM drafts d
		WHERE (d.execution_lock_id IS NOT NULL AND d.execution_locked_at < $1)
		   OR (d.status IN ('uploading', 'publishing') AND d.updated_at < $2)
		ORDER BY d.execution_locked_at ASC NULLS LAST, d.updated_at ASC
		LIMIT $3
	`
	return r.list(ctx, "list stuck drafts", query, lockCutoff, statusCutoff, limit)
}

// ListPastDue возвращает scheduled drafts, чьё время публикации прошло,
// с retry_count ниже maxRetries и без живой блокировки воркера.
func (r *DraftRepo) ListPastDue(ctx context.Context, dueBefore, lockCutoff time.Time, maxRetries, limit int) ([]domain.Draft, error) {
	query := `SELECT ` + draftColumns + `
		FROM drafts d
		WHERE d.status = 'scheduled'
		  AND d.actual_publish_at < $1
		  AND d.retry_count < $3
		  AND (d.execution_lock_id IS NULL OR d.execution_locked_at < $2)
		ORDER BY d.actual_publish_at ASC
		LIMIT $4
	`
	return r.list(ctx, "list past-due drafts", query, dueBefore, lockCutoff, maxRetries, limit)
}

// ReleaseExecutionLock снимает блокировку воркера. Идемпотентно.
func (r *DraftRepo) ReleaseExecutionLock(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET execution_lock_id = NULL, execution_locked_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("release execution lock: %w", err)
	}
	return nil
}

// MarkPublished фиксирует публикацию, которую БД пропустила.
func (r *DraftRepo) MarkPublished(ctx context.Context, id uuid.UUID, now time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET status = 'published',
		    published_at = COALESCE(published_at, $2),
		    error_message = NULL,
		    updated_at = $2
		WHERE id = $1
	`, id, now)
	if err != nil {
		return fmt.Errorf("mark draft published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPostCountIncremented выставляет флаг post_count_incremented.
// Возвращает false, если флаг уже стоял: счётчик увеличивать нельзя.
func (r *DraftRepo) MarkPostCountIncremented(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET post_count_incremented = true, updated_at = NOW()
		WHERE id = $1 AND post_count_incremented = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark post count incremented: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Requeue возвращает draft в scheduled со сброшенным retry_count.
func (r *DraftRepo) Requeue(ctx context.Context, q domain.DraftRequeue) error {
	result, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET status = 'scheduled',
		    retry_count = 0,
		    error_message = $2,
		    actual_publish_at = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, q.DraftID, nullString(q.ErrorMessage), q.DeliverAt)
	if err != nil {
		return fmt.Errorf("requeue draft: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetToDraft возвращает draft в пул выбора.
func (r *DraftRepo) ResetToDraft(ctx context.Context, id uuid.UUID, message string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE drafts
		SET status = 'draft',
		    scheduled_at = NULL,
		    actual_publish_at = NULL,
		    jitter_seconds = 0,
		    error_message = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, nullString(message))
	if err != nil {
		return fmt.Errorf("reset draft: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetError записывает диагностическое сообщение.
func (r *DraftRepo) SetError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE drafts SET error_message = $2, updated_at = NOW() WHERE id = $1
	`, id, nullString(message))
	if err != nil {
		return fmt.Errorf("set draft error: %w", err)
	}
	return nil
}

func (r *DraftRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.Draft, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var drafts []domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

func scanDraft(row pgx.Row) (*domain.Draft, error) {
	var d domain.Draft
	var status string
	var uploadMode, errorMessage *string
	var fieldsJSON []byte

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.AutomationID,
		&status,
		&d.ExecutionLockID,
		&d.ExecutionLockedAt,
		&d.ExecutionVersion,
		&d.RetryCount,
		&d.DeviationID,
		&d.StashItemID,
		&d.ScheduledAt,
		&d.ActualPublishAt,
		&d.PublishedAt,
		&d.JitterSeconds,
		&uploadMode,
		&errorMessage,
		&d.PostCountIncremented,
		&fieldsJSON,
		&d.FileCount,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft: %w", err)
	}

	d.Status = domain.DraftStatus(status)
	d.UploadMode = derefString(uploadMode)
	d.ErrorMessage = derefString(errorMessage)
	if fieldsJSON != nil {
		if err := json.Unmarshal(fieldsJSON, &d.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	return &d, nil
}

// --- Helpers ---

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
