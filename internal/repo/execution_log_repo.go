package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Stashflow/internal/domain"
)

// ExecutionLogRepo — журнал выполнения автоматизаций (append-only).
type ExecutionLogRepo struct {
	db DBTX
}

// NewExecutionLogRepo создаёт новый ExecutionLogRepo.
func NewExecutionLogRepo(db DBTX) *ExecutionLogRepo {
	return &ExecutionLogRepo{db: db}
}

// Append добавляет запись в журнал.
func (r *ExecutionLogRepo) Append(ctx context.Context, log *domain.ExecutionLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now().UTC()
	}

	var ruleType *string
	if log.TriggeredByRuleType != nil {
		s := log.TriggeredByRuleType.String()
		ruleType = &s
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO automation_execution_logs
		    (id, automation_id, scheduled_count, error_message, triggered_by_rule_type, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.ID, log.AutomationID, log.ScheduledCount, log.ErrorMessage, ruleType, log.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

// LastTriggeredAt возвращает время последней записи с данным типом правила.
func (r *ExecutionLogRepo) LastTriggeredAt(ctx context.Context, automationID uuid.UUID, ruleType domain.RuleType) (*time.Time, error) {
	var at time.Time
	err := r.db.QueryRow(ctx, `
		SELECT executed_at
		FROM automation_execution_logs
		WHERE automation_id = $1 AND triggered_by_rule_type = $2
		ORDER BY executed_at DESC
		LIMIT 1
	`, automationID, ruleType.String()).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last triggered at: %w", err)
	}
	return &at, nil
}

// ScheduledSince суммирует scheduled_count записей с данным типом правила
// начиная с since.
func (r *ExecutionLogRepo) ScheduledSince(ctx context.Context, automationID uuid.UUID, ruleType domain.RuleType, since time.Time) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(scheduled_count), 0)
		FROM automation_execution_logs
		WHERE automation_id = $1
		  AND triggered_by_rule_type = $2
		  AND executed_at >= $3
	`, automationID, ruleType.String(), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("scheduled since: %w", err)
	}
	return total, nil
}

// ListRecent возвращает последние записи журнала автоматизации.
func (r *ExecutionLogRepo) ListRecent(ctx context.Context, automationID uuid.UUID, limit int) ([]domain.ExecutionLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, automation_id, scheduled_count, error_message, triggered_by_rule_type, executed_at
		FROM automation_execution_logs
		WHERE automation_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.ExecutionLog
	for rows.Next() {
		var l domain.ExecutionLog
		var ruleType *string
		if err := rows.Scan(&l.ID, &l.AutomationID, &l.ScheduledCount, &l.ErrorMessage, &ruleType, &l.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		if ruleType != nil {
			t := domain.RuleType(*ruleType)
			l.TriggeredByRuleType = &t
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
