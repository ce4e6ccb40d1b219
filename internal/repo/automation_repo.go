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

// AutomationRepo — репозиторий автоматизаций, их правил и defaults.
type AutomationRepo struct {
	db DBTX
}

// NewAutomationRepo создаёт новый AutomationRepo.
func NewAutomationRepo(db DBTX) *AutomationRepo {
	return &AutomationRepo{db: db}
}

const automationColumns = `
	id, user_id, name, enabled, draft_selection_method,
	jitter_min_seconds, jitter_max_seconds, stash_only_by_default,
	auto_add_to_sale_queue, sale_queue_price_preset_id,
	is_executing, last_execution_lock, created_at, updated_at`

// GetByID возвращает автоматизацию по ID.
func (r *AutomationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`
	return scanAutomation(r.db.QueryRow(ctx, query, id))
}

// ListEnabled возвращает все включённые автоматизации.
func (r *AutomationRepo) ListEnabled(ctx context.Context) ([]domain.Automation, error) {
	query := `SELECT ` + automationColumns + `
		FROM automations
		WHERE enabled = true
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list enabled automations: %w", err)
	}
	defer rows.Close()

	var automations []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		automations = append(automations, *a)
	}
	return automations, rows.Err()
}

// TryAcquire захватывает блокировку выполнения автоматизации.
//
// Блокировка берётся, если она свободна, не выставлено время захвата
// или захват старше staleAfter. Возвращает false, если блокировку
// держит другой процесс.
func (r *AutomationRepo) TryAcquire(ctx context.Context, id uuid.UUID, now time.Time, staleAfter time.Duration) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE automations
		SET is_executing = true, last_execution_lock = $2, updated_at = $2
		WHERE id = $1
		  AND (is_executing = false
		       OR last_execution_lock IS NULL
		       OR last_execution_lock < $3)
	`, id, now, now.Add(-staleAfter))
	if err != nil {
		return false, fmt.Errorf("acquire automation lock: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Release снимает блокировку выполнения. Безусловно и идемпотентно.
func (r *AutomationRepo) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE automations
		SET is_executing = false, last_execution_lock = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("release automation lock: %w", err)
	}
	return nil
}

// ListEnabledRules возвращает включённые правила по возрастанию priority.
func (r *AutomationRepo) ListEnabledRules(ctx context.Context, automationID uuid.UUID) ([]domain.ScheduleRule, error) {
	query := `
		SELECT id, automation_id, type, time_of_day, days_of_week,
		       interval_minutes, deviations_per_interval, daily_quota,
		       priority, enabled
		FROM automation_schedule_rules
		WHERE automation_id = $1 AND enabled = true
		ORDER BY priority ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.ScheduleRule
	for rows.Next() {
		var rule domain.ScheduleRule
		var timeOfDay *string
		var interval, deviations, quota *int

		if err := rows.Scan(
			&rule.ID,
			&rule.AutomationID,
			&rule.Type,
			&timeOfDay,
			&rule.DaysOfWeek,
			&interval,
			&deviations,
			&quota,
			&rule.Priority,
			&rule.Enabled,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}

		rule.TimeOfDay = derefString(timeOfDay)
		rule.IntervalMinutes = derefInt(interval)
		rule.DeviationsPerInterval = derefInt(deviations)
		rule.DailyQuota = derefInt(quota)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListDefaultValues возвращает defaults автоматизации.
func (r *AutomationRepo) ListDefaultValues(ctx context.Context, automationID uuid.UUID) ([]domain.DefaultValue, error) {
	query := `
		SELECT id, automation_id, field_name, value, apply_if_empty
		FROM automation_default_values
		WHERE automation_id = $1
		ORDER BY field_name ASC
	`
	rows, err := r.db.Query(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("list default values: %w", err)
	}
	defer rows.Close()

	var values []domain.DefaultValue
	for rows.Next() {
		var dv domain.DefaultValue
		var valueJSON []byte

		if err := rows.Scan(&dv.ID, &dv.AutomationID, &dv.FieldName, &valueJSON, &dv.ApplyIfEmpty); err != nil {
			return nil, fmt.Errorf("scan default value: %w", err)
		}
		if valueJSON != nil {
			if err := json.Unmarshal(valueJSON, &dv.Value); err != nil {
				return nil, fmt.Errorf("unmarshal default value %s: %w", dv.FieldName, err)
			}
		}
		values = append(values, dv)
	}
	return values, rows.Err()
}

func scanAutomation(row pgx.Row) (*domain.Automation, error) {
	var a domain.Automation
	var name *string
	var method string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&name,
		&a.Enabled,
		&method,
		&a.JitterMinSeconds,
		&a.JitterMaxSeconds,
		&a.StashOnlyByDefault,
		&a.AutoAddToSaleQueue,
		&a.SaleQueuePricePresetID,
		&a.IsExecuting,
		&a.LastExecutionLock,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan automation: %w", err)
	}

	a.Name = derefString(name)
	a.DraftSelectionMethod = domain.ParseSelectionMethod(method)
	return &a, nil
}
