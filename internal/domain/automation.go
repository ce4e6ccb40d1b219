package domain

import (
	"time"

	"github.com/google/uuid"
)

// Automation — пользовательское правило автоматической публикации.
//
// Automation периодически выбирает drafts пользователя и ставит их
// в очередь публикации. Когда именно — определяют ScheduleRule,
// что именно — DraftSelectionMethod, с какими полями — DefaultValue.
//
// IsExecuting и LastExecutionLock образуют блокировку выполнения:
// в каждый момент автоматизацию обрабатывает не больше одного sweep.
// Блокировка старше LockTimeout считается брошенной.
type Automation struct {
	// ID — уникальный идентификатор автоматизации.
	ID uuid.UUID `json:"id"`

	// UserID — владелец автоматизации и её drafts.
	UserID uuid.UUID `json:"user_id"`

	// Name — имя для удобства.
	Name string `json:"name,omitempty"`

	// Enabled — если false, scheduler игнорирует автоматизацию.
	Enabled bool `json:"enabled"`

	// DraftSelectionMethod — random, fifo или lifo.
	DraftSelectionMethod SelectionMethod `json:"draft_selection_method"`

	// JitterMinSeconds / JitterMaxSeconds — границы случайной задержки
	// между постановкой в очередь и фактической публикацией.
	JitterMinSeconds int `json:"jitter_min_seconds"`
	JitterMaxSeconds int `json:"jitter_max_seconds"`

	// StashOnlyByDefault — значение stashOnly для drafts, где оно не задано.
	StashOnlyByDefault bool `json:"stash_only_by_default"`

	// AutoAddToSaleQueue — добавлять опубликованное в очередь продаж.
	AutoAddToSaleQueue bool `json:"auto_add_to_sale_queue"`

	// SaleQueuePricePresetID — пресет цены для очереди продаж.
	SaleQueuePricePresetID *uuid.UUID `json:"sale_queue_price_preset_id,omitempty"`

	// IsExecuting — флаг активного выполнения.
	IsExecuting bool `json:"is_executing"`

	// LastExecutionLock — время захвата блокировки выполнения.
	LastExecutionLock *time.Time `json:"last_execution_lock,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LockTimeout — возраст, после которого блокировка выполнения
// автоматизации считается брошенной.
const LockTimeout = 5 * time.Minute

// HasSaleQueuePreset возвращает true, если включено автодобавление
// в очередь продаж с заданным пресетом цены.
func (a *Automation) HasSaleQueuePreset() bool {
	return a.AutoAddToSaleQueue && a.SaleQueuePricePresetID != nil
}

// IsLocked проверяет, держит ли кто-то живую блокировку выполнения.
func (a *Automation) IsLocked(now time.Time, staleAfter time.Duration) bool {
	if !a.IsExecuting || a.LastExecutionLock == nil {
		return false
	}
	return !a.LastExecutionLock.Before(now.Add(-staleAfter))
}

// ScheduleRule — правило расписания автоматизации.
//
// Правила вычисляются в порядке возрастания Priority.
type ScheduleRule struct {
	ID           uuid.UUID `json:"id"`
	AutomationID uuid.UUID `json:"automation_id"`

	// Type — fixed_time, fixed_interval или daily_quota.
	Type RuleType `json:"type"`

	// TimeOfDay — "HH:MM" в часовом поясе владельца (fixed_time).
	TimeOfDay string `json:"time_of_day,omitempty"`

	// DaysOfWeek — дни недели ("monday"...). Пусто — каждый день.
	DaysOfWeek []string `json:"days_of_week,omitempty"`

	// IntervalMinutes — период fixed_interval.
	IntervalMinutes int `json:"interval_minutes,omitempty"`

	// DeviationsPerInterval — сколько drafts ставить за срабатывание fixed_interval.
	DeviationsPerInterval int `json:"deviations_per_interval,omitempty"`

	// DailyQuota — сколько drafts публиковать в сутки (daily_quota).
	DailyQuota int `json:"daily_quota,omitempty"`

	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
}

// DefaultValue — значение поля по умолчанию, которое автоматизация
// проставляет выбранному draft.
type DefaultValue struct {
	ID           uuid.UUID `json:"id"`
	AutomationID uuid.UUID `json:"automation_id"`

	// FieldName — ключ в Draft.Fields (например, "tags", "isMature").
	FieldName string `json:"field_name"`

	// Value — произвольное JSON-значение.
	Value any `json:"value"`

	// ApplyIfEmpty — если true, значение применяется только к пустому полю.
	ApplyIfEmpty bool `json:"apply_if_empty"`
}

// ExecutionLog — запись журнала выполнения автоматизации.
//
// Журнал append-only. Помимо аудита, он единственный источник
// состояния для правил fixed_interval и daily_quota.
type ExecutionLog struct {
	ID                  uuid.UUID `json:"id"`
	AutomationID        uuid.UUID `json:"automation_id"`
	ScheduledCount      int       `json:"scheduled_count"`
	ErrorMessage        *string   `json:"error_message,omitempty"`
	TriggeredByRuleType *RuleType `json:"triggered_by_rule_type,omitempty"`
	ExecutedAt          time.Time `json:"executed_at"`
}
