package domain

import (
	"time"

	"github.com/google/uuid"
)

// Draft — единица работы: контент пользователя, который нужно опубликовать
// (во внешней платформе он называется deviation).
//
// Draft создаётся CRUD-слоем в статусе draft. Automation Scheduler
// захватывает его (optimistic lock по ExecutionVersion) и переводит в
// scheduled. Дальше внешний воркер публикации ведёт его через publishing
// в published. Если процесс упал посередине, запись остаётся в
// промежуточном состоянии, и починить её могут только recovery-sweepers.
type Draft struct {
	// ID — уникальный идентификатор draft (и ключ job в очереди).
	ID uuid.UUID `json:"id"`

	// UserID — владелец.
	UserID uuid.UUID `json:"user_id"`

	// AutomationID — автоматизация, которая поставила draft в очередь.
	AutomationID *uuid.UUID `json:"automation_id,omitempty"`

	// Status — текущий статус.
	Status DraftStatus `json:"status"`

	// ExecutionLockID / ExecutionLockedAt — блокировка воркера публикации.
	ExecutionLockID   *uuid.UUID `json:"execution_lock_id,omitempty"`
	ExecutionLockedAt *time.Time `json:"execution_locked_at,omitempty"`

	// ExecutionVersion — монотонный счётчик для optimistic locking.
	ExecutionVersion int64 `json:"execution_version"`

	// RetryCount — число неудачных попыток публикации.
	RetryCount int `json:"retry_count"`

	// DeviationID — внешний id после успешной публикации.
	DeviationID *string `json:"deviation_id,omitempty"`

	// StashItemID — внешний id после частичной загрузки файла.
	StashItemID *string `json:"stash_item_id,omitempty"`

	// ScheduledAt — момент захвата/постановки в очередь.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	// ActualPublishAt — запланированное время публикации с учётом jitter.
	ActualPublishAt *time.Time `json:"actual_publish_at,omitempty"`

	// PublishedAt — время фактической публикации.
	PublishedAt *time.Time `json:"published_at,omitempty"`

	// JitterSeconds — случайная задержка, добавленная к ScheduledAt.
	JitterSeconds int `json:"jitter_seconds"`

	// UploadMode — режим загрузки (single / multiple).
	UploadMode string `json:"upload_mode,omitempty"`

	// ErrorMessage — диагностическое сообщение для пользователя.
	ErrorMessage string `json:"error_message,omitempty"`

	// PostCountIncremented — счётчик публикаций пользователя уже увеличен.
	PostCountIncremented bool `json:"post_count_incremented"`

	// Fields — редактируемые поля публикации (title, tags, stashOnly, ...).
	Fields map[string]any `json:"fields,omitempty"`

	// FileCount — количество прикреплённых файлов.
	FileCount int `json:"file_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDeviation возвращает true, если draft уже опубликован во внешней платформе.
func (d *Draft) HasDeviation() bool {
	return d.DeviationID != nil && *d.DeviationID != ""
}

// HasStashItem возвращает true, если файл уже загружен во внешнее хранилище.
func (d *Draft) HasStashItem() bool {
	return d.StashItemID != nil && *d.StashItemID != ""
}

// IsExecutionLocked возвращает true, если у draft есть блокировка воркера.
func (d *Draft) IsExecutionLocked() bool {
	return d.ExecutionLockID != nil
}

// DraftSchedule — результат планирования одного draft.
// Применяется атомарно вместе с постановкой job в очередь.
type DraftSchedule struct {
	DraftID         uuid.UUID
	UserID          uuid.UUID
	AutomationID    uuid.UUID
	ScheduledAt     time.Time
	ActualPublishAt time.Time
	JitterSeconds   int
	UploadMode      string
	Fields          map[string]any
}

// DraftRequeue — повторная постановка draft в очередь recovery-sweeper'ом.
type DraftRequeue struct {
	DraftID      uuid.UUID
	UserID       uuid.UUID
	UploadMode   string
	ErrorMessage string
	DeliverAt    time.Time
}
