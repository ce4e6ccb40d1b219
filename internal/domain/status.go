package domain

import "strings"

// DraftStatus — статус draft-записи.
//
// Жизненный цикл:
//
//	DRAFT → SCHEDULED → PUBLISHING → PUBLISHED
//	            ↑            ↓ (crash)
//	            └── recovery ┘
//
// uploading — устаревший промежуточный статус, встречается только
// в записях, созданных старыми воркерами. Его разбирает stuck-recovery.
type DraftStatus string

const (
	// DraftStatusDraft — черновик, доступен для выбора автоматизацией.
	DraftStatusDraft DraftStatus = "draft"

	// DraftStatusScheduled — поставлен в очередь публикации.
	DraftStatusScheduled DraftStatus = "scheduled"

	// DraftStatusUploading — legacy: файл загружается во внешнее хранилище.
	DraftStatusUploading DraftStatus = "uploading"

	// DraftStatusPublishing — воркер публикации работает с записью.
	DraftStatusPublishing DraftStatus = "publishing"

	// DraftStatusPublished — опубликован во внешней платформе.
	DraftStatusPublished DraftStatus = "published"

	// DraftStatusFailed — публикация провалилась без права на retry.
	DraftStatusFailed DraftStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный.
func (s DraftStatus) IsTerminal() bool {
	switch s {
	case DraftStatusPublished, DraftStatusFailed:
		return true
	default:
		return false
	}
}

// IsInFlight возвращает true для промежуточных статусов воркера.
func (s DraftStatus) IsInFlight() bool {
	return s == DraftStatusUploading || s == DraftStatusPublishing
}

// SelectionMethod — политика выбора drafts автоматизацией.
type SelectionMethod string

const (
	// SelectionRandom — случайный порядок (Fisher–Yates в памяти).
	SelectionRandom SelectionMethod = "random"

	// SelectionFIFO — сначала самые старые.
	SelectionFIFO SelectionMethod = "fifo"

	// SelectionLIFO — сначала самые новые.
	SelectionLIFO SelectionMethod = "lifo"
)

// ParseSelectionMethod парсит строку в SelectionMethod.
// Неизвестные значения трактуются как random.
func ParseSelectionMethod(s string) SelectionMethod {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fifo":
		return SelectionFIFO
	case "lifo":
		return SelectionLIFO
	default:
		return SelectionRandom
	}
}

// RuleType — тип правила расписания.
type RuleType string

const (
	// RuleFixedTime — срабатывает в заданное время суток.
	RuleFixedTime RuleType = "fixed_time"

	// RuleFixedInterval — срабатывает раз в IntervalMinutes.
	RuleFixedInterval RuleType = "fixed_interval"

	// RuleDailyQuota — распределяет DailyQuota публикаций по дню.
	RuleDailyQuota RuleType = "daily_quota"
)

// String возвращает строковое представление RuleType.
func (t RuleType) String() string {
	return string(t)
}

// IsValid проверяет, что тип правила известен.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleFixedTime, RuleFixedInterval, RuleDailyQuota:
		return true
	default:
		return false
	}
}
