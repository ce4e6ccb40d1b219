package recovery

import "github.com/shaiso/Stashflow/internal/domain"

// State — состояние застрявшего draft, от которого зависит способ починки.
//
// Вычисляется один раз на draft функцией Classify. Возможные значения:
// GhostPublish, PartialPublish, FailedUpload.
type State interface {
	// Action — имя действия recovery для логов и метрик.
	Action() string
	isState()
}

// GhostPublish — draft уже опубликован во внешней платформе, но БД
// об этом не узнала.
type GhostPublish struct {
	DeviationID string
}

// PartialPublish — файл загружен во внешнее хранилище, публикации нет,
// и лимит повторов не исчерпан.
type PartialPublish struct {
	StashItemID string
}

// FailedUpload — всё остальное: draft возвращается в пул.
type FailedUpload struct{}

// Имена действий recovery.
const (
	ActionGhostPublish     = "ghost_publish"
	ActionResetAndRetry    = "reset_and_retry"
	ActionResetToDraft     = "reset_to_draft"
	ActionRequeue          = "requeue"
	ActionRemoveAndRequeue = "remove_and_requeue"
	ActionMonitor          = "monitor"
	ActionLeave            = "leave"
)

func (GhostPublish) Action() string   { return ActionGhostPublish }
func (PartialPublish) Action() string { return ActionResetAndRetry }
func (FailedUpload) Action() string   { return ActionResetToDraft }

func (GhostPublish) isState()   {}
func (PartialPublish) isState() {}
func (FailedUpload) isState()   {}

// Classify определяет состояние draft. Проверки идут по приоритету:
// внешняя публикация, затем частичная загрузка.
func Classify(d *domain.Draft, maxRetries int) State {
	switch {
	case d.HasDeviation():
		return GhostPublish{DeviationID: *d.DeviationID}
	case d.HasStashItem() && d.RetryCount < maxRetries:
		return PartialPublish{StashItemID: *d.StashItemID}
	default:
		return FailedUpload{}
	}
}
