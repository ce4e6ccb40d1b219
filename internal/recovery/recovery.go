// Package recovery реализует sweepers, которые чинят drafts, застрявшие
// после падений воркера, сетевых ошибок или расхождения БД и очереди.
//
//   - StuckSweeper   — протухшие блокировки воркера, legacy-статусы и
//     маркеры захвата, брошенные scheduler
//   - PastDueSweeper — scheduled drafts, чьё время публикации прошло
//
// Sweepers не держат состояния между проходами: всё, что нужно,
// читается из БД и очереди. Ошибка одного draft не прерывает батч.
package recovery

import (
	"time"

	"github.com/shaiso/Stashflow/internal/domain"
)

const (
	// DefaultMaxRetries — лимит повторов публикации.
	DefaultMaxRetries = 7

	// DefaultBatchSize — сколько drafts обрабатывать за проход.
	DefaultBatchSize = 100

	// DefaultRequeueDelay — задержка повторной постановки в очередь.
	DefaultRequeueDelay = time.Minute

	// FailureRateThreshold — доля неудач в батче, после которой шлётся алерт.
	FailureRateThreshold = 0.1
)

// Report — итог одного прохода sweeper'а.
type Report struct {
	Sweep     string         `json:"sweep"`
	Found     int            `json:"found"`
	Recovered int            `json:"recovered"`
	Failed    int            `json:"failed"`
	Untouched int            `json:"untouched"`
	Actions   map[string]int `json:"actions"`

	// ReleasedClaims — drafts, возвращённые в пул после упавшего scheduler.
	// Заполняется только StuckSweeper.
	ReleasedClaims int `json:"released_claims,omitempty"`
}

func newReport(sweep string, found int) Report {
	return Report{Sweep: sweep, Found: found, Actions: make(map[string]int)}
}

func (r *Report) record(action string, recovered bool) {
	r.Actions[action]++
	if recovered {
		r.Recovered++
	} else {
		r.Untouched++
	}
}

func requeueFor(d *domain.Draft, msg string, deliverAt time.Time) domain.DraftRequeue {
	return domain.DraftRequeue{
		DraftID:      d.ID,
		UserID:       d.UserID,
		UploadMode:   d.UploadMode,
		ErrorMessage: msg,
		DeliverAt:    deliverAt,
	}
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
