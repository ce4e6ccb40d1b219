// Package selector выбирает drafts для автоматизации и захватывает их
// через optimistic locking по execution_version.
//
// Захват — это условный UPDATE: строка меняется, только если версия
// не изменилась с момента чтения, статус всё ещё draft и scheduled_at
// пуст. Ноль затронутых строк означает, что гонку выиграл другой
// процесс: кандидат пропускается. Никаких advisory locks.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stashflow/internal/domain"
)

const (
	// RandomPoolSize — сколько кандидатов читать для случайного выбора.
	RandomPoolSize = 1000

	// OverfetchFactor — запас кандидатов для fifo/lifo на случай гонок.
	OverfetchFactor = 3
)

// DraftSource — хранилище drafts для выбора.
type DraftSource interface {
	// ListCandidates возвращает drafts пользователя в статусе draft,
	// без scheduled_at и хотя бы с одним файлом, упорядоченные по
	// created_at (newestFirst — по убыванию).
	ListCandidates(ctx context.Context, userID uuid.UUID, newestFirst bool, limit int) ([]domain.Draft, error)

	// ClaimDraft атомарно захватывает draft, если его версия всё ещё
	// равна version. Возвращает false, если захват проиграл гонку.
	ClaimDraft(ctx context.Context, draftID uuid.UUID, version int64, now time.Time) (bool, error)
}

// Selector выбирает и захватывает drafts.
type Selector struct {
	source  DraftSource
	shuffle func([]domain.Draft)
	logger  *slog.Logger
}

// New создаёт новый Selector.
func New(source DraftSource, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		source:  source,
		shuffle: Shuffle,
		logger:  logger,
	}
}

// Select выбирает до n drafts по политике автоматизации и захватывает их.
//
// Захваты идут последовательно, по одному кандидату. Возвращает
// захваченные drafts с обновлёнными ExecutionVersion и ScheduledAt.
// Ошибка захвата отдельного кандидата логируется, кандидат пропускается.
func (s *Selector) Select(ctx context.Context, a *domain.Automation, n int, now time.Time) ([]domain.Draft, error) {
	if n <= 0 {
		return nil, nil
	}

	candidates, err := s.candidates(ctx, a, n)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	claimed := make([]domain.Draft, 0, n)
	var lost int
	for i := range candidates {
		if len(claimed) >= n {
			break
		}
		d := candidates[i]

		ok, err := s.source.ClaimDraft(ctx, d.ID, d.ExecutionVersion, now)
		if err != nil {
			s.logger.Error("failed to claim draft",
				"automation_id", a.ID,
				"draft_id", d.ID,
				"error", err,
			)
			continue
		}
		if !ok {
			lost++
			continue
		}

		d.ExecutionVersion++
		claimedAt := now
		d.ScheduledAt = &claimedAt
		claimed = append(claimed, d)
	}

	s.logger.Debug("draft selection completed",
		"automation_id", a.ID,
		"method", a.DraftSelectionMethod,
		"requested", n,
		"candidates", len(candidates),
		"claimed", len(claimed),
		"lost_races", lost,
	)

	return claimed, nil
}

func (s *Selector) candidates(ctx context.Context, a *domain.Automation, n int) ([]domain.Draft, error) {
	switch a.DraftSelectionMethod {
	case domain.SelectionFIFO:
		return s.source.ListCandidates(ctx, a.UserID, false, n*OverfetchFactor)
	case domain.SelectionLIFO:
		return s.source.ListCandidates(ctx, a.UserID, true, n*OverfetchFactor)
	default:
		drafts, err := s.source.ListCandidates(ctx, a.UserID, false, RandomPoolSize)
		if err != nil {
			return nil, err
		}
		s.shuffle(drafts)
		return drafts, nil
	}
}

// Shuffle перемешивает drafts на месте (Fisher–Yates).
func Shuffle(drafts []domain.Draft) {
	for i := len(drafts) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		drafts[i], drafts[j] = drafts[j], drafts[i]
	}
}
