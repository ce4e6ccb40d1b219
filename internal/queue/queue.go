// Package queue — долговременная очередь задач публикации поверх
// таблицы publish_jobs в той же базе, что и drafts.
//
// Ключ задачи — ID draft: на один draft приходится не больше одной
// задачи. Очередь принимает repo.DBTX, поэтому постановка в очередь
// выполняется в той же транзакции, что и обновление draft, и
// откатывается вместе с ним.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Stashflow/internal/repo"
)

// ErrJobNotFound — задачи для draft нет в очереди.
var ErrJobNotFound = errors.New("job not found")

// State — состояние задачи.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsFinished возвращает true для completed и failed.
func (s State) IsFinished() bool {
	return s == StateCompleted || s == StateFailed
}

// IsPending возвращает true для waiting и delayed.
func (s State) IsPending() bool {
	return s == StateWaiting || s == StateDelayed
}

// Payload — данные задачи для воркера публикации.
type Payload struct {
	DraftID    uuid.UUID `json:"draft_id"`
	UserID     uuid.UUID `json:"user_id"`
	UploadMode string    `json:"upload_mode,omitempty"`

	// Reason — кто поставил задачу: automation, stuck_recovery, past_due_recovery.
	Reason string `json:"reason,omitempty"`
}

// Причины постановки в очередь.
const (
	ReasonAutomation      = "automation"
	ReasonStuckRecovery   = "stuck_recovery"
	ReasonPastDueRecovery = "past_due_recovery"
)

// Job — задача публикации.
type Job struct {
	DraftID      uuid.UUID
	State        State
	AttemptsMade int
	DeliverAt    time.Time
	Payload      Payload
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PgQueue — очередь задач в PostgreSQL.
type PgQueue struct {
	db  repo.DBTX
	now func() time.Time
}

// New создаёт очередь поверх пула или транзакции.
func New(db repo.DBTX) *PgQueue {
	return &PgQueue{db: db, now: time.Now}
}

// Enqueue ставит задачу для draft на deliverAt.
//
// Повторная постановка заменяет существующую задачу и обнуляет
// attempts_made.
func (q *PgQueue) Enqueue(ctx context.Context, p Payload, deliverAt time.Time) error {
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	now := q.now().UTC()
	state := StateWaiting
	if deliverAt.After(now) {
		state = StateDelayed
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO publish_jobs
		    (draft_id, user_id, state, attempts_made, deliver_at, payload, reason, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $7)
		ON CONFLICT (draft_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    state = EXCLUDED.state,
		    attempts_made = 0,
		    deliver_at = EXCLUDED.deliver_at,
		    payload = EXCLUDED.payload,
		    reason = EXCLUDED.reason,
		    updated_at = EXCLUDED.updated_at
	`, p.DraftID, p.UserID, string(state), deliverAt, payloadJSON, p.Reason, now)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// GetJob возвращает задачу draft или ErrJobNotFound.
//
// Задача delayed, чьё время доставки уже наступило, отдаётся как waiting.
func (q *PgQueue) GetJob(ctx context.Context, draftID uuid.UUID) (*Job, error) {
	var job Job
	var state string
	var payloadJSON []byte

	err := q.db.QueryRow(ctx, `
		SELECT draft_id, state, attempts_made, deliver_at, payload, created_at, updated_at
		FROM publish_jobs
		WHERE draft_id = $1
	`, draftID).Scan(
		&job.DraftID,
		&state,
		&job.AttemptsMade,
		&job.DeliverAt,
		&payloadJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	job.State = State(state)
	if job.State == StateDelayed && !job.DeliverAt.After(q.now()) {
		job.State = StateWaiting
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &job, nil
}

// Remove удаляет задачу draft. Отсутствие задачи не ошибка.
func (q *PgQueue) Remove(ctx context.Context, draftID uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM publish_jobs WHERE draft_id = $1`, draftID); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

// Counts возвращает число задач по состояниям.
func (q *PgQueue) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := q.db.Query(ctx, `
		SELECT CASE WHEN state = 'delayed' AND deliver_at <= $1 THEN 'waiting' ELSE state END AS s,
		       COUNT(*)
		FROM publish_jobs
		GROUP BY s
	`, q.now())
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[State(state)] += n
	}
	return counts, rows.Err()
}
