package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/mq"
	"github.com/shaiso/Stashflow/internal/queue"
	"github.com/shaiso/Stashflow/internal/repo"
)

type execFunc func(sql string, args []any) (pgconn.CommandTag, error)

// fakeTx — pgx.Tx, в котором реализованы только используемые методы.
type fakeTx struct {
	pgx.Tx
	exec       execFunc
	statements []string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.statements = append(t.statements, sql)
	return t.exec(sql, args)
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

// fakeDB отдаёт один и тот же fakeTx.
type fakeDB struct {
	repo.DBTX
	tx *fakeTx
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return d.tx, nil
}

type fakeNotifier struct {
	payloads []mq.JobReadyPayload
	err      error
}

func (n *fakeNotifier) NotifyJobReady(_ context.Context, p mq.JobReadyPayload) error {
	n.payloads = append(n.payloads, p)
	return n.err
}

func contains(sql, fragment string) bool {
	return strings.Contains(sql, fragment)
}

func newTestStore(exec execFunc) (*Store, *fakeTx, *fakeNotifier) {
	tx := &fakeTx{exec: exec}
	n := &fakeNotifier{}
	return New(&fakeDB{tx: tx}, n, nil), tx, n
}

func testSchedule() domain.DraftSchedule {
	now := time.Date(2026, 7, 6, 9, 4, 0, 0, time.UTC)
	return domain.DraftSchedule{
		DraftID:         uuid.New(),
		UserID:          uuid.New(),
		AutomationID:    uuid.New(),
		ScheduledAt:     now,
		ActualPublishAt: now.Add(45 * time.Second),
		JitterSeconds:   45,
		UploadMode:      "single",
		Fields:          map[string]any{"stashOnly": false},
	}
}

func TestStore_ScheduleDraft_CommitsAndNotifies(t *testing.T) {
	s, tx, n := newTestStore(func(sql string, _ []any) (pgconn.CommandTag, error) {
		if contains(sql, "INSERT INTO publish_jobs") {
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	})
	sch := testSchedule()

	require.NoError(t, s.ScheduleDraft(context.Background(), sch))

	assert.True(t, tx.committed)
	require.Len(t, tx.statements, 2)
	assert.Contains(t, tx.statements[0], "UPDATE drafts")
	assert.Contains(t, tx.statements[1], "INSERT INTO publish_jobs")

	require.Len(t, n.payloads, 1)
	assert.Equal(t, sch.DraftID, n.payloads[0].DraftID)
	assert.Equal(t, sch.ActualPublishAt, n.payloads[0].DeliverAt)
	assert.Equal(t, queue.ReasonAutomation, n.payloads[0].Reason)
}

func TestStore_ScheduleDraft_EnqueueFailureRollsBack(t *testing.T) {
	s, tx, n := newTestStore(func(sql string, _ []any) (pgconn.CommandTag, error) {
		if contains(sql, "INSERT INTO publish_jobs") {
			return pgconn.CommandTag{}, errors.New("connection reset by peer")
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	})

	err := s.ScheduleDraft(context.Background(), testSchedule())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	assert.Empty(t, n.payloads)
}

func TestStore_ScheduleDraft_DraftNoLongerClaimable(t *testing.T) {
	s, tx, _ := newTestStore(func(string, []any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	})

	err := s.ScheduleDraft(context.Background(), testSchedule())

	assert.ErrorIs(t, err, repo.ErrInvalidState)
	assert.Len(t, tx.statements, 1, "enqueue skipped")
	assert.True(t, tx.rolledBack)
}

func TestStore_CompleteGhostPublish_IncrementsOnce(t *testing.T) {
	flagSet := false
	s, tx, _ := newTestStore(func(sql string, _ []any) (pgconn.CommandTag, error) {
		if contains(sql, "post_count_incremented = true") {
			if flagSet {
				return pgconn.NewCommandTag("UPDATE 0"), nil
			}
			flagSet = true
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	})
	d := &domain.Draft{ID: uuid.New(), UserID: uuid.New()}

	incremented, err := s.CompleteGhostPublish(context.Background(), d, time.Now())
	require.NoError(t, err)
	assert.True(t, incremented)

	incremented, err = s.CompleteGhostPublish(context.Background(), d, time.Now())
	require.NoError(t, err)
	assert.False(t, incremented)

	var userUpdates int
	for _, stmt := range tx.statements {
		if contains(stmt, "UPDATE users") {
			userUpdates++
		}
	}
	assert.Equal(t, 1, userUpdates)
}

func TestStore_RequeueDraft_NotifyFailureIsNotFatal(t *testing.T) {
	s, tx, n := newTestStore(func(sql string, _ []any) (pgconn.CommandTag, error) {
		if contains(sql, "INSERT INTO publish_jobs") {
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	})
	n.err = errors.New("circuit breaker is open")

	q := domain.DraftRequeue{DraftID: uuid.New(), UserID: uuid.New(), DeliverAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.RequeueDraft(context.Background(), q, queue.ReasonPastDueRecovery))

	assert.True(t, tx.committed)
	require.Len(t, n.payloads, 1)
	assert.Equal(t, queue.ReasonPastDueRecovery, n.payloads[0].Reason)
}
