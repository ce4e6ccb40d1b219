package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Stashflow/internal/domain"
)

func TestExecutionLogRepo_Append_FillsIDAndRuleType(t *testing.T) {
	ctx := context.Background()
	ruleType := domain.RuleFixedTime
	log := &domain.ExecutionLog{AutomationID: uuid.New(), ScheduledCount: 1, TriggeredByRuleType: &ruleType}

	db := new(mockDBTX)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		rt, ok := args[4].(*string)
		return ok && *rt == "fixed_time" && args[2] == 1
	})).Return(tag("INSERT 0 1"), nil)

	require.NoError(t, NewExecutionLogRepo(db).Append(ctx, log))
	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.False(t, log.ExecutedAt.IsZero())
	db.AssertExpectations(t)
}

func TestExecutionLogRepo_LastTriggeredAt(t *testing.T) {
	ctx := context.Background()
	automationID := uuid.New()
	at := time.Date(2026, 7, 6, 8, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{automationID, "fixed_interval"}).
			Return(&mockRow{values: []any{at}})

		got, err := NewExecutionLogRepo(db).LastTriggeredAt(ctx, automationID, domain.RuleFixedInterval)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, at, *got)
	})

	t.Run("never triggered", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{automationID, "fixed_interval"}).
			Return(&mockRow{scanErr: pgx.ErrNoRows})

		got, err := NewExecutionLogRepo(db).LastTriggeredAt(ctx, automationID, domain.RuleFixedInterval)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestExecutionLogRepo_ScheduledSince(t *testing.T) {
	ctx := context.Background()
	automationID := uuid.New()
	since := time.Date(2026, 7, 6, 4, 0, 0, 0, time.UTC)

	db := new(mockDBTX)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{automationID, "daily_quota", since}).
		Return(&mockRow{values: []any{4}})

	total, err := NewExecutionLogRepo(db).ScheduledSince(ctx, automationID, domain.RuleDailyQuota, since)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestExecutionLogRepo_ListRecent(t *testing.T) {
	ctx := context.Background()
	automationID := uuid.New()
	ruleType := "daily_quota"
	msg := "No drafts available"
	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)

	rows := newMockRows(
		[]any{uuid.New(), automationID, 0, &msg, &ruleType, at},
		[]any{uuid.New(), automationID, 2, nil, nil, at.Add(-time.Hour)},
	)
	db := new(mockDBTX)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{automationID, 10}).Return(rows, nil)

	logs, err := NewExecutionLogRepo(db).ListRecent(ctx, automationID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.RuleDailyQuota, *logs[0].TriggeredByRuleType)
	assert.Equal(t, "No drafts available", *logs[0].ErrorMessage)
	assert.Nil(t, logs[1].TriggeredByRuleType)
}
