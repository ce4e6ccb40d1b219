package rules

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Stashflow/internal/domain"
)

type fakeLogs struct {
	last      map[domain.RuleType]*time.Time
	scheduled map[domain.RuleType]int
	since     time.Time
	err       error
}

func (f *fakeLogs) LastTriggeredAt(_ context.Context, _ uuid.UUID, ruleType domain.RuleType) (*time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.last[ruleType], nil
}

func (f *fakeLogs) ScheduledSince(_ context.Context, _ uuid.UUID, ruleType domain.RuleType, since time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.since = since
	return f.scheduled[ruleType], nil
}

func TestIsTimeMatch(t *testing.T) {
	tests := []struct {
		current, target string
		want            bool
	}{
		{"14:00", "14:00", true},
		{"14:03", "14:00", true},
		{"14:06", "14:00", true},
		{"14:07", "14:00", false},
		{"14:08", "14:00", false},
		{"13:59", "14:00", false},
		{"00:02", "23:58", false},
		{"09:04", "09:00:00", true},
		{"bad", "14:00", false},
		{"14:00", "25:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.current+"_"+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimeMatch(tt.current, tt.target))
		})
	}
}

func TestMatchesDay(t *testing.T) {
	assert.True(t, MatchesDay(nil, "monday"))
	assert.True(t, MatchesDay([]string{"Monday", "friday"}, "monday"))
	assert.False(t, MatchesDay([]string{"tuesday"}, "monday"))
}

func TestCountToSchedule(t *testing.T) {
	triggered := []domain.ScheduleRule{
		{Type: domain.RuleFixedTime},
		{Type: domain.RuleFixedInterval, DeviationsPerInterval: 3},
		{Type: domain.RuleFixedInterval},
		{Type: domain.RuleDailyQuota, DailyQuota: 10},
	}
	assert.Equal(t, 6, CountToSchedule(triggered))
	assert.Zero(t, CountToSchedule(nil))
}

func TestEvaluate_FixedTimeInUserTimezone(t *testing.T) {
	ev := NewEvaluator(&fakeLogs{}, nil)
	// 07:03 UTC == 09:03 в Берлине летом
	now := time.Date(2026, 7, 6, 7, 3, 0, 0, time.UTC)
	rules := []domain.ScheduleRule{
		{ID: uuid.New(), Type: domain.RuleFixedTime, TimeOfDay: "09:00", Enabled: true},
	}

	res, err := ev.Evaluate(context.Background(), uuid.New(), rules, "Europe/Berlin", now)
	require.NoError(t, err)
	assert.Len(t, res.Triggered, 1)
	assert.Equal(t, 1, res.Count)

	res, err = ev.Evaluate(context.Background(), uuid.New(), rules, "UTC", now)
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
}

func TestEvaluate_SkipsDisabledAndOtherDays(t *testing.T) {
	ev := NewEvaluator(&fakeLogs{}, nil)
	now := time.Date(2026, 7, 6, 9, 1, 0, 0, time.UTC) // понедельник

	rules := []domain.ScheduleRule{
		{Type: domain.RuleFixedTime, TimeOfDay: "09:00", Enabled: false},
		{Type: domain.RuleFixedTime, TimeOfDay: "09:00", Enabled: true, DaysOfWeek: []string{"sunday"}},
	}

	res, err := ev.Evaluate(context.Background(), uuid.New(), rules, "UTC", now)
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
	assert.Nil(t, res.FirstType())
}

func TestEvaluate_UnknownTypeSkippedWithWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ev := NewEvaluator(&fakeLogs{}, logger)
	now := time.Date(2026, 7, 6, 9, 1, 0, 0, time.UTC)

	rules := []domain.ScheduleRule{
		{ID: uuid.New(), Type: domain.RuleType("cron"), Enabled: true, Priority: 0},
		{ID: uuid.New(), Type: domain.RuleFixedTime, TimeOfDay: "09:00", Enabled: true, Priority: 1},
	}

	res, err := ev.Evaluate(context.Background(), uuid.New(), rules, "UTC", now)
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, domain.RuleFixedTime, res.Triggered[0].Type)
	assert.Contains(t, buf.String(), "unknown rule type")
	assert.Contains(t, buf.String(), "type=cron")
}

func TestEvaluate_FixedInterval(t *testing.T) {
	now := time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC)
	rule := domain.ScheduleRule{Type: domain.RuleFixedInterval, IntervalMinutes: 60, DeviationsPerInterval: 2, Enabled: true}

	t.Run("no previous log", func(t *testing.T) {
		ev := NewEvaluator(&fakeLogs{}, nil)
		res, err := ev.Evaluate(context.Background(), uuid.New(), []domain.ScheduleRule{rule}, "UTC", now)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count)
	})

	t.Run("interval elapsed", func(t *testing.T) {
		last := now.Add(-60 * time.Minute)
		ev := NewEvaluator(&fakeLogs{last: map[domain.RuleType]*time.Time{domain.RuleFixedInterval: &last}}, nil)
		res, err := ev.Evaluate(context.Background(), uuid.New(), []domain.ScheduleRule{rule}, "UTC", now)
		require.NoError(t, err)
		assert.Len(t, res.Triggered, 1)
	})

	t.Run("interval not elapsed", func(t *testing.T) {
		last := now.Add(-59 * time.Minute)
		ev := NewEvaluator(&fakeLogs{last: map[domain.RuleType]*time.Time{domain.RuleFixedInterval: &last}}, nil)
		res, err := ev.Evaluate(context.Background(), uuid.New(), []domain.ScheduleRule{rule}, "UTC", now)
		require.NoError(t, err)
		assert.Empty(t, res.Triggered)
	})
}

func TestEvaluate_DailyQuotaUsesOwnerMidnight(t *testing.T) {
	logs := &fakeLogs{scheduled: map[domain.RuleType]int{domain.RuleDailyQuota: 4}}
	ev := NewEvaluator(logs, nil)
	// 02:00 UTC == 22:00 предыдущего дня в Нью-Йорке (EDT)
	now := time.Date(2026, 7, 7, 2, 0, 0, 0, time.UTC)
	rule := domain.ScheduleRule{Type: domain.RuleDailyQuota, DailyQuota: 5, Enabled: true}

	res, err := ev.Evaluate(context.Background(), uuid.New(), []domain.ScheduleRule{rule}, "America/New_York", now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, time.Date(2026, 7, 6, 4, 0, 0, 0, time.UTC), logs.since)

	logs.scheduled[domain.RuleDailyQuota] = 5
	res, err = ev.Evaluate(context.Background(), uuid.New(), []domain.ScheduleRule{rule}, "America/New_York", now)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}

func TestEvaluate_PriorityOrderAndFirstType(t *testing.T) {
	ev := NewEvaluator(&fakeLogs{}, nil)
	now := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	rules := []domain.ScheduleRule{
		{Type: domain.RuleDailyQuota, DailyQuota: 3, Priority: 2, Enabled: true},
		{Type: domain.RuleFixedTime, TimeOfDay: "09:00", Priority: 1, Enabled: true},
	}

	res, err := ev.Evaluate(context.Background(), uuid.New(), rules, "UTC", now)
	require.NoError(t, err)
	require.Len(t, res.Triggered, 2)
	assert.Equal(t, domain.RuleFixedTime, *res.FirstType())
	assert.Equal(t, 2, res.Count)
}

func TestEvaluate_LogError(t *testing.T) {
	ev := NewEvaluator(&fakeLogs{err: errors.New("db down")}, nil)
	rules := []domain.ScheduleRule{{Type: domain.RuleFixedInterval, IntervalMinutes: 5, Enabled: true}}

	_, err := ev.Evaluate(context.Background(), uuid.New(), rules, "UTC", time.Now())
	assert.Error(t, err)
}

func TestLoadLocation_FallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Mars/Olympus_Mons"))
}
