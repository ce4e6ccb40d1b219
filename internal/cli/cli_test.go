package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/mq"
	"github.com/shaiso/Stashflow/internal/queue"
	"github.com/shaiso/Stashflow/internal/recovery"
	"github.com/shaiso/Stashflow/internal/scheduler"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

type fakeBackend struct {
	sweeps     []string
	report     any
	err        error
	counts     map[queue.State]int
	alerts     []mq.Message
	draft      *domain.Draft
	automation *domain.Automation
	logs       []domain.ExecutionLog
	logLimit   int
	closed     bool
}

func (f *fakeBackend) RunSweep(_ context.Context, name string) (any, error) {
	f.sweeps = append(f.sweeps, name)
	return f.report, f.err
}

func (f *fakeBackend) QueueCounts(context.Context) (map[queue.State]int, error) {
	return f.counts, f.err
}

func (f *fakeBackend) Draft(_ context.Context, id uuid.UUID) (*domain.Draft, error) {
	if f.draft == nil || f.draft.ID != id {
		return nil, errors.New("draft not found")
	}
	return f.draft, nil
}

func (f *fakeBackend) Automation(_ context.Context, id uuid.UUID) (*domain.Automation, error) {
	if f.automation == nil || f.automation.ID != id {
		return nil, errors.New("automation not found")
	}
	return f.automation, nil
}

func (f *fakeBackend) ExecutionLogs(_ context.Context, _ uuid.UUID, limit int) ([]domain.ExecutionLog, error) {
	f.logLimit = limit
	return f.logs, nil
}

func (f *fakeBackend) WatchAlerts(_ context.Context, fn func(mq.Message) error) error {
	for _, m := range f.alerts {
		if err := fn(m); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeBackend) Close() { f.closed = true }

type harness struct {
	backend *fakeBackend
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	json    bool
}

func (h *harness) backendFn(context.Context) (Backend, error) { return h.backend, nil }

func (h *harness) outputFn() *Output { return newOutput(h.json, &h.stdout, &h.stderr) }

func (h *harness) run(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(&h.stderr)
	cmd.SetErr(&h.stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.ExecuteContext(context.Background())
}

// --- Output Tests ---

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(false, &buf, &buf)

	out.Table([]string{"STATE", "JOBS"}, [][]string{{"waiting", "3"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "STATE    JOBS", lines[0])
	assert.Equal(t, "-----    ----", lines[1])
	assert.Equal(t, "waiting  3", lines[2])
}

func TestOutput_PrintJSON(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(true, &buf, &buf)

	out.Print([]string{"X"}, [][]string{{"1"}}, map[string]int{"x": 1})

	assert.JSONEq(t, `{"x":1}`, buf.String())
}

// --- Sweep Tests ---

func TestSweepCmd_PastDueMapsToSweepName(t *testing.T) {
	h := &harness{backend: &fakeBackend{report: recovery.Report{
		Sweep:     telemetry.SweepPastDue,
		Found:     3,
		Recovered: 2,
		Untouched: 1,
		Actions:   map[string]int{"requeue": 2, "monitor": 1},
	}}}

	err := h.run(t, NewSweepCmd(h.backendFn, h.outputFn), "past-due")
	require.NoError(t, err)

	assert.Equal(t, []string{telemetry.SweepPastDue}, h.backend.sweeps)
	assert.True(t, h.backend.closed)

	out := h.stdout.String()
	assert.Contains(t, out, "recovered")
	assert.Contains(t, out, "action:monitor")
	assert.Less(t, strings.Index(out, "action:monitor"), strings.Index(out, "action:requeue"))
}

func TestSweepCmd_ScheduleJSON(t *testing.T) {
	h := &harness{json: true, backend: &fakeBackend{report: scheduler.Report{
		Automations: 4,
		Triggered:   2,
		Scheduled:   2,
	}}}

	err := h.run(t, NewSweepCmd(h.backendFn, h.outputFn), "schedule")
	require.NoError(t, err)

	var got scheduler.Report
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &got))
	assert.Equal(t, 4, got.Automations)
	assert.Equal(t, 2, got.Scheduled)
}

func TestSweepCmd_BackendError(t *testing.T) {
	boom := errors.New("pool closed")
	h := &harness{backend: &fakeBackend{err: boom}}

	err := h.run(t, NewSweepCmd(h.backendFn, h.outputFn), "stuck")
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.backend.closed)
	assert.Empty(t, h.stdout.String())
}

func TestSweepCmd_BackendUnavailable(t *testing.T) {
	boom := errors.New("connect: refused")
	var out bytes.Buffer
	cmd := NewSweepCmd(
		func(context.Context) (Backend, error) { return nil, boom },
		func() *Output { return newOutput(false, &out, &out) },
	)
	cmd.SetArgs([]string{"stuck"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	assert.ErrorIs(t, cmd.ExecuteContext(context.Background()), boom)
}

// --- Queue Tests ---

func TestQueueStats_AllStatesInOrder(t *testing.T) {
	h := &harness{backend: &fakeBackend{counts: map[queue.State]int{
		queue.StateWaiting: 2,
		queue.StateFailed:  1,
	}}}

	err := h.run(t, NewQueueCmd(h.backendFn, h.outputFn), "stats")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[2], "waiting"))
	assert.True(t, strings.HasSuffix(lines[2], "2"))
	assert.True(t, strings.HasPrefix(lines[4], "active"))
	assert.True(t, strings.HasSuffix(lines[4], "0"))
	assert.True(t, strings.HasPrefix(lines[6], "failed"))
}

// --- Alerts Tests ---

func TestAlertsWatch_PrintsEachMessage(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	h := &harness{backend: &fakeBackend{alerts: []mq.Message{
		{ID: "a1", Type: mq.MessageTypeHighRecoveryRate, Timestamp: ts, Payload: "12 recovered"},
		{ID: "a2", Type: mq.MessageTypeJobStillActive, Timestamp: ts, Payload: "draft d1"},
	}}}

	err := h.run(t, NewAlertsCmd(h.backendFn, h.outputFn), "watch")
	require.NoError(t, err)

	out := h.stdout.String()
	assert.Contains(t, out, "2024-03-01T09:00:00Z")
	assert.Contains(t, out, string(mq.MessageTypeHighRecoveryRate))
	assert.Contains(t, out, "draft d1")
	assert.Contains(t, h.stderr.String(), "Watching alerts")
}

// --- Inspect Tests ---

func TestInspectDraft_ShowsRecoveryMarkers(t *testing.T) {
	lockID := uuid.New()
	published := time.Date(2026, 7, 6, 10, 0, 0, 0, time.UTC)
	d := &domain.Draft{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Status:          domain.DraftStatusPublishing,
		ExecutionLockID: &lockID,
		RetryCount:      2,
		PublishedAt:     &published,
	}
	h := &harness{backend: &fakeBackend{draft: d}}

	err := h.run(t, NewInspectCmd(h.backendFn, h.outputFn), "draft", d.ID.String())
	require.NoError(t, err)

	out := h.stdout.String()
	assert.Regexp(t, `status\s+publishing`, out)
	assert.Regexp(t, `execution_locked\s+true`, out)
	assert.Regexp(t, `published_at\s+2026-07-06T10:00:00Z`, out)
	assert.Regexp(t, `deviation_id\s+-`, out)
	assert.True(t, h.backend.closed)
}

func TestInspectDraft_InvalidID(t *testing.T) {
	h := &harness{backend: &fakeBackend{}}

	err := h.run(t, NewInspectCmd(h.backendFn, h.outputFn), "draft", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid draft id")
	assert.False(t, h.backend.closed, "backend is not opened for bad input")
}

func TestInspectAutomation_JSONWithLogs(t *testing.T) {
	lockedAt := time.Now().Add(-time.Minute)
	rule := domain.RuleDailyQuota
	a := &domain.Automation{
		ID:                uuid.New(),
		Enabled:           true,
		IsExecuting:       true,
		LastExecutionLock: &lockedAt,
	}
	h := &harness{json: true, backend: &fakeBackend{
		automation: a,
		logs: []domain.ExecutionLog{
			{ID: uuid.New(), AutomationID: a.ID, ScheduledCount: 2, TriggeredByRuleType: &rule},
		},
	}}

	err := h.run(t, NewInspectCmd(h.backendFn, h.outputFn), "automation", a.ID.String(), "--logs", "5")
	require.NoError(t, err)

	var got struct {
		ID     uuid.UUID             `json:"id"`
		Locked bool                  `json:"locked"`
		Logs   []domain.ExecutionLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &got))
	assert.Equal(t, a.ID, got.ID)
	assert.True(t, got.Locked, "fresh lock is reported as held")
	require.Len(t, got.Logs, 1)
	assert.Equal(t, 2, got.Logs[0].ScheduledCount)
	assert.Equal(t, 5, h.backend.logLimit)
}

func TestInspectAutomation_StaleLockIsNotHeld(t *testing.T) {
	lockedAt := time.Now().Add(-2 * domain.LockTimeout)
	a := &domain.Automation{ID: uuid.New(), IsExecuting: true, LastExecutionLock: &lockedAt}
	h := &harness{backend: &fakeBackend{automation: a}}

	err := h.run(t, NewInspectCmd(h.backendFn, h.outputFn), "automation", a.ID.String(), "--logs", "0")
	require.NoError(t, err)

	assert.Regexp(t, `locked\s+false`, h.stdout.String())
	assert.Zero(t, h.backend.logLimit, "logs are not read when --logs=0")
	assert.NotContains(t, h.stdout.String(), "EXECUTED_AT")
}

// --- Categorize Tests ---

func TestCategorize_RateLimit(t *testing.T) {
	h := &harness{json: true}

	err := h.run(t, NewCategorizeCmd(h.outputFn), "--status", "429", "slow down")
	require.NoError(t, err)

	var got categorizeResult
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &got))
	assert.Equal(t, "RATE_LIMIT", got.Category)
	assert.True(t, got.ShouldRetry)
	assert.True(t, got.UseCircuitBreaker)
	assert.Equal(t, 7, got.MaxAttempts)
	assert.Equal(t, int64(5000), got.BackoffMs[0])
}

func TestCategorize_CodeWinsOverStatus(t *testing.T) {
	h := &harness{}

	err := h.run(t, NewCategorizeCmd(h.outputFn), "--code", "REFRESH_TOKEN_EXPIRED", "--status", "500", "nope")
	require.NoError(t, err)

	assert.Contains(t, h.stdout.String(), "REFRESH_TOKEN_EXPIRED")
}

func TestCategorize_RequiresMessage(t *testing.T) {
	h := &harness{}
	assert.Error(t, h.run(t, NewCategorizeCmd(h.outputFn)))
}
