package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Stashflow/internal/config"
	"github.com/shaiso/Stashflow/internal/mq"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

func TestSweeps_UseConfiguredSchedule(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scheduler.Period = 5 * time.Minute
	cfg.Scheduler.InitialDelay = 5 * time.Second
	cfg.Stuck.Period = 15 * time.Minute
	cfg.Stuck.InitialDelay = 10 * time.Second
	cfg.PastDue.Period = 10 * time.Minute
	cfg.PastDue.InitialDelay = 30 * time.Second

	sweeps := (&App{Config: cfg}).Sweeps()
	require.Len(t, sweeps, 3)

	want := []struct {
		name   string
		delay  time.Duration
		period time.Duration
	}{
		{telemetry.SweepSchedule, 5 * time.Second, 5 * time.Minute},
		{telemetry.SweepStuck, 10 * time.Second, 15 * time.Minute},
		{telemetry.SweepPastDue, 30 * time.Second, 10 * time.Minute},
	}
	for i, w := range want {
		assert.Equal(t, w.name, sweeps[i].Name)
		assert.Equal(t, w.delay, sweeps[i].InitialDelay)
		assert.Equal(t, w.period, sweeps[i].Period)
		assert.NotNil(t, sweeps[i].Run)
	}
}

func TestClose_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() { (&App{}).Close() })
}

func TestRunSweep_UnknownName(t *testing.T) {
	_, err := (&App{}).RunSweep(context.Background(), "nightly")
	assert.ErrorIs(t, err, ErrUnknownSweep)
}

func TestWatchAlerts_RequiresBroker(t *testing.T) {
	err := (&App{}).WatchAlerts(context.Background(), func(mq.Message) error { return nil })
	assert.ErrorIs(t, err, ErrNoBroker)
}
