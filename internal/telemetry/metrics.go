package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Имена sweeps в метках и логах.
const (
	SweepSchedule = "schedule"
	SweepStuck    = "stuck"
	SweepPastDue  = "past_due"
)

// Результаты sweep.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics — метрики sweeps.
type Metrics struct {
	SweepRuns        *prometheus.CounterVec
	SweepDuration    *prometheus.HistogramVec
	LockContention   prometheus.Counter
	DraftsScheduled  prometheus.Counter
	RecoveryActions  *prometheus.CounterVec
	RecoveryFailures *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики в reg.
// nil reg — метрики не регистрируются (для тестов и CLI).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stashflow_sweep_runs_total",
			Help: "Sweep runs by sweep and result.",
		}, []string{"sweep", "result"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stashflow_sweep_duration_seconds",
			Help:    "Sweep duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"sweep"}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stashflow_automation_lock_contention_total",
			Help: "Automations skipped because another sweep holds the execution lock.",
		}),
		DraftsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stashflow_drafts_scheduled_total",
			Help: "Drafts scheduled by automations.",
		}),
		RecoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stashflow_recovery_actions_total",
			Help: "Recovery actions by sweep and action.",
		}, []string{"sweep", "action"}),
		RecoveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stashflow_recovery_failures_total",
			Help: "Drafts a recovery sweep failed to repair.",
		}, []string{"sweep"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SweepRuns,
			m.SweepDuration,
			m.LockContention,
			m.DraftsScheduled,
			m.RecoveryActions,
			m.RecoveryFailures,
		)
	}
	return m
}

// ObserveSweep фиксирует завершение sweep.
func (m *Metrics) ObserveSweep(sweep string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.SweepRuns.WithLabelValues(sweep, result).Inc()
	m.SweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

// RecoveryAction считает действие recovery-sweep.
func (m *Metrics) RecoveryAction(sweep, action string) {
	if m == nil {
		return
	}
	m.RecoveryActions.WithLabelValues(sweep, action).Inc()
}

// RecoveryFailure считает draft, который sweep не смог починить.
func (m *Metrics) RecoveryFailure(sweep string) {
	if m == nil {
		return
	}
	m.RecoveryFailures.WithLabelValues(sweep).Inc()
}

// Contended считает пропуск автоматизации из-за чужой блокировки.
func (m *Metrics) Contended() {
	if m == nil {
		return
	}
	m.LockContention.Inc()
}

// Scheduled считает поставленные в очередь drafts.
func (m *Metrics) Scheduled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DraftsScheduled.Add(float64(n))
}
