package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stashflow/internal/defaults"
	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/repo"
	"github.com/shaiso/Stashflow/internal/rules"
	"github.com/shaiso/Stashflow/internal/selector"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

// NoDraftsMessage — сообщение журнала, когда правила сработали,
// а выбирать нечего.
const NoDraftsMessage = "No drafts available"

// Store — хранилище, с которым работает Scheduler.
type Store interface {
	rules.LogReader
	selector.DraftSource

	ListEnabledAutomations(ctx context.Context) ([]domain.Automation, error)
	TryAcquireAutomation(ctx context.Context, id uuid.UUID, now time.Time, staleAfter time.Duration) (bool, error)
	ReleaseAutomation(ctx context.Context, id uuid.UUID) error
	ListEnabledRules(ctx context.Context, automationID uuid.UUID) ([]domain.ScheduleRule, error)
	ListDefaultValues(ctx context.Context, automationID uuid.UUID) ([]domain.DefaultValue, error)
	UserTimezone(ctx context.Context, userID uuid.UUID) (string, error)

	// ScheduleDraft в одной транзакции переводит draft в scheduled и
	// ставит задачу в очередь на ActualPublishAt.
	ScheduleDraft(ctx context.Context, s domain.DraftSchedule) error

	// ReleaseDraftClaim возвращает захваченный, но не запланированный draft в пул.
	ReleaseDraftClaim(ctx context.Context, draftID uuid.UUID) error

	AppendExecutionLog(ctx context.Context, log *domain.ExecutionLog) error
}

// Scheduler — Automation Scheduler.
type Scheduler struct {
	store       Store
	evaluator   *rules.Evaluator
	selector    *selector.Selector
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	lockTimeout time.Duration
	now         func() time.Time
	jitter      func(minSec, maxSec int) int
}

// Config — конфигурация Scheduler.
type Config struct {
	Store       Store
	Metrics     *telemetry.Metrics // опционально
	Logger      *slog.Logger
	LockTimeout time.Duration // default: domain.LockTimeout
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = domain.LockTimeout
	}

	return &Scheduler{
		store:       cfg.Store,
		evaluator:   rules.NewEvaluator(cfg.Store, logger),
		selector:    selector.New(cfg.Store, logger),
		metrics:     cfg.Metrics,
		logger:      logger,
		lockTimeout: lockTimeout,
		now:         time.Now,
		jitter:      Jitter,
	}
}

// Report — итог одного тика.
type Report struct {
	Automations int `json:"automations"`
	Contended   int `json:"contended"`
	Triggered   int `json:"triggered"`
	Scheduled   int `json:"scheduled"`
	Failed      int `json:"failed"`
}

// outcome — итог обработки одной автоматизации.
type outcome struct {
	contended bool
	triggered bool
	scheduled int
	failed    bool
}

// Tick выполняет один проход по всем включённым автоматизациям.
//
// Ошибка одной автоматизации не прерывает обработку остальных: она
// пишется в журнал выполнения. Tick возвращает ошибку, только если не
// удалось получить список автоматизаций.
func (s *Scheduler) Tick(ctx context.Context) (report Report, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(telemetry.SweepSchedule, started, err) }()

	now := s.now().UTC()

	automations, err := s.store.ListEnabledAutomations(ctx)
	if err != nil {
		return report, fmt.Errorf("list enabled automations: %w", err)
	}
	report.Automations = len(automations)

	for i := range automations {
		a := &automations[i]
		out := s.processAutomation(ctx, a, now)

		if out.contended {
			report.Contended++
		}
		if out.triggered {
			report.Triggered++
		}
		if out.failed {
			report.Failed++
		}
		report.Scheduled += out.scheduled
	}

	s.logger.Info("scheduler tick completed",
		"automations", report.Automations,
		"contended", report.Contended,
		"triggered", report.Triggered,
		"scheduled", report.Scheduled,
		"failed", report.Failed,
	)

	return report, nil
}

// processAutomation обрабатывает одну автоматизацию под её блокировкой.
func (s *Scheduler) processAutomation(ctx context.Context, a *domain.Automation, now time.Time) outcome {
	logger := telemetry.WithAutomationID(s.logger, a.ID.String())

	// Живая блокировка видна уже в снимке ListEnabledAutomations.
	if a.IsLocked(now, s.lockTimeout) {
		logger.Debug("automation is locked by another sweep, skipping")
		s.metrics.Contended()
		return outcome{contended: true}
	}

	acquired, err := s.store.TryAcquireAutomation(ctx, a.ID, now, s.lockTimeout)
	if err != nil {
		logger.Error("failed to acquire automation lock", "error", err)
		return outcome{failed: true}
	}
	if !acquired {
		logger.Debug("automation is locked by another sweep, skipping")
		s.metrics.Contended()
		return outcome{contended: true}
	}

	defer func() {
		// Блокировка снимается даже при отмене ctx.
		if err := s.store.ReleaseAutomation(context.WithoutCancel(ctx), a.ID); err != nil {
			logger.Error("failed to release automation lock", "error", err)
		}
	}()

	out, ruleType, err := s.run(ctx, a, now, logger)
	if err != nil {
		logger.Error("automation run failed", "error", err)
		s.appendLog(ctx, a.ID, 0, ruleType, err.Error(), logger)
		out.failed = true
	}
	return out
}

// run вычисляет правила, выбирает drafts и планирует их.
// Блокировка автоматизации уже захвачена.
func (s *Scheduler) run(ctx context.Context, a *domain.Automation, now time.Time, logger *slog.Logger) (outcome, *domain.RuleType, error) {
	var out outcome

	ruleList, err := s.store.ListEnabledRules(ctx, a.ID)
	if err != nil {
		return out, nil, fmt.Errorf("list rules: %w", err)
	}
	if len(ruleList) == 0 {
		return out, nil, nil
	}

	tz, err := s.store.UserTimezone(ctx, a.UserID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return out, nil, fmt.Errorf("get user timezone: %w", err)
	}

	res, err := s.evaluator.Evaluate(ctx, a.ID, ruleList, tz, now)
	if err != nil {
		return out, nil, err
	}
	if res.Count == 0 {
		return out, nil, nil
	}
	out.triggered = true
	ruleType := res.FirstType()

	values, err := s.store.ListDefaultValues(ctx, a.ID)
	if err != nil {
		return out, ruleType, fmt.Errorf("list default values: %w", err)
	}

	claimed, err := s.selector.Select(ctx, a, res.Count, now)
	if err != nil {
		return out, ruleType, fmt.Errorf("select drafts: %w", err)
	}
	if len(claimed) == 0 {
		logger.Info("rules triggered but no drafts available", "requested", res.Count)
		s.appendLog(ctx, a.ID, 0, ruleType, NoDraftsMessage, logger)
		return out, ruleType, nil
	}

	var lastErr error
	for i := range claimed {
		d := &claimed[i]
		if err := s.scheduleDraft(ctx, a, d, values, now); err != nil {
			logger.Error("failed to schedule draft", "draft_id", d.ID, "error", err)
			lastErr = err

			if err := s.store.ReleaseDraftClaim(context.WithoutCancel(ctx), d.ID); err != nil {
				logger.Error("failed to release draft claim", "draft_id", d.ID, "error", err)
			}
			continue
		}
		out.scheduled++
	}

	var msg string
	if lastErr != nil {
		msg = lastErr.Error()
	}
	s.appendLog(ctx, a.ID, out.scheduled, ruleType, msg, logger)
	s.metrics.Scheduled(out.scheduled)

	logger.Info("automation executed",
		"rule_type", ruleType,
		"requested", res.Count,
		"claimed", len(claimed),
		"scheduled", out.scheduled,
	)

	return out, ruleType, nil
}

// scheduleDraft применяет defaults и jitter и планирует draft.
func (s *Scheduler) scheduleDraft(ctx context.Context, a *domain.Automation, d *domain.Draft, values []domain.DefaultValue, now time.Time) error {
	jitter := s.jitter(a.JitterMinSeconds, a.JitterMaxSeconds)

	return s.store.ScheduleDraft(ctx, domain.DraftSchedule{
		DraftID:         d.ID,
		UserID:          d.UserID,
		AutomationID:    a.ID,
		ScheduledAt:     now,
		ActualPublishAt: now.Add(time.Duration(jitter) * time.Second),
		JitterSeconds:   jitter,
		UploadMode:      d.UploadMode,
		Fields:          defaults.Apply(d.Fields, a, values),
	})
}

func (s *Scheduler) appendLog(ctx context.Context, automationID uuid.UUID, count int, ruleType *domain.RuleType, msg string, logger *slog.Logger) {
	entry := &domain.ExecutionLog{
		AutomationID:        automationID,
		ScheduledCount:      count,
		TriggeredByRuleType: ruleType,
	}
	if msg != "" {
		entry.ErrorMessage = &msg
	}
	if err := s.store.AppendExecutionLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to append execution log", "error", err)
	}
}

// Jitter возвращает случайную задержку в секундах из [minSec, maxSec]
// включительно. Если maxSec не больше minSec, возвращает minSec.
func Jitter(minSec, maxSec int) int {
	if minSec < 0 {
		minSec = 0
	}
	if maxSec <= minSec {
		return minSec
	}
	return minSec + rand.IntN(maxSec-minSec+1)
}
