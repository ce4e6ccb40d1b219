// Package rules вычисляет, какие правила расписания автоматизации
// срабатывают в текущий момент и сколько drafts нужно поставить в очередь.
//
// Время всегда переводится в часовой пояс владельца автоматизации.
// Состояние fixed_interval и daily_quota не хранится отдельно — оно
// восстанавливается из журнала выполнения (ExecutionLog).
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stashflow/internal/domain"
)

// FixedTimeWindow — окно срабатывания fixed_time после целевого времени.
// Больше периода scheduler'а (5 минут), чтобы пережить дрожание тиков,
// и меньше двух периодов, чтобы не сработать дважды.
const FixedTimeWindow = 7 * time.Minute

// LogReader — чтение журнала выполнения для правил с состоянием.
type LogReader interface {
	// LastTriggeredAt возвращает время последней записи журнала с данным
	// типом правила или nil, если записей нет.
	LastTriggeredAt(ctx context.Context, automationID uuid.UUID, ruleType domain.RuleType) (*time.Time, error)

	// ScheduledSince возвращает сумму scheduled_count записей с данным
	// типом правила, начиная с since.
	ScheduledSince(ctx context.Context, automationID uuid.UUID, ruleType domain.RuleType, since time.Time) (int, error)
}

// Result — результат вычисления правил.
type Result struct {
	// Triggered — сработавшие правила в исходном порядке.
	Triggered []domain.ScheduleRule

	// Count — сколько drafts нужно поставить в очередь.
	Count int
}

// FirstType возвращает тип первого сработавшего правила.
func (r Result) FirstType() *domain.RuleType {
	if len(r.Triggered) == 0 {
		return nil
	}
	t := r.Triggered[0].Type
	return &t
}

// Evaluator вычисляет правила расписания.
type Evaluator struct {
	logs   LogReader
	logger *slog.Logger
}

// NewEvaluator создаёт новый Evaluator.
func NewEvaluator(logs LogReader, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logs: logs, logger: logger}
}

// Evaluate проверяет правила автоматизации на момент now.
//
// Выключенные правила и правила неизвестного типа пропускаются,
// остальные проверяются по возрастанию Priority. Ошибка чтения журнала прерывает вычисление:
// без журнала нельзя безопасно решить, не превышена ли квота.
func (e *Evaluator) Evaluate(ctx context.Context, automationID uuid.UUID, rules []domain.ScheduleRule, timezone string, now time.Time) (Result, error) {
	loc := LoadLocation(timezone)
	local := now.In(loc)
	currentTime := local.Format("15:04")
	currentDay := strings.ToLower(local.Weekday().String())

	ordered := make([]domain.ScheduleRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !r.Type.IsValid() {
			e.logger.Warn("unknown rule type, skipping",
				"automation_id", automationID,
				"rule_id", r.ID,
				"type", r.Type,
			)
			continue
		}
		ordered = append(ordered, r)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var result Result
	for _, rule := range ordered {
		if !MatchesDay(rule.DaysOfWeek, currentDay) {
			continue
		}

		fired, err := e.fires(ctx, automationID, rule, currentTime, local, now)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate %s rule %s: %w", rule.Type, rule.ID, err)
		}
		if !fired {
			continue
		}

		e.logger.Debug("rule triggered",
			"automation_id", automationID,
			"rule_id", rule.ID,
			"type", rule.Type,
			"local_time", currentTime,
			"day", currentDay,
		)
		result.Triggered = append(result.Triggered, rule)
	}

	result.Count = CountToSchedule(result.Triggered)
	return result, nil
}

func (e *Evaluator) fires(ctx context.Context, automationID uuid.UUID, rule domain.ScheduleRule, currentTime string, local, now time.Time) (bool, error) {
	switch rule.Type {
	case domain.RuleFixedTime:
		return IsTimeMatch(currentTime, rule.TimeOfDay), nil

	case domain.RuleFixedInterval:
		last, err := e.logs.LastTriggeredAt(ctx, automationID, domain.RuleFixedInterval)
		if err != nil {
			return false, err
		}
		if last == nil {
			return true, nil
		}
		interval := time.Duration(rule.IntervalMinutes) * time.Minute
		return now.Sub(*last) >= interval, nil

	case domain.RuleDailyQuota:
		if rule.DailyQuota <= 0 {
			return false, nil
		}
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
		used, err := e.logs.ScheduledSince(ctx, automationID, domain.RuleDailyQuota, midnight.UTC())
		if err != nil {
			return false, err
		}
		return used < rule.DailyQuota, nil

	default:
		return false, nil
	}
}

// CountToSchedule считает, сколько drafts ставить для сработавших правил:
// 1 за fixed_time, DeviationsPerInterval за fixed_interval и 1 за
// daily_quota (квота расходуется по одному draft за sweep).
func CountToSchedule(triggered []domain.ScheduleRule) int {
	count := 0
	for _, r := range triggered {
		switch r.Type {
		case domain.RuleFixedInterval:
			if r.DeviationsPerInterval > 0 {
				count += r.DeviationsPerInterval
			} else {
				count++
			}
		case domain.RuleFixedTime, domain.RuleDailyQuota:
			count++
		}
	}
	return count
}

// IsTimeMatch возвращает true, если current (HH:MM) не раньше target и
// отстоит от него меньше чем на FixedTimeWindow. Окно не переходит
// через полночь.
func IsTimeMatch(current, target string) bool {
	cur, ok := parseClock(current)
	if !ok {
		return false
	}
	tgt, ok := parseClock(target)
	if !ok {
		return false
	}
	diff := cur - tgt
	return diff >= 0 && diff < int(FixedTimeWindow/time.Minute)
}

// MatchesDay проверяет день недели. Пустой список — любой день.
func MatchesDay(days []string, day string) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if strings.EqualFold(strings.TrimSpace(d), day) {
			return true
		}
	}
	return false
}

// LoadLocation загружает часовой пояс. При ошибке возвращает UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseClock переводит "HH:MM" (или "HH:MM:SS") в минуты от полуночи.
func parseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
