package errcat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen — circuit breaker разомкнут, вызов не выполнялся.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig — настройки Breaker.
type BreakerConfig struct {
	// Name — имя breaker'а для логов.
	Name string

	// ConsecutiveFailures — после скольких подряд ошибок размыкать цепь (default: 5).
	ConsecutiveFailures uint32

	// OpenTimeout — сколько цепь остаётся разомкнутой (default: 30s).
	OpenTimeout time.Duration

	// MaxAttempts — верхняя граница попыток на один вызов Do (default: 3).
	// Фактическое число попыток ещё ограничено политикой категории.
	MaxAttempts int

	// Trips решает, засчитывается ли ошибка как отказ breaker'а.
	// По умолчанию — категории с UseCircuitBreaker.
	Trips func(ce *CategorizedError) bool

	// Sleep ждёт между попытками (default: ожидание с учётом ctx).
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// Breaker выполняет вызовы через gobreaker и повторяет их по политике
// категории ошибки.
type Breaker struct {
	cb          *gobreaker.CircuitBreaker[struct{}]
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// NewBreaker создаёт новый Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	trips := cfg.Trips
	if trips == nil {
		trips = func(ce *CategorizedError) bool { return ce.RetryStrategy.UseCircuitBreaker }
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !trips(Categorize(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Breaker{
		cb:          cb,
		maxAttempts: maxAttempts,
		sleep:       sleep,
		logger:      logger,
	}
}

// Do выполняет fn с повторами.
//
// После каждой ошибки она классифицируется; повтор делается, только если
// ShouldRetry разрешает его для номера повтора, и число попыток не
// превысило MaxAttempts. Разомкнутая цепь возвращает ErrCircuitOpen сразу.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		_, err := b.cb.Execute(func() (struct{}, error) {
			return struct{}{}, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errors.Join(ErrCircuitOpen, err)
		}

		ce := Categorize(err)
		if attempt+1 >= b.maxAttempts || !ShouldRetry(ce, attempt) {
			return ce
		}

		delay := AddJitter(BackoffDelay(ce, attempt), DefaultJitterPercent)
		b.logger.Debug("retrying call",
			"category", ce.Category,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := b.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// State возвращает текущее состояние цепи ("closed", "open", "half-open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
