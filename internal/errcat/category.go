package errcat

import (
	"net/http"
	"time"
)

// Category — категория ошибки.
type Category string

const (
	CategoryRateLimit           Category = "RATE_LIMIT"
	CategoryAuthError           Category = "AUTH_ERROR"
	CategoryTokenExpired        Category = "TOKEN_EXPIRED"
	CategoryRefreshTokenExpired Category = "REFRESH_TOKEN_EXPIRED"
	CategoryNetworkError        Category = "NETWORK_ERROR"
	CategoryServerError         Category = "SERVER_ERROR"
	CategoryQuotaExceeded       Category = "QUOTA_EXCEEDED"
	CategoryValidationError     Category = "VALIDATION_ERROR"
	CategoryUnknown             Category = "UNKNOWN"
)

// String возвращает строковое представление Category.
func (c Category) String() string {
	return string(c)
}

// RetryStrategy — политика повторов для категории.
type RetryStrategy struct {
	ShouldRetry          bool            `json:"should_retry"`
	MaxAttempts          int             `json:"max_attempts"`
	Backoff              []time.Duration `json:"backoff"`
	UseCircuitBreaker    bool            `json:"use_circuit_breaker"`
	RequiresTokenRefresh bool            `json:"requires_token_refresh"`
}

// ErrorContext — снимок исходной ошибки. Stack — цепочка обёрток
// от внешней ошибки к исходной, по уровню на строку.
type ErrorContext struct {
	Message    string        `json:"message"`
	Status     int           `json:"status,omitempty"`
	Code       string        `json:"code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Headers    http.Header   `json:"headers,omitempty"`
	Stack      string        `json:"stack,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// CategorizedError — результат классификации. Не сохраняется в БД.
type CategorizedError struct {
	Category      Category      `json:"category"`
	RetryStrategy RetryStrategy `json:"retry_strategy"`
	ErrorContext  ErrorContext  `json:"error_context"`

	// Err — исходная ошибка.
	Err error `json:"-"`
}

// Error реализует интерфейс error.
func (e *CategorizedError) Error() string {
	return string(e.Category) + ": " + e.ErrorContext.Message
}

// Unwrap возвращает исходную ошибку для errors.Is/errors.As.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func ms(values ...int) []time.Duration {
	out := make([]time.Duration, len(values))
	for i, v := range values {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

// strategies — контрактная таблица политик. Значения не менять без
// согласования с воркером публикации.
var strategies = map[Category]RetryStrategy{
	CategoryRateLimit: {
		ShouldRetry:       true,
		MaxAttempts:       7,
		Backoff:           ms(5000, 10000, 20000, 40000, 80000, 160000, 300000),
		UseCircuitBreaker: true,
	},
	CategoryAuthError: {
		ShouldRetry: true,
		MaxAttempts: 3,
		Backoff:     ms(2000, 5000, 10000),
	},
	CategoryTokenExpired: {
		ShouldRetry:          true,
		MaxAttempts:          2,
		Backoff:              ms(1000, 3000),
		RequiresTokenRefresh: true,
	},
	CategoryRefreshTokenExpired: {},
	CategoryNetworkError: {
		ShouldRetry: true,
		MaxAttempts: 5,
		Backoff:     ms(2000, 4000, 8000, 16000, 32000),
	},
	CategoryServerError: {
		ShouldRetry: true,
		MaxAttempts: 5,
		Backoff:     ms(3000, 6000, 12000, 24000, 48000),
	},
	CategoryQuotaExceeded: {
		ShouldRetry:       true,
		MaxAttempts:       3,
		Backoff:           ms(60000, 120000, 180000),
		UseCircuitBreaker: true,
	},
	CategoryValidationError: {},
	CategoryUnknown: {
		ShouldRetry: true,
		MaxAttempts: 3,
		Backoff:     ms(5000, 15000, 30000),
	},
}

// StrategyFor возвращает копию политики для категории.
// Для неизвестной категории возвращается политика UNKNOWN.
func StrategyFor(c Category) RetryStrategy {
	s, ok := strategies[c]
	if !ok {
		s = strategies[CategoryUnknown]
	}
	s.Backoff = append([]time.Duration(nil), s.Backoff...)
	return s
}

// Categories возвращает все категории в порядке таблицы.
func Categories() []Category {
	return []Category{
		CategoryRateLimit,
		CategoryAuthError,
		CategoryTokenExpired,
		CategoryRefreshTokenExpired,
		CategoryNetworkError,
		CategoryServerError,
		CategoryQuotaExceeded,
		CategoryValidationError,
		CategoryUnknown,
	}
}
