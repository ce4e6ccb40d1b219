package errcat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Коды ошибок, которые распознаются до HTTP-статуса.
const (
	CodeRefreshTokenExpired = "REFRESH_TOKEN_EXPIRED"
	CodeTimedOut            = "ETIMEDOUT"
	CodeConnReset           = "ECONNRESET"
	CodeConnRefused         = "ECONNREFUSED"
	CodeNetUnreachable      = "ENETUNREACH"
)

// APIError — ошибка внешнего API с кодом, статусом и заголовками.
// Клиенты внешних сервисов возвращают её, чтобы Categorize мог
// учесть всё, что известно о сбое.
type APIError struct {
	Code       string
	Status     int
	Message    string
	RetryAfter time.Duration
	Headers    http.Header
	Err        error
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("%s (status %d, code %s)", msg, e.Status, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", msg, e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", msg, e.Code)
	default:
		return msg
	}
}

// Unwrap возвращает вложенную ошибку.
func (e *APIError) Unwrap() error {
	return e.Err
}

var networkCodes = map[string]bool{
	CodeTimedOut:       true,
	CodeConnReset:      true,
	CodeConnRefused:    true,
	CodeNetUnreachable: true,
}

// Фразы сообщений в порядке проверки. Порядок значим: "refresh token
// expired" содержит "token expired", а "invalid token" — "invalid".
var messageRules = []struct {
	category Category
	phrases  []string
}{
	{CategoryRefreshTokenExpired, []string{
		"refresh token expired", "refresh_token expired", "refresh token has expired",
		"invalid refresh token", "refresh token is invalid", "refresh token revoked",
	}},
	{CategoryTokenExpired, []string{
		"token expired", "token has expired", "expired token", "access token expired",
		"invalid token", "token invalid", "invalid_token",
	}},
	{CategoryRateLimit, []string{"rate limit", "rate-limit", "ratelimit", "too many requests"}},
	{CategoryQuotaExceeded, []string{"quota exceeded", "quota_exceeded", "exceeded quota"}},
	{CategoryNetworkError, []string{"timeout", "timed out", "econnreset", "econnrefused", "network"}},
	{CategoryValidationError, []string{"validation", "invalid", "required"}},
	{CategoryAuthError, []string{"authentication", "unauthorized", "forbidden"}},
}

// Categorize классифицирует ошибку.
//
// Приоритет: (1) код ошибки, (2) HTTP-статус, (3) подстрока сообщения
// без учёта регистра, (4) UNKNOWN. nil классифицируется как UNKNOWN
// с пустым сообщением.
func Categorize(err error) *CategorizedError {
	ectx := extractContext(err)
	category := classify(ectx)

	return &CategorizedError{
		Category:      category,
		RetryStrategy: StrategyFor(category),
		ErrorContext:  ectx,
		Err:           err,
	}
}

func classify(ectx ErrorContext) Category {
	// 1. Явный код
	code := strings.ToUpper(ectx.Code)
	if code == CodeRefreshTokenExpired {
		return CategoryRefreshTokenExpired
	}
	if networkCodes[code] {
		return CategoryNetworkError
	}

	msg := strings.ToLower(ectx.Message)

	// 2. HTTP-статус
	switch ectx.Status {
	case http.StatusTooManyRequests:
		return CategoryRateLimit
	case http.StatusUnauthorized:
		if strings.Contains(msg, "refresh token") || strings.Contains(msg, "refresh_token") {
			return CategoryRefreshTokenExpired
		}
		if strings.Contains(msg, "token") {
			return CategoryTokenExpired
		}
		return CategoryAuthError
	case http.StatusForbidden:
		return CategoryAuthError
	case http.StatusBadRequest:
		return CategoryValidationError
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return CategoryServerError
	}

	// 3. Текст сообщения
	for _, rule := range messageRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(msg, phrase) {
				return rule.category
			}
		}
	}

	return CategoryUnknown
}

// extractContext собирает код, статус и заголовки из цепочки ошибок.
func extractContext(err error) ErrorContext {
	ectx := ErrorContext{Timestamp: time.Now()}
	if err == nil {
		return ectx
	}
	ectx.Message = err.Error()

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		ectx.Code = apiErr.Code
		ectx.Status = apiErr.Status
		ectx.RetryAfter = apiErr.RetryAfter
		ectx.Headers = apiErr.Headers
		if apiErr.Message != "" {
			ectx.Message = apiErr.Message
		}
	}

	if ectx.Code == "" {
		ectx.Code = networkCode(err)
	}
	ectx.Stack = wrapChain(err)

	return ectx
}

// wrapChain разворачивает цепочку Unwrap: по строке "тип: сообщение" на уровень,
// от внешней ошибки к исходной.
func wrapChain(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%T: %s", e, e.Error())
	}
	return b.String()
}

// networkCode переводит системные сетевые ошибки в коды вида ECONNRESET.
func networkCode(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return CodeNetUnreachable
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, context.DeadlineExceeded):
		return CodeTimedOut
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut
	}
	return ""
}
