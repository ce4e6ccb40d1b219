package errcat

import (
	"math/rand/v2"
	"time"
)

const (
	// defaultBackoff — задержка, если у категории нет таблицы backoff.
	defaultBackoff = 60 * time.Second

	// missingBackoff — задержка, если элемент таблицы не задан.
	missingBackoff = 5 * time.Second

	// minJitteredDelay — нижняя граница задержки после AddJitter.
	minJitteredDelay = time.Second

	// DefaultJitterPercent — разброс по умолчанию для AddJitter.
	DefaultJitterPercent = 20
)

// ShouldRetry сообщает, можно ли сделать попытку с индексом attempt (с нуля).
func ShouldRetry(ce *CategorizedError, attempt int) bool {
	if ce == nil {
		return false
	}
	return ce.RetryStrategy.ShouldRetry && attempt < ce.RetryStrategy.MaxAttempts
}

// BackoffDelay возвращает задержку перед попыткой attempt.
//
// Индекс за пределами таблицы прижимается к последнему элементу.
// Пустая таблица даёт 60s, нулевой элемент — 5s.
func BackoffDelay(ce *CategorizedError, attempt int) time.Duration {
	if ce == nil || len(ce.RetryStrategy.Backoff) == 0 {
		return defaultBackoff
	}
	table := ce.RetryStrategy.Backoff

	idx := attempt
	if idx < 0 {
		idx = 0
	}
	if idx >= len(table) {
		idx = len(table) - 1
	}

	if table[idx] <= 0 {
		return missingBackoff
	}
	return table[idx]
}

// AddJitter возвращает delay ± pct% (равномерно), округлённое до целых
// миллисекунд и не меньше одной секунды.
func AddJitter(delay time.Duration, pct int) time.Duration {
	return addJitter(delay, pct, rand.Float64)
}

func addJitter(delay time.Duration, pct int, random func() float64) time.Duration {
	if pct < 0 {
		pct = -pct
	}
	spread := float64(delay) * float64(pct) / 100
	offset := (random()*2 - 1) * spread

	jittered := time.Duration(float64(delay) + offset).Truncate(time.Millisecond)
	if jittered < minJitteredDelay {
		return minJitteredDelay
	}
	return jittered
}
