// Package errcat классифицирует ошибки внешних вызовов и сопоставляет
// каждой категории фиксированную стратегию retry.
//
// Структура:
//   - category.go   — категории и таблица RetryStrategy
//   - categorize.go — Categorize: код ошибки → HTTP-статус → текст сообщения
//   - backoff.go    — ShouldRetry, BackoffDelay, AddJitter
//   - breaker.go    — circuit breaker (gobreaker) для категорий с UseCircuitBreaker
//
// Использование:
//
//	ce := errcat.Categorize(err)
//	if errcat.ShouldRetry(ce, attempt) {
//	    delay := errcat.AddJitter(errcat.BackoffDelay(ce, attempt), 20)
//	    ...
//	}
//
// Классификацией пользуются recovery-sweepers, mq.Publisher и внешний
// воркер публикации. Сами sweepers решений о retry по категориям не
// принимают: их ретрай — это следующий период.
package errcat
