// Package mq — инфраструктура RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация через circuit breaker с повторами
//   - consumer.go   — потребление сообщений
//   - signals.go    — сигналы recovery-sweepers для алертинга и очистки
//
// Типы сообщений:
//   - job.ready                     — draft поставлен в очередь публикации
//   - alert.high_recovery_rate      — sweep восстановил слишком много записей
//   - alert.high_failure_rate       — sweep не смог восстановить >10% пачки
//   - alert.job_still_active        — задача активна после многих попыток
//   - draft.cleanup                 — удалить загруженные файлы draft
//   - user.post_count_incremented   — счётчик публикаций пользователя вырос
//
// Exchanges:
//   - stashflow.jobs   — уведомления воркеру публикации
//   - stashflow.events — сигналы алертинга и очистки
//   - stashflow.dlq    — dead letter queue
package mq
