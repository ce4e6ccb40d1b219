// Package repo — репозитории PostgreSQL (pgx).
//
// Вся координация между процессами идёт через условные UPDATE:
// блокировка выполнения автоматизации, optimistic lock по
// execution_version, флаг post_count_incremented. Ноль затронутых
// строк — это не ошибка, а сигнал «уже сделал кто-то другой».
package repo
