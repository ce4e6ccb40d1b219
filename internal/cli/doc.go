// Package cli реализует операторскую утилиту Stashflow.
//
// # Обзор
//
// В отличие от демона, CLI не держит расписание: каждая команда
// выполняет одно действие и завершается. Команды, которым нужны
// Postgres или RabbitMQ, получают Backend лениво, уже после парсинга
// флагов, поэтому `--help` и `categorize` работают без инфраструктуры.
//
// # Ключевые компоненты
//
// ## Backend
//
// Интерфейс над *app.App: ручной запуск sweep, счётчики очереди,
// чтение drafts и автоматизаций, подписка на алерты. В тестах подменяется фейком.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) по умолчанию
//   - JSON с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) в stderr.
// Это позволяет использовать pipe: stashflow sweep stuck --json | jq .
//
// ## Commands
//
// Использование:
//
//	stashflow [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	sweep       schedule | stuck | past-due
//	queue       stats
//	inspect     draft ID | automation ID [--logs N]
//	alerts      watch
//	categorize  классификация ошибки и политика повторов
package cli
