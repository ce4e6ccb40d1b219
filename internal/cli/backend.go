package cli

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Stashflow/internal/domain"
	"github.com/shaiso/Stashflow/internal/mq"
	"github.com/shaiso/Stashflow/internal/queue"
)

// Backend — то, с чем работают команды, которым нужны БД или RabbitMQ.
// В проде это *app.App.
type Backend interface {
	RunSweep(ctx context.Context, name string) (any, error)
	QueueCounts(ctx context.Context) (map[queue.State]int, error)
	Draft(ctx context.Context, id uuid.UUID) (*domain.Draft, error)
	Automation(ctx context.Context, id uuid.UUID) (*domain.Automation, error)
	ExecutionLogs(ctx context.Context, automationID uuid.UUID, limit int) ([]domain.ExecutionLog, error)
	WatchAlerts(ctx context.Context, fn func(msg mq.Message) error) error
	Close()
}

// BackendFunc лениво создаёт Backend после парсинга флагов.
type BackendFunc func(ctx context.Context) (Backend, error)

// withBackend создаёт Backend, вызывает fn и закрывает Backend.
func withBackend(ctx context.Context, backendFn BackendFunc, fn func(b Backend) error) error {
	b, err := backendFn(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}
