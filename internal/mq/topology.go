package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeJobs   Exchange = "stashflow.jobs"
	ExchangeEvents Exchange = "stashflow.events"
	ExchangeDLQ    Exchange = "stashflow.dlq"
)

const (
	QueueJobsReady       Queue = "jobs.ready"
	QueueEventsAlerts    Queue = "events.alerts"
	QueueEventsCleanup   Queue = "events.cleanup"
	QueueEventsPostCount Queue = "events.post_count"
	QueueDLQEvents       Queue = "dlq.events"
)

const (
	RoutingKeyJobReady  RoutingKey = "job.ready"
	RoutingKeyAlert     RoutingKey = "alert"
	RoutingKeyCleanup   RoutingKey = "cleanup"
	RoutingKeyPostCount RoutingKey = "post_count"
	RoutingKeyDLQEvents RoutingKey = "events"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

func topologyExchanges() []exchangeDecl {
	return []exchangeDecl{
		{ExchangeJobs, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}
}

func topologyQueues() []queueDecl {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQEvents),
	}
	return []queueDecl{
		// воркер публикации сам опрашивает publish_jobs, уведомления можно терять
		{QueueJobsReady, amqp.Table{"x-message-ttl": int32(3_600_000)}},
		{QueueEventsAlerts, dlqArgs},
		{QueueEventsCleanup, dlqArgs},
		{QueueEventsPostCount, dlqArgs},
		{QueueDLQEvents, nil},
	}
}

func topologyBindings() []bindingDecl {
	return []bindingDecl{
		{QueueJobsReady, RoutingKeyJobReady, ExchangeJobs},
		{QueueEventsAlerts, RoutingKeyAlert, ExchangeEvents},
		{QueueEventsCleanup, RoutingKeyCleanup, ExchangeEvents},
		{QueueEventsPostCount, RoutingKeyPostCount, ExchangeEvents},
		{QueueDLQEvents, RoutingKeyDLQEvents, ExchangeDLQ},
	}
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентно.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range topologyExchanges() {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range topologyQueues() {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range topologyBindings() {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логов и CLI.
func TopologyInfo() string {
	return `
  Stashflow RabbitMQ Topology:

    stashflow.jobs (direct)
    └── jobs.ready [routing: job.ready]
            Consumer: publish worker

    stashflow.events (direct)
    ├── events.alerts [routing: alert]
    │       Consumer: alerting, stashflow-ops alerts watch
    ├── events.cleanup [routing: cleanup]
    │       Consumer: storage cleanup
    └── events.post_count [routing: post_count]
            Consumer: profile stats

    stashflow.dlq (direct)
    └── dlq.events [routing: events]
            Manual processing
  `
}
