package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Stashflow/internal/errcat"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeJobReady             MessageType = "job.ready"
	MessageTypeHighRecoveryRate     MessageType = "alert.high_recovery_rate"
	MessageTypeHighFailureRate      MessageType = "alert.high_failure_rate"
	MessageTypeJobStillActive       MessageType = "alert.job_still_active"
	MessageTypeDraftCleanup         MessageType = "draft.cleanup"
	MessageTypePostCountIncremented MessageType = "user.post_count_incremented"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// JobReadyPayload — draft поставлен в очередь публикации.
type JobReadyPayload struct {
	DraftID   uuid.UUID `json:"draft_id"`
	UserID    uuid.UUID `json:"user_id"`
	DeliverAt time.Time `json:"deliver_at"`
	Reason    string    `json:"reason,omitempty"`
}

// sendFunc отправляет одно сообщение брокеру.
type sendFunc func(ctx context.Context, exchange Exchange, key RoutingKey, pub amqp.Publishing) error

// Publisher публикует сообщения в RabbitMQ.
//
// Каждая публикация идёт через errcat.Breaker: сетевые ошибки и
// категории с UseCircuitBreaker размыкают цепь, остальные повторяются
// по политике своей категории.
type Publisher struct {
	send    sendFunc
	breaker *errcat.Breaker
	logger  *slog.Logger
}

// NewPublisher создаёт Publisher поверх соединения.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return newPublisher(channelSender(conn), nil, logger)
}

func newPublisher(send sendFunc, breaker *errcat.Breaker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = errcat.NewBreaker(errcat.BreakerConfig{
			Name:   "rabbitmq-publisher",
			Trips:  tripsBreaker,
			Logger: logger,
		})
	}
	return &Publisher{send: send, breaker: breaker, logger: logger}
}

func channelSender(conn *Connection) sendFunc {
	return func(ctx context.Context, exchange Exchange, key RoutingKey, pub amqp.Publishing) error {
		return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
			return ch.PublishWithContext(ctx, string(exchange), string(key), false, false, pub)
		})
	}
}

// tripsBreaker: брокер недоступен или категория требует breaker.
func tripsBreaker(ce *errcat.CategorizedError) bool {
	return ce.RetryStrategy.UseCircuitBreaker || ce.Category == errcat.CategoryNetworkError
}

// Publish публикует сообщение.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}

	err = p.breaker.Do(ctx, func(ctx context.Context) error {
		return asCategorizable(p.send(ctx, exchange, routingKey, pub))
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, exchange, routingKey, err)
	}

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishJSON публикует payload в новом конверте.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	return p.Publish(ctx, exchange, routingKey, newMessage(msgType, payload))
}

// NotifyJobReady будит воркер публикации.
func (p *Publisher) NotifyJobReady(ctx context.Context, payload JobReadyPayload) error {
	return p.PublishJSON(ctx, ExchangeJobs, RoutingKeyJobReady, MessageTypeJobReady, payload)
}

// BreakerState возвращает состояние circuit breaker'а публикаций.
func (p *Publisher) BreakerState() string {
	return p.breaker.State()
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// asCategorizable переводит ошибки канала в сетевые коды errcat.
func asCategorizable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoChannel) || errors.Is(err, amqp.ErrClosed) {
		return &errcat.APIError{Code: errcat.CodeConnReset, Err: err}
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Recover {
		return &errcat.APIError{Code: errcat.CodeConnReset, Err: err}
	}
	return err
}
