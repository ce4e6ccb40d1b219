package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// AlertPayload — сигнал для алертинга.
type AlertPayload struct {
	Sweep    string     `json:"sweep,omitempty"`
	Count    int        `json:"count,omitempty"`
	Total    int        `json:"total,omitempty"`
	Rate     float64    `json:"rate,omitempty"`
	DraftID  *uuid.UUID `json:"draft_id,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
	Message  string     `json:"message"`
}

// CleanupPayload — запрос на удаление загруженных файлов draft.
type CleanupPayload struct {
	DraftID uuid.UUID `json:"draft_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// PostCountPayload — счётчик публикаций пользователя увеличен.
type PostCountPayload struct {
	UserID  uuid.UUID `json:"user_id"`
	DraftID uuid.UUID `json:"draft_id"`
}

// SignalerConfig — настройки Signaler.
type SignalerConfig struct {
	// AlertsPerMinute — сколько алертов пропускать в минуту (default: 6).
	AlertsPerMinute float64

	// AlertBurst — размер всплеска (default: 3).
	AlertBurst int

	// PublishTimeout — таймаут одной публикации (default: 5s).
	PublishTimeout time.Duration
}

type eventPublisher interface {
	PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error
}

// Signaler отправляет сигналы recovery-sweepers в stashflow.events.
//
// Сигналы fire-and-forget: ошибка публикации логируется и не
// возвращается sweep'у. Алерты ограничены rate.Limiter, лишние
// отбрасываются с записью в лог.
type Signaler struct {
	pub     eventPublisher
	alerts  *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewSignaler создаёт Signaler поверх Publisher.
func NewSignaler(pub *Publisher, cfg SignalerConfig, logger *slog.Logger) *Signaler {
	return newSignaler(pub, cfg, logger)
}

func newSignaler(pub eventPublisher, cfg SignalerConfig, logger *slog.Logger) *Signaler {
	if cfg.AlertsPerMinute <= 0 {
		cfg.AlertsPerMinute = 6
	}
	if cfg.AlertBurst <= 0 {
		cfg.AlertBurst = 3
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Signaler{
		pub:     pub,
		alerts:  rate.NewLimiter(rate.Limit(cfg.AlertsPerMinute/60), cfg.AlertBurst),
		timeout: cfg.PublishTimeout,
		logger:  logger,
	}
}

// HighRecoveryRate — sweep восстановил подозрительно много записей.
func (s *Signaler) HighRecoveryRate(ctx context.Context, sweep string, recovered, total int) {
	s.alert(ctx, MessageTypeHighRecoveryRate, AlertPayload{
		Sweep:   sweep,
		Count:   recovered,
		Total:   total,
		Rate:    ratio(recovered, total),
		Message: "high recovery rate, check publish worker and queue health",
	})
}

// HighFailureRate — sweep не смог восстановить заметную часть пачки.
func (s *Signaler) HighFailureRate(ctx context.Context, sweep string, failed, total int) {
	s.alert(ctx, MessageTypeHighFailureRate, AlertPayload{
		Sweep:   sweep,
		Count:   failed,
		Total:   total,
		Rate:    ratio(failed, total),
		Message: "recovery failure rate above 10%",
	})
}

// JobStillActive — задача активна после многих попыток.
func (s *Signaler) JobStillActive(ctx context.Context, draftID uuid.UUID, attempts int) {
	s.alert(ctx, MessageTypeJobStillActive, AlertPayload{
		Sweep:    "past_due",
		DraftID:  &draftID,
		Attempts: attempts,
		Message:  "job is still active after many attempts",
	})
}

// StorageCleanup просит удалить загруженные файлы опубликованного draft.
func (s *Signaler) StorageCleanup(ctx context.Context, draftID, userID uuid.UUID) {
	s.publish(ctx, RoutingKeyCleanup, MessageTypeDraftCleanup, CleanupPayload{DraftID: draftID, UserID: userID})
}

// PostCountIncremented сообщает об увеличении счётчика публикаций.
func (s *Signaler) PostCountIncremented(ctx context.Context, userID, draftID uuid.UUID) {
	s.publish(ctx, RoutingKeyPostCount, MessageTypePostCountIncremented, PostCountPayload{UserID: userID, DraftID: draftID})
}

func (s *Signaler) alert(ctx context.Context, msgType MessageType, payload AlertPayload) {
	if !s.alerts.Allow() {
		s.logger.Warn("alert dropped by rate limit", "type", msgType, "sweep", payload.Sweep)
		return
	}
	s.publish(ctx, RoutingKeyAlert, msgType, payload)
}

func (s *Signaler) publish(ctx context.Context, key RoutingKey, msgType MessageType, payload any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.pub.PublishJSON(ctx, ExchangeEvents, key, msgType, payload); err != nil {
		s.logger.Error("failed to publish signal", "type", msgType, "error", err)
	}
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
