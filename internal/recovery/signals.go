package recovery

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Signals — получатель сигналов recovery-sweepers.
//
// Сигналы fire-and-forget: реализация не возвращает ошибок и не должна
// блокировать sweep. В проде это mq.Signaler.
type Signals interface {
	HighRecoveryRate(ctx context.Context, sweep string, recovered, total int)
	HighFailureRate(ctx context.Context, sweep string, failed, total int)
	JobStillActive(ctx context.Context, draftID uuid.UUID, attempts int)
	StorageCleanup(ctx context.Context, draftID, userID uuid.UUID)
	PostCountIncremented(ctx context.Context, userID, draftID uuid.UUID)
}

// LogSignals пишет сигналы в лог. Используется, когда RabbitMQ выключен.
type LogSignals struct {
	Logger *slog.Logger
}

func (s LogSignals) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s LogSignals) HighRecoveryRate(_ context.Context, sweep string, recovered, total int) {
	s.logger().Warn("high recovery rate", "sweep", sweep, "recovered", recovered, "total", total)
}

func (s LogSignals) HighFailureRate(_ context.Context, sweep string, failed, total int) {
	s.logger().Warn("high failure rate", "sweep", sweep, "failed", failed, "total", total)
}

func (s LogSignals) JobStillActive(_ context.Context, draftID uuid.UUID, attempts int) {
	s.logger().Warn("job still active after many attempts", "draft_id", draftID, "attempts", attempts)
}

func (s LogSignals) StorageCleanup(_ context.Context, draftID, userID uuid.UUID) {
	s.logger().Info("storage cleanup requested", "draft_id", draftID, "user_id", userID)
}

func (s LogSignals) PostCountIncremented(_ context.Context, userID, draftID uuid.UUID) {
	s.logger().Info("post count incremented", "user_id", userID, "draft_id", draftID)
}

// exceedsRate возвращает true, если failed больше threshold от total.
func exceedsRate(failed, total int, threshold float64) bool {
	if total == 0 {
		return false
	}
	return float64(failed)/float64(total) > threshold
}
