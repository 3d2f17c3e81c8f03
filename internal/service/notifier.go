package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/model"
)

const notifyTimeout = 2 * time.Second

// Notifier receives committed lifecycle changes. Implementations must not fail
// the caller: delivery is best-effort.
type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, ev model.SessionEvent)
	EnqueueResult(ctx context.Context, result *model.QuizResult)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, uuid.UUID, model.SessionEvent) {}
func (NopNotifier) EnqueueResult(context.Context, *model.QuizResult)       {}

// RedisNotifier publishes session events on the user's pub/sub channel and
// pushes completed results onto the stats queue.
type RedisNotifier struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisNotifier creates a RedisNotifier.
func NewRedisNotifier(rdb *redis.Client, log zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb: rdb,
		log: log.With().Str("component", "notifier").Logger(),
	}
}

// Publish sends ev to every subscriber of the user's event channel.
func (n *RedisNotifier) Publish(ctx context.Context, userID uuid.UUID, ev model.SessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Error().Err(err).Str("event", ev.Type).Msg("Failed to encode session event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	channel := config.CacheKey.UserQuizEventsChannel(userID.String())
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		n.log.Warn().Err(err).Str("event", ev.Type).Str("session_id", ev.SessionID.String()).Msg("Failed to publish session event")
	}
}

// EnqueueResult queues a result for the stats worker.
func (n *RedisNotifier) EnqueueResult(ctx context.Context, result *model.QuizResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to encode quiz result")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := n.rdb.RPush(ctx, config.WorkerKey.PersistStatsQueue, payload).Err(); err != nil {
		n.log.Warn().Err(err).Str("result_id", result.ID.String()).Msg("Failed to enqueue quiz result")
	}
}
