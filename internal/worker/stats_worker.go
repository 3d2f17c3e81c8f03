package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/model"
)

const (
	StatsBatchSize    = 50
	StatsBatchTimeout = 2 * time.Second
	StatsPollTimeout  = 1 * time.Second
)

// StatsWriter folds per-user deltas into stored aggregates.
type StatsWriter interface {
	ApplyDeltas(ctx context.Context, deltas []model.StatsDelta) error
}

// StatsWorker drains completed results from Redis and maintains user_quiz_stats.
type StatsWorker struct {
	writer StatsWriter
	rdb    *redis.Client
	log    zerolog.Logger
}

func NewStatsWorker(writer StatsWriter, rdb *redis.Client, log zerolog.Logger) *StatsWorker {
	return &StatsWorker{
		writer: writer,
		rdb:    rdb,
		log:    log.With().Str("component", "stats_worker").Logger(),
	}
}

// queuedResult keeps the raw payload next to the decoded result so a failed
// batch can be pushed back unchanged.
type queuedResult struct {
	raw    string
	result model.QuizResult
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled, then flushes what it already holds.
func (w *StatsWorker) Start(ctx context.Context) {
	w.log.Info().Msg("StatsWorker started")

	batch := make([]queuedResult, 0, StatsBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= StatsBatchSize || time.Since(lastFlush) >= StatsBatchTimeout) {

			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flush(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, StatsPollTimeout, config.WorkerKey.PersistStatsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(StatsPollTimeout)
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var r model.QuizResult
			if err := json.Unmarshal([]byte(item[1]), &r); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, queuedResult{raw: item[1], result: r})
		}
	}
}

// ----------------------------------------------------------------
// Flush with per-user fallback
// ----------------------------------------------------------------

func (w *StatsWorker) flush(ctx context.Context, batch []queuedResult) {
	if len(batch) == 0 {
		return
	}

	deltas, byUser := aggregate(batch)
	err := w.writer.ApplyDeltas(ctx, deltas)
	if err == nil {
		w.log.Debug().Int("results", len(batch)).Int("users", len(deltas)).Msg("Stats batch applied")
		return
	}
	w.log.Warn().Err(err).Msg("bulk stats update failed, using fallback")

	for _, d := range deltas {
		if err := w.writer.ApplyDeltas(ctx, []model.StatsDelta{d}); err != nil {
			w.log.Error().Err(err).Str("user_id", d.UserID.String()).Msg("stats update failed, requeueing")
			w.requeue(ctx, byUser[d.UserID])
		}
	}
}

func (w *StatsWorker) requeue(ctx context.Context, raws []string) {
	if len(raws) == 0 {
		return
	}
	values := make([]interface{}, len(raws))
	for i, r := range raws {
		values[i] = r
	}
	if err := w.rdb.RPush(ctx, config.WorkerKey.PersistStatsQueue, values...).Err(); err != nil {
		w.log.Error().Err(err).Int("results", len(raws)).Msg("requeue failed, results dropped")
	}
}

// aggregate collapses a batch into one delta per user, in first-seen order.
func aggregate(batch []queuedResult) ([]model.StatsDelta, map[uuid.UUID][]string) {
	index := make(map[uuid.UUID]int)
	byUser := make(map[uuid.UUID][]string)
	deltas := make([]model.StatsDelta, 0, len(batch))

	for _, q := range batch {
		r := q.result
		i, ok := index[r.UserID]
		if !ok {
			i = len(deltas)
			index[r.UserID] = i
			deltas = append(deltas, model.StatsDelta{UserID: r.UserID})
		}
		d := &deltas[i]
		d.Quizzes++
		d.TotalQuestions += r.TotalQuestions
		d.TotalCorrect += r.CorrectAnswers
		d.BestScore = max(d.BestScore, r.ScorePercentage)
		if r.CompletedAt.After(d.LastCompletedAt) {
			d.LastCompletedAt = r.CompletedAt
		}
		byUser[r.UserID] = append(byUser[r.UserID], q.raw)
	}
	return deltas, byUser
}
