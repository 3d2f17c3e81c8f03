package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports dependency and runtime status.
type HealthHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewHealthHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthReport struct {
	Status     string `json:"status"`
	Postgres   string `json:"postgres"`
	Redis      string `json:"redis"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	GoVersion  string `json:"go_version"`
	QueueStats int64  `json:"queue_stats"`
}

// Health godoc
// GET /health
// Returns 200 when Postgres and Redis answer, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	rep := healthReport{
		Status:     "ok",
		Postgres:   "ok",
		Redis:      "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Postgres ping failed")
			rep.Postgres, rep.Status = "down", "degraded"
		}
	}

	if h.rdb != nil {
		pipe := h.rdb.Pipeline()
		ping := pipe.Ping(ctx)
		queue := pipe.LLen(ctx, config.WorkerKey.PersistStatsQueue)
		if _, err := pipe.Exec(ctx); err != nil || ping.Err() != nil {
			h.log.Warn().Err(err).Msg("Redis ping failed")
			rep.Redis, rep.Status = "down", "degraded"
		} else {
			rep.QueueStats, _ = queue.Result()
		}
	}

	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, rep)
}
