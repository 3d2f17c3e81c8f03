package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SessionExpirer abandons in-progress sessions that outlived their expiry.
type SessionExpirer interface {
	AbandonExpired(ctx context.Context, now time.Time) (int64, error)
}

// ExpiryWorker periodically sweeps expired sessions.
type ExpiryWorker struct {
	store    SessionExpirer
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewExpiryWorker(store SessionExpirer, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		store:    store,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Start sweeps every interval until ctx is cancelled. A non-positive interval disables it.
func (w *ExpiryWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info().Msg("ExpiryWorker disabled")
		return
	}
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass.
func (w *ExpiryWorker) Sweep(ctx context.Context) int64 {
	n, err := w.store.AbandonExpired(ctx, w.now())
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Expiry sweep failed")
		}
		return n
	}
	if n > 0 {
		w.log.Info().Int64("sessions", n).Msg("Abandoned expired sessions")
	}
	return n
}
