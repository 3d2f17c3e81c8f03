package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/model"
	"github.com/stemsi/trivia-backend/internal/repository"
	"github.com/stemsi/trivia-backend/internal/repository/memory"
)

func TestExpiryWorkerSweep(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	expired := &model.QuizSession{
		ID: uuid.New(), UserID: userID, Status: model.SessionStatusInProgress,
		ExpiresAt: now.Add(-time.Minute), UserAnswers: []model.UserAnswer{},
	}
	live := &model.QuizSession{
		ID: uuid.New(), UserID: uuid.New(), Status: model.SessionStatusInProgress,
		ExpiresAt: now.Add(time.Hour), UserAnswers: []model.UserAnswer{},
	}
	err := store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertSession(ctx, expired); err != nil {
			return err
		}
		return tx.InsertSession(ctx, live)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := NewExpiryWorker(store, time.Minute, zerolog.Nop())
	w.now = func() time.Time { return now }

	if n := w.Sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if n := w.Sweep(context.Background()); n != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", n)
	}

	got, _ := store.GetSession(context.Background(), expired.ID, userID)
	if got.Status != model.SessionStatusAbandoned || !got.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected expired session state %s %s", got.Status, got.UpdatedAt)
	}
	got, _ = store.GetSession(context.Background(), live.ID, live.UserID)
	if got.Status != model.SessionStatusInProgress {
		t.Fatalf("live session was touched")
	}
}

func TestExpiryWorkerDisabled(t *testing.T) {
	w := NewExpiryWorker(memory.NewStore(), 0, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("disabled worker should return immediately")
	}
}
