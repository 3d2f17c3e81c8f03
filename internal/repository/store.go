package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/trivia-backend/internal/model"
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateResult is returned when a result for the session already exists.
var ErrDuplicateResult = errors.New("result already recorded for session")

// Store is the session and result storage used by the quiz lifecycle.
// Every method that takes a userID scopes the lookup to that owner.
type Store interface {
	// WithTx runs fn in a single transaction. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetSession(ctx context.Context, id, userID uuid.UUID) (*model.QuizSession, error)
	GetLatestActive(ctx context.Context, userID uuid.UUID) (*model.QuizSession, error)

	// MarkAbandoned moves an in_progress session to abandoned. It reports false
	// when the session was no longer in_progress.
	MarkAbandoned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// AbandonExpired abandons every in_progress session whose expiry is before now.
	AbandonExpired(ctx context.Context, now time.Time) (int64, error)

	ListResults(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.QuizResult, int, error)
	GetResult(ctx context.Context, id, userID uuid.UUID) (*model.QuizResult, error)
}

// Tx exposes the locked operations available inside Store.WithTx.
type Tx interface {
	// LockUser serializes session creation for one user until the transaction ends.
	LockUser(ctx context.Context, userID uuid.UUID) error
	AbandonActive(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	InsertSession(ctx context.Context, s *model.QuizSession) error

	// GetSessionForUpdate loads a session and holds its row lock until the transaction ends.
	GetSessionForUpdate(ctx context.Context, id, userID uuid.UUID) (*model.QuizSession, error)
	UpdateProgress(ctx context.Context, s *model.QuizSession) error
	Finish(ctx context.Context, s *model.QuizSession) error
	InsertResult(ctx context.Context, r *model.QuizResult) error
}
