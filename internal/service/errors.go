package service

import (
	"errors"
	"fmt"
	"time"
)

// Quiz lifecycle errors. Handlers map these to response codes.
var (
	ErrInvalidSpec         = errors.New("invalid quiz spec")
	ErrInvalidReason       = errors.New("invalid completion reason")
	ErrProviderUnavailable = errors.New("question provider unavailable")
	ErrSessionNotFound     = errors.New("quiz session not found")
	ErrSessionInactive     = errors.New("quiz session is no longer active")
	ErrAlreadyAnswered     = errors.New("question already answered")
	ErrQuestionNotFound    = errors.New("question not found in session")
	ErrInvalidSnapshot     = errors.New("invalid session snapshot")
	ErrResultNotFound      = errors.New("quiz result not found")
	ErrStoreUnavailable    = errors.New("session store unavailable")
	ErrSyncConflict        = errors.New("session was updated by another client")
)

// SyncConflictError is returned when a snapshot is older than the stored session.
type SyncConflictError struct {
	ServerUpdatedAt time.Time
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("%s (server updated at %s)", ErrSyncConflict, e.ServerUpdatedAt.Format(time.RFC3339Nano))
}

// Is lets errors.Is(err, ErrSyncConflict) match.
func (e *SyncConflictError) Is(target error) bool {
	return target == ErrSyncConflict
}

var domainErrors = []error{
	ErrInvalidSpec, ErrInvalidReason, ErrProviderUnavailable, ErrSessionNotFound,
	ErrSessionInactive, ErrAlreadyAnswered, ErrQuestionNotFound, ErrInvalidSnapshot,
	ErrResultNotFound, ErrSyncConflict,
}

// storeError passes domain errors through and marks everything else as a store failure.
func storeError(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
