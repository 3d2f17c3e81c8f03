// Package memory provides an in-process repository.Store with the same locking
// semantics as the PostgreSQL implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/trivia-backend/internal/model"
	"github.com/stemsi/trivia-backend/internal/repository"
)

// Store is an in-memory implementation of repository.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.QuizSession
	results  map[uuid.UUID]*model.QuizResult
	locks    *keyedLocks

	// Fault, when set, is consulted before every transactional write. A non-nil
	// return aborts the operation with that error.
	Fault func(op string) error
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*model.QuizSession),
		results:  make(map[uuid.UUID]*model.QuizResult),
		locks:    newKeyedLocks(),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx := &memTx{
		store:    s,
		held:     make(map[string]bool),
		sessions: make(map[uuid.UUID]*model.QuizSession),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetSession(ctx context.Context, id, userID uuid.UUID) (*model.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) GetLatestActive(ctx context.Context, userID uuid.UUID) (*model.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.QuizSession
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Status != model.SessionStatusInProgress {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *Store) MarkAbandoned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	key := sessionKey(id)
	if err := s.locks.acquire(ctx, key); err != nil {
		return false, err
	}
	defer s.locks.release(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.SessionStatusInProgress {
		return false, nil
	}
	sess.Status = model.SessionStatusAbandoned
	sess.UpdatedAt = at
	return true, nil
}

func (s *Store) AbandonExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.RLock()
	var candidates []uuid.UUID
	for id, sess := range s.sessions {
		if sess.Status == model.SessionStatusInProgress && sess.ExpiresAt.Before(now) {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	var n int64
	for _, id := range candidates {
		s.mu.RLock()
		expired := s.sessions[id].ExpiresAt.Before(now)
		s.mu.RUnlock()
		if !expired {
			continue
		}
		ok, err := s.MarkAbandoned(ctx, id, now)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListResults(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.QuizResult, int, error) {
	s.mu.RLock()
	var all []model.QuizResult
	for _, r := range s.results {
		if r.UserID == userID {
			all = append(all, *r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CompletedAt.Equal(all[j].CompletedAt) {
			return all[i].CompletedAt.After(all[j].CompletedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	if offset >= total {
		return []model.QuizResult{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (s *Store) GetResult(ctx context.Context, id, userID uuid.UUID) (*model.QuizResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok || r.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// memTx stages writes and applies them at commit. Locks taken during the
// transaction are held until it ends, like row and advisory locks in PostgreSQL.
type memTx struct {
	store    *Store
	held     map[string]bool
	sessions map[uuid.UUID]*model.QuizSession
	results  []*model.QuizResult
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	return nil
}

func (t *memTx) releaseAll() {
	for key := range t.held {
		t.store.locks.release(key)
	}
	t.held = nil
}

func (t *memTx) fault(op string) error {
	if t.store.Fault == nil {
		return nil
	}
	return t.store.Fault(op)
}

// current returns the transaction's view of a session, staged writes first.
func (t *memTx) current(id uuid.UUID) (*model.QuizSession, bool) {
	if sess, ok := t.sessions[id]; ok {
		return sess, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	sess, ok := t.store.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, sess := range t.sessions {
		t.store.sessions[id] = sess
	}
	for _, r := range t.results {
		t.store.results[r.ID] = r
	}
}

func (t *memTx) LockUser(ctx context.Context, userID uuid.UUID) error {
	return t.lock(ctx, "user:"+userID.String())
}

func (t *memTx) AbandonActive(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	if err := t.fault("abandon_active"); err != nil {
		return 0, err
	}

	t.store.mu.RLock()
	var ids []uuid.UUID
	for id, sess := range t.store.sessions {
		if sess.UserID == userID {
			ids = append(ids, id)
		}
	}
	t.store.mu.RUnlock()
	for id, sess := range t.sessions {
		if sess.UserID == userID {
			ids = append(ids, id)
		}
	}

	var n int64
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := t.lock(ctx, sessionKey(id)); err != nil {
			return n, err
		}
		sess, ok := t.current(id)
		if !ok || sess.Status != model.SessionStatusInProgress {
			continue
		}
		sess.Status = model.SessionStatusAbandoned
		sess.UpdatedAt = at
		t.sessions[id] = sess
		n++
	}
	return n, nil
}

func (t *memTx) InsertSession(ctx context.Context, s *model.QuizSession) error {
	if err := t.fault("insert_session"); err != nil {
		return err
	}
	if _, exists := t.current(s.ID); exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	if err := t.lock(ctx, sessionKey(s.ID)); err != nil {
		return err
	}
	t.sessions[s.ID] = s.Clone()
	return nil
}

func (t *memTx) GetSessionForUpdate(ctx context.Context, id, userID uuid.UUID) (*model.QuizSession, error) {
	t.store.mu.RLock()
	committed, ok := t.store.sessions[id]
	owned := ok && committed.UserID == userID
	t.store.mu.RUnlock()
	if _, staged := t.sessions[id]; !owned && !staged {
		return nil, repository.ErrNotFound
	}

	if err := t.lock(ctx, sessionKey(id)); err != nil {
		return nil, err
	}
	sess, ok := t.current(id)
	if !ok || sess.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return sess.Clone(), nil
}

func (t *memTx) UpdateProgress(ctx context.Context, s *model.QuizSession) error {
	if err := t.fault("update_progress"); err != nil {
		return err
	}
	cur, ok := t.current(s.ID)
	if !ok {
		return repository.ErrNotFound
	}
	cur.CurrentQuestionIndex = s.CurrentQuestionIndex
	cur.AnsweredQuestions = s.AnsweredQuestions
	cur.CorrectAnswers = s.CorrectAnswers
	cur.WrongAnswers = s.WrongAnswers
	cur.TimeRemaining = s.TimeRemaining
	cur.UserAnswers = append([]model.UserAnswer(nil), s.UserAnswers...)
	cur.UpdatedAt = s.UpdatedAt
	t.sessions[s.ID] = cur
	return nil
}

func (t *memTx) Finish(ctx context.Context, s *model.QuizSession) error {
	if err := t.fault("finish"); err != nil {
		return err
	}
	cur, ok := t.current(s.ID)
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = s.Status
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		cur.CompletedAt = &at
	}
	cur.TimeRemaining = s.TimeRemaining
	cur.UpdatedAt = s.UpdatedAt
	t.sessions[s.ID] = cur
	return nil
}

func (t *memTx) InsertResult(ctx context.Context, r *model.QuizResult) error {
	if err := t.fault("insert_result"); err != nil {
		return err
	}
	for _, staged := range t.results {
		if staged.SessionID == r.SessionID {
			return repository.ErrDuplicateResult
		}
	}
	t.store.mu.RLock()
	for _, existing := range t.store.results {
		if existing.SessionID == r.SessionID {
			t.store.mu.RUnlock()
			return repository.ErrDuplicateResult
		}
	}
	t.store.mu.RUnlock()

	cp := *r
	t.results = append(t.results, &cp)
	return nil
}

func sessionKey(id uuid.UUID) string {
	return "session:" + id.String()
}

// keyedLocks is a set of context-aware mutexes addressed by string key.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]chan struct{})}
}

func (k *keyedLocks) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

func (k *keyedLocks) acquire(ctx context.Context, key string) error {
	select {
	case k.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *keyedLocks) release(key string) {
	<-k.slot(key)
}
