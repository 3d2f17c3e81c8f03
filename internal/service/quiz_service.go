package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/model"
	"github.com/stemsi/trivia-backend/internal/repository"
)

const (
	minAmount    = 1
	maxAmount    = 50
	minTimeLimit = 30
	maxTimeLimit = 3600

	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// QuestionProvider fetches a fresh question set.
type QuestionProvider interface {
	FetchQuestions(ctx context.Context, spec model.QuestionSpec) ([]model.QuizQuestion, error)
}

// CategoryCatalog lists categories and resolves category labels.
type CategoryCatalog interface {
	List(ctx context.Context) ([]model.Category, error)
	ResolveName(ctx context.Context, id int) (string, bool)
}

// StatsReader reads a user's aggregated quiz stats.
type StatsReader interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*model.UserQuizStats, error)
}

// QuizOptions tunes the lifecycle manager.
type QuizOptions struct {
	SessionTTL      time.Duration
	ProviderTimeout time.Duration
	// VerifySyncAnswers re-derives correctness of synced answers from the frozen
	// question set instead of trusting the client's flags.
	VerifySyncAnswers bool
}

// AnswerSubmission is a single answer sent by the client.
type AnswerSubmission struct {
	SessionID      uuid.UUID
	QuestionIndex  int
	QuestionID     string
	SelectedAnswer string
}

// AnswerOutcome is returned after an answer is recorded.
type AnswerOutcome struct {
	SessionID            uuid.UUID `json:"sessionId"`
	IsCorrect            bool      `json:"isCorrect"`
	CorrectAnswer        string    `json:"correctAnswer"`
	AnsweredQuestions    int       `json:"answeredQuestions"`
	CorrectAnswers       int       `json:"correctAnswers"`
	WrongAnswers         int       `json:"wrongAnswers"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// SyncSnapshot is a full client-side progress snapshot.
type SyncSnapshot struct {
	SessionID            uuid.UUID
	CurrentQuestionIndex int
	TimeRemaining        int
	UserAnswers          []model.UserAnswer
	ClientUpdatedAt      *time.Time
}

// SyncAck confirms a snapshot was stored.
type SyncAck struct {
	SessionID            uuid.UUID `json:"sessionId"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	AnsweredQuestions    int       `json:"answeredQuestions"`
	CorrectAnswers       int       `json:"correctAnswers"`
	WrongAnswers         int       `json:"wrongAnswers"`
	TimeRemaining        int       `json:"timeRemaining"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Completion finishes a session.
type Completion struct {
	SessionID     uuid.UUID
	Reason        model.CompletionReason
	TimeRemaining int
}

// HistoryPage is one page of a user's results.
type HistoryPage struct {
	Results []model.QuizResult `json:"results"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"hasMore"`
}

// QuizService manages the quiz session lifecycle.
type QuizService struct {
	store      repository.Store
	provider   QuestionProvider
	categories CategoryCatalog
	stats      StatsReader
	notifier   Notifier
	opts       QuizOptions
	log        zerolog.Logger
	now        func() time.Time
}

// NewQuizService creates a new QuizService. categories, stats and notifier may be nil.
func NewQuizService(
	store repository.Store,
	provider QuestionProvider,
	categories CategoryCatalog,
	stats StatsReader,
	notifier Notifier,
	opts QuizOptions,
	log zerolog.Logger,
) *QuizService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &QuizService{
		store:      store,
		provider:   provider,
		categories: categories,
		stats:      stats,
		notifier:   notifier,
		opts:       opts,
		log:        log.With().Str("component", "quiz_service").Logger(),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// tick returns a timestamp strictly after prev, so every mutation moves updatedAt forward.
func (s *QuizService) tick(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

// CreateSession fetches questions and opens a new session, superseding any active one.
func (s *QuizService) CreateSession(ctx context.Context, userID uuid.UUID, req model.StartQuizRequest) (*model.SessionView, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	spec := model.QuestionSpec{
		Amount:     req.Amount,
		CategoryID: req.CategoryID,
		Difficulty: req.Difficulty,
		Type:       req.Type,
	}

	fetchCtx := ctx
	if s.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.opts.ProviderTimeout)
		defer cancel()
	}
	questions, err := s.provider.FetchQuestions(fetchCtx, spec)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Question fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions returned", ErrProviderUnavailable)
	}

	now := s.now()
	sess := &model.QuizSession{
		ID:             uuid.New(),
		UserID:         userID,
		TotalQuestions: len(questions),
		CategoryID:     req.CategoryID,
		Difficulty:     optional(req.Difficulty),
		QuestionType:   optional(req.Type),
		TimeLimit:      req.TimeLimit,
		TimeRemaining:  req.TimeLimit,
		Questions:      questions,
		UserAnswers:    []model.UserAnswer{},
		Status:         model.SessionStatusInProgress,
		ExpiresAt:      now.Add(s.opts.SessionTTL),
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.CategoryID != nil && s.categories != nil {
		if name, ok := s.categories.ResolveName(ctx, *req.CategoryID); ok {
			sess.Category = &name
		}
	}

	var superseded int64
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		n, err := tx.AbandonActive(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("abandon active sessions: %w", err)
		}
		superseded = n
		if err := tx.InsertSession(ctx, sess); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("create session", err)
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("user_id", userID.String()).
		Int("questions", sess.TotalQuestions).
		Int64("superseded", superseded).
		Msg("Quiz session created")

	ev := model.EventFromSession(model.EventSessionCreated, sess)
	ev.SupersededSessions = superseded
	s.notifier.Publish(ctx, userID, ev)

	return &model.SessionView{
		ID:             sess.ID,
		Questions:      sess.Questions,
		TotalQuestions: sess.TotalQuestions,
		TimeLimit:      sess.TimeLimit,
		Category:       sess.Category,
		Difficulty:     sess.Difficulty,
		QuestionType:   sess.QuestionType,
		ExpiresAt:      sess.ExpiresAt,
	}, nil
}

// GetSession returns the full snapshot of a session owned by userID.
func (s *QuizService) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*model.QuizSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storeError("get session", err)
	}
	return sess, nil
}

// SubmitAnswer records one answer under the session's row lock.
func (s *QuizService) SubmitAnswer(ctx context.Context, userID uuid.UUID, in AnswerSubmission) (*AnswerOutcome, error) {
	var out AnswerOutcome
	var updated *model.QuizSession

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		sess, err := s.lockActive(ctx, tx, in.SessionID, userID)
		if err != nil {
			return err
		}
		if sess.HasAnswer(in.QuestionIndex) {
			return ErrAlreadyAnswered
		}
		if in.QuestionIndex < 0 || in.QuestionIndex >= sess.TotalQuestions {
			return ErrQuestionNotFound
		}
		q, ok := sess.FindQuestion(in.QuestionID)
		if !ok {
			return ErrQuestionNotFound
		}

		now := s.tick(sess.UpdatedAt)
		correct := in.SelectedAnswer == q.CorrectAnswer
		sess.UserAnswers = append(sess.UserAnswers, model.UserAnswer{
			QuestionIndex:  in.QuestionIndex,
			QuestionID:     q.ID,
			SelectedAnswer: in.SelectedAnswer,
			CorrectAnswer:  q.CorrectAnswer,
			IsCorrect:      correct,
			AnsweredAt:     now,
		})
		sess.AnsweredQuestions++
		if correct {
			sess.CorrectAnswers++
		} else {
			sess.WrongAnswers++
		}
		next := min(in.QuestionIndex+1, sess.TotalQuestions-1)
		sess.CurrentQuestionIndex = max(sess.CurrentQuestionIndex, next)
		sess.UpdatedAt = now

		if err := tx.UpdateProgress(ctx, sess); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		out = AnswerOutcome{
			SessionID:            sess.ID,
			IsCorrect:            correct,
			CorrectAnswer:        q.CorrectAnswer,
			AnsweredQuestions:    sess.AnsweredQuestions,
			CorrectAnswers:       sess.CorrectAnswers,
			WrongAnswers:         sess.WrongAnswers,
			CurrentQuestionIndex: sess.CurrentQuestionIndex,
			UpdatedAt:            sess.UpdatedAt,
		}
		updated = sess
		return nil
	})
	if err != nil {
		return nil, storeError("submit answer", err)
	}

	s.log.Debug().
		Str("session_id", in.SessionID.String()).
		Int("question_index", in.QuestionIndex).
		Bool("correct", out.IsCorrect).
		Msg("Answer recorded")
	s.notifier.Publish(ctx, userID, model.EventFromSession(model.EventAnswerRecorded, updated))

	return &out, nil
}

// SyncSession replaces the session's progress with a client snapshot.
func (s *QuizService) SyncSession(ctx context.Context, userID uuid.UUID, snap SyncSnapshot) (*SyncAck, error) {
	var updated *model.QuizSession

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		sess, err := s.lockActive(ctx, tx, snap.SessionID, userID)
		if err != nil {
			return err
		}
		if snap.ClientUpdatedAt != nil && snap.ClientUpdatedAt.Before(sess.UpdatedAt) {
			return &SyncConflictError{ServerUpdatedAt: sess.UpdatedAt}
		}

		now := s.tick(sess.UpdatedAt)
		answers, err := s.checkSnapshot(sess, snap.UserAnswers, now)
		if err != nil {
			return err
		}

		correct := 0
		for _, a := range answers {
			if a.IsCorrect {
				correct++
			}
		}
		sess.UserAnswers = answers
		sess.AnsweredQuestions = len(answers)
		sess.CorrectAnswers = correct
		sess.WrongAnswers = len(answers) - correct
		sess.TimeRemaining = max(0, min(snap.TimeRemaining, sess.TimeRemaining))
		sess.CurrentQuestionIndex = clampIndex(snap.CurrentQuestionIndex, sess.TotalQuestions)
		sess.UpdatedAt = now

		if err := tx.UpdateProgress(ctx, sess); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		updated = sess
		return nil
	})
	if err != nil {
		var conflict *SyncConflictError
		if errors.As(err, &conflict) {
			s.log.Debug().Str("session_id", snap.SessionID.String()).Msg("Rejected stale sync")
		}
		return nil, storeError("sync session", err)
	}

	s.notifier.Publish(ctx, userID, model.EventFromSession(model.EventSessionSynced, updated))

	return &SyncAck{
		SessionID:            updated.ID,
		CurrentQuestionIndex: updated.CurrentQuestionIndex,
		AnsweredQuestions:    updated.AnsweredQuestions,
		CorrectAnswers:       updated.CorrectAnswers,
		WrongAnswers:         updated.WrongAnswers,
		TimeRemaining:        updated.TimeRemaining,
		UpdatedAt:            updated.UpdatedAt,
	}, nil
}

// checkSnapshot validates the submitted answers and, in verify mode, recomputes
// correctness from the frozen questions.
func (s *QuizService) checkSnapshot(sess *model.QuizSession, answers []model.UserAnswer, now time.Time) ([]model.UserAnswer, error) {
	if len(answers) > sess.TotalQuestions {
		return nil, fmt.Errorf("%w: %d answers for %d questions", ErrInvalidSnapshot, len(answers), sess.TotalQuestions)
	}

	seen := make(map[int]bool, len(answers))
	out := make([]model.UserAnswer, 0, len(answers))
	for _, a := range answers {
		if a.QuestionIndex < 0 || a.QuestionIndex >= sess.TotalQuestions {
			return nil, fmt.Errorf("%w: question index %d out of range", ErrInvalidSnapshot, a.QuestionIndex)
		}
		if seen[a.QuestionIndex] {
			return nil, fmt.Errorf("%w: duplicate question index %d", ErrInvalidSnapshot, a.QuestionIndex)
		}
		seen[a.QuestionIndex] = true

		if s.opts.VerifySyncAnswers {
			q, ok := sess.FindQuestion(a.QuestionID)
			if !ok {
				return nil, fmt.Errorf("%w: unknown question %q", ErrInvalidSnapshot, a.QuestionID)
			}
			a.CorrectAnswer = q.CorrectAnswer
			a.IsCorrect = a.SelectedAnswer == q.CorrectAnswer
		}
		if a.AnsweredAt.IsZero() {
			a.AnsweredAt = now
		}
		out = append(out, a)
	}
	return out, nil
}

// CompleteSession moves a session to its terminal state and records the result.
func (s *QuizService) CompleteSession(ctx context.Context, userID uuid.UUID, c Completion) (*model.QuizResult, error) {
	switch c.Reason {
	case model.ReasonFinished, model.ReasonTimeout, model.ReasonAbandoned:
	default:
		return nil, ErrInvalidReason
	}

	var result *model.QuizResult
	var finished *model.QuizSession

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		sess, err := s.lockActive(ctx, tx, c.SessionID, userID)
		if err != nil {
			return err
		}

		now := s.tick(sess.UpdatedAt)
		final := max(0, min(c.TimeRemaining, sess.TimeRemaining))

		sess.Status = c.Reason.TerminalStatus()
		sess.TimeRemaining = final
		sess.CompletedAt = &now
		sess.UpdatedAt = now
		if err := tx.Finish(ctx, sess); err != nil {
			return fmt.Errorf("finish session: %w", err)
		}

		result = &model.QuizResult{
			ID:                uuid.New(),
			UserID:            userID,
			SessionID:         sess.ID,
			Category:          sess.Category,
			Difficulty:        sess.Difficulty,
			QuestionType:      sess.QuestionType,
			TotalQuestions:    sess.TotalQuestions,
			AnsweredQuestions: sess.AnsweredQuestions,
			CorrectAnswers:    sess.CorrectAnswers,
			WrongAnswers:      sess.WrongAnswers,
			SkippedQuestions:  sess.TotalQuestions - sess.AnsweredQuestions,
			TimeLimitSeconds:  sess.TimeLimit,
			TimeTakenSeconds:  sess.TimeLimit - final,
			ScorePercentage:   scorePercentage(sess.CorrectAnswers, sess.TotalQuestions),
			CompletionReason:  c.Reason,
			CompletedAt:       now,
			CreatedAt:         now,
		}
		if err := tx.InsertResult(ctx, result); err != nil {
			if errors.Is(err, repository.ErrDuplicateResult) {
				return ErrSessionInactive
			}
			return fmt.Errorf("insert result: %w", err)
		}
		finished = sess
		return nil
	})
	if err != nil {
		return nil, storeError("complete session", err)
	}

	s.log.Info().
		Str("session_id", finished.ID.String()).
		Str("status", string(finished.Status)).
		Int("score", result.ScorePercentage).
		Msg("Quiz session completed")

	ev := model.EventFromSession(model.EventSessionCompleted, finished)
	ev.ResultID = &result.ID
	s.notifier.Publish(ctx, userID, ev)
	s.notifier.EnqueueResult(ctx, result)

	return result, nil
}

// GetActiveSession returns the user's resumable session, or nil when there is none.
// An expired session found here is abandoned on the spot.
func (s *QuizService) GetActiveSession(ctx context.Context, userID uuid.UUID) (*model.ActiveSessionSummary, error) {
	sess, err := s.store.GetLatestActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError("get active session", err)
	}

	now := s.now()
	if now.After(sess.ExpiresAt) {
		at := s.tick(sess.UpdatedAt)
		ok, err := s.store.MarkAbandoned(ctx, sess.ID, at)
		if err != nil {
			return nil, storeError("abandon expired session", err)
		}
		if ok {
			s.log.Info().Str("session_id", sess.ID.String()).Msg("Expired session abandoned")
			sess.Status = model.SessionStatusAbandoned
			sess.UpdatedAt = at
			s.notifier.Publish(ctx, userID, model.EventFromSession(model.EventSessionExpired, sess))
		}
		return nil, nil
	}

	return &model.ActiveSessionSummary{
		ID:                   sess.ID,
		TotalQuestions:       sess.TotalQuestions,
		AnsweredQuestions:    sess.AnsweredQuestions,
		CurrentQuestionIndex: sess.CurrentQuestionIndex,
		TimeRemaining:        sess.TimeRemaining,
		Category:             sess.Category,
		Difficulty:           sess.Difficulty,
		ExpiresAt:            sess.ExpiresAt,
	}, nil
}

// History returns a page of the user's results, newest first.
func (s *QuizService) History(ctx context.Context, userID uuid.UUID, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	offset = max(offset, 0)

	results, total, err := s.store.ListResults(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeError("list results", err)
	}
	if results == nil {
		results = []model.QuizResult{}
	}
	return &HistoryPage{
		Results: results,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(results) < total,
	}, nil
}

// GetResult returns a result with the questions and answers of its session.
func (s *QuizService) GetResult(ctx context.Context, userID, resultID uuid.UUID) (*model.ResultDetail, error) {
	result, err := s.store.GetResult(ctx, resultID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, storeError("get result", err)
	}

	detail := &model.ResultDetail{Result: result}
	sess, err := s.store.GetSession(ctx, result.SessionID, userID)
	switch {
	case err == nil:
		detail.Session = &model.ResultSnapshot{Questions: sess.Questions, UserAnswers: sess.UserAnswers}
	case errors.Is(err, repository.ErrNotFound):
		s.log.Warn().Str("result_id", resultID.String()).Msg("Result has no session")
	default:
		return nil, storeError("get result session", err)
	}
	return detail, nil
}

// Categories lists the provider's categories.
func (s *QuizService) Categories(ctx context.Context) ([]model.Category, error) {
	if s.categories == nil {
		return []model.Category{}, nil
	}
	cats, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return cats, nil
}

// Stats returns the user's aggregated stats, zero-valued when none are recorded.
func (s *QuizService) Stats(ctx context.Context, userID uuid.UUID) (*model.UserQuizStats, error) {
	if s.stats == nil {
		return &model.UserQuizStats{UserID: userID}, nil
	}
	st, err := s.stats.GetByUser(ctx, userID)
	if err != nil {
		return nil, storeError("get stats", err)
	}
	return st, nil
}

// lockActive loads a session under its row lock and checks it can still change.
func (s *QuizService) lockActive(ctx context.Context, tx repository.Tx, sessionID, userID uuid.UUID) (*model.QuizSession, error) {
	sess, err := tx.GetSessionForUpdate(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if sess.Status.IsTerminal() {
		return nil, ErrSessionInactive
	}
	return sess, nil
}

func validateStart(req model.StartQuizRequest) error {
	if req.Amount < minAmount || req.Amount > maxAmount {
		return fmt.Errorf("%w: amount must be between %d and %d", ErrInvalidSpec, minAmount, maxAmount)
	}
	if req.TimeLimit < minTimeLimit || req.TimeLimit > maxTimeLimit {
		return fmt.Errorf("%w: time limit must be between %d and %d seconds", ErrInvalidSpec, minTimeLimit, maxTimeLimit)
	}
	if req.CategoryID != nil && *req.CategoryID <= 0 {
		return fmt.Errorf("%w: category id must be positive", ErrInvalidSpec)
	}
	switch req.Difficulty {
	case "", model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard:
	default:
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidSpec, req.Difficulty)
	}
	switch req.Type {
	case "", model.QuestionTypeMultiple, model.QuestionTypeBoolean:
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidSpec, req.Type)
	}
	return nil
}

func scorePercentage(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

func clampIndex(idx, total int) int {
	if total <= 0 {
		return 0
	}
	return min(max(idx, 0), total-1)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
