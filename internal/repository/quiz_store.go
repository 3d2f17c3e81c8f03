package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/trivia-backend/internal/model"
)

const sessionColumns = `id, user_id, total_questions, category, category_id, difficulty, question_type,
	current_question_index, answered_questions, correct_answers, wrong_answers,
	time_limit, time_remaining, questions, user_answers, status,
	expires_at, started_at, completed_at, created_at, updated_at`

const resultColumns = `id, user_id, session_id, category, difficulty, question_type,
	total_questions, answered_questions, correct_answers, wrong_answers, skipped_questions,
	time_limit_seconds, time_taken_seconds, score_percentage, completion_reason,
	completed_at, created_at`

// PostgresStore implements Store on top of a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// WithTx runs fn inside a read-committed transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// GetSession retrieves a session owned by userID.
func (s *PostgresStore) GetSession(ctx context.Context, id, userID uuid.UUID) (*model.QuizSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	return scanSession(row)
}

// GetLatestActive returns the most recently created in_progress session.
func (s *PostgresStore) GetLatestActive(ctx context.Context, userID uuid.UUID) (*model.QuizSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT 1`, userID, model.SessionStatusInProgress)
	return scanSession(row)
}

// MarkAbandoned abandons a session only if it is still in_progress.
func (s *PostgresStore) MarkAbandoned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_sessions SET status = $1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		model.SessionStatusAbandoned, at, id, model.SessionStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AbandonExpired abandons every in_progress session past its expiry.
func (s *PostgresStore) AbandonExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_sessions SET status = $1, updated_at = $2
		 WHERE status = $3 AND expires_at < $2`,
		model.SessionStatusAbandoned, now, model.SessionStatusInProgress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListResults returns a page of results, newest completion first, and the total count.
func (s *PostgresStore) ListResults(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.QuizResult, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM quiz_results WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM quiz_results
		 WHERE user_id = $1
		 ORDER BY completed_at DESC, id
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := make([]model.QuizResult, 0, limit)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, *r)
	}
	return results, total, rows.Err()
}

// GetResult retrieves a result owned by userID.
func (s *PostgresStore) GetResult(ctx context.Context, id, userID uuid.UUID) (*model.QuizResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM quiz_results WHERE id = $1 AND user_id = $2`, id, userID)
	return scanResult(row)
}

// pgTx implements Tx for one open transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockUser(ctx context.Context, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String())
	return err
}

func (t *pgTx) AbandonActive(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE quiz_sessions SET status = $1, updated_at = $2
		 WHERE user_id = $3 AND status = $4`,
		model.SessionStatusAbandoned, at, userID, model.SessionStatusInProgress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertSession(ctx context.Context, s *model.QuizSession) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO quiz_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		s.ID, s.UserID, s.TotalQuestions, s.Category, s.CategoryID, s.Difficulty, s.QuestionType,
		s.CurrentQuestionIndex, s.AnsweredQuestions, s.CorrectAnswers, s.WrongAnswers,
		s.TimeLimit, s.TimeRemaining, s.Questions, s.UserAnswers, s.Status,
		s.ExpiresAt, s.StartedAt, s.CompletedAt, s.CreatedAt, s.UpdatedAt)
	return err
}

func (t *pgTx) GetSessionForUpdate(ctx context.Context, id, userID uuid.UUID) (*model.QuizSession, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID)
	return scanSession(row)
}

func (t *pgTx) UpdateProgress(ctx context.Context, s *model.QuizSession) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE quiz_sessions
		 SET current_question_index = $1, answered_questions = $2, correct_answers = $3,
		     wrong_answers = $4, time_remaining = $5, user_answers = $6, updated_at = $7
		 WHERE id = $8`,
		s.CurrentQuestionIndex, s.AnsweredQuestions, s.CorrectAnswers,
		s.WrongAnswers, s.TimeRemaining, s.UserAnswers, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) Finish(ctx context.Context, s *model.QuizSession) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE quiz_sessions
		 SET status = $1, completed_at = $2, time_remaining = $3, updated_at = $4
		 WHERE id = $5`,
		s.Status, s.CompletedAt, s.TimeRemaining, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertResult(ctx context.Context, r *model.QuizResult) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO quiz_results (`+resultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.ID, r.UserID, r.SessionID, r.Category, r.Difficulty, r.QuestionType,
		r.TotalQuestions, r.AnsweredQuestions, r.CorrectAnswers, r.WrongAnswers, r.SkippedQuestions,
		r.TimeLimitSeconds, r.TimeTakenSeconds, r.ScorePercentage, r.CompletionReason,
		r.CompletedAt, r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateResult
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*model.QuizSession, error) {
	s := &model.QuizSession{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.TotalQuestions, &s.Category, &s.CategoryID, &s.Difficulty, &s.QuestionType,
		&s.CurrentQuestionIndex, &s.AnsweredQuestions, &s.CorrectAnswers, &s.WrongAnswers,
		&s.TimeLimit, &s.TimeRemaining, &s.Questions, &s.UserAnswers, &s.Status,
		&s.ExpiresAt, &s.StartedAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.UserAnswers == nil {
		s.UserAnswers = []model.UserAnswer{}
	}
	return s, nil
}

func scanResult(row pgx.Row) (*model.QuizResult, error) {
	r := &model.QuizResult{}
	err := row.Scan(
		&r.ID, &r.UserID, &r.SessionID, &r.Category, &r.Difficulty, &r.QuestionType,
		&r.TotalQuestions, &r.AnsweredQuestions, &r.CorrectAnswers, &r.WrongAnswers, &r.SkippedQuestions,
		&r.TimeLimitSeconds, &r.TimeTakenSeconds, &r.ScorePercentage, &r.CompletionReason,
		&r.CompletedAt, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
