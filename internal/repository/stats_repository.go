package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/trivia-backend/internal/model"
)

// StatsRepository maintains the per-user aggregate table.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// ApplyDeltas folds a batch of per-user deltas into user_quiz_stats in one statement.
func (r *StatsRepository) ApplyDeltas(ctx context.Context, deltas []model.StatsDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	userIDs := make([]uuid.UUID, len(deltas))
	quizzes := make([]int32, len(deltas))
	questions := make([]int32, len(deltas))
	correct := make([]int32, len(deltas))
	best := make([]int32, len(deltas))
	last := make([]time.Time, len(deltas))
	for i, d := range deltas {
		userIDs[i] = d.UserID
		quizzes[i] = int32(d.Quizzes)
		questions[i] = int32(d.TotalQuestions)
		correct[i] = int32(d.TotalCorrect)
		best[i] = int32(d.BestScore)
		last[i] = d.LastCompletedAt
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_quiz_stats AS s
			(user_id, quizzes_completed, total_questions, total_correct, best_score, last_completed_at, updated_at)
		SELECT u.user_id, u.quizzes, u.questions, u.correct, u.best, u.last, NOW()
		FROM UNNEST($1::uuid[], $2::int[], $3::int[], $4::int[], $5::int[], $6::timestamptz[])
			AS u(user_id, quizzes, questions, correct, best, last)
		ON CONFLICT (user_id) DO UPDATE SET
			quizzes_completed = s.quizzes_completed + EXCLUDED.quizzes_completed,
			total_questions   = s.total_questions + EXCLUDED.total_questions,
			total_correct     = s.total_correct + EXCLUDED.total_correct,
			best_score        = GREATEST(s.best_score, EXCLUDED.best_score),
			last_completed_at = GREATEST(s.last_completed_at, EXCLUDED.last_completed_at),
			updated_at        = NOW()`,
		userIDs, quizzes, questions, correct, best, last)
	return err
}

// GetByUser returns the stats row for a user, zero-valued when none exists yet.
func (r *StatsRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*model.UserQuizStats, error) {
	st := &model.UserQuizStats{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT quizzes_completed, total_questions, total_correct, best_score, last_completed_at
		 FROM user_quiz_stats WHERE user_id = $1`, userID,
	).Scan(&st.QuizzesCompleted, &st.TotalQuestions, &st.TotalCorrect, &st.BestScore, &st.LastCompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
