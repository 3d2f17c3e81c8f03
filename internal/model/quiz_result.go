package model

import (
	"time"

	"github.com/google/uuid"
)

// QuizResult is the immutable summary written when a session reaches a terminal state.
type QuizResult struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	SessionID uuid.UUID `json:"sessionId"`

	Category     *string `json:"category"`
	Difficulty   *string `json:"difficulty"`
	QuestionType *string `json:"questionType"`

	TotalQuestions    int `json:"totalQuestions"`
	AnsweredQuestions int `json:"answeredQuestions"`
	CorrectAnswers    int `json:"correctAnswers"`
	WrongAnswers      int `json:"wrongAnswers"`
	SkippedQuestions  int `json:"skippedQuestions"`

	TimeLimitSeconds int              `json:"timeLimitSeconds"`
	TimeTakenSeconds int              `json:"timeTakenSeconds"`
	ScorePercentage  int              `json:"scorePercentage"`
	CompletionReason CompletionReason `json:"completionReason"`
	CompletedAt      time.Time        `json:"completedAt"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// ResultDetail pairs a result with the content of the session that produced it.
type ResultDetail struct {
	Result  *QuizResult     `json:"result"`
	Session *ResultSnapshot `json:"session"`
}

// ResultSnapshot is the part of a finished session shown alongside its result.
type ResultSnapshot struct {
	Questions   []QuizQuestion `json:"questions"`
	UserAnswers []UserAnswer   `json:"userAnswers"`
}

// UserQuizStats aggregates a user's completed quizzes.
type UserQuizStats struct {
	UserID           uuid.UUID  `json:"userId"`
	QuizzesCompleted int        `json:"quizzesCompleted"`
	TotalQuestions   int        `json:"totalQuestions"`
	TotalCorrect     int        `json:"totalCorrect"`
	BestScore        int        `json:"bestScore"`
	LastCompletedAt  *time.Time `json:"lastCompletedAt"`
}

// StatsDelta is one user's contribution to be folded into UserQuizStats.
type StatsDelta struct {
	UserID          uuid.UUID
	Quizzes         int
	TotalQuestions  int
	TotalCorrect    int
	BestScore       int
	LastCompletedAt time.Time
}
