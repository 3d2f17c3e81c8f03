package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates quiz session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusTimeout    SessionStatus = "timeout"
	SessionStatusAbandoned  SessionStatus = "abandoned"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusInProgress
}

// CompletionReason is the client-reported reason for finishing a session.
type CompletionReason string

const (
	ReasonFinished  CompletionReason = "finished"
	ReasonTimeout   CompletionReason = "timeout"
	ReasonAbandoned CompletionReason = "abandoned"
)

// TerminalStatus maps a completion reason to the status the session ends in.
func (r CompletionReason) TerminalStatus() SessionStatus {
	switch r {
	case ReasonTimeout:
		return SessionStatusTimeout
	case ReasonAbandoned:
		return SessionStatusAbandoned
	default:
		return SessionStatusCompleted
	}
}

// UserAnswer is one recorded answer inside a session.
type UserAnswer struct {
	QuestionIndex  int       `json:"questionIndex" binding:"min=0"`
	QuestionID     string    `json:"questionId" binding:"required"`
	SelectedAnswer string    `json:"selectedAnswer"`
	CorrectAnswer  string    `json:"correctAnswer"`
	IsCorrect      bool      `json:"isCorrect"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// QuizSession is a user's quiz attempt with its frozen question set.
type QuizSession struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"userId"`

	TotalQuestions int     `json:"totalQuestions"`
	Category       *string `json:"category"`
	CategoryID     *int    `json:"categoryId"`
	Difficulty     *string `json:"difficulty"`
	QuestionType   *string `json:"questionType"`

	CurrentQuestionIndex int `json:"currentQuestionIndex"`
	AnsweredQuestions    int `json:"answeredQuestions"`
	CorrectAnswers       int `json:"correctAnswers"`
	WrongAnswers         int `json:"wrongAnswers"`

	TimeLimit     int `json:"timeLimit"`
	TimeRemaining int `json:"timeRemaining"`

	Questions   []QuizQuestion `json:"questions"`
	UserAnswers []UserAnswer   `json:"userAnswers"`

	Status      SessionStatus `json:"status"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// HasAnswer reports whether the question at index was already answered.
func (s *QuizSession) HasAnswer(index int) bool {
	for _, a := range s.UserAnswers {
		if a.QuestionIndex == index {
			return true
		}
	}
	return false
}

// FindQuestion looks up a frozen question by id.
func (s *QuizSession) FindQuestion(id string) (*QuizQuestion, bool) {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy; callers may mutate it freely.
func (s *QuizSession) Clone() *QuizSession {
	c := *s
	c.Questions = make([]QuizQuestion, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]string(nil), q.Options...)
		c.Questions[i] = q
	}
	c.UserAnswers = append([]UserAnswer(nil), s.UserAnswers...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SessionView is what the client receives right after starting a quiz.
type SessionView struct {
	ID             uuid.UUID      `json:"id"`
	Questions      []QuizQuestion `json:"questions"`
	TotalQuestions int            `json:"totalQuestions"`
	TimeLimit      int            `json:"timeLimit"`
	Category       *string        `json:"category"`
	Difficulty     *string        `json:"difficulty"`
	QuestionType   *string        `json:"questionType"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

// ActiveSessionSummary is returned by the resume lookup.
type ActiveSessionSummary struct {
	ID                   uuid.UUID `json:"id"`
	TotalQuestions       int       `json:"totalQuestions"`
	AnsweredQuestions    int       `json:"answeredQuestions"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	TimeRemaining        int       `json:"timeRemaining"`
	Category             *string   `json:"category"`
	Difficulty           *string   `json:"difficulty"`
	ExpiresAt            time.Time `json:"expiresAt"`
}

// ─── Requests ───────────────────────────────────────────────────────

// StartQuizRequest is the payload for starting a new quiz.
type StartQuizRequest struct {
	Amount     int    `json:"amount" binding:"required,min=1,max=50"`
	CategoryID *int   `json:"categoryId" binding:"omitempty,min=1"`
	Difficulty string `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	Type       string `json:"type" binding:"omitempty,oneof=multiple boolean"`
	TimeLimit  int    `json:"timeLimit" binding:"required,min=30,max=3600"`
}

// SubmitAnswerRequest is the payload for answering a single question.
type SubmitAnswerRequest struct {
	SessionID      string `json:"sessionId" binding:"required,uuid"`
	QuestionIndex  *int   `json:"questionIndex" binding:"required,min=0"`
	QuestionID     string `json:"questionId" binding:"required"`
	SelectedAnswer string `json:"selectedAnswer"`
}

// SyncSessionRequest carries a full client progress snapshot.
type SyncSessionRequest struct {
	SessionID            string       `json:"sessionId" binding:"required,uuid"`
	CurrentQuestionIndex int          `json:"currentQuestionIndex" binding:"min=0"`
	TimeRemaining        int          `json:"timeRemaining" binding:"min=0"`
	UserAnswers          []UserAnswer `json:"userAnswers" binding:"dive"`
	ClientUpdatedAt      *time.Time   `json:"clientUpdatedAt"`
}

// CompleteQuizRequest finishes a session.
type CompleteQuizRequest struct {
	SessionID     string           `json:"sessionId" binding:"required,uuid"`
	Reason        CompletionReason `json:"reason" binding:"required,oneof=finished timeout abandoned"`
	TimeRemaining int              `json:"timeRemaining" binding:"min=0"`
}

// HistoryQuery holds paging parameters for the result history.
type HistoryQuery struct {
	Limit  int `form:"limit,default=10" binding:"min=1,max=50"`
	Offset int `form:"offset,default=0" binding:"min=0"`
}
