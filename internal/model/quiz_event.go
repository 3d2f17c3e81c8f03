package model

import (
	"time"

	"github.com/google/uuid"
)

// Session event types published on a user's event channel.
const (
	EventSessionCreated   = "session.created"
	EventAnswerRecorded   = "answer.recorded"
	EventSessionSynced    = "session.synced"
	EventSessionCompleted = "session.completed"
	EventSessionExpired   = "session.expired"
)

// SessionEvent describes a committed change to one of a user's sessions.
type SessionEvent struct {
	Type                 string        `json:"type"`
	SessionID            uuid.UUID     `json:"sessionId"`
	Status               SessionStatus `json:"status"`
	AnsweredQuestions    int           `json:"answeredQuestions"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	TimeRemaining        int           `json:"timeRemaining"`
	SupersededSessions   int64         `json:"supersededSessions,omitempty"`
	ResultID             *uuid.UUID    `json:"resultId,omitempty"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// EventFromSession fills the common event fields from a session snapshot.
func EventFromSession(eventType string, s *QuizSession) SessionEvent {
	return SessionEvent{
		Type:                 eventType,
		SessionID:            s.ID,
		Status:               s.Status,
		AnsweredQuestions:    s.AnsweredQuestions,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TimeRemaining:        s.TimeRemaining,
		UpdatedAt:            s.UpdatedAt,
	}
}
