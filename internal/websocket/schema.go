package websocket

import (
	"encoding/json"
	"time"

	"github.com/stemsi/trivia-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing   Action = "ping"
	ActionAnswer Action = "answer"
	ActionSync   Action = "sync"
)

// RequestEnvelope is used to peek at the action before full parsing.
// RequestID is echoed back on the reply.
type RequestEnvelope struct {
	Action    Action          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AnswerRequest records a single answer, same shape as POST /quiz/answer.
type AnswerRequest = model.SubmitAnswerRequest

// SyncRequest stores a progress snapshot, same shape as PATCH /quiz/sync.
type SyncRequest = model.SyncSessionRequest

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventPong         Event = "pong"
	EventError        Event = "error"
	EventAnswerResult Event = "answer_result"
	EventSyncAck      Event = "sync_ack"
	EventSession      Event = "session_event"
)

// Message is every server frame.
type Message struct {
	Event     Event       `json:"event"`
	RequestID string      `json:"requestId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// ErrorResponse carries an API error code, matching the HTTP envelope codes.
type ErrorResponse struct {
	Code            string            `json:"code"`
	Message         string            `json:"message"`
	Fields          map[string]string `json:"fields,omitempty"`
	ServerUpdatedAt *time.Time        `json:"serverUpdatedAt,omitempty"`
}
