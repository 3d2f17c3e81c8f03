package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stemsi/trivia-backend/internal/model"
	ws "github.com/stemsi/trivia-backend/internal/websocket"
)

type frame struct {
	Event     ws.Event        `json:"event"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/quiz/events?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until one with the wanted event arrives.
func next(t *testing.T, conn *websocket.Conn, want ws.Event) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if f.Event == want {
			return f
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/quiz/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWebSocketStreamsEventsAndActions(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	tok := s.token(t, uuid.New())
	tab1 := dial(t, srv, tok)
	tab2 := dial(t, srv, tok)

	// Round trip on each tab proves its subscription is live.
	for _, conn := range []*websocket.Conn{tab1, tab2} {
		if err := conn.WriteJSON(gin.H{"action": "ping", "requestId": "p1"}); err != nil {
			t.Fatalf("ping: %v", err)
		}
		if f := next(t, conn, ws.EventPong); f.RequestID != "p1" {
			t.Fatalf("pong request id = %q", f.RequestID)
		}
	}

	view := s.start(t, tok, 2)
	for _, conn := range []*websocket.Conn{tab1, tab2} {
		var ev model.SessionEvent
		if err := json.Unmarshal(next(t, conn, ws.EventSession).Data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != model.EventSessionCreated || ev.SessionID != view.ID {
			t.Fatalf("event = %+v", ev)
		}
	}

	err := tab1.WriteJSON(gin.H{
		"action":    "answer",
		"requestId": "a1",
		"payload":   gin.H{"sessionId": view.ID, "questionIndex": 0, "questionId": "q0", "selectedAnswer": "True"},
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	res := next(t, tab1, ws.EventAnswerResult)
	var outcome struct {
		IsCorrect         bool `json:"isCorrect"`
		AnsweredQuestions int  `json:"answeredQuestions"`
	}
	if err := json.Unmarshal(res.Data, &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if res.RequestID != "a1" || !outcome.IsCorrect || outcome.AnsweredQuestions != 1 {
		t.Fatalf("answer result = %s %+v", res.RequestID, outcome)
	}

	// The other tab learns about the answer through the event stream.
	var ev model.SessionEvent
	if err := json.Unmarshal(next(t, tab2, ws.EventSession).Data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != model.EventAnswerRecorded || ev.AnsweredQuestions != 1 {
		t.Fatalf("tab2 event = %+v", ev)
	}

	// Same answer again is rejected with the API error code.
	_ = tab1.WriteJSON(gin.H{
		"action":    "answer",
		"requestId": "a2",
		"payload":   gin.H{"sessionId": view.ID, "questionIndex": 0, "questionId": "q0", "selectedAnswer": "False"},
	})
	errFrame := next(t, tab1, ws.EventError)
	var body ws.ErrorResponse
	if err := json.Unmarshal(errFrame.Data, &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errFrame.RequestID != "a2" || body.Code != "ALREADY_ANSWERED" {
		t.Fatalf("error frame = %s %+v", errFrame.RequestID, body)
	}

	_ = tab1.WriteJSON(gin.H{
		"action":    "sync",
		"requestId": "s1",
		"payload": gin.H{
			"sessionId":            view.ID,
			"currentQuestionIndex": 1,
			"timeRemaining":        120,
			"userAnswers":          []gin.H{{"questionIndex": 0, "questionId": "q0", "selectedAnswer": "True"}},
		},
	})
	ack := next(t, tab1, ws.EventSyncAck)
	var syncAck struct {
		TimeRemaining  int `json:"timeRemaining"`
		CorrectAnswers int `json:"correctAnswers"`
	}
	if err := json.Unmarshal(ack.Data, &syncAck); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if syncAck.TimeRemaining != 120 || syncAck.CorrectAnswers != 1 {
		t.Fatalf("sync ack = %+v", syncAck)
	}

	_ = tab1.WriteJSON(gin.H{"action": "sync", "requestId": "s2", "payload": gin.H{"sessionId": "nope"}})
	errFrame = next(t, tab1, ws.EventError)
	body = ws.ErrorResponse{}
	_ = json.Unmarshal(errFrame.Data, &body)
	if body.Code != "VALIDATION_ERROR" || body.Fields["sessionId"] == "" {
		t.Fatalf("validation frame = %+v", body)
	}

	_ = tab1.WriteJSON(gin.H{"action": "dance"})
	errFrame = next(t, tab1, ws.EventError)
	body = ws.ErrorResponse{}
	_ = json.Unmarshal(errFrame.Data, &body)
	if body.Code != "INVALID_PAYLOAD" {
		t.Fatalf("unknown action frame = %+v", body)
	}
}
