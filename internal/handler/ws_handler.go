package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/middleware"
	"github.com/stemsi/trivia-backend/internal/response"
	"github.com/stemsi/trivia-backend/internal/service"
	"github.com/stemsi/trivia-backend/internal/validator"
	ws "github.com/stemsi/trivia-backend/internal/websocket"
)

const wsOutboxSize = 16

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a user's session events and accepts answers and syncs
// over the same connection.
type WSHandler struct {
	rdb            *redis.Client
	quizService    *service.QuizService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	requestTimeout time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, quizService *service.QuizService, log zerolog.Logger, allowedOrigins []string, requestTimeout time.Duration) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		quizService:    quizService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		requestTimeout: requestTimeout,
	}
}

// QuizEvents godoc
// WS /ws/v1/quiz/events?token=...
// Every open tab of a user receives that user's session events.
func (h *WSHandler) QuizEvents(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("user_id", userID.String()).Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := h.rdb.Subscribe(ctx, config.CacheKey.UserQuizEventsChannel(userID.String()))
	defer sub.Close()
	// Wait for the subscription confirmation so no event published after the
	// handshake is missed.
	if _, err := sub.Receive(ctx); err != nil {
		wsLog.Error().Err(err).Msg("Subscribe failed")
		_ = ws.WriteError(conn, "", errorBody(err))
		return
	}

	wsLog.Info().Msg("User connected")

	out := make(chan ws.Message, wsOutboxSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, conn, out, sub.Channel(), wsLog)
		cancel()
	}()

	h.readLoop(ctx, conn, userID, out, wsLog)
	cancel()
	<-done
	wsLog.Debug().Msg("Connection closed")
}

// writeLoop owns all writes to conn.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan ws.Message, events <-chan *redis.Message, log zerolog.Logger) {
	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(ws.WriteWait))
			return
		case msg := <-out:
			err = ws.WriteTyped(conn, msg)
		case ev, ok := <-events:
			if !ok {
				return
			}
			err = ws.WriteEvent(conn, ws.EventSession, "", json.RawMessage(ev.Payload))
		case <-ticker.C:
			err = ws.WritePing(conn)
		}
		if err != nil {
			log.Debug().Err(err).Msg("Write failed")
			// Unblocks the reader.
			_ = conn.Close()
			return
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, userID uuid.UUID, out chan<- ws.Message, log zerolog.Logger) {
	ws.PrepareRead(conn)

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		var reply ws.Message
		switch msg.Action {
		case ws.ActionPing:
			reply = ws.Message{Event: ws.EventPong}
		case ws.ActionAnswer:
			reply = h.handleAnswer(ctx, userID, msg.Payload)
		case ws.ActionSync:
			reply = h.handleSync(ctx, userID, msg.Payload)
		default:
			log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			reply = ws.Message{Event: ws.EventError, Data: ws.ErrorResponse{
				Code:    string(response.ErrInvalidPayload),
				Message: "unknown action: " + string(msg.Action),
			}}
		}
		reply.RequestID = msg.RequestID

		select {
		case out <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, userID uuid.UUID, payload json.RawMessage) ws.Message {
	var req ws.AnswerRequest
	if fields := decodePayload(payload, &req); fields != nil {
		return validationError(fields)
	}

	ctx, cancel := h.actionContext(ctx)
	defer cancel()

	out, err := h.quizService.SubmitAnswer(ctx, userID, AnswerFromRequest(req))
	if err != nil {
		h.logFailure(err, "answer")
		return ws.Message{Event: ws.EventError, Data: errorBody(err)}
	}
	return ws.Message{Event: ws.EventAnswerResult, Data: out}
}

func (h *WSHandler) handleSync(ctx context.Context, userID uuid.UUID, payload json.RawMessage) ws.Message {
	var req ws.SyncRequest
	if fields := decodePayload(payload, &req); fields != nil {
		return validationError(fields)
	}

	ctx, cancel := h.actionContext(ctx)
	defer cancel()

	ack, err := h.quizService.SyncSession(ctx, userID, SnapshotFromRequest(req))
	if err != nil {
		h.logFailure(err, "sync")
		return ws.Message{Event: ws.EventError, Data: errorBody(err)}
	}
	return ws.Message{Event: ws.EventSyncAck, Data: ack}
}

func (h *WSHandler) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.requestTimeout)
}

func (h *WSHandler) logFailure(err error, action string) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("action", action).Msg("WebSocket action failed")
	}
}

func decodePayload(payload json.RawMessage, dst interface{}) map[string]string {
	if len(payload) == 0 {
		return map[string]string{"payload": "payload is required"}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return validator.TranslateErrors(err)
	}
	return validator.Validate(dst)
}

func validationError(fields map[string]string) ws.Message {
	return ws.Message{Event: ws.EventError, Data: ws.ErrorResponse{
		Code:    string(response.ErrValidation),
		Message: response.GetMessage(response.ErrValidation),
		Fields:  fields,
	}}
}

func errorBody(err error) ws.ErrorResponse {
	_, code := classify(err)
	body := ws.ErrorResponse{Code: string(code), Message: response.GetMessage(code)}
	var conflict *service.SyncConflictError
	if errors.As(err, &conflict) {
		t := conflict.ServerUpdatedAt
		body.ServerUpdatedAt = &t
	}
	return body
}
