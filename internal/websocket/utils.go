package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	WriteWait  = 10 * time.Second
	PongWait   = 60 * time.Second
	PingPeriod = (PongWait * 9) / 10
	// MaxMessageSize bounds a client frame; a full sync of 50 answers fits well inside.
	MaxMessageSize = 64 * 1024
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return conn.WriteJSON(v)
}

// WriteEvent sends an event frame.
func WriteEvent(conn *websocket.Conn, event Event, requestID string, data interface{}) error {
	return WriteTyped(conn, Message{Event: event, RequestID: requestID, Data: data})
}

// WriteError sends an error frame.
func WriteError(conn *websocket.Conn, requestID string, body ErrorResponse) error {
	return WriteTyped(conn, Message{Event: EventError, RequestID: requestID, Data: body})
}

// WritePing sends a control ping.
func WritePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait))
}

// PrepareRead installs the read limit and keeps the read deadline moving
// forward on every pong.
func PrepareRead(conn *websocket.Conn) {
	conn.SetReadLimit(MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It extends the read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(PongWait))
	return conn.ReadJSON(v)
}
