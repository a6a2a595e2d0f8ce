package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/session"
)

// Client -> server message types
const (
	MsgTypePing = "ping"
)

// Server -> client message types besides the run messages
const (
	MsgTypeConnected = "connected"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const (
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
	maxClientMessage = 4 << 10
)

// WSMessage is a control message exchanged with the client. Run updates are
// sent as session.Message.
type WSMessage struct {
	Type      string `json:"type"`
	RunID     string `json:"runId,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// WebSocketHandler pushes the updates of one run to a websocket client
type WebSocketHandler struct {
	runs     RunManager
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewWebSocketHandler creates a new run update websocket handler
func NewWebSocketHandler(runs RunManager, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		runs: runs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 64 << 10,
		},
		log: logger.Named("ws"),
	}
}

// HandleWebSocket subscribes to a run and forwards its messages until the run
// closes or the client goes away
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}

	updates, unsubscribe, err := wsh.runs.Subscribe(id)
	if err != nil {
		return mapError(err, "run", id)
	}
	defer unsubscribe()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the request
		return nil
	}
	ws.SetReadLimit(maxClientMessage)

	log := wsh.log.With(zap.String("run", id))
	log.Debug("client connected")

	incoming := make(chan WSMessage, 4)
	readDone := make(chan struct{})
	go wsh.readLoop(ws, incoming, readDone, log)
	defer func() {
		ws.Close()
		<-readDone
		log.Debug("client disconnected")
	}()

	if err := wsh.send(ws, WSMessage{Type: MsgTypeConnected, RunID: id, Timestamp: time.Now().UnixMilli()}); err != nil {
		return nil
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-updates:
			if !ok {
				wsh.closeNormal(ws, "run dropped")
				return nil
			}
			if err := wsh.send(ws, msg); err != nil {
				log.Debug("write failed", zap.Error(err))
				return nil
			}
			if msg.Type == session.MessageClosed {
				wsh.closeNormal(ws, "run closed")
				return nil
			}

		case msg := <-incoming:
			reply := WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
			if msg.Type != MsgTypePing {
				reply = WSMessage{Type: MsgTypeError, Message: "unknown message type: " + msg.Type, Timestamp: reply.Timestamp}
			}
			if err := wsh.send(ws, reply); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}

		case <-readDone:
			return nil
		}
	}
}

func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, out chan<- WSMessage, done chan<- struct{}, log *zap.Logger) {
	defer close(done)
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("connection error", zap.Error(err))
			}
			return
		}
		select {
		case out <- msg:
		default:
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, v any) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}

func (wsh *WebSocketHandler) closeNormal(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
