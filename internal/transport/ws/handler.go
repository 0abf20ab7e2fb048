package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"TopicPulse/internal/stream"
)

const maxClientMessage = 4096

// Hub is the part of the dispatcher a connection talks to.
type Hub interface {
	Attach(sessionID string, ch stream.Channel)
	Watch(sessionID, jobID string, lastSeen *int64) error
	Pong(sessionID string)
	DetachChannel(sessionID string, ch stream.Channel)
}

// ClientMessage is what a client may send on the socket.
type ClientMessage struct {
	Type             string `json:"type"`
	JobID            string `json:"jobId,omitempty"`
	LastSeenSequence *int64 `json:"lastSeenSequence,omitempty"`
}

// Handler upgrades GET /ws?session=<id> and runs the read loop.
type Handler struct {
	hub          Hub
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler builds the upgrade handler.
func NewHandler(hub Hub, writeTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	conn.SetReadLimit(maxClientMessage)

	ch := NewChannel(conn, h.writeTimeout)
	h.hub.Attach(sessionID, ch)
	defer h.hub.DetachChannel(sessionID, ch)

	h.readLoop(sessionID, conn)
}

func (h *Handler) readLoop(sessionID string, conn *websocket.Conn) {
	logger := h.logger.With("session_id", sessionID)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read ended", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case "pong":
			h.hub.Pong(sessionID)
		case "attach":
			if msg.JobID == "" {
				logger.Debug("ignoring attach without job id")
				continue
			}
			if err := h.hub.Watch(sessionID, msg.JobID, msg.LastSeenSequence); err != nil {
				logger.Info("watch rejected", "job_id", msg.JobID, "error", err)
			}
		default:
			logger.Debug("ignoring unknown message", "type", msg.Type)
		}
	}
}
