package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeongseonghan/ofdm-sim/internal/protocol"
	"github.com/jeongseonghan/ofdm-sim/internal/sim"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProgressPayload represents a progress update.
type ProgressPayload struct {
	SessionID string         `json:"sessionId"`
	RequestID uint64         `json:"requestId"`
	Stage     protocol.Stage `json:"stage"`
	Progress  float64        `json:"progress"` // 0.0 to 1.0
}

// ResultPayload carries a finished transmission.
type ResultPayload struct {
	SessionID string                  `json:"sessionId"`
	RequestID uint64                  `json:"requestId"`
	Result    *sim.TransmissionResult `json:"result,omitempty"`
	Failure   *sim.Failure            `json:"failure,omitempty"`
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	// writeMu serializes writes; gorilla connections allow one writer.
	writeMu sync.Mutex
	logger  *zap.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *zap.Logger) *WSHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger.Named("ws"),
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	h.logger.Info("client connected", zap.Int("clients", len(h.clients)))
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[conn] {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	h.logger.Info("client disconnected", zap.Int("clients", len(h.clients)))
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn("write failed", zap.Error(err))
			go h.RemoveClient(conn)
		}
	}
}

// BroadcastProgress sends a progress update to all clients.
func (h *WSHub) BroadcastProgress(ev protocol.SessionEvent) {
	h.Broadcast(WSMessage{
		Type: "progress",
		Payload: ProgressPayload{
			SessionID: ev.SessionID,
			RequestID: ev.RequestID,
			Stage:     ev.Stage,
			Progress:  ev.Progress,
		},
	})
}

// BroadcastResult sends a finished transmission to all clients.
func (h *WSHub) BroadcastResult(ev protocol.SessionEvent) {
	h.Broadcast(WSMessage{
		Type: "result",
		Payload: ResultPayload{
			SessionID: ev.SessionID,
			RequestID: ev.RequestID,
			Result:    ev.Result,
			Failure:   ev.Failure,
		},
	})
}

// BroadcastStatus sends a status update to all clients.
func (h *WSHub) BroadcastStatus(status, message string) {
	h.Broadcast(WSMessage{
		Type: "status",
		Payload: map[string]string{
			"status":  status,
			"message": message,
		},
	})
}

// Forward broadcasts session events until the channel closes.
func (h *WSHub) Forward(events <-chan protocol.SessionEvent) {
	for ev := range events {
		switch {
		case ev.Result != nil || ev.Failure != nil:
			h.BroadcastResult(ev)
		case ev.Status == protocol.StatusQueued || ev.Status == protocol.StatusRunning:
			h.BroadcastProgress(ev)
		default:
			h.BroadcastStatus(ev.Status.String(), ev.Message)
		}
	}
}
