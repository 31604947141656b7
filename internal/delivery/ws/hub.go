// Package ws pushes analysis publications to browsers watching a game.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"baduk_relay/internal/domain/game"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	sendBuffer          = 16
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Client struct {
	game string
	send chan []byte
}

// Hub keeps one room of viewers per game and remembers the last publication
// of each so late joiners see the current analysis straight away.
type Hub struct {
	log          *zap.SugaredLogger
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}
	last  map[string][]byte
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:          log,
		upgrader:     websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		pingInterval: defaultPingInterval,
		rooms:        make(map[string]map[*Client]struct{}),
		last:         make(map[string][]byte),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.game]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.game] = room
	}
	room[c] = struct{}{}
	if data, ok := h.last[c.game]; ok {
		c.sendRaw(data)
	}
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if room, ok := h.rooms[c.game]; ok {
		if _, ok := room[c]; ok {
			delete(room, c)
			close(c.send)
		}
		if len(room) == 0 {
			delete(h.rooms, c.game)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Clients(id game.Identity) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[id.Key()])
}

// Publish sends the publication to everyone watching its game. Slow viewers
// miss messages rather than hold up the relay.
func (h *Hub) Publish(_ context.Context, pub game.Publication) error {
	payload, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	data, err := json.Marshal(wsMessage{Type: "analysis", Payload: payload})
	if err != nil {
		return err
	}

	key := pub.Game.Key()
	h.mu.Lock()
	h.last[key] = data
	for client := range h.rooms[key] {
		client.sendRaw(data)
	}
	h.mu.Unlock()
	return nil
}

// Forget drops the remembered publication of a game.
func (h *Hub) Forget(id game.Identity) {
	h.mu.Lock()
	delete(h.last, id.Key())
	h.mu.Unlock()
}

func (c *Client) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// ServeWS upgrades the request and keeps the viewer subscribed to id until
// the connection drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, id game.Identity) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "game", id.Key(), "error", err)
		return
	}
	client := &Client{game: id.Key(), send: make(chan []byte, sendBuffer)}
	h.Register(client)
	h.log.Debugw("viewer joined", "game", id.Key(), "remote", r.RemoteAddr)

	go func() {
		defer conn.Close()
		if err := h.writeWithHeartbeat(conn, client.send); err != nil {
			h.log.Debugw("viewer write failed", "game", id.Key(), "error", err)
		}
	}()

	// Viewers have nothing to say; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Unregister(client)
			h.log.Debugw("viewer left", "game", id.Key())
			return
		}
	}
}

func (h *Hub) writeWithHeartbeat(conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()
	pingPayload, _ := json.Marshal(wsMessage{Type: "ping"})

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < h.pingInterval {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, pingPayload); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}
