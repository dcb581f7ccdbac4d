package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aidevro/bugatube/auth"
	"github.com/aidevro/bugatube/dto"
	"github.com/aidevro/bugatube/queue"
)

const (
	// PingInterval is the liveness cycle; a connection that has not
	// answered the previous ping by the next tick is terminated.
	PingInterval = 30 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// Hub owns the live push connections. A connection receives nothing
// until it announces identity with an auth message; after that it gets
// queueUpdate pushes for its owner's jobs only.
type Hub struct {
	verifier auth.Verifier
	registry *queue.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*connection]struct{}
	byOwner map[uuid.UUID]map[*connection]struct{}
}

type connection struct {
	ws     *websocket.Conn
	send   chan dto.QueueUpdate
	owner  uuid.UUID
	authed bool
	alive  bool
	closed bool
}

func NewHub(verifier auth.Verifier, registry *queue.Registry, log zerolog.Logger) *Hub {
	return &Hub{
		verifier: verifier,
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:   make(map[*connection]struct{}),
		byOwner: make(map[uuid.UUID]map[*connection]struct{}),
	}
}

// Serve upgrades the request and pumps the connection until it drops.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &connection{
		ws:    ws,
		send:  make(chan dto.QueueUpdate, sendBuffer),
		alive: true,
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		h.mu.Lock()
		conn.alive = true
		h.mu.Unlock()
		return nil
	})

	go h.writePump(conn)
	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *connection) {
	defer h.remove(conn)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg dto.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Error().Err(err).Msg("websocket message error")
			continue
		}

		if msg.Type != "auth" || msg.Token == "" {
			continue
		}

		claims, err := h.verifier.Verify(msg.Token)
		if err != nil {
			h.log.Error().Err(err).Msg("websocket auth failed")
			continue
		}
		h.associate(conn, claims.UserID)
	}
}

func (h *Hub) writePump(conn *connection) {
	for update := range conn.send {
		conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.ws.WriteJSON(update); err != nil {
			break
		}
	}
	conn.ws.Close()
}

func (h *Hub) associate(conn *connection, owner uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.closed {
		return
	}
	if conn.authed {
		h.unindexLocked(conn)
	}
	conn.owner = owner
	conn.authed = true
	if h.byOwner[owner] == nil {
		h.byOwner[owner] = make(map[*connection]struct{})
	}
	h.byOwner[owner][conn] = struct{}{}
	h.log.Info().Str("user_id", owner.String()).Msg("websocket client authenticated")
}

func (h *Hub) unindexLocked(conn *connection) {
	set := h.byOwner[conn.owner]
	delete(set, conn)
	if len(set) == 0 {
		delete(h.byOwner, conn.owner)
	}
}

func (h *Hub) remove(conn *connection) {
	h.mu.Lock()
	if conn.closed {
		h.mu.Unlock()
		return
	}
	conn.closed = true
	delete(h.conns, conn)
	if conn.authed {
		h.unindexLocked(conn)
	}
	h.mu.Unlock()

	close(conn.send)
	conn.ws.Close()
}

// Broadcast pushes the owner's current queue to every connection bound
// to that owner. A connection whose buffer is full misses this update;
// the next one carries the full queue again, so nothing is lost for
// long and no pipeline stage ever blocks here.
func (h *Hub) Broadcast(owner uuid.UUID) {
	update := dto.QueueUpdate{
		Type:  "queueUpdate",
		Queue: h.registry.ItemsByOwner(owner),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.byOwner[owner] {
		select {
		case conn.send <- update:
		default:
			h.log.Warn().Str("user_id", owner.String()).Msg("dropping queue update for slow websocket client")
		}
	}
}

// Run drives the liveness cycle until the context ends: connections
// that missed a pong are terminated, the rest are pinged again.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	var stale, live []*connection
	for conn := range h.conns {
		if !conn.alive {
			stale = append(stale, conn)
			continue
		}
		conn.alive = false
		live = append(live, conn)
	}
	h.mu.Unlock()

	for _, conn := range stale {
		h.log.Info().Msg("terminating websocket client due to missed heartbeat")
		conn.ws.Close()
	}
	for _, conn := range live {
		conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.ws.Close()
	}
}
