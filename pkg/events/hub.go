package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// StatusUnknownSession is the close code sent to a client that tries to
// join a session the server has no record of.
const StatusUnknownSession = websocket.StatusCode(4004)

const defaultWriteTimeout = 5 * time.Second

// ErrUnknownSession is returned by HandleConnection when the session check
// fails. The socket has already been closed with StatusUnknownSession.
var ErrUnknownSession = errors.New("unknown session")

// SessionChecker answers whether a session id is known. Implemented by the
// session store. A nil checker accepts every session id.
type SessionChecker interface {
	SessionExists(id string) bool
}

// Client is one connected WebSocket peer, pinned to a single session room
// for its lifetime.
//
// lastHeartbeat is guarded by the Hub's mu: it is written by the owning
// read loop on heartbeat frames and read by CleanupStale from the sweeper
// goroutine.
type Client struct {
	ID          string
	SessionID   string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	lastHeartbeat time.Time
	ctx           context.Context
	cancel        context.CancelFunc
}

// Hub manages WebSocket clients and their session rooms. Each process has
// one Hub instance; frames produced anywhere in the pipeline fan out from
// here.
type Hub struct {
	// Active clients: client_id → *Client
	clients map[string]*Client
	mu      sync.RWMutex

	// Session rooms: session_id → set of client_ids
	rooms  map[string]map[string]bool
	roomMu sync.RWMutex

	sessions     SessionChecker
	writeTimeout time.Duration
	logger       *slog.Logger
}

// HubOptions configures a Hub. Zero values select defaults.
type HubOptions struct {
	Sessions     SessionChecker // nil accepts every session id
	WriteTimeout time.Duration  // per-write deadline, default 5s
}

// NewHub creates an empty Hub.
func NewHub(opts HubOptions) *Hub {
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	return &Hub{
		clients:      make(map[string]*Client),
		rooms:        make(map[string]map[string]bool),
		sessions:     opts.Sessions,
		writeTimeout: wt,
		logger:       slog.Default().With("component", "events.hub"),
	}
}

// HandleConnection runs the lifecycle of a single WebSocket client: session
// check, registration, join broadcast, then the read loop. Called by the
// WebSocket HTTP handler after upgrade; blocks until the connection closes.
//
// A blank clientID gets a generated one. If the session id is unknown the
// socket is closed with StatusUnknownSession and ErrUnknownSession is
// returned.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sessionID, clientID string) error {
	if h.sessions != nil && !h.sessions.SessionExists(sessionID) {
		h.logger.Warn("Rejecting WebSocket join for unknown session", "session_id", sessionID)
		_ = conn.Close(StatusUnknownSession, "unknown session")
		return ErrUnknownSession
	}
	if clientID == "" {
		clientID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	c := &Client{
		ID:          clientID,
		SessionID:   sessionID,
		Conn:        conn,
		ConnectedAt: time.Now().UTC(),
		ctx:         ctx,
		cancel:      cancel,
	}

	h.register(c)
	defer h.Disconnect(clientID)

	// Ack the joining client first, then announce it to the rest of the
	// room. The ack carries the (possibly generated) client id so the
	// client can correlate later frames.
	if err := h.sendEnvelope(c, NewEnvelope(MessageJoinSession, sessionID, map[string]any{
		"client_id": clientID,
	})); err != nil {
		return err
	}
	h.BroadcastSession(sessionID, MessageJoinSession, map[string]any{
		"client_id": clientID,
	}, clientID)

	// Read loop — process client frames until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil
		}
		h.handleClientFrame(c, data)
	}
}

// handleClientFrame routes one inbound frame. Only heartbeat is meaningful;
// everything else is dropped with a debug log.
func (h *Hub) handleClientFrame(c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Warn("Invalid WebSocket frame", "client_id", c.ID, "error", err)
		return
	}

	switch env.Type {
	case MessageHeartbeat:
		h.touchHeartbeat(c.ID)
		reply := NewEnvelope(MessageHeartbeat, c.SessionID, map[string]any{
			"server_time": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err := h.sendEnvelope(c, reply); err != nil {
			h.logger.Warn("Heartbeat echo failed", "client_id", c.ID, "error", err)
			h.Disconnect(c.ID)
		}
	default:
		h.logger.Debug("Ignoring client frame", "client_id", c.ID, "type", string(env.Type))
	}
}

// Disconnect removes a client from the registry and its room, closes the
// socket, and announces LEAVE_SESSION to the remaining room members.
// Idempotent: returns false if the client was already gone.
func (h *Hub) Disconnect(clientID string) bool {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, clientID)
	h.mu.Unlock()

	h.roomMu.Lock()
	if room, ok := h.rooms[c.SessionID]; ok {
		delete(room, clientID)
		if len(room) == 0 {
			delete(h.rooms, c.SessionID)
		}
	}
	h.roomMu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")

	h.BroadcastSession(c.SessionID, MessageLeaveSession, map[string]any{
		"client_id": clientID,
	})
	return true
}

// Send marshals a frame and writes it to one client. A write failure
// disconnects the client.
func (h *Hub) Send(clientID string, env Envelope) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return errors.New("client not connected: " + clientID)
	}
	if err := h.sendEnvelope(c, env); err != nil {
		h.Disconnect(clientID)
		return err
	}
	return nil
}

// BroadcastSession fans a frame out to every client in the session room,
// minus any excluded client ids. Membership is snapshotted under the lock
// and the writes run in parallel outside it, so a slow socket cannot stall
// registration. Clients whose write fails are disconnected.
//
// Returns how many sends succeeded out of how many were attempted.
func (h *Hub) BroadcastSession(sessionID string, t MessageType, data map[string]any, exclude ...string) (sent, attempted int) {
	h.roomMu.RLock()
	room := h.rooms[sessionID]
	ids := make([]string, 0, len(room))
	for id := range room {
		if !contains(exclude, id) {
			ids = append(ids, id)
		}
	}
	h.roomMu.RUnlock()

	return h.fanOut(ids, NewEnvelope(t, sessionID, data))
}

// BroadcastAll sends a global frame (session_id "*") to every connected
// client regardless of room.
func (h *Hub) BroadcastAll(t MessageType, data map[string]any) (sent, attempted int) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	return h.fanOut(ids, NewEnvelope(t, GlobalSession, data))
}

// fanOut writes one marshaled frame to each client in parallel.
func (h *Hub) fanOut(ids []string, env Envelope) (sent, attempted int) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("Failed to marshal frame", "type", string(env.Type), "error", err)
		return 0, 0
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	var ok atomic.Int64
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := h.sendRaw(c, payload); err != nil {
				h.logger.Warn("Failed to send to WebSocket client",
					"client_id", c.ID, "type", string(env.Type), "error", err)
				h.Disconnect(c.ID)
				return
			}
			ok.Add(1)
		}(c)
	}
	wg.Wait()

	return int(ok.Load()), len(conns)
}

// CleanupStale disconnects clients whose last heartbeat (or, if they never
// sent one, their connect time) is older than maxAge. Returns how many were
// dropped.
func (h *Hub) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	h.mu.RLock()
	stale := make([]string, 0)
	for id, c := range h.clients {
		last := c.lastHeartbeat
		if last.IsZero() {
			last = c.ConnectedAt
		}
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, id := range stale {
		if h.Disconnect(id) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Info("Dropped stale WebSocket clients", "count", dropped, "max_age", maxAge)
	}
	return dropped
}

// ActiveClients returns the number of connected clients.
func (h *Hub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in a session room.
func (h *Hub) RoomSize(sessionID string) int {
	h.roomMu.RLock()
	defer h.roomMu.RUnlock()
	return len(h.rooms[sessionID])
}

// register adds a client to the registry and its session room.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.roomMu.Lock()
	room, ok := h.rooms[c.SessionID]
	if !ok {
		room = make(map[string]bool)
		h.rooms[c.SessionID] = room
	}
	room[c.ID] = true
	h.roomMu.Unlock()
}

// touchHeartbeat records a heartbeat arrival time for CleanupStale.
func (h *Hub) touchHeartbeat(clientID string) {
	h.mu.Lock()
	if c, ok := h.clients[clientID]; ok {
		c.lastHeartbeat = time.Now()
	}
	h.mu.Unlock()
}

// setHeartbeat backdates a client's heartbeat. Unexported — used by tests
// to exercise CleanupStale without sleeping.
func (h *Hub) setHeartbeat(clientID string, at time.Time) {
	h.mu.Lock()
	if c, ok := h.clients[clientID]; ok {
		c.lastHeartbeat = at
	}
	h.mu.Unlock()
}

// sendEnvelope marshals and sends a frame to a single client.
func (h *Hub) sendEnvelope(c *Client, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return h.sendRaw(c, data)
}

// sendRaw writes raw bytes to a single client with the write timeout.
func (h *Hub) sendRaw(c *Client, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
