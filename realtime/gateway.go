// Package realtime implements the WebSocket gateway (C8): a per-user
// connection registry fed by the bus's task.updates and db.changes
// topics, per spec.md §4.8. The connection-management shape (ping loop,
// buffered send channel, read/write pump split, reconnect-tolerant
// registry) is carried over from the teacher's coordinator client,
// mirrored onto the server side of the same protocol.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ocrforge.dev/auth"
	"ocrforge.dev/bus"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
	sendBuffer   = 32
)

// MessageType tags the envelope delivered to clients (§4.8).
type MessageType string

const (
	MessageTaskUpdate MessageType = "task_update"
	MessageDBChange   MessageType = "db_change"
	MessagePong       MessageType = "pong"
	MessageWelcome    MessageType = "welcome"
)

// Envelope is the wire shape sent to every client.
type Envelope struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway owns the connection registry and the single bus subscription
// that feeds it.
type Gateway struct {
	validator auth.SessionValidator
	bus       *bus.Bus
	log       *logrus.Entry

	mu    sync.RWMutex
	conns map[string][]*connection

	sub    *bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Gateway. It does not start listening for bus events until
// Start is called.
func New(validator auth.SessionValidator, b *bus.Bus, log *logrus.Entry) *Gateway {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gateway{validator: validator, bus: b, log: log, conns: make(map[string][]*connection)}
}

// Start subscribes once to task.updates and db.changes and begins
// broadcasting incoming events to the relevant user's connections. It
// returns immediately; the fan-out loop runs in its own goroutine.
func (g *Gateway) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.sub = g.bus.Subscribe(runCtx, bus.TopicTaskUpdates, bus.TopicDBChanges)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for env := range g.sub.Envelopes() {
			g.dispatch(env)
		}
	}()
}

// Stop closes the bus subscription and every open connection.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.sub != nil {
		g.sub.Close()
	}
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, conns := range g.conns {
		for _, c := range conns {
			c.close()
		}
	}
	g.conns = make(map[string][]*connection)
}

func (g *Gateway) dispatch(env bus.Envelope) {
	var ownerID string
	var msgType MessageType
	var data any

	switch env.Kind {
	case bus.KindTaskUpdate:
		var update bus.TaskUpdate
		if err := json.Unmarshal(env.Payload, &update); err != nil {
			g.log.WithError(err).Warn("realtime: malformed task update payload")
			return
		}
		ownerID, msgType, data = update.OwnerID, MessageTaskUpdate, update
	case bus.KindDBChange:
		var change bus.DBChange
		if err := json.Unmarshal(env.Payload, &change); err != nil {
			g.log.WithError(err).Warn("realtime: malformed db change payload")
			return
		}
		ownerID, msgType, data = change.OwnerID, MessageDBChange, change
	default:
		return
	}
	if ownerID == "" {
		return
	}

	g.broadcast(ownerID, Envelope{Type: msgType, Data: data, Timestamp: env.Timestamp})
}

func (g *Gateway) broadcast(ownerID string, env Envelope) {
	g.mu.RLock()
	conns := g.conns[ownerID]
	g.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(env)
	}
}

// ServeHTTP authenticates the handshake via the bearer token in the
// Authorization header, upgrades the connection, and registers it under
// the resulting user id. On connect it does not replay past events; the
// client reconciles via a GET of the task list (§4.8).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := g.validator.Validate(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("realtime: upgrade failed")
		return
	}

	conn := &connection{userID: identity.UserID, ws: ws, send: make(chan Envelope, sendBuffer), gateway: g}
	g.register(conn)

	conn.send <- Envelope{Type: MessageWelcome, Timestamp: time.Now()}

	go conn.writePump()
	conn.readPump()
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// connectionCount reports how many open connections a user currently has.
// Exercised by tests to wait for a handshake to finish registering before
// publishing an event that depends on it.
func (g *Gateway) connectionCount(userID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns[userID])
}

func (g *Gateway) register(c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.userID] = append(g.conns[c.userID], c)
}

func (g *Gateway) unregister(c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conns := g.conns[c.userID]
	for i, existing := range conns {
		if existing == c {
			g.conns[c.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(g.conns[c.userID]) == 0 {
		delete(g.conns, c.userID)
	}
}

// connection is one user's open channel. A user may have several (one per
// tab/device), each with its own send goroutine.
type connection struct {
	userID  string
	ws      *websocket.Conn
	send    chan Envelope
	gateway *Gateway
	once    sync.Once
}

func (c *connection) enqueue(env Envelope) {
	select {
	case c.send <- env:
	default:
		c.gateway.log.WithField("user_id", c.userID).Warn("realtime: send buffer full, dropping event")
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.send)
		c.ws.Close()
	})
}

// readPump enforces the 90s idle deadline, resetting it on every pong, and
// discards any client-sent data frames (this gateway is broadcast-only).
func (c *connection) readPump() {
	defer func() {
		c.gateway.unregister(c)
		c.close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send channel and pings every 30s.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
