package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fpsarena/server/internal/auth"
	"fpsarena/server/internal/events"
	"fpsarena/server/internal/input"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/match"
	"fpsarena/server/internal/simulation"
)

const (
	defaultPingInterval     = 30 * time.Second
	defaultSnapshotInterval = 50 * time.Millisecond
	defaultMaxPayload       = 64 * 1024
	writeWait               = 5 * time.Second
	replyBuffer             = 16
	eventBuffer             = 128
)

// Simulation is the part of the match the transport talks to.
type Simulation interface {
	Submit(cmd input.Command) error
	Snapshot() *simulation.Snapshot
	Scoreboard() match.Scoreboard
	Events() *events.Stream
}

// Message types sent to presentation clients.
const (
	MessageEvent      = "event"
	MessageSnapshot   = "snapshot"
	MessageScoreboard = "scoreboard"
	MessageError      = "error"
)

// ServerMessage is the single outbound frame shape.
type ServerMessage struct {
	Type       string               `json:"type"`
	Event      *events.Envelope     `json:"event,omitempty"`
	Snapshot   *simulation.Snapshot `json:"snapshot,omitempty"`
	Scoreboard *match.Board         `json:"scoreboard,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Option customises the hub.
type Option func(*Hub)

// WithAuthenticator requires upgrade requests to authenticate.
func WithAuthenticator(authenticator auth.Authenticator) Option {
	return func(h *Hub) {
		if authenticator != nil {
			h.auth = authenticator
		}
	}
}

// WithAllowedOrigins restricts the Origin header. An empty list keeps the
// same-origin default and "*" allows every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.origins = nil
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				h.origins = append(h.origins, strings.ToLower(trimmed))
			}
		}
	}
}

// WithPingInterval sets the keepalive cadence.
func WithPingInterval(interval time.Duration) Option {
	return func(h *Hub) {
		if interval > 0 {
			h.pingInterval = interval
		}
	}
}

// WithSnapshotInterval sets how often full snapshots are pushed.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(h *Hub) {
		if interval > 0 {
			h.snapshotInterval = interval
		}
	}
}

// WithSnapshotBudget caps snapshot bytes per second per client. Snapshots
// over budget are skipped; events always go out.
func WithSnapshotBudget(bytesPerSecond float64) Option {
	return func(h *Hub) {
		h.throttle = newSnapshotThrottle(bytesPerSecond, h.now)
	}
}

// WithMaxPayload bounds inbound message size.
func WithMaxPayload(limit int64) Option {
	return func(h *Hub) {
		if limit > 0 {
			h.maxPayload = limit
		}
	}
}

// WithLogger routes hub logs to the provided logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.log = logger
		}
	}
}

// Hub upgrades presentation connections, feeds their commands through the
// gate into the simulation and streams events and snapshots back.
type Hub struct {
	sim              Simulation
	gate             *input.Gate
	auth             auth.Authenticator
	log              *logging.Logger
	origins          []string
	upgrader         websocket.Upgrader
	pingInterval     time.Duration
	snapshotInterval time.Duration
	maxPayload       int64
	throttle         *snapshotThrottle
	now              func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[string]*client
	total   atomic.Uint64
}

type client struct {
	id      string
	subject string
	conn    *websocket.Conn
	replies chan ServerMessage
	log     *logging.Logger
}

// NewHub constructs a hub for the simulation.
func NewHub(sim Simulation, gate *input.Gate, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		sim:              sim,
		gate:             gate,
		auth:             auth.AllowAll{},
		log:              logging.L(),
		pingInterval:     defaultPingInterval,
		snapshotInterval: defaultSnapshotInterval,
		maxPayload:       defaultMaxPayload,
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
		clients:          make(map[string]*client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.origins) == 0 {
		//1.- Same-origin only when no allow list is configured.
		parsed, err := url.Parse(origin)
		return err == nil && strings.EqualFold(parsed.Host, r.Host)
	}
	origin = strings.ToLower(origin)
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates and upgrades the request, then serves the
// connection until either side closes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	subject, err := h.auth.Authenticate(r)
	if err != nil {
		logger.Warn("websocket authentication failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		return
	}

	c := &client{id: uuid.NewString(), subject: subject, conn: conn, replies: make(chan ServerMessage, replyBuffer)}
	c.log = h.log.With(logging.String("client_id", c.id), logging.String("subject", subject))
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer h.unregister(c)
	c.log.Info("client connected", logging.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go func() {
		//1.- The reader ends the session when the peer goes away.
		defer cancel()
		h.readPump(c)
	}()
	h.writePump(ctx, c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.clients[c.id] = c
	h.total.Add(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.gate.Forget(c.id)
	h.throttle.forget(c.id)
	c.conn.Close()
	c.log.Info("client disconnected")
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(h.maxPayload)
	pongWait := h.pingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read error", logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handle(c, data)
	}
}

// handle routes one inbound command. Malformed commands are reported back
// without closing the connection.
func (h *Hub) handle(c *client, data []byte) {
	cmd, err := input.Decode(data)
	if err != nil {
		h.gate.Reject(c.id, err)
		c.reply(ServerMessage{Type: MessageError, Error: err.Error()})
		return
	}
	if !h.gate.Admit(c.id, cmd) {
		return
	}
	if cmd.Kind == input.KindScoreboard {
		board := h.sim.Scoreboard().Board()
		c.reply(ServerMessage{Type: MessageScoreboard, Scoreboard: &board})
		return
	}
	if err := h.sim.Submit(cmd); err != nil {
		c.reply(ServerMessage{Type: MessageError, Error: err.Error()})
	}
}

func (c *client) reply(msg ServerMessage) {
	select {
	case c.replies <- msg:
	default:
		c.log.Warn("dropping reply for slow client", logging.String("type", msg.Type))
	}
}

func (h *Hub) writePump(ctx context.Context, c *client) {
	sub, err := h.sim.Events().Subscribe(ctx, c.id, eventBuffer)
	if err != nil {
		c.log.Error("event subscription failed", logging.Error(err))
		return
	}
	defer sub.Release()
	pings := time.NewTicker(h.pingInterval)
	defer pings.Stop()
	snapshots := time.NewTicker(h.snapshotInterval)
	defer snapshots.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-sub.Done():
			return
		case envelope := <-sub.Events():
			if err := c.write(ServerMessage{Type: MessageEvent, Event: envelope}); err != nil {
				return
			}
			//1.- Ack only after the frame reached the socket.
			_ = sub.Ack(envelope.Sequence)
		case msg := <-c.replies:
			if err := c.write(msg); err != nil {
				return
			}
		case <-snapshots.C:
			payload, ok := c.encode(ServerMessage{Type: MessageSnapshot, Snapshot: h.sim.Snapshot()})
			if !ok || !h.throttle.allow(c.id, len(payload)) {
				continue
			}
			if err := c.send(payload); err != nil {
				return
			}
		case <-pings.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) write(msg ServerMessage) error {
	payload, ok := c.encode(msg)
	if !ok {
		return nil
	}
	return c.send(payload)
}

func (c *client) encode(msg ServerMessage) ([]byte, bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode message failed", logging.String("type", msg.Type), logging.Error(err))
		return nil, false
	}
	return payload, true
}

func (c *client) send(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.log.Debug("write error", logging.Error(err))
		}
		return err
	}
	return nil
}

// Stats reports connection counts for the metrics endpoint.
type Stats struct {
	Connected        int    `json:"connected"`
	Total            uint64 `json:"total"`
	SnapshotsSkipped uint64 `json:"snapshots_skipped"`
}

// Stats returns the current connection counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Connected: len(h.clients), Total: h.total.Load(), SnapshotsSkipped: h.throttle.skippedTotal()}
}

// Close ends every session and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()
}
