package web

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agenda/internal/layout"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Message types pushed to websocket clients.
const (
	MsgAppointments = "appointments"
	MsgReminder     = "reminder"
	MsgNow          = "now"
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type nowData struct {
	Time    time.Time      `json:"time"`
	NowLine layout.NowLine `json:"nowLine"`
}

type HubOptions struct {
	Location  *time.Location
	WeekStart time.Weekday
	// Every is the now-line period; defaults to one minute.
	Every time.Duration
	// Origins restricts the handshake Origin; empty allows any.
	Origins []string
	Now     func() time.Time
}

// Hub fans store snapshots, reminder events and now-line ticks out to the
// connected clients. Each client only receives records its scope allows.
type Hub struct {
	store    *store.Store
	opts     HubOptions
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan Message
	scope store.Scope
}

func NewHub(st *store.Store, opts HubOptions) *Hub {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Every <= 0 {
		opts.Every = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Hub{store: st, opts: opts, clients: make(map[*client]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.Origins) == 0 || slices.Contains(h.opts.Origins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.opts.Origins, origin)
}

// Run pumps store changes and now-line ticks until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	snaps, cancel := h.store.Subscribe()
	defer cancel()
	ticker := time.NewTicker(h.opts.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			h.deliver(func(c *client) (Message, bool) {
				return Message{Type: MsgAppointments, Data: store.Filter(snap, c.scope)}, true
			})
		case <-ticker.C:
			msg := h.nowMessage()
			h.deliver(func(*client) (Message, bool) { return msg, true })
		}
	}
}

// Notify pushes a reminder to the clients that can see a. It satisfies
// reminder.Notifier.
func (h *Hub) Notify(_ context.Context, a model.Appointment) {
	msg := Message{Type: MsgReminder, Data: a}
	h.deliver(func(c *client) (Message, bool) { return msg, c.scope.Allows(a) })
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) nowMessage() Message {
	now := h.opts.Now()
	grid := layout.WeekView(nil, nil, now, layout.Options{Location: h.opts.Location, WeekStart: h.opts.WeekStart})
	return Message{Type: MsgNow, Data: nowData{Time: now, NowLine: grid.NowLine(now, h.opts.Location)}}
}

// deliver queues a message per client without blocking. A client whose
// buffer is full is dropped.
func (h *Hub) deliver(build func(c *client) (Message, bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		msg, ok := build(c)
		if !ok {
			continue
		}
		select {
		case c.send <- msg:
		default:
			appLog.Warn("ws client too slow; dropping", "company", c.scope.CompanyID)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	c.send <- Message{Type: MsgAppointments, Data: h.store.Visible(c.scope)}
	c.send <- h.nowMessage()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, scope store.Scope) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		appLog.Debug("ws upgrade failed", "err", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan Message, sendBuffer), scope: scope}
	h.register(c)
	appLog.Debug("ws client connected", "company", scope.CompanyID, "super_admin", scope.SuperAdmin)

	go c.writePump()
	c.readPump()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, claimsOf(r).Scope())
}

// readPump discards client frames; it only keeps the read deadline moving
// and notices disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// channel closed -> close socket
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
