package realtime

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mmynk/receiptsync/internal/metrics"
)

const (
	// DefaultBroadcastDelay is how long a group refresh waits for more
	// changes before it is sent.
	DefaultBroadcastDelay = 2 * time.Second

	writeWait      = 10 * time.Second
	idleTimeout    = 90 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
)

// Hub tracks WebSocket clients per group and delivers change notifications.
//
// Notifications are debounced: every change restarts a per-group timer, and
// one message is sent when the timer fires. The client that caused the
// changes is excluded, unless changes in the same window came from different
// clients. A client too slow to keep up is dropped with a try-again-later
// close so it reconnects and resyncs.
type Hub struct {
	delay    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	groups  map[string]map[*client]struct{}
	pending map[string]*pendingRefresh
	closed  bool
}

type pendingRefresh struct {
	timer     *time.Timer
	action    string
	receiptID string
	entries   []string
	origin    string
	mixed     bool
	seq       uint64
}

// message builds the one notification sent for the window.
func (p *pendingRefresh) message(groupID string) Message {
	if p.action == ActionEntryUpdated && len(p.entries) == 1 {
		return Message{Type: TypeEntryUpdated, GroupID: groupID, EntryID: p.entries[0], ReceiptID: p.receiptID}
	}
	return Message{
		Type:      TypeRefreshGroup,
		GroupID:   groupID,
		Action:    p.action,
		ReceiptID: p.receiptID,
		EntryIDs:  p.entries,
	}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBroadcastDelay sets the debounce window for group refreshes.
func WithBroadcastDelay(d time.Duration) HubOption {
	return func(h *Hub) { h.delay = d }
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		delay:   DefaultBroadcastDelay,
		logger:  slog.Default().With("component", "realtime"),
		groups:  make(map[string]map[*client]struct{}),
		pending: make(map[string]*pendingRefresh),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request and serves one client until it disconnects.
// An empty clientID is replaced by a generated one.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, groupID, clientID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Warn("WebSocket upgrade failed", "group_id", groupID, "error", err)
		return
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c := &client{
		hub:       h,
		id:        clientID,
		groupID:   groupID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		closeCode: websocket.CloseNormalClosure,
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.deliver(c, Message{Type: TypeConnected, GroupID: groupID})
	go c.writePump()
	c.readPump()
}

// NotifyGroupChanged schedules a debounced refresh_group for the group.
// origin is the X-Client-ID of the caller, or empty.
func (h *Hub) NotifyGroupChanged(groupID, action, receiptID, origin string) {
	h.schedule(groupID, action, receiptID, "", origin)
}

// NotifyEntryUpdated schedules an entry update in the same window as group
// refreshes. A window holding a single edited entry is sent as
// entry_updated; anything more becomes one refresh_group listing the
// edited entries.
func (h *Hub) NotifyEntryUpdated(groupID, entryID, receiptID, origin string) {
	h.schedule(groupID, ActionEntryUpdated, receiptID, entryID, origin)
}

func (h *Hub) schedule(groupID, action, receiptID, entryID, origin string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.pending[groupID]
	if p == nil {
		if len(h.recipientsLocked(groupID, origin)) == 0 {
			h.logger.Debug("Skipping broadcast: no other clients connected", "group_id", groupID)
			return
		}
		p = &pendingRefresh{action: action, receiptID: receiptID, origin: origin}
		h.pending[groupID] = p
	} else {
		p.timer.Stop()
		if p.action != action {
			p.action = ActionMultipleChanges
		}
		if p.receiptID != receiptID {
			p.receiptID = ""
		}
		if p.origin != origin {
			p.mixed = true
		}
	}
	if entryID != "" && !slices.Contains(p.entries, entryID) {
		p.entries = append(p.entries, entryID)
	}

	p.seq++
	seq := p.seq
	p.timer = time.AfterFunc(h.delay, func() { h.flush(groupID, p, seq) })
	h.logger.Debug("Scheduled broadcast", "group_id", groupID, "delay", h.delay, "action", p.action, "entries", len(p.entries))
}

// Clients returns the number of clients connected to a group.
func (h *Hub) Clients(groupID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[groupID])
}

// Close cancels pending broadcasts and disconnects every client with a
// going-away close, so clients reconnect to the next instance.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, p := range h.pending {
		p.timer.Stop()
	}
	h.pending = make(map[string]*pendingRefresh)
	var all []*client
	for _, set := range h.groups {
		for c := range set {
			all = append(all, c)
		}
	}
	h.groups = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		h.metrics.HubClients(-1)
		c.close(websocket.CloseGoingAway)
	}
}

func (h *Hub) flush(groupID string, p *pendingRefresh, seq uint64) {
	h.mu.Lock()
	if h.pending[groupID] != p || p.seq != seq {
		h.mu.Unlock()
		return
	}
	delete(h.pending, groupID)
	exclude := p.origin
	if p.mixed {
		exclude = ""
	}
	targets := h.recipientsLocked(groupID, exclude)
	msg := p.message(groupID)
	h.mu.Unlock()

	if len(targets) == 0 {
		h.logger.Debug("Skipping broadcast: no other clients connected", "group_id", groupID)
		return
	}
	sent := h.broadcast(targets, msg)
	h.logger.Info("Broadcast to group", "group_id", groupID, "type", msg.Type, "action", msg.Action, "clients", sent)
}

// recipientsLocked lists the group's clients, minus those with the excluded
// ID. Callers hold h.mu.
func (h *Hub) recipientsLocked(groupID, exclude string) []*client {
	var out []*client
	for c := range h.groups[groupID] {
		if exclude != "" && c.id == exclude {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcast(targets []*client, msg Message) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := Encode(msg)
	if err != nil {
		h.logger.Error("Failed to encode message", "type", msg.Type, "error", err)
		return 0
	}
	h.metrics.HubBroadcast(string(msg.Type))

	sent := 0
	for _, c := range targets {
		if c.enqueue(data) {
			sent++
			continue
		}
		h.logger.Warn("Dropping slow client", "group_id", c.groupID, "client_id", c.id)
		h.unregister(c, websocket.CloseTryAgainLater)
	}
	return sent
}

// deliver sends one message to one client.
func (h *Hub) deliver(c *client, msg Message) {
	h.broadcast([]*client{c}, msg)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set := h.groups[c.groupID]
	if set == nil {
		set = make(map[*client]struct{})
		h.groups[c.groupID] = set
	}
	set[c] = struct{}{}
	h.metrics.HubClients(1)
	h.logger.Info("Client connected", "group_id", c.groupID, "client_id", c.id, "connections", len(set))
	return true
}

// unregister removes c and closes it with code. Only a close started by the
// peer uses CloseNormalClosure, which tells the peer not to reconnect.
func (h *Hub) unregister(c *client, code int) {
	h.mu.Lock()
	set := h.groups[c.groupID]
	_, ok := set[c]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.groups, c.groupID)
			if p := h.pending[c.groupID]; p != nil {
				p.timer.Stop()
				delete(h.pending, c.groupID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.HubClients(-1)
		h.logger.Info("Client disconnected", "group_id", c.groupID, "client_id", c.id)
	}
	c.close(code)
}

// client is one WebSocket connection.
type client struct {
	hub     *Hub
	id      string
	groupID string
	conn    *websocket.Conn

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	closeCode int
}

func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	close(c.send)
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseTryAgainLater
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				code = websocket.CloseNormalClosure
			} else {
				c.hub.logger.Debug("WebSocket read failed", "client_id", c.id, "error", err)
			}
			c.hub.unregister(c, code)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.hub.logger.Warn("Invalid message from client", "client_id", c.id, "error", err)
			c.hub.deliver(c, Message{Type: TypeError, Message: "invalid message format"})
			continue
		}
		if msg.Type == TypePing {
			c.hub.deliver(c, Message{Type: TypePong})
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.hub.unregister(c, websocket.CloseTryAgainLater)
			// Drain until unregister closes the channel.
			for range c.send {
			}
			return
		}
	}

	c.mu.Lock()
	code := c.closeCode
	c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(writeWait))
}
