package livesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mmynk/receiptsync/internal/metrics"
	"github.com/mmynk/receiptsync/internal/realtime"
)

const (
	DefaultThrottle  = 100 * time.Millisecond
	DefaultHeartbeat = 30 * time.Second
	DefaultPongWait  = 10 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// PushChannel receives group notifications over the service's WebSocket
// endpoint. It pings on a heartbeat, drops duplicate notifications that
// arrive within the throttle window, and reconnects with exponential
// backoff until the retry budget runs out.
type PushChannel struct {
	url       func(groupID string) string
	dialer    *websocket.Dialer
	throttle  time.Duration
	heartbeat time.Duration
	pongWait  time.Duration
	retry     Supervisor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// lastSeen is only touched by the read loop.
	lastSeen map[string]time.Time
}

// PushOption configures a PushChannel.
type PushOption func(*PushChannel)

func WithDialer(d *websocket.Dialer) PushOption {
	return func(p *PushChannel) { p.dialer = d }
}

// WithThrottle sets the window in which repeated identical notifications
// are dropped.
func WithThrottle(d time.Duration) PushOption {
	return func(p *PushChannel) { p.throttle = d }
}

// WithHeartbeat sets the ping interval and how long to wait past it for
// any inbound traffic before treating the connection as dead.
func WithHeartbeat(interval, pongWait time.Duration) PushOption {
	return func(p *PushChannel) {
		p.heartbeat = interval
		p.pongWait = pongWait
	}
}

// WithRetry sets the reconnect backoff base and attempt budget.
func WithRetry(base time.Duration, maxAttempts int) PushOption {
	return func(p *PushChannel) {
		p.retry.Base = base
		p.retry.MaxAttempts = maxAttempts
	}
}

func WithPushLogger(l *slog.Logger) PushOption {
	return func(p *PushChannel) { p.logger = l }
}

func WithPushMetrics(m *metrics.Metrics) PushOption {
	return func(p *PushChannel) { p.metrics = m }
}

// NewPushChannel creates a channel that dials url(groupID) on Start.
func NewPushChannel(url func(groupID string) string, opts ...PushOption) *PushChannel {
	p := &PushChannel{
		url:       url,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		throttle:  DefaultThrottle,
		heartbeat: DefaultHeartbeat,
		pongWait:  DefaultPongWait,
		retry:     Supervisor{Base: DefaultRetryBase, MaxAttempts: DefaultRetryMaxAttempts},
		logger:    slog.Default().With("component", "push"),
		now:       time.Now,
		lastSeen:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PushChannel) Start(ctx context.Context, groupID string, notify func(Notification)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrChannelStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, groupID, notify)
	return nil
}

func (p *PushChannel) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *PushChannel) run(ctx context.Context, groupID string, notify func(Notification)) {
	defer close(p.done)

	url := p.url(groupID)
	sup := p.retry
	sup.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.metrics.ReconnectAttempt()
		p.logger.Info("Reconnecting", "group_id", groupID, "attempt", attempt, "delay", delay, "error", err)
	}

	attempted := false
	err := sup.Run(ctx, func(ctx context.Context) (bool, error) {
		reconnect := attempted
		attempted = true

		conn, _, err := p.dialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() == nil {
				notify(Notification{Kind: NotifyInterrupted, Err: err})
			}
			return false, err
		}
		p.logger.Debug("Connected", "group_id", groupID, "reconnect", reconnect)
		notify(Notification{Kind: NotifyConnected, Reconnected: reconnect})

		err = p.session(ctx, conn, notify)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("Connection lost", "group_id", groupID, "error", err)
			notify(Notification{Kind: NotifyInterrupted, Err: err})
		}
		return true, err
	})

	switch {
	case err == nil:
		p.logger.Info("Server closed the connection", "group_id", groupID)
		notify(Notification{Kind: NotifyClosed})
	case ctx.Err() != nil:
	default:
		p.logger.Error("Giving up on real-time updates", "group_id", groupID, "error", err)
		notify(Notification{Kind: NotifyFailed, Err: err})
	}
}

// session reads from conn until it fails. It returns nil on a normal close
// from the server.
func (p *PushChannel) session(ctx context.Context, conn *websocket.Conn, notify func(Notification)) error {
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go p.heartbeatLoop(ctx, conn, stop, writerDone)
	defer func() {
		close(stop)
		<-writerDone
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		conn.SetReadDeadline(p.now().Add(p.heartbeat + p.pongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		p.handle(data, notify)
	}
}

// heartbeatLoop is the only writer of data frames on conn.
func (p *PushChannel) heartbeatLoop(ctx context.Context, conn *websocket.Conn, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	ping, _ := realtime.Encode(realtime.Message{Type: realtime.TypePing})
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				p.now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(p.now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				p.logger.Debug("Ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (p *PushChannel) handle(data []byte, notify func(Notification)) {
	msg, err := realtime.Decode(data)
	if err != nil {
		p.logger.Warn("Dropping malformed message", "error", err)
		return
	}

	switch msg.Type {
	case realtime.TypeRefreshGroup:
		if msg.Action == realtime.ActionEntryUpdated && msg.ReceiptID != "" {
			if p.throttled(string(msg.Type) + "|" + msg.ReceiptID) {
				return
			}
			notify(Notification{Kind: NotifyEntry, EntryIDs: msg.EntryIDs, ReceiptID: msg.ReceiptID})
			return
		}
		if p.throttled(string(msg.Type)) {
			return
		}
		notify(Notification{Kind: NotifyChanged, Action: msg.Action, ReceiptID: msg.ReceiptID, EntryIDs: msg.EntryIDs})
	case realtime.TypeEntryUpdated:
		if p.throttled(string(msg.Type) + "|" + msg.EntryID) {
			return
		}
		notify(Notification{Kind: NotifyEntry, EntryID: msg.EntryID, ReceiptID: msg.ReceiptID})
	case realtime.TypeError:
		p.logger.Warn("Server reported an error", "message", msg.Message)
	}
}

// throttled reports whether key was seen within the throttle window, and
// records it otherwise.
func (p *PushChannel) throttled(key string) bool {
	now := p.now()
	if last, ok := p.lastSeen[key]; ok && now.Sub(last) < p.throttle {
		p.logger.Debug("Throttled duplicate notification", "key", key)
		return true
	}
	p.lastSeen[key] = now
	if len(p.lastSeen) > 256 {
		for k, t := range p.lastSeen {
			if now.Sub(t) >= p.throttle {
				delete(p.lastSeen, k)
			}
		}
	}
	return false
}
