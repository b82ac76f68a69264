package livesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/client"
	"github.com/mmynk/receiptsync/internal/metrics"
	"github.com/mmynk/receiptsync/internal/models"
)

// DefaultRequestTimeout bounds every backend call the coordinator makes.
const DefaultRequestTimeout = 10 * time.Second

// Backend is the part of the REST client the coordinator needs.
// *client.Client satisfies it.
type Backend interface {
	VersionProber
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error)
	UpdateGroup(ctx context.Context, groupID string, patch models.GroupPatch) (*models.Group, models.Version, error)
	UpdateReceipt(ctx context.Context, receiptID string, patch models.ReceiptPatch) (*models.Receipt, models.Version, error)
	CreateEntry(ctx context.Context, receiptID string, in models.NewEntry) (*models.Entry, models.Version, error)
	UpdateEntry(ctx context.Context, entryID string, patch models.EntryPatch) (*models.Entry, models.Version, error)
	DeleteEntry(ctx context.Context, receiptID, entryID string) (models.Version, error)
}

var _ Backend = (*client.Client)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHandlers sets the event handlers. They cannot be changed later.
func WithHandlers(h Handlers) Option {
	return func(c *Coordinator) { c.handlers = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracker shares a VersionTracker with the channel, as PollChannel
// requires.
func WithTracker(t *VersionTracker) Option {
	return func(c *Coordinator) { c.tracker = t }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// Coordinator keeps one group view's snapshot in sync with the backend.
// Create one per open view with NewCoordinator and release it with Detach.
type Coordinator struct {
	groupID  string
	backend  Backend
	channel  Channel
	tracker  *VersionTracker
	handlers Handlers
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	cmds       chan func()
	loopDone   chan struct{}
	events     *eventQueue
	detachOnce sync.Once

	// Owned by the loop goroutine.
	state          State
	snapshot       *models.Group
	pending        *PendingTable
	inflight       int // sent intents whose finish has not run
	fetchSeq       uint64
	appliedFull    uint64
	appliedReceipt map[string]uint64
	channelStarted bool
	channelUp      bool
	channelFailed  bool

	// Copies for the read accessors.
	mu          sync.RWMutex
	pubSnapshot *models.Group
	pubState    State
}

// NewCoordinator creates an idle coordinator for groupID. Call Attach to
// load the group and start listening for changes.
func NewCoordinator(groupID string, backend Backend, channel Channel, opts ...Option) *Coordinator {
	c := &Coordinator{
		groupID:        groupID,
		backend:        backend,
		channel:        channel,
		timeout:        DefaultRequestTimeout,
		cmds:           make(chan func(), 64),
		loopDone:       make(chan struct{}),
		pending:        NewPendingTable(),
		appliedReceipt: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracker == nil {
		c.tracker = NewVersionTracker()
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "coordinator")
	}
	c.logger = c.logger.With("group_id", groupID)

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.events = newEventQueue(c.handlers)
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			fn()
		}
	}
}

// post queues fn to run on the loop. It reports false once detached.
func (c *Coordinator) post(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (c *Coordinator) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !c.post(func() { reply <- fn() }) {
		return ErrDetached
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return ErrDetached
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach loads the group and, on success, starts the channel. On failure
// the coordinator is left in StateError and Refresh retries the load.
func (c *Coordinator) Attach(ctx context.Context) error {
	result := make(chan error, 1)
	err := c.call(ctx, func() error {
		if c.state != StateIdle {
			return fmt.Errorf("cannot attach in state %s", c.state)
		}
		c.logger.Info("Attaching group view")
		c.setState(StateLoading)
		c.fetchGroup(ReasonInitial, func(err error) { result <- err })
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-c.ctx.Done():
		return ErrDetached
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply applies intent to the snapshot at once and sends it to the backend.
// It returns after the optimistic snapshot is published; the outcome of the
// send arrives as events. An intent that cannot apply to the current
// snapshot returns ErrInvalidIntent.
func (c *Coordinator) Apply(ctx context.Context, intent Intent) error {
	return c.call(ctx, func() error { return c.apply(intent) })
}

// Refresh schedules a full canonical fetch.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.call(ctx, func() error {
		switch c.state {
		case StateIdle:
			return ErrNotReady
		case StateLoading:
			return nil
		}
		if c.snapshot == nil {
			c.setState(StateLoading)
			c.fetchGroup(ReasonInitial, nil)
			return nil
		}
		c.reconcile(ReasonManual)
		return nil
	})
}

// SetVisible tells the channel whether the view is on screen. Channels that
// cannot pause ignore it.
func (c *Coordinator) SetVisible(visible bool) {
	if v, ok := c.channel.(VisibilityAware); ok {
		v.SetVisible(visible)
	}
}

// Detach stops the channel, cancels in-flight requests, and discards the
// snapshot. Events already queued are delivered before it returns. It is
// safe to call more than once.
func (c *Coordinator) Detach() {
	c.detachOnce.Do(func() {
		c.cancel()
		<-c.loopDone
		if c.channelStarted {
			c.channel.Stop()
		}

		// The loop has exited, so its state is ours now.
		c.metrics.PendingOps(-c.inflight)
		c.inflight = 0
		c.pending.Clear()
		c.snapshot = nil
		c.mu.Lock()
		c.pubSnapshot = nil
		c.mu.Unlock()
		c.setState(StateDisconnected)
		c.logger.Info("Group view detached")
		c.events.close()
	})
}

// Snapshot returns the latest published snapshot, or nil. It must not be
// modified.
func (c *Coordinator) Snapshot() *models.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubSnapshot
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubState
}

// Balances computes the balance report for the current snapshot.
func (c *Coordinator) Balances(engine calculator.Engine) calculator.Report {
	g := c.Snapshot()
	if g == nil {
		return calculator.Report{People: []calculator.PersonBalance{}, Transfers: []calculator.Transfer{}}
	}
	return engine.Report(g)
}

func (c *Coordinator) emit(e Event) {
	c.events.push(e)
}

func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	c.mu.Lock()
	c.pubState = s
	c.mu.Unlock()
	c.logger.Debug("State changed", "from", from, "to", s)
	c.emit(StateChanged{From: from, To: s})
}

func (c *Coordinator) publish(g *models.Group, reason Reason) {
	c.snapshot = g
	c.mu.Lock()
	c.pubSnapshot = g
	c.mu.Unlock()
	c.metrics.Refreshed(string(reason))
	c.emit(Refreshed{Snapshot: g, Reason: reason})
}

// settle picks the resting state after a successful fetch.
func (c *Coordinator) settle() {
	switch {
	case c.channelFailed:
		c.setState(StateError)
	case !c.channelUp:
		c.setState(StateStale)
	default:
		c.setState(StateLive)
	}
}

// reconcile starts a full fetch from a loaded state.
func (c *Coordinator) reconcile(reason Reason) {
	if c.state == StateLive || c.state == StateStale {
		c.setState(StateReconciling)
	}
	c.fetchGroup(reason, nil)
}

func (c *Coordinator) fetchGroup(reason Reason, done func(error)) {
	c.fetchSeq++
	seq := c.fetchSeq
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		g, err := c.backend.GetGroup(ctx, c.groupID)
		cancel()
		c.post(func() { c.applyGroup(seq, reason, g, err, done) })
	}()
}

func (c *Coordinator) applyGroup(seq uint64, reason Reason, g *models.Group, err error, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if seq < c.appliedFull {
		c.logger.Debug("Discarding superseded group fetch", "seq", seq, "applied", c.appliedFull)
		done(nil)
		return
	}
	if err != nil {
		c.fetchFailed("Failed to fetch group", err)
		done(err)
		return
	}

	c.appliedFull = seq
	next := g
	if c.snapshot != nil {
		next = c.pending.Rebase(g, c.snapshot)
		// Receipts refetched after this request was issued are newer.
		for id, rseq := range c.appliedReceipt {
			if rseq <= seq {
				delete(c.appliedReceipt, id)
				continue
			}
			if r, ok := c.snapshot.Receipt(id); ok {
				next = next.WithReceipt(r)
			}
		}
	}

	c.tracker.Record(g.Version)
	c.publish(next, reason)
	c.logger.Debug("Group refreshed", "reason", reason, "version", g.Version, "receipts", len(g.Receipts))

	if !c.channelStarted {
		c.startChannel()
	}
	c.settle()
	done(nil)
}

func (c *Coordinator) fetchReceipt(receiptID string) {
	if c.state == StateLive || c.state == StateStale {
		c.setState(StateReconciling)
	}
	c.fetchSeq++
	seq := c.fetchSeq
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()
		// The version is read first so it can only be older than the
		// receipt, never newer.
		v, err := c.backend.GroupVersion(ctx, c.groupID)
		var r *models.Receipt
		if err == nil {
			r, err = c.backend.GetReceipt(ctx, receiptID)
		}
		c.post(func() { c.applyReceipt(seq, receiptID, r, v, err) })
	}()
}

func (c *Coordinator) applyReceipt(seq uint64, receiptID string, r *models.Receipt, v models.Version, err error) {
	if seq < c.appliedFull || seq < c.appliedReceipt[receiptID] || c.snapshot == nil {
		c.logger.Debug("Discarding superseded receipt fetch", "receipt_id", receiptID, "seq", seq)
		return
	}
	if err != nil {
		if errors.Is(err, client.ErrRejected) {
			// Most likely deleted; the group fetch settles it.
			c.fetchGroup(ReasonRemote, nil)
			return
		}
		c.fetchFailed("Failed to fetch receipt", err)
		return
	}
	if _, ok := c.snapshot.Receipt(receiptID); !ok {
		c.fetchGroup(ReasonRemote, nil)
		return
	}

	c.appliedReceipt[receiptID] = seq
	merged := c.pending.RebaseReceipt(*r, c.snapshot)
	c.tracker.Record(v)
	c.publish(c.snapshot.WithReceipt(merged).WithVersion(v), ReasonReceipt)
	c.settle()
}

func (c *Coordinator) fetchFailed(msg string, err error) {
	if c.ctx.Err() != nil {
		return
	}
	c.logger.Warn(msg, "error", err)
	switch c.state {
	case StateLoading:
		c.setState(StateError)
	case StateError:
	default:
		c.setState(StateStale)
	}
	c.emit(Errored{Kind: KindTransport, Err: err, Message: err.Error()})
}

func (c *Coordinator) startChannel() {
	c.channelStarted = true
	c.channelUp = true
	err := c.channel.Start(c.ctx, c.groupID, func(n Notification) {
		c.post(func() { c.onNotify(n) })
	})
	if err != nil {
		c.channelUp = false
		c.channelFailed = true
		c.logger.Error("Failed to start change channel", "error", err)
		c.emit(Errored{Kind: KindTerminal, Err: err, Message: err.Error()})
	}
}

func (c *Coordinator) onNotify(n Notification) {
	c.metrics.Notified(n.Kind.String())
	if c.snapshot == nil {
		return
	}

	switch n.Kind {
	case NotifyChanged:
		c.logger.Debug("Group changed remotely", "action", n.Action)
		c.highlight(n.EntryIDs, n.ReceiptID)
		c.reconcile(ReasonRemote)

	case NotifyEntry:
		entries := n.Entries()
		c.highlight(entries, n.ReceiptID)
		receiptID := n.ReceiptID
		if receiptID == "" && len(entries) > 0 {
			_, receiptID, _ = c.snapshot.Entry(entries[0])
		}
		if _, ok := c.snapshot.Receipt(receiptID); ok {
			c.fetchReceipt(receiptID)
		} else {
			c.reconcile(ReasonRemote)
		}

	case NotifyConnected:
		wasUp := c.channelUp
		c.channelUp = true
		if n.Reconnected || !wasUp {
			c.logger.Info("Change channel reconnected, resyncing")
			c.reconcile(ReasonResync)
		}

	case NotifyInterrupted:
		c.channelUp = false
		if c.state == StateLive || c.state == StateReconciling {
			c.setState(StateStale)
		}
		c.emit(Errored{Kind: KindTransport, Err: n.Err, Message: errMessage(n.Err)})

	case NotifyFailed:
		c.channelUp = false
		c.channelFailed = true
		c.setState(StateError)
		c.emit(Errored{Kind: KindTerminal, Err: n.Err, Message: errMessage(n.Err)})

	case NotifyClosed:
		c.channelUp = false
		c.setState(StateStale)
		c.emit(Errored{Kind: KindTransport, Message: "real-time updates closed by server"})
	}
}

// highlight flags entries edited elsewhere, skipping our own pending ones.
func (c *Coordinator) highlight(entryIDs []string, receiptID string) {
	for _, id := range entryIDs {
		if c.pending.Has(EntityKey{Kind: EntityEntry, ID: id}) {
			continue
		}
		rid := receiptID
		if rid == "" {
			_, rid, _ = c.snapshot.Entry(id)
		}
		c.emit(EntryHighlighted{EntryID: id, ReceiptID: rid})
	}
}

func (c *Coordinator) apply(intent Intent) error {
	if c.snapshot == nil {
		return ErrNotReady
	}
	p, err := intent.plan(c.snapshot)
	if err != nil {
		return err
	}
	if err := p.next.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIntent, err)
	}

	pre, preOK := lookup(c.snapshot, p.key)
	opID := uuid.NewString()
	c.pending.Add(p.key, pre, preOK, opID)
	c.inflight++
	c.metrics.PendingOps(1)
	c.publish(p.next, ReasonOptimistic)
	c.tracker.Begin()

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		out, err := p.send(ctx, c.backend)
		cancel()
		c.post(func() { c.finish(p.key, opID, out, err) })
	}()
	return nil
}

// finish settles one sent intent.
func (c *Coordinator) finish(key EntityKey, opID string, out outcome, err error) {
	c.inflight--
	c.metrics.PendingOps(-1)
	if err != nil {
		c.tracker.End()
		c.rollback(key, err)
		return
	}

	last, tracked := c.pending.Complete(key, opID)
	next := c.snapshot
	if last {
		if out.key != key {
			next = install(next, key, nil, false)
		}
		next = install(next, out.key, out.value, out.present)
	} else if !tracked {
		c.logger.Debug("Confirmation for a rolled back entity", "kind", key.Kind, "id", key.ID)
	}

	if out.version != "" {
		c.tracker.Record(out.version)
		c.tracker.End()
		next = next.WithVersion(out.version)
	} else {
		c.fetchVersion()
	}
	c.publish(next, ReasonConfirmed)
}

// rollback restores the entity's pre-image and refetches the group.
func (c *Coordinator) rollback(key EntityKey, err error) {
	if pre, preOK, ok := c.pending.Drop(key); ok {
		c.publish(install(c.snapshot, key, pre, preOK), ReasonRollback)
	}
	c.metrics.RolledBack()

	ev := Errored{Kind: KindTransport, Err: err, Message: err.Error()}
	var se *client.StatusError
	if errors.As(err, &se) {
		ev.Kind = KindRejected
		ev.Message = se.Body
	}
	c.logger.Warn("Change not saved, rolled back", "kind", ev.Kind, "error", err)
	c.emit(ev)
	c.reconcile(ReasonResync)
}

// fetchVersion records the current group version after a mutation whose
// response carried none, then ends the mutation on the tracker. Nothing is
// recorded if another version landed meanwhile.
func (c *Coordinator) fetchVersion() {
	gen := c.tracker.Mark()
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		v, err := c.backend.GroupVersion(ctx, c.groupID)
		cancel()
		if err != nil {
			c.logger.Debug("Failed to fetch version", "error", err)
			c.post(c.tracker.End)
			return
		}
		c.post(func() {
			defer c.tracker.End()
			if c.snapshot != nil && c.tracker.RecordAt(v, gen) {
				c.snapshot = c.snapshot.WithVersion(v)
				c.mu.Lock()
				c.pubSnapshot = c.snapshot
				c.mu.Unlock()
			}
		})
	}()
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
