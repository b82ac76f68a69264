package livesync

import (
	"errors"
	"sync"

	"github.com/mmynk/receiptsync/internal/models"
)

var (
	// ErrInvalidIntent is returned by Apply for an intent that names an
	// unknown entity or would break a ledger invariant. Nothing is applied
	// or sent.
	ErrInvalidIntent = errors.New("invalid intent")

	// ErrDetached is returned by operations on a detached coordinator.
	ErrDetached = errors.New("coordinator detached")

	// ErrNotReady is returned by Apply before the first snapshot is loaded.
	ErrNotReady = errors.New("group view not loaded")
)

// State is the coordinator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
	StateStale
	StateReconciling
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateStale:
		return "stale"
	case StateReconciling:
		return "reconciling"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Reason says why a snapshot was published.
type Reason string

const (
	ReasonInitial    Reason = "initial"    // first load
	ReasonRemote     Reason = "remote"     // group-wide change observed
	ReasonReceipt    Reason = "receipt"    // single receipt refetched
	ReasonOptimistic Reason = "optimistic" // local intent applied before confirmation
	ReasonConfirmed  Reason = "confirmed"  // server accepted an intent
	ReasonRollback   Reason = "rollback"   // server rejected an intent
	ReasonResync     Reason = "resync"     // after reconnect or rejection
	ReasonManual     Reason = "manual"     // Refresh called
)

// ErrorKind classifies Errored events.
type ErrorKind int

const (
	// KindTransport is a recoverable network failure.
	KindTransport ErrorKind = iota
	// KindRejected is a mutation the server refused.
	KindRejected
	// KindTerminal means the sync channel gave up reconnecting.
	KindTerminal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindTerminal:
		return "terminal"
	default:
		return "transport"
	}
}

// Event is one of Refreshed, EntryHighlighted, Errored or StateChanged.
type Event interface {
	isEvent()
}

// Refreshed carries a new immutable snapshot. Consumers must not modify it.
type Refreshed struct {
	Snapshot *models.Group
	Reason   Reason
}

// EntryHighlighted flags an entry another client just changed.
type EntryHighlighted struct {
	EntryID   string
	ReceiptID string
}

// Errored reports a failure. Message is the server's diagnostic text for
// rejections, otherwise the error string.
type Errored struct {
	Kind    ErrorKind
	Err     error
	Message string
}

type StateChanged struct {
	From State
	To   State
}

func (Refreshed) isEvent()        {}
func (EntryHighlighted) isEvent() {}
func (Errored) isEvent()          {}
func (StateChanged) isEvent()     {}

// Handlers receives coordinator events. Nil handlers are skipped. Handlers
// run on a dedicated goroutine, in order, and may call back into the
// coordinator, except for Detach, which waits for them.
type Handlers struct {
	OnRefreshed        func(Refreshed)
	OnEntryHighlighted func(EntryHighlighted)
	OnErrored          func(Errored)
	OnStateChanged     func(StateChanged)
}

func (h Handlers) dispatch(e Event) {
	switch ev := e.(type) {
	case Refreshed:
		if h.OnRefreshed != nil {
			h.OnRefreshed(ev)
		}
	case EntryHighlighted:
		if h.OnEntryHighlighted != nil {
			h.OnEntryHighlighted(ev)
		}
	case Errored:
		if h.OnErrored != nil {
			h.OnErrored(ev)
		}
	case StateChanged:
		if h.OnStateChanged != nil {
			h.OnStateChanged(ev)
		}
	}
}

// eventQueue delivers events to handlers in order without ever blocking
// the producer.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
	done   chan struct{}
}

func newEventQueue(h Handlers) *eventQueue {
	q := &eventQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run(h)
	return q
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

// close stops the queue after the events already pushed are delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *eventQueue) run(h Handlers) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		for _, e := range batch {
			h.dispatch(e)
		}
	}
}
