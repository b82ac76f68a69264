package livesync

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mmynk/receiptsync/internal/client"
	"github.com/mmynk/receiptsync/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fixture() *models.Group {
	return &models.Group{
		ID:      "g1",
		Name:    "Trip",
		People:  []string{"A", "B"},
		Version: "0",
		Receipts: []models.Receipt{{
			ID:      "r1",
			GroupID: "g1",
			Name:    "Fuel",
			People:  []string{"A", "B"},
			Entries: []models.Entry{{
				ID:         "e1",
				ReceiptID:  "r1",
				Name:       "Diesel",
				Price:      10,
				Taxable:    true,
				AssignedTo: []string{},
			}},
		}},
	}
}

// fakeBackend is an in-memory Backend. Every mutation bumps the version.
type fakeBackend struct {
	mu      sync.Mutex
	group   *models.Group
	version int
	nextID  int

	groupCalls   int
	versionCalls int

	// getGroupHook runs after the group is read, outside the lock.
	getGroupHook func(call int)
	groupErr     error
	versionErr   error
	mutateErr    error
	omitVersion  bool

	// entryGate, when set, holds entry updates until closed.
	entryGate chan struct{}
}

func newFakeBackend(g *models.Group) *fakeBackend {
	return &fakeBackend{group: g}
}

func (b *fakeBackend) current() *models.Group {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.group.Clone()
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.groupCalls
}

func (b *fakeBackend) setGroupErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groupErr = err
}

// mutate changes the group as another client would.
func (b *fakeBackend) mutate(fn func(g *models.Group)) models.Version {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := b.group.Clone()
	fn(g)
	b.group = g
	return b.bumpLocked()
}

func (b *fakeBackend) bumpLocked() models.Version {
	b.version++
	b.group.Version = models.Version(strconv.Itoa(b.version))
	return b.group.Version
}

func (b *fakeBackend) returned(v models.Version) models.Version {
	if b.omitVersion {
		return ""
	}
	return v
}

func (b *fakeBackend) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	b.mu.Lock()
	b.groupCalls++
	call, hook, err := b.groupCalls, b.getGroupHook, b.groupErr
	g := b.group.Clone()
	b.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (b *fakeBackend) GroupVersion(ctx context.Context, groupID string) (models.Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versionCalls++
	if b.versionErr != nil {
		return "", b.versionErr
	}
	return b.group.Version, nil
}

func (b *fakeBackend) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.group.Receipt(receiptID)
	if !ok {
		return nil, &client.StatusError{Code: http.StatusNotFound, Body: "receipt not found"}
	}
	r = r.Clone()
	return &r, nil
}

func (b *fakeBackend) UpdateGroup(ctx context.Context, groupID string, patch models.GroupPatch) (*models.Group, models.Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return nil, "", b.mutateErr
	}
	b.group = pruneReceiptPeople(patch.Apply(b.group)).Clone()
	v := b.bumpLocked()
	return b.group.Clone(), b.returned(v), nil
}

func (b *fakeBackend) UpdateReceipt(ctx context.Context, receiptID string, patch models.ReceiptPatch) (*models.Receipt, models.Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return nil, "", b.mutateErr
	}
	r, ok := b.group.Receipt(receiptID)
	if !ok {
		return nil, "", &client.StatusError{Code: http.StatusNotFound, Body: "receipt not found"}
	}
	r = patch.Apply(r).Clone()
	b.group = b.group.WithReceipt(r)
	v := b.bumpLocked()
	return &r, b.returned(v), nil
}

func (b *fakeBackend) CreateEntry(ctx context.Context, receiptID string, in models.NewEntry) (*models.Entry, models.Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return nil, "", b.mutateErr
	}
	b.nextID++
	e := models.Entry{
		ID:         fmt.Sprintf("e-%d", b.nextID),
		ReceiptID:  receiptID,
		Name:       in.Name,
		Price:      in.Price,
		Taxable:    in.Taxable,
		AssignedTo: slices.Clone(in.AssignedTo),
	}
	if e.AssignedTo == nil {
		e.AssignedTo = []string{}
	}
	g, ok := b.group.WithEntry(e)
	if !ok {
		return nil, "", &client.StatusError{Code: http.StatusNotFound, Body: "receipt not found"}
	}
	b.group = g
	v := b.bumpLocked()
	return &e, b.returned(v), nil
}

func (b *fakeBackend) UpdateEntry(ctx context.Context, entryID string, patch models.EntryPatch) (*models.Entry, models.Version, error) {
	b.mu.Lock()
	gate := b.entryGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return nil, "", b.mutateErr
	}
	e, _, ok := b.group.Entry(entryID)
	if !ok {
		return nil, "", &client.StatusError{Code: http.StatusNotFound, Body: "entry not found"}
	}
	e = patch.Apply(e)
	b.group, _ = b.group.WithEntry(e)
	v := b.bumpLocked()
	return &e, b.returned(v), nil
}

func (b *fakeBackend) DeleteEntry(ctx context.Context, receiptID, entryID string) (models.Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return "", b.mutateErr
	}
	r, ok := b.group.Receipt(receiptID)
	if !ok || r.EntryIndex(entryID) < 0 {
		return "", &client.StatusError{Code: http.StatusNotFound, Body: "entry not found"}
	}
	b.group = b.group.WithReceipt(r.WithoutEntry(entryID))
	return b.returned(b.bumpLocked()), nil
}

// fakeChannel lets tests drive notifications by hand.
type fakeChannel struct {
	mu      sync.Mutex
	notify  func(Notification)
	started bool
	stopped bool
	visible []bool
}

func (f *fakeChannel) Start(ctx context.Context, groupID string, notify func(Notification)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return ErrChannelStarted
	}
	f.started = true
	f.notify = notify
	return nil
}

func (f *fakeChannel) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeChannel) SetVisible(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = append(f.visible, v)
}

func (f *fakeChannel) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeChannel) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeChannel) send(n Notification) {
	f.mu.Lock()
	notify := f.notify
	f.mu.Unlock()
	notify(n)
}

// recorder collects coordinator events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handlers() Handlers {
	add := func(e Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}
	return Handlers{
		OnRefreshed:        func(e Refreshed) { add(e) },
		OnEntryHighlighted: func(e EntryHighlighted) { add(e) },
		OnErrored:          func(e Errored) { add(e) },
		OnStateChanged:     func(e StateChanged) { add(e) },
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) refreshes(reason Reason) []Refreshed {
	var out []Refreshed
	for _, e := range r.all() {
		if ev, ok := e.(Refreshed); ok && ev.Reason == reason {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) errors(kind ErrorKind) []Errored {
	var out []Errored
	for _, e := range r.all() {
		if ev, ok := e.(Errored); ok && ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) highlights() []EntryHighlighted {
	var out []EntryHighlighted
	for _, e := range r.all() {
		if ev, ok := e.(EntryHighlighted); ok {
			out = append(out, ev)
		}
	}
	return out
}

// attached returns a live coordinator over a fake backend and channel.
func attached(t *testing.T, b *fakeBackend, opts ...Option) (*Coordinator, *fakeChannel, *recorder) {
	t.Helper()
	ch := &fakeChannel{}
	rec := &recorder{}
	opts = append([]Option{WithHandlers(rec.handlers())}, opts...)
	c := NewCoordinator("g1", b, ch, opts...)
	t.Cleanup(c.Detach)

	if err := c.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return c, ch, rec
}
