package livesync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/client"
	"github.com/mmynk/receiptsync/internal/metrics"
	"github.com/mmynk/receiptsync/internal/models"
)

func assignees(t *testing.T, g *models.Group, entryID string) []string {
	t.Helper()
	e, _, ok := g.Entry(entryID)
	require.True(t, ok, "entry %s missing", entryID)
	return e.AssignedTo
}

func TestCoordinator_AttachGoesLive(t *testing.T) {
	b := newFakeBackend(fixture())
	c, ch, rec := attached(t, b)

	assert.Equal(t, StateLive, c.State())
	assert.True(t, ch.isStarted())
	require.NotNil(t, c.Snapshot())
	assert.Equal(t, "Trip", c.Snapshot().Name)

	require.Eventually(t, func() bool {
		return slices.Contains(rec.all(), Event(StateChanged{From: StateLoading, To: StateLive}))
	}, waitFor, tick)
	assert.Len(t, rec.refreshes(ReasonInitial), 1)
	assert.Contains(t, rec.all(), Event(StateChanged{From: StateIdle, To: StateLoading}))
}

func TestCoordinator_AttachFailureThenRefresh(t *testing.T) {
	b := newFakeBackend(fixture())
	b.setGroupErr(errors.New("connection refused"))

	ch := &fakeChannel{}
	rec := &recorder{}
	c := NewCoordinator("g1", b, ch, WithHandlers(rec.handlers()))
	t.Cleanup(c.Detach)

	err := c.Attach(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, c.State())
	assert.False(t, ch.isStarted())
	require.Eventually(t, func() bool { return len(rec.errors(KindTransport)) == 1 }, waitFor, tick)

	b.setGroupErr(nil)
	require.NoError(t, c.Refresh(context.Background()))
	require.Eventually(t, func() bool { return c.State() == StateLive }, waitFor, tick)
	assert.True(t, ch.isStarted())
}

func TestCoordinator_OptimisticToggleConfirmed(t *testing.T) {
	b := newFakeBackend(fixture())
	tracker := NewVersionTracker()
	c, _, rec := attached(t, b, WithTracker(tracker))
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, ToggleAssignment{EntryID: "e1", Person: "A"}))
	assert.Equal(t, []string{"A"}, assignees(t, c.Snapshot(), "e1"))

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonConfirmed)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"A"}, assignees(t, c.Snapshot(), "e1"))
	assert.Equal(t, models.Version("1"), c.Snapshot().Version)
	assert.Equal(t, models.Version("1"), tracker.Current())
	assert.Equal(t, []string{"A"}, assignees(t, b.current(), "e1"))
	assert.Len(t, rec.refreshes(ReasonOptimistic), 1)
}

func TestCoordinator_RejectedToggleRollsBack(t *testing.T) {
	b := newFakeBackend(fixture())
	b.mutateErr = &client.StatusError{Code: http.StatusConflict, Body: "person is not on this receipt"}
	c, _, rec := attached(t, b)
	canonical := c.Snapshot()

	require.NoError(t, c.Apply(context.Background(), ToggleAssignment{EntryID: "e1", Person: "A"}))

	require.Eventually(t, func() bool { return len(rec.errors(KindRejected)) == 1 }, waitFor, tick)
	assert.Equal(t, "person is not on this receipt", rec.errors(KindRejected)[0].Message)

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonResync)) == 1 }, waitFor, tick)
	assert.Equal(t, canonical, c.Snapshot())
	assert.Equal(t, []string{}, assignees(t, c.Snapshot(), "e1"))
	assert.Len(t, rec.refreshes(ReasonRollback), 1)
	require.Eventually(t, func() bool { return c.State() == StateLive }, waitFor, tick)
}

func TestCoordinator_TransportFailureRollsBack(t *testing.T) {
	b := newFakeBackend(fixture())
	b.mutateErr = errors.New("connection reset")
	c, _, rec := attached(t, b)

	require.NoError(t, c.Apply(context.Background(), SetProcessed{ReceiptID: "r1", Processed: true}))
	assert.True(t, c.Snapshot().Receipts[0].Processed)

	require.Eventually(t, func() bool { return len(rec.errors(KindTransport)) == 1 }, waitFor, tick)
	assert.Len(t, rec.refreshes(ReasonRollback), 1)
	assert.False(t, c.Snapshot().Receipts[0].Processed)
	assert.Empty(t, rec.errors(KindRejected))
}

func TestCoordinator_InvalidIntents(t *testing.T) {
	b := newFakeBackend(fixture())
	c, _, rec := attached(t, b)
	ctx := context.Background()
	before := c.Snapshot()

	tests := []struct {
		name   string
		intent Intent
	}{
		{"unknown entry", ToggleAssignment{EntryID: "nope", Person: "A"}},
		{"assignee not on receipt", ToggleAssignment{EntryID: "e1", Person: "Z"}},
		{"payer not on receipt", SetPaidBy{ReceiptID: "r1", Person: "Z"}},
		{"unknown receipt", SetProcessed{ReceiptID: "nope", Processed: true}},
		{"negative price", UpdateEntry{EntryID: "e1", Patch: models.EntryPatch{Price: models.Ptr(-1.0)}}},
		{"receipt person not in group", SetReceiptPeople{ReceiptID: "r1", People: []string{"A", "Z"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Apply(ctx, tt.intent)
			assert.ErrorIs(t, err, ErrInvalidIntent)
		})
	}

	assert.Same(t, before, c.Snapshot())
	assert.Empty(t, rec.refreshes(ReasonOptimistic))
}

func TestCoordinator_SupersededFetchIgnored(t *testing.T) {
	b := newFakeBackend(fixture())
	gate := make(chan struct{})
	b.getGroupHook = func(call int) {
		if call == 2 {
			<-gate
		}
	}
	c, ch, _ := attached(t, b)

	b.mutate(func(g *models.Group) { g.Name = "Older" })
	ch.send(Notification{Kind: NotifyChanged})
	require.Eventually(t, func() bool { return b.calls() == 2 }, waitFor, tick)

	b.mutate(func(g *models.Group) { g.Name = "Newer" })
	ch.send(Notification{Kind: NotifyChanged})
	require.Eventually(t, func() bool { return c.Snapshot().Name == "Newer" }, waitFor, tick)

	close(gate)
	assert.Never(t, func() bool { return c.Snapshot().Name == "Older" }, 100*time.Millisecond, tick)
}

func TestCoordinator_SameRefreshTwiceIsIdentical(t *testing.T) {
	b := newFakeBackend(fixture())
	c, _, rec := attached(t, b)
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonManual)) == 1 }, waitFor, tick)
	first := c.Snapshot()

	require.NoError(t, c.Refresh(ctx))
	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonManual)) == 2 }, waitFor, tick)
	assert.Equal(t, first, c.Snapshot())
}

func TestCoordinator_PendingEntitySurvivesRemoteRefresh(t *testing.T) {
	b := newFakeBackend(fixture())
	b.entryGate = make(chan struct{})
	c, ch, rec := attached(t, b)

	require.NoError(t, c.Apply(context.Background(), ToggleAssignment{EntryID: "e1", Person: "B"}))

	b.mutate(func(g *models.Group) { g.Receipts[0].Name = "Fuel stop" })
	ch.send(Notification{Kind: NotifyChanged, Action: "receipt_updated"})

	require.Eventually(t, func() bool { return c.Snapshot().Receipts[0].Name == "Fuel stop" }, waitFor, tick)
	assert.Equal(t, []string{"B"}, assignees(t, c.Snapshot(), "e1"))

	close(b.entryGate)
	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonConfirmed)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"B"}, assignees(t, c.Snapshot(), "e1"))
	assert.Equal(t, "Fuel stop", c.Snapshot().Receipts[0].Name)
}

func TestCoordinator_EntryNotification(t *testing.T) {
	b := newFakeBackend(fixture())
	tracker := NewVersionTracker()
	c, ch, rec := attached(t, b, WithTracker(tracker))

	v := b.mutate(func(g *models.Group) { g.Receipts[0].Entries[0].Price = 12 })
	ch.send(Notification{Kind: NotifyEntry, EntryID: "e1", ReceiptID: "r1"})

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonReceipt)) == 1 }, waitFor, tick)
	e, _, _ := c.Snapshot().Entry("e1")
	assert.Equal(t, 12.0, e.Price)
	assert.Equal(t, v, c.Snapshot().Version)
	assert.Equal(t, v, tracker.Current())
	assert.Equal(t, []EntryHighlighted{{EntryID: "e1", ReceiptID: "r1"}}, rec.highlights())
}

func TestCoordinator_NoHighlightForPendingEntry(t *testing.T) {
	b := newFakeBackend(fixture())
	b.entryGate = make(chan struct{})
	c, ch, rec := attached(t, b)
	defer close(b.entryGate)

	require.NoError(t, c.Apply(context.Background(), ToggleAssignment{EntryID: "e1", Person: "A"}))
	ch.send(Notification{Kind: NotifyEntry, EntryID: "e1"})

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonReceipt)) == 1 }, waitFor, tick)
	assert.Empty(t, rec.highlights())
	assert.Equal(t, []string{"A"}, assignees(t, c.Snapshot(), "e1"))
}

func TestCoordinator_BatchedEntryNotification(t *testing.T) {
	b := newFakeBackend(fixture())
	c, ch, rec := attached(t, b)
	calls := b.calls()

	b.mutate(func(g *models.Group) {
		g.Receipts[0].Entries[0].Price = 12
		g.Receipts[0].Entries = append(g.Receipts[0].Entries, models.Entry{
			ID: "e2", ReceiptID: "r1", Name: "Snacks", Price: 4, AssignedTo: []string{},
		})
	})
	ch.send(Notification{Kind: NotifyEntry, ReceiptID: "r1", EntryIDs: []string{"e1", "e2"}})

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonReceipt)) == 1 }, waitFor, tick)
	e, _, ok := c.Snapshot().Entry("e2")
	require.True(t, ok)
	assert.Equal(t, 4.0, e.Price)
	assert.Equal(t, []EntryHighlighted{{EntryID: "e1", ReceiptID: "r1"}, {EntryID: "e2", ReceiptID: "r1"}}, rec.highlights())
	assert.Empty(t, rec.refreshes(ReasonRemote))
	assert.Equal(t, calls, b.calls(), "no full group fetch")
}

func TestNotification_Entries(t *testing.T) {
	assert.Equal(t, []string{"e1"}, Notification{EntryID: "e1"}.Entries())
	assert.Equal(t, []string{"e1", "e2"}, Notification{EntryIDs: []string{"e1", "e2"}}.Entries())
	assert.Equal(t, []string{"e1", "e2"}, Notification{EntryID: "e1", EntryIDs: []string{"e1", "e2"}}.Entries())
	assert.Equal(t, []string{"e0", "e1"}, Notification{EntryID: "e0", EntryIDs: []string{"e1"}}.Entries())
	assert.Empty(t, Notification{}.Entries())
}

func TestCoordinator_EntryNotificationForUnknownReceipt(t *testing.T) {
	b := newFakeBackend(fixture())
	c, ch, rec := attached(t, b)

	b.mutate(func(g *models.Group) {
		g.Receipts = append(g.Receipts, models.Receipt{ID: "r2", GroupID: "g1", Name: "Dinner", People: []string{"A"}, Entries: []models.Entry{}})
	})
	ch.send(Notification{Kind: NotifyEntry, EntryID: "e9", ReceiptID: "r2"})

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonRemote)) == 1 }, waitFor, tick)
	assert.Len(t, c.Snapshot().Receipts, 2)
}

func TestCoordinator_AddAndDeleteEntry(t *testing.T) {
	b := newFakeBackend(fixture())
	c, _, rec := attached(t, b)
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, AddEntry{ReceiptID: "r1", Entry: models.NewEntry{Name: "Snacks", Price: 4}}))
	entries := c.Snapshot().Receipts[0].Entries
	require.Len(t, entries, 2)
	assert.True(t, strings.HasPrefix(entries[1].ID, TempIDPrefix))

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonConfirmed)) == 1 }, waitFor, tick)
	entries = c.Snapshot().Receipts[0].Entries
	require.Len(t, entries, 2)
	assert.Equal(t, "e-1", entries[1].ID)
	assert.Equal(t, "Snacks", entries[1].Name)

	require.NoError(t, c.Apply(ctx, DeleteEntry{EntryID: "e1"}))
	assert.Len(t, c.Snapshot().Receipts[0].Entries, 1)
	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonConfirmed)) == 2 }, waitFor, tick)
	assert.Len(t, c.Snapshot().Receipts[0].Entries, 1)
	assert.Len(t, b.current().Receipts[0].Entries, 1)
}

func TestCoordinator_SetGroupPeoplePrunesReceipts(t *testing.T) {
	b := newFakeBackend(fixture())
	c, _, rec := attached(t, b)
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, SetGroupPeople{People: []string{"A"}}))
	assert.Equal(t, []string{"A"}, c.Snapshot().People)
	assert.Equal(t, []string{"A"}, c.Snapshot().Receipts[0].People)

	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonConfirmed)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"A"}, b.current().People)

	// B pays for a receipt, so B cannot leave.
	require.NoError(t, c.Apply(ctx, SetGroupPeople{People: []string{"A", "B"}}))
	require.NoError(t, c.Apply(ctx, SetReceiptPeople{ReceiptID: "r1", People: []string{"A", "B"}}))
	require.NoError(t, c.Apply(ctx, SetPaidBy{ReceiptID: "r1", Person: "B"}))
	err := c.Apply(ctx, SetGroupPeople{People: []string{"A"}})
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestCoordinator_MissingVersionIsFetched(t *testing.T) {
	b := newFakeBackend(fixture())
	b.omitVersion = true
	tracker := NewVersionTracker()
	c, _, rec := attached(t, b, WithTracker(tracker))

	require.NoError(t, c.Apply(context.Background(), SetProcessed{ReceiptID: "r1", Processed: true}))
	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonConfirmed)) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return c.Snapshot().Version == "1" }, waitFor, tick)
	assert.Equal(t, models.Version("1"), tracker.Current())
}

func TestCoordinator_ChannelLifecycle(t *testing.T) {
	b := newFakeBackend(fixture())
	c, ch, rec := attached(t, b)

	ch.send(Notification{Kind: NotifyInterrupted, Err: errors.New("read: connection reset")})
	require.Eventually(t, func() bool { return len(rec.errors(KindTransport)) == 1 }, waitFor, tick)
	assert.Equal(t, StateStale, c.State())

	b.mutate(func(g *models.Group) { g.Name = "Renamed while away" })
	ch.send(Notification{Kind: NotifyConnected, Reconnected: true})
	require.Eventually(t, func() bool { return len(rec.refreshes(ReasonResync)) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return c.State() == StateLive }, waitFor, tick)
	assert.Equal(t, "Renamed while away", c.Snapshot().Name)

	ch.send(Notification{Kind: NotifyFailed, Err: ErrRetriesExhausted})
	require.Eventually(t, func() bool { return len(rec.errors(KindTerminal)) == 1 }, waitFor, tick)
	assert.Equal(t, StateError, c.State())

	// Still usable, just not live.
	require.NoError(t, c.Apply(context.Background(), SetProcessed{ReceiptID: "r1", Processed: true}))
}

func TestCoordinator_Detach(t *testing.T) {
	b := newFakeBackend(fixture())
	c, ch, rec := attached(t, b)

	c.Detach()
	assert.Equal(t, StateDisconnected, c.State())
	assert.Nil(t, c.Snapshot())
	assert.True(t, ch.isStopped())
	assert.Contains(t, rec.all(), Event(StateChanged{From: StateLive, To: StateDisconnected}))

	err := c.Apply(context.Background(), ToggleAssignment{EntryID: "e1", Person: "A"})
	assert.ErrorIs(t, err, ErrDetached)
	assert.ErrorIs(t, c.Refresh(context.Background()), ErrDetached)
	c.Detach()
}

func TestCoordinator_SetVisibleForwarded(t *testing.T) {
	b := newFakeBackend(fixture())
	c, ch, _ := attached(t, b)

	c.SetVisible(false)
	c.SetVisible(true)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, []bool{false, true}, ch.visible)
}

func TestCoordinator_Balances(t *testing.T) {
	b := newFakeBackend(fixture())
	c, _, _ := attached(t, b)

	report := c.Balances(calculator.Default)
	assert.InDelta(t, 10.70, report.UnprocessedTotal, 1e-9)
	require.Len(t, report.People, 2)
	assert.InDelta(t, 5.35, report.People[0].Share, 1e-9)

	c.Detach()
	report = c.Balances(calculator.Default)
	assert.Empty(t, report.People)
}

func TestCoordinator_DetachSettlesPendingGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := newFakeBackend(fixture())
	b.entryGate = make(chan struct{})
	c, _, _ := attached(t, b, WithMetrics(metrics.New(reg)))

	// Two sends on one entity share a single pending record.
	require.NoError(t, c.Apply(context.Background(), ToggleAssignment{EntryID: "e1", Person: "A"}))
	require.NoError(t, c.Apply(context.Background(), ToggleAssignment{EntryID: "e1", Person: "B"}))
	assert.Contains(t, scrape(t, reg), "receiptsync_sync_pending_operations 2")

	c.Detach()
	close(b.entryGate)
	assert.Contains(t, scrape(t, reg), "receiptsync_sync_pending_operations 0")
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
