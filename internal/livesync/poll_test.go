package livesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/receiptsync/internal/models"
)

type fakeProber struct {
	mu     sync.Mutex
	v      models.Version
	err    error
	probes int
}

func (p *fakeProber) GroupVersion(ctx context.Context, groupID string) (models.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.v, p.err
}

func (p *fakeProber) set(v models.Version, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v, p.err = v, err
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

func startPoll(t *testing.T, prober VersionProber, tracker *VersionTracker, opts ...PollOption) (*PollChannel, *noteLog) {
	t.Helper()
	p := NewPollChannel(prober, tracker, opts...)
	log := &noteLog{}
	require.NoError(t, p.Start(context.Background(), "g1", log.add))
	t.Cleanup(p.Stop)
	return p, log
}

func TestPollChannel_NotifiesOnlyOnChange(t *testing.T) {
	prober := &fakeProber{v: "1"}
	tracker := NewVersionTracker()
	tracker.Record("1")
	_, log := startPoll(t, prober, tracker, WithPollInterval(5*time.Millisecond))

	require.Eventually(t, func() bool { return prober.count() >= 3 }, waitFor, tick)
	assert.Equal(t, 0, log.count(NotifyChanged))

	prober.set("2", nil)
	require.Eventually(t, func() bool { return log.count(NotifyChanged) >= 1 }, waitFor, tick)

	// Recorded once the coordinator has refetched.
	tracker.Record("2")
	n := log.count(NotifyChanged)
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, log.count(NotifyChanged), n+1)
}

func TestPollChannel_OwnWriteIsNotAChange(t *testing.T) {
	prober := &fakeProber{v: "1"}
	tracker := NewVersionTracker()
	tracker.Record("1")
	_, log := startPoll(t, prober, tracker, WithPollInterval(5*time.Millisecond))

	// Our mutation lands: the server moves to 2 and we record 2 ourselves.
	tracker.Record("2")
	prober.set("2", nil)

	start := prober.count()
	require.Eventually(t, func() bool { return prober.count() >= start+3 }, waitFor, tick)
	assert.Equal(t, 0, log.count(NotifyChanged))
}

func TestPollChannel_PausesWhileHidden(t *testing.T) {
	prober := &fakeProber{v: "1"}
	tracker := NewVersionTracker()
	tracker.Record("1")
	p, log := startPoll(t, prober, tracker, WithPollInterval(time.Hour))

	p.SetVisible(false)
	prober.set("2", nil)
	assert.Never(t, func() bool { return prober.count() > 0 }, 30*time.Millisecond, tick)

	// Becoming visible checks at once instead of waiting an interval.
	p.SetVisible(true)
	require.Eventually(t, func() bool { return log.count(NotifyChanged) == 1 }, waitFor, tick)
	assert.Equal(t, 1, prober.count())
}

func TestPollChannel_FailureAndRecovery(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	tracker := NewVersionTracker()
	tracker.Record("1")
	_, log := startPoll(t, prober, tracker, WithPollInterval(5*time.Millisecond))

	require.Eventually(t, func() bool { return log.count(NotifyInterrupted) >= 1 }, waitFor, tick)

	prober.set("1", nil)
	require.Eventually(t, func() bool { return log.count(NotifyConnected) == 2 }, waitFor, tick)

	all := log.all()
	assert.False(t, all[0].Reconnected)
	var last Notification
	for _, n := range all {
		if n.Kind == NotifyConnected {
			last = n
		}
	}
	assert.True(t, last.Reconnected)
}
