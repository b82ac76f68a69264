package livesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/receiptsync/internal/models"
)

// DefaultPollInterval is how often PollChannel checks the group version.
const DefaultPollInterval = 5 * time.Second

// VersionProber reads a group's current version.
type VersionProber interface {
	GroupVersion(ctx context.Context, groupID string) (models.Version, error)
}

// PollChannel detects changes by comparing the group's version with the
// one held in a VersionTracker. The tracker must be the one the
// coordinator records into, so the view's own writes are not reported.
//
// Polling pauses while the view is hidden and checks once immediately when
// it becomes visible again.
//
// Only versions are compared, so a remote change that lands on the server
// just before one of the view's own writes is hidden behind that write's
// version until something changes again. PushChannel does not have this
// gap, since the server names every change it broadcasts.
type PollChannel struct {
	prober   VersionProber
	tracker  *VersionTracker
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	visible bool
	started bool
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

type PollOption func(*PollChannel)

func WithPollInterval(d time.Duration) PollOption {
	return func(p *PollChannel) { p.interval = d }
}

func WithPollLogger(l *slog.Logger) PollOption {
	return func(p *PollChannel) { p.logger = l }
}

func NewPollChannel(prober VersionProber, tracker *VersionTracker, opts ...PollOption) *PollChannel {
	p := &PollChannel{
		prober:   prober,
		tracker:  tracker,
		interval: DefaultPollInterval,
		timeout:  10 * time.Second,
		logger:   slog.Default().With("component", "poll"),
		visible:  true,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PollChannel) Start(ctx context.Context, groupID string, notify func(Notification)) error {
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

func (p *PollChannel) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetVisible pauses polling when false and resumes it, with an immediate
// check, when true.
func (p *PollChannel) SetVisible(visible bool) {
	p.mu.Lock()
	changed := p.visible != visible
	p.visible = visible
	p.mu.Unlock()
	if !changed {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PollChannel) isVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

func (p *PollChannel) run(ctx context.Context, groupID string, notify func(Notification)) {
	defer close(p.done)

	notify(Notification{Kind: NotifyConnected})

	failing := false
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	if !p.isVisible() {
		timer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			if !p.isVisible() {
				timer.Stop()
				p.logger.Debug("Polling paused", "group_id", groupID)
				continue
			}
			p.logger.Debug("Polling resumed", "group_id", groupID)
		case <-timer.C:
			if !p.isVisible() {
				continue
			}
		}

		failing = p.check(ctx, groupID, failing, notify)
		timer.Reset(p.interval)
	}
}

// check probes the version once and returns whether the probe failed.
func (p *PollChannel) check(ctx context.Context, groupID string, failing bool, notify func(Notification)) bool {
	gen := p.tracker.Mark()

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	v, err := p.prober.GroupVersion(probeCtx, groupID)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return failing
		}
		p.logger.Warn("Version check failed", "group_id", groupID, "error", err)
		notify(Notification{Kind: NotifyInterrupted, Err: err})
		return true
	}
	if failing {
		notify(Notification{Kind: NotifyConnected, Reconnected: true})
		return false
	}
	if p.tracker.Changed(v, gen) {
		p.logger.Debug("Version changed", "group_id", groupID, "version", v)
		notify(Notification{Kind: NotifyChanged, Action: "version_changed"})
	}
	return false
}
