package livesync

import (
	"context"
	"errors"
	"slices"
)

// ErrChannelStarted is returned when Start is called twice.
var ErrChannelStarted = errors.New("channel already started")

// NotificationKind says what a Channel observed.
type NotificationKind int

const (
	// NotifyChanged means something in the group changed.
	NotifyChanged NotificationKind = iota
	// NotifyEntry means entries of one receipt were edited by someone else.
	NotifyEntry
	// NotifyConnected means the channel is delivering notifications.
	NotifyConnected
	// NotifyInterrupted means notifications may have been missed and the
	// channel is trying to recover.
	NotifyInterrupted
	// NotifyFailed means the channel gave up. No more notifications follow.
	NotifyFailed
	// NotifyClosed means the peer closed the channel cleanly.
	NotifyClosed
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyChanged:
		return "changed"
	case NotifyEntry:
		return "entry"
	case NotifyConnected:
		return "connected"
	case NotifyInterrupted:
		return "interrupted"
	case NotifyFailed:
		return "failed"
	case NotifyClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Notification is a change signal from a Channel. It never carries data;
// the coordinator refetches.
type Notification struct {
	Kind NotificationKind

	// Action and ReceiptID are hints for NotifyChanged and NotifyEntry.
	Action    string
	ReceiptID string

	// EntryID names a single edited entry; EntryIDs a batch of them.
	EntryID  string
	EntryIDs []string

	// Reconnected is set on NotifyConnected when an earlier connection
	// attempt was made, so notifications may have been missed.
	Reconnected bool

	// Err is set on NotifyInterrupted and NotifyFailed.
	Err error
}

// Entries returns every entry the notification names.
func (n Notification) Entries() []string {
	if n.EntryID == "" {
		return n.EntryIDs
	}
	if slices.Contains(n.EntryIDs, n.EntryID) {
		return n.EntryIDs
	}
	return append([]string{n.EntryID}, n.EntryIDs...)
}

// Channel delivers change notifications for one group.
//
// Start returns once the channel is running; notify is then called from
// the channel's own goroutine. Stop ends the channel and waits for it. No
// notification is delivered after Stop returns.
type Channel interface {
	Start(ctx context.Context, groupID string, notify func(Notification)) error
	Stop()
}

// VisibilityAware is implemented by channels that can pause while the view
// is hidden.
type VisibilityAware interface {
	SetVisible(visible bool)
}
