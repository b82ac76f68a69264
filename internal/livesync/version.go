package livesync

import (
	"sync"

	"github.com/mmynk/receiptsync/internal/models"
)

// VersionTracker holds the last group version this view knows about.
//
// Every Record bumps a generation counter. A probe that read the generation
// with Mark before its request can only report a change if nothing was
// recorded in the meantime, and never while one of our own mutations is in
// flight. Together these keep a probe racing our own write from reporting
// it as a remote change.
type VersionTracker struct {
	mu       sync.Mutex
	v        models.Version
	known    bool
	gen      uint64
	inflight int
}

func NewVersionTracker() *VersionTracker {
	return &VersionTracker{}
}

// Record stores v as the latest known version.
func (t *VersionTracker) Record(v models.Version) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.v = v
	t.known = true
	t.gen++
}

// RecordAt stores v only if nothing was recorded since gen was marked.
func (t *VersionTracker) RecordAt(v models.Version, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return false
	}
	t.v = v
	t.known = true
	t.gen++
	return true
}

// Begin marks one of our mutations as in flight. Each Begin must be
// matched by an End once its resulting version is recorded or it failed.
func (t *VersionTracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight++
	t.gen++
}

func (t *VersionTracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight > 0 {
		t.inflight--
	}
	t.gen++
}

// Current returns the latest known version.
func (t *VersionTracker) Current() models.Version {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.v
}

// Mark returns the current generation, to pass to Changed or RecordAt.
func (t *VersionTracker) Mark() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// Changed reports whether a version fetched after Mark differs from the
// known one. It is false when anything was recorded after the mark, while a
// mutation is in flight, or when no version is known yet.
func (t *VersionTracker) Changed(v models.Version, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.known || t.gen != gen || t.inflight > 0 {
		return false
	}
	return v != t.v
}
