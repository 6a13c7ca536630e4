package wearable

import (
	"sync"

	"backend-stridelink/internal/message"

	"go.uber.org/zap"
)

// Display keeps the wearable's copy of the host-rendered metrics. It trusts
// the host completely: updates are applied verbatim, in seq order, and stale
// or duplicate frames are discarded.
type Display struct {
	mu      sync.RWMutex
	log     *zap.Logger
	latest  message.DisplayUpdate
	haveAny bool
	stale   uint64
}

func NewDisplay(log *zap.Logger) *Display {
	if log == nil {
		log = zap.NewNop()
	}
	return &Display{log: log}
}

// Apply installs a display frame. Frames with a seq at or below the current
// one are dropped; reconnect replay makes those routine, not errors.
func (d *Display) Apply(u message.DisplayUpdate) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.haveAny && u.Seq <= d.latest.Seq {
		d.stale++
		return false
	}
	d.latest = u
	d.haveAny = true
	if u.Split != nil {
		d.log.Info("split reached",
			zap.Int64("index", u.Split.SplitIndex),
			zap.Float64("distance_m", u.Split.DistanceM))
	}
	return true
}

// Latest returns the current frame and whether any frame has arrived yet.
func (d *Display) Latest() (message.DisplayUpdate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.haveAny
}

func (d *Display) Stale() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stale
}
