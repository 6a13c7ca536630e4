package split

import (
	"math"
	"sync"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
)

// Detector watches the cumulative distance stream and emits one SplitEvent
// per crossed interval boundary. A single coarse update crossing several
// boundaries yields one event per boundary, each carrying the boundary
// distance rather than the raw distance at detection time.
type Detector struct {
	mu        sync.Mutex
	intervalM float64
	lastIndex int64
}

func NewDetector(intervalM float64) *Detector {
	return &Detector{intervalM: intervalM}
}

// Observe returns the split events crossed by snap, in increasing index
// order; nil when no boundary was crossed.
func (d *Detector) Observe(snap metrics.Snapshot) []message.SplitEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.intervalM <= 0 {
		return nil
	}
	newIndex := int64(math.Floor(snap.DistanceM / d.intervalM))
	if newIndex <= d.lastIndex {
		return nil
	}

	events := make([]message.SplitEvent, 0, newIndex-d.lastIndex)
	for idx := d.lastIndex + 1; idx <= newIndex; idx++ {
		events = append(events, message.SplitEvent{
			SplitIndex: idx,
			DistanceM:  float64(idx) * d.intervalM,
			ElapsedSec: snap.ActiveSec,
		})
	}
	d.lastIndex = newIndex
	return events
}

// LastIndex is the highest boundary crossed so far.
func (d *Detector) LastIndex() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastIndex
}
