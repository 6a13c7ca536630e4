package split

import (
	"testing"

	"backend-stridelink/internal/metrics"
)

func TestSingleUpdateCrossingMultipleBoundaries(t *testing.T) {
	d := NewDetector(1000)

	// 0 -> 2150m in one coarse update: exactly two events, at the
	// boundaries, not at 2150.
	events := d.Observe(metrics.Snapshot{DistanceM: 2150, ActiveSec: 600})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].SplitIndex != 1 || events[0].DistanceM != 1000 {
		t.Fatalf("first event: %+v", events[0])
	}
	if events[1].SplitIndex != 2 || events[1].DistanceM != 2000 {
		t.Fatalf("second event: %+v", events[1])
	}
}

func TestEventCountMatchesFinalDistance(t *testing.T) {
	d := NewDetector(1000)

	distances := []float64{400, 999, 1001, 1500, 2999.9, 3000, 4750}
	total := 0
	for _, dist := range distances {
		events := d.Observe(metrics.Snapshot{DistanceM: dist})
		for _, ev := range events {
			total++
			if ev.SplitIndex != int64(total) {
				t.Fatalf("indices not strictly increasing: %+v", ev)
			}
		}
	}
	// floor(4750/1000) == 4
	if total != 4 {
		t.Fatalf("expected 4 splits, got %d", total)
	}
	if d.LastIndex() != 4 {
		t.Fatalf("last index: %d", d.LastIndex())
	}
}

func TestNoEventsWithoutProgress(t *testing.T) {
	d := NewDetector(1000)
	if events := d.Observe(metrics.Snapshot{DistanceM: 999}); events != nil {
		t.Fatalf("unexpected events: %+v", events)
	}
	d.Observe(metrics.Snapshot{DistanceM: 1000})
	// Re-observing the same snapshot must not re-emit.
	if events := d.Observe(metrics.Snapshot{DistanceM: 1000}); events != nil {
		t.Fatalf("boundary re-emitted: %+v", events)
	}
}

func TestZeroIntervalDisablesDetector(t *testing.T) {
	d := NewDetector(0)
	if events := d.Observe(metrics.Snapshot{DistanceM: 5000}); events != nil {
		t.Fatalf("expected no events with zero interval")
	}
}
