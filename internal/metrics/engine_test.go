package metrics

import (
	"math"
	"sync"
	"testing"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/session"
)

var testStart = time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)

func activeContext() *session.Context {
	return &session.Context{
		SessionID: "s-1",
		State:     session.Active,
		StartedAt: testStart,
		Config: message.SessionConfig{
			UserWeightKg:      70,
			SplitIntervalM:    1000,
			CalorieAdjustment: 1.0,
			PaceWindowSec:     30,
		},
	}
}

func hr(seq uint64, at time.Time, bpm int) message.Sample {
	return message.Sample{Kind: message.SampleHeartRate, CapturedAt: at, Seq: seq, HeartRate: &message.HeartRatePayload{Bpm: bpm}}
}

func fix(seq uint64, at time.Time, lat, lng float64) message.Sample {
	return message.Sample{Kind: message.SampleGPSFix, CapturedAt: at, Seq: seq, GPS: &message.GPSPayload{Lat: lat, Lng: lng}}
}

func elev(seq uint64, at time.Time, delta float64) message.Sample {
	return message.Sample{Kind: message.SampleElevationDelta, CapturedAt: at, Seq: seq, Elevation: &message.ElevationPayload{DeltaM: delta}}
}

func TestHeartRateAggregates(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Bind(activeContext())

	bpms := []int{120, 150, 130}
	for i, bpm := range bpms {
		e.Apply(hr(uint64(i+1), testStart.Add(time.Duration(i+1)*time.Second), bpm))
	}

	snap := e.Snapshot()
	if snap.HeartRateCurrent != 130 {
		t.Fatalf("current: %d", snap.HeartRateCurrent)
	}
	if snap.HeartRateMax != 150 || snap.HeartRateMin != 120 {
		t.Fatalf("max/min: %d/%d", snap.HeartRateMax, snap.HeartRateMin)
	}
	if math.Abs(snap.HeartRateAvg-400.0/3) > 1e-9 {
		t.Fatalf("avg: %v", snap.HeartRateAvg)
	}
}

func TestDistanceAndElevation(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Bind(activeContext())

	// ~11.1m per 0.0001 deg of latitude at the equator.
	e.Apply(fix(1, testStart.Add(1*time.Second), 0, 0))
	e.Apply(fix(2, testStart.Add(11*time.Second), 0.0001, 0))
	e.Apply(fix(3, testStart.Add(21*time.Second), 0.0002, 0))
	e.Apply(elev(4, testStart.Add(22*time.Second), 3.5))
	e.Apply(elev(5, testStart.Add(23*time.Second), -2.0))
	e.Apply(elev(6, testStart.Add(24*time.Second), 1.5))

	snap := e.Snapshot()
	if snap.DistanceM < 20 || snap.DistanceM > 25 {
		t.Fatalf("distance: %v", snap.DistanceM)
	}
	if snap.ElevationGainM != 5.0 {
		t.Fatalf("gain must exclude descent: %v", snap.ElevationGainM)
	}
	if snap.ElevationLossM != 2.0 {
		t.Fatalf("loss: %v", snap.ElevationLossM)
	}
}

// Replayed and duplicated deliveries must reduce to the same snapshot as an
// exactly-once, in-order stream.
func TestReplayIdempotence(t *testing.T) {
	samples := []message.Sample{
		fix(1, testStart.Add(1*time.Second), 0, 0),
		hr(2, testStart.Add(2*time.Second), 140),
		fix(3, testStart.Add(12*time.Second), 0.0001, 0),
		elev(4, testStart.Add(13*time.Second), 2.0),
		fix(5, testStart.Add(22*time.Second), 0.0002, 0),
		hr(6, testStart.Add(23*time.Second), 155),
	}

	clean := NewEngine(nil, nil)
	clean.Bind(activeContext())
	for _, s := range samples {
		clean.Apply(s)
	}

	replayed := NewEngine(nil, nil)
	replayed.Bind(activeContext())
	// First epoch delivers 1-4, reconnect replays 2-4, then the rest.
	for _, s := range samples[:4] {
		replayed.Apply(s)
	}
	for _, s := range samples[1:4] {
		replayed.Apply(s)
	}
	for _, s := range samples[4:] {
		replayed.Apply(s)
	}
	// A stale out-of-order straggler.
	replayed.Apply(samples[0])

	if clean.Snapshot() != replayed.Snapshot() {
		t.Fatalf("replayed snapshot diverged:\nclean=%+v\nreplayed=%+v", clean.Snapshot(), replayed.Snapshot())
	}
	if _, dups := replayed.Dropped(); dups != 4 {
		t.Fatalf("expected 4 duplicates counted, got %d", dups)
	}
}

func TestMalformedSampleDropped(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Bind(activeContext())

	e.Apply(hr(1, testStart.Add(time.Second), 140))
	// Missing payload for kind.
	e.Apply(message.Sample{Kind: message.SampleGPSFix, CapturedAt: testStart.Add(2 * time.Second), Seq: 2})
	e.Apply(hr(3, testStart.Add(3*time.Second), 150))

	snap := e.Snapshot()
	if snap.SampleCount != 2 {
		t.Fatalf("expected 2 applied, got %d", snap.SampleCount)
	}
	if malformed, _ := e.Dropped(); malformed != 1 {
		t.Fatalf("expected 1 malformed, got %d", malformed)
	}
	if snap.HeartRateCurrent != 150 {
		t.Fatalf("bad sample corrupted the stream")
	}
}

func TestPausedSessionFreezesSnapshot(t *testing.T) {
	sctx := activeContext()
	e := NewEngine(nil, nil)
	e.Bind(sctx)

	e.Apply(fix(1, testStart.Add(30*time.Second), 0, 0))
	e.Apply(fix(2, testStart.Add(60*time.Second), 0.0001, 0))
	before := e.Snapshot()

	sctx.State = session.Paused
	e.Apply(fix(3, testStart.Add(90*time.Second), 0.001, 0))
	if e.Snapshot() != before {
		t.Fatalf("snapshot advanced while paused")
	}

	// Resume after a 10 minute pause; active time must exclude it.
	sctx.State = session.Active
	sctx.PausedTotal = 10 * time.Minute
	e.Apply(fix(4, testStart.Add(11*time.Minute+2*time.Minute), 0.0002, 0))

	snap := e.Snapshot()
	if math.Abs(snap.ActiveSec-180) > 1e-9 {
		t.Fatalf("expected 180s active, got %v", snap.ActiveSec)
	}
}

func TestPaceReflectsTrailingWindow(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Bind(activeContext())

	// 0.0009 deg latitude ~ 100m per 30s hop.
	e.Apply(fix(1, testStart.Add(0*time.Second), 0, 0))
	e.Apply(fix(2, testStart.Add(30*time.Second), 0.0009, 0))
	fastPace := e.Snapshot().PaceSecPerKm
	if fastPace <= 0 {
		t.Fatalf("expected positive pace")
	}

	// Slow way down: half the distance over the next 30s.
	e.Apply(fix(3, testStart.Add(60*time.Second), 0.00135, 0))
	slowPace := e.Snapshot().PaceSecPerKm
	if slowPace <= fastPace {
		t.Fatalf("pace did not respond to slowdown: fast=%v slow=%v", fastPace, slowPace)
	}
}

func TestCalorieRegression(t *testing.T) {
	// Pinned so the formula cannot drift silently.
	got := Calories(70, 5000, 50, 1800, 1.0)
	const want = 434.90
	if math.Abs(got-want) > 0.05 {
		t.Fatalf("calories drifted: got %.4f want %.2f", got, want)
	}

	if Calories(0, 5000, 50, 1800, 1.0) != 0 {
		t.Fatalf("zero weight must yield zero")
	}
	if Calories(70, 5000, 50, 1800, 0) != 0 {
		t.Fatalf("zero adjustment must yield zero")
	}

	adjusted := Calories(70, 5000, 50, 1800, 0.9)
	if math.Abs(adjusted-0.9*got) > 1e-9 {
		t.Fatalf("adjustment must scale multiplicatively")
	}
}

type recordingArchiver struct {
	mu        sync.Mutex
	samples   int
	snapshots int
}

func (a *recordingArchiver) AppendSample(string, message.Sample) {
	a.mu.Lock()
	a.samples++
	a.mu.Unlock()
}

func (a *recordingArchiver) AppendSnapshot(string, Snapshot) {
	a.mu.Lock()
	a.snapshots++
	a.mu.Unlock()
}

func TestEngineForwardsToArchiver(t *testing.T) {
	arch := &recordingArchiver{}
	e := NewEngine(arch, nil)
	e.Bind(activeContext())

	e.Apply(hr(1, testStart.Add(time.Second), 140))
	e.Apply(hr(2, testStart.Add(2*time.Second), 141))

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if arch.samples != 2 || arch.snapshots != 2 {
		t.Fatalf("archiver calls: samples=%d snapshots=%d", arch.samples, arch.snapshots)
	}
}

func TestUnboundEngineIgnoresSamples(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Apply(hr(1, testStart, 140))
	if e.Snapshot().SampleCount != 0 {
		t.Fatalf("sample applied without a session")
	}

	e.Bind(activeContext())
	e.Apply(hr(1, testStart.Add(time.Second), 140))
	e.Unbind()
	e.Apply(hr(2, testStart.Add(2*time.Second), 150))
	if e.Snapshot().HeartRateCurrent != 140 {
		t.Fatalf("sample applied after stop")
	}
}
