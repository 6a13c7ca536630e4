package metrics

import (
	"sync"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/session"
	"backend-stridelink/internal/shared/geo"

	"go.uber.org/zap"
)

// Snapshot is the derived metrics state. Single writer (the engine);
// everyone else gets copies. Cumulative fields never decrease while the
// session is active and freeze while it is paused.
type Snapshot struct {
	SessionID        string  `json:"session_id"`
	DistanceM        float64 `json:"distance_m"`
	ElevationGainM   float64 `json:"elevation_gain_m"`
	ElevationLossM   float64 `json:"elevation_loss_m"`
	PaceSecPerKm     float64 `json:"pace_sec_per_km"`
	CaloriesKcal     float64 `json:"calories_kcal"`
	HeartRateCurrent int     `json:"heart_rate_current"`
	HeartRateAvg     float64 `json:"heart_rate_avg"`
	HeartRateMax     int     `json:"heart_rate_max"`
	HeartRateMin     int     `json:"heart_rate_min"`
	ActiveSec        float64 `json:"active_sec"`
	SampleCount      uint64  `json:"sample_count"`
}

// Archiver receives per-sample and per-snapshot records for durable storage.
// Calls must not block the reducer.
type Archiver interface {
	AppendSample(sessionID string, s message.Sample)
	AppendSnapshot(sessionID string, snap Snapshot)
}

// Engine reduces the ordered sample stream into a Snapshot. Host-only,
// single-writer; a mutex serializes updates when the channel consumer and
// readers overlap.
type Engine struct {
	mu  sync.Mutex
	log *zap.Logger

	sctx     *session.Context
	archiver Archiver
	onUpdate func(Snapshot)

	snap       Snapshot
	highestSeq uint64
	haveFix    bool
	lastLat    float64
	lastLng    float64
	hrCount    uint64
	hrSum      uint64
	pace       *paceWindow

	malformed  uint64
	duplicates uint64
}

func NewEngine(archiver Archiver, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log, archiver: archiver}
}

// OnUpdate registers a callback invoked with a snapshot copy after every
// applied sample. The split detector and UI stream hang off this.
func (e *Engine) OnUpdate(fn func(Snapshot)) {
	e.mu.Lock()
	e.onUpdate = fn
	e.mu.Unlock()
}

// Bind attaches the engine to a session. Resets all accumulated state.
func (e *Engine) Bind(sctx *session.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sctx = sctx
	e.snap = Snapshot{SessionID: sctx.SessionID}
	e.highestSeq = 0
	e.haveFix = false
	e.hrCount = 0
	e.hrSum = 0
	window := time.Duration(sctx.Config.PaceWindowSec) * time.Second
	if window <= 0 {
		window = 30 * time.Second
	}
	e.pace = newPaceWindow(window)
	e.malformed = 0
	e.duplicates = 0
}

// Unbind detaches the engine when the session stops; further samples are
// ignored.
func (e *Engine) Unbind() {
	e.mu.Lock()
	e.sctx = nil
	e.mu.Unlock()
}

// Apply reduces one sample. Duplicates and replays (seq at or below the
// highest already processed) are ignored, which makes the reducer safe
// against the channel's reconnect replay. Malformed samples are dropped and
// counted; they never corrupt the snapshot.
func (e *Engine) Apply(s message.Sample) {
	e.mu.Lock()
	sctx := e.sctx
	if sctx == nil || sctx.State == session.Stopped {
		e.mu.Unlock()
		return
	}
	if s.Seq <= e.highestSeq {
		e.duplicates++
		e.mu.Unlock()
		return
	}
	if err := s.Validate(); err != nil {
		e.highestSeq = s.Seq
		e.malformed++
		log := e.log
		e.mu.Unlock()
		log.Warn("malformed sample dropped", zap.Uint64("seq", s.Seq), zap.String("kind", string(s.Kind)))
		return
	}
	e.highestSeq = s.Seq

	// Snapshot is frozen while paused; the sample is still acknowledged
	// upstream, just not reduced.
	if sctx.State != session.Active {
		e.mu.Unlock()
		return
	}

	activeSec := sctx.ActiveDuration(s.CapturedAt).Seconds()
	if activeSec > e.snap.ActiveSec {
		e.snap.ActiveSec = activeSec
	}

	switch s.Kind {
	case message.SampleHeartRate:
		e.reduceHeartRate(s.HeartRate.Bpm)
	case message.SampleGPSFix:
		e.reduceFix(s.GPS.Lat, s.GPS.Lng)
	case message.SampleElevationDelta:
		e.reduceElevation(s.Elevation.DeltaM)
	}

	e.snap.SampleCount++
	e.snap.PaceSecPerKm = e.pace.pace(e.snap.ActiveSec, e.snap.DistanceM)
	e.snap.CaloriesKcal = Calories(
		sctx.Config.UserWeightKg,
		e.snap.DistanceM,
		e.snap.ElevationGainM,
		e.snap.ActiveSec,
		sctx.Config.CalorieAdjustment,
	)

	snap := e.snap
	onUpdate := e.onUpdate
	archiver := e.archiver
	e.mu.Unlock()

	if archiver != nil {
		archiver.AppendSample(snap.SessionID, s)
		archiver.AppendSnapshot(snap.SessionID, snap)
	}
	if onUpdate != nil {
		onUpdate(snap)
	}
}

func (e *Engine) reduceHeartRate(bpm int) {
	e.snap.HeartRateCurrent = bpm
	e.hrCount++
	e.hrSum += uint64(bpm)
	e.snap.HeartRateAvg = float64(e.hrSum) / float64(e.hrCount)
	if bpm > e.snap.HeartRateMax {
		e.snap.HeartRateMax = bpm
	}
	if e.snap.HeartRateMin == 0 || bpm < e.snap.HeartRateMin {
		e.snap.HeartRateMin = bpm
	}
}

func (e *Engine) reduceFix(lat, lng float64) {
	if e.haveFix {
		e.snap.DistanceM += geo.HaversineM(e.lastLat, e.lastLng, lat, lng)
	}
	e.lastLat, e.lastLng = lat, lng
	e.haveFix = true
	e.pace.mark(e.snap.ActiveSec, e.snap.DistanceM)
}

// reduceElevation keeps gain and loss separate: descent never erodes the
// climbed total.
func (e *Engine) reduceElevation(deltaM float64) {
	if deltaM >= 0 {
		e.snap.ElevationGainM += deltaM
	} else {
		e.snap.ElevationLossM += -deltaM
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Dropped reports reducer drop counters (malformed, duplicate).
func (e *Engine) Dropped() (malformed, duplicates uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.malformed, e.duplicates
}
