package wearable

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/session"

	"go.uber.org/zap"
)

// Sender delivers an envelope toward the host. The sync channel satisfies
// this.
type Sender interface {
	Send(env message.Envelope) error
}

// Sampler simulates the wearable's sensors: a heart rate random walk, a GPS
// track advancing at a steady jog, and occasional elevation deltas. Real
// hardware would feed the same Sample stream from its sensor ISRs.
type Sampler struct {
	mu        sync.Mutex
	log       *zap.Logger
	sender    Sender
	state     func() (string, session.State)
	rng       *rand.Rand
	interval  time.Duration
	captureSq uint64

	bpm  int
	lat  float64
	lng  float64
	tick int
}

// NewSampler wires a sampler to its outbound sender and a state callback
// reporting the follower's current session id and state. Samples are only
// captured while the session is active.
func NewSampler(sender Sender, state func() (string, session.State), interval time.Duration, log *zap.Logger) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		log:      log,
		sender:   sender,
		state:    state,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		interval: interval,
		bpm:      120,
		lat:      -6.2000,
		lng:      106.8166,
	}
}

// Run captures samples on a fixed cadence until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.capture(now)
		}
	}
}

func (s *Sampler) capture(now time.Time) {
	sessionID, state := s.state()
	if state != session.Active {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++

	// Heart rate every tick, drifting toward a working rate.
	s.bpm += s.rng.Intn(7) - 3
	if s.bpm < 80 {
		s.bpm = 80
	}
	if s.bpm > 190 {
		s.bpm = 190
	}
	s.emit(sessionID, message.Sample{
		Kind:       message.SampleHeartRate,
		CapturedAt: now,
		HeartRate:  &message.HeartRatePayload{Bpm: s.bpm},
	})

	// GPS fix every tick, roughly 3 m/s northeast.
	s.lat += 0.000020 + s.rng.Float64()*0.000010
	s.lng += 0.000020 + s.rng.Float64()*0.000010
	s.emit(sessionID, message.Sample{
		Kind:       message.SampleGPSFix,
		CapturedAt: now,
		GPS:        &message.GPSPayload{Lat: s.lat, Lng: s.lng},
	})

	// Elevation delta every fifth tick.
	if s.tick%5 == 0 {
		s.emit(sessionID, message.Sample{
			Kind:       message.SampleElevationDelta,
			CapturedAt: now,
			Elevation:  &message.ElevationPayload{DeltaM: s.rng.Float64()*2 - 0.8},
		})
	}
}

func (s *Sampler) emit(sessionID string, sample message.Sample) {
	s.captureSq++
	sample.Seq = s.captureSq
	env := message.Envelope{
		Kind:      message.KindSample,
		SessionID: sessionID,
		SentAt:    sample.CapturedAt,
		Sample:    &sample,
	}
	if err := s.sender.Send(env); err != nil {
		s.log.Warn("sample send failed", zap.Error(err))
	}
}
