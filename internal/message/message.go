package message

import (
	"errors"
	"time"
)

// Kind discriminates the logical message set exchanged between the wearable
// and the host.
type Kind string

const (
	KindStart     Kind = "start"
	KindPause     Kind = "pause"
	KindResume    Kind = "resume"
	KindStop      Kind = "stop"
	KindAck       Kind = "ack"
	KindHeartbeat Kind = "heartbeat"
	KindSample    Kind = "sample"
	KindDisplay   Kind = "display_update"
	KindSplit     Kind = "split_event"
)

// SampleKind discriminates the raw reading carried by a Sample.
type SampleKind string

const (
	SampleHeartRate      SampleKind = "heart_rate"
	SampleGPSFix         SampleKind = "gps_fix"
	SampleElevationDelta SampleKind = "elevation_delta"
)

var ErrMalformedSample = errors.New("malformed sample")

// Sample is a single raw reading captured on the wearable. Immutable after
// creation; Seq is assigned by the wearable per session.
type Sample struct {
	Kind       SampleKind `json:"kind"`
	CapturedAt time.Time  `json:"captured_at"`
	Seq        uint64     `json:"seq"`

	HeartRate *HeartRatePayload `json:"heart_rate,omitempty"`
	GPS       *GPSPayload       `json:"gps,omitempty"`
	Elevation *ElevationPayload `json:"elevation,omitempty"`
}

type HeartRatePayload struct {
	Bpm int `json:"bpm"`
}

type GPSPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ElevationPayload struct {
	DeltaM float64 `json:"delta_m"`
}

// Validate reports ErrMalformedSample when the payload required for the
// sample's kind is missing or out of range.
func (s Sample) Validate() error {
	if s.CapturedAt.IsZero() {
		return ErrMalformedSample
	}
	switch s.Kind {
	case SampleHeartRate:
		if s.HeartRate == nil || s.HeartRate.Bpm <= 0 || s.HeartRate.Bpm > 300 {
			return ErrMalformedSample
		}
	case SampleGPSFix:
		if s.GPS == nil || s.GPS.Lat < -90 || s.GPS.Lat > 90 || s.GPS.Lng < -180 || s.GPS.Lng > 180 {
			return ErrMalformedSample
		}
	case SampleElevationDelta:
		if s.Elevation == nil {
			return ErrMalformedSample
		}
	default:
		return ErrMalformedSample
	}
	return nil
}

// SessionConfig travels with the Start command so the follower mirrors the
// same session parameters.
type SessionConfig struct {
	UserWeightKg      float64 `json:"user_weight_kg"`
	SplitIntervalM    float64 `json:"split_interval_m"`
	CalorieAdjustment float64 `json:"calorie_adjustment"`
	PaceWindowSec     int     `json:"pace_window_sec"`
}

// SplitEvent marks one crossed distance interval. DistanceM is the boundary
// distance (splitIndex * interval), not the raw distance at detection time.
type SplitEvent struct {
	SplitIndex int64   `json:"split_index"`
	DistanceM  float64 `json:"distance_m"`
	ElapsedSec float64 `json:"elapsed_sec"`
}

// DisplayUpdate is the minimal payload the wearable renders. Seq is assigned
// by the publisher and used by the wearable to discard stale updates.
type DisplayUpdate struct {
	Seq            uint64      `json:"seq"`
	DistanceM      float64     `json:"distance_m"`
	PaceSecPerKm   float64     `json:"pace_sec_per_km"`
	CaloriesKcal   float64     `json:"calories_kcal"`
	HeartRateBpm   int         `json:"heart_rate_bpm"`
	ActiveSec      float64     `json:"active_sec"`
	Split          *SplitEvent `json:"split,omitempty"`
}

// Envelope is the transport frame. Sequenced messages carry Seq > 0 and take
// part in ordering, acking and replay; heartbeats and acks travel with Seq 0
// outside the replay contract.
type Envelope struct {
	Kind      Kind      `json:"kind"`
	Epoch     uint64    `json:"epoch"`
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id,omitempty"`
	SentAt    time.Time `json:"sent_at,omitempty"`

	Config  *SessionConfig `json:"config,omitempty"`
	AckSeq  uint64         `json:"ack_seq,omitempty"`
	Sample  *Sample        `json:"sample,omitempty"`
	Display *DisplayUpdate `json:"display,omitempty"`
	Split   *SplitEvent    `json:"split,omitempty"`
}

// Control reports whether the message belongs to the never-evicted class.
// DisplayUpdates sit in between: evictable, but the newest one is retained.
func (e Envelope) Control() bool {
	switch e.Kind {
	case KindStart, KindPause, KindResume, KindStop, KindSplit:
		return true
	}
	return false
}

// Sequenced reports whether the message participates in the ack/replay
// contract.
func (e Envelope) Sequenced() bool {
	return e.Seq > 0
}
