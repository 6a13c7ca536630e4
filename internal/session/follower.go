package session

import (
	"sync"
	"time"

	"backend-stridelink/internal/message"

	"go.uber.org/zap"
)

// Follower is the wearable-side state machine. It never originates a
// transition: it mirrors host-issued control messages and relies on the
// channel's delivery acks for durability.
type Follower struct {
	mu  sync.Mutex
	log *zap.Logger

	state       State
	sessionID   string
	config      message.SessionConfig
	startedAt   time.Time
	pausedTotal time.Duration
	pausedAt    time.Time
}

func NewFollower(log *zap.Logger) *Follower {
	if log == nil {
		log = zap.NewNop()
	}
	return &Follower{log: log, state: Idle}
}

// Apply mirrors one host control message. Unexpected transitions are mirrored
// anyway, host being authoritative, but logged.
func (f *Follower) Apply(env message.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch env.Kind {
	case message.KindStart:
		if f.state != Idle && f.state != Stopped {
			f.log.Warn("start while session in progress, remirroring", zap.String("state", string(f.state)))
		}
		f.sessionID = env.SessionID
		if env.Config != nil {
			f.config = *env.Config
		}
		f.state = Active
		f.startedAt = time.Now()
		f.pausedTotal = 0
		f.pausedAt = time.Time{}
	case message.KindPause:
		if f.state != Active {
			f.log.Warn("pause mirrored from unexpected state", zap.String("state", string(f.state)))
		}
		f.state = Paused
		f.pausedAt = time.Now()
	case message.KindResume:
		if !f.pausedAt.IsZero() {
			f.pausedTotal += time.Since(f.pausedAt)
			f.pausedAt = time.Time{}
		}
		f.state = Active
	case message.KindStop:
		f.state = Stopped
	}
}

func (f *Follower) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Follower) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

func (f *Follower) Config() message.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}
