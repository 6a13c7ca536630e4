package session

import (
	"sync"
	"time"

	"backend-stridelink/internal/message"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender is the outbound side of the telemetry channel as the controller
// sees it. PendingControl feeds the acknowledgment-timeout check.
type Sender interface {
	Send(env message.Envelope) error
	PendingControl() int
}

// Controller drives the host-authoritative session state machine. Every
// transition emits exactly one control message; if the follower has not
// acknowledged within ackTimeout the host proceeds anyway and flags the peer
// as unsynced.
type Controller struct {
	mu         sync.Mutex
	ch         Sender
	log        *zap.Logger
	ackTimeout time.Duration
	now        func() time.Time

	ctx          *Context
	peerUnsynced bool
	ackTimer     *time.Timer
}

func NewController(ch Sender, ackTimeout time.Duration, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &Controller{ch: ch, log: log, ackTimeout: ackTimeout, now: time.Now}
}

// Start creates a new session context. Valid only when no session is in
// progress.
func (c *Controller) Start(cfg message.SessionConfig) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return nil, ErrInvalidTransition
	}
	sctx := &Context{
		SessionID: uuid.NewString(),
		State:     Active,
		StartedAt: c.now(),
		Config:    cfg,
	}
	c.ctx = sctx
	c.emitLocked(message.Envelope{Kind: message.KindStart, SessionID: sctx.SessionID, Config: &cfg})
	c.log.Info("session started", zap.String("session_id", sctx.SessionID))
	return sctx, nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil || c.ctx.State != Active {
		return ErrInvalidTransition
	}
	c.ctx.State = Paused
	c.ctx.pausedAt = c.now()
	c.emitLocked(message.Envelope{Kind: message.KindPause, SessionID: c.ctx.SessionID})
	return nil
}

// Resume folds the paused interval into PausedTotal so elapsed-active-time
// metrics exclude it.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil || c.ctx.State != Paused {
		return ErrInvalidTransition
	}
	c.ctx.PausedTotal += c.now().Sub(c.ctx.pausedAt)
	c.ctx.pausedAt = time.Time{}
	c.ctx.State = Active
	c.emitLocked(message.Envelope{Kind: message.KindResume, SessionID: c.ctx.SessionID})
	return nil
}

// Stop terminates the session and returns the final context for archival.
// The controller is back to idle afterwards. Stopping with no session in
// progress is rejected.
func (c *Controller) Stop() (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil || (c.ctx.State != Active && c.ctx.State != Paused) {
		return nil, ErrInvalidTransition
	}
	if c.ctx.State == Paused {
		c.ctx.PausedTotal += c.now().Sub(c.ctx.pausedAt)
		c.ctx.pausedAt = time.Time{}
	}
	c.ctx.State = Stopped
	sctx := c.ctx
	c.ctx = nil
	c.emitLocked(message.Envelope{Kind: message.KindStop, SessionID: sctx.SessionID})
	c.log.Info("session stopped", zap.String("session_id", sctx.SessionID))
	return sctx, nil
}

// Current returns the in-progress context, nil when idle.
func (c *Controller) Current() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return Idle
	}
	return c.ctx.State
}

// PeerUnsynced reports whether the follower missed a transition ack within
// the timeout. The wearable display may be stale until the next update.
func (c *Controller) PeerUnsynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerUnsynced
}

func (c *Controller) emitLocked(env message.Envelope) {
	if err := c.ch.Send(env); err != nil {
		c.log.Warn("control message not sent", zap.String("kind", string(env.Kind)), zap.Error(err))
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	c.ackTimer = time.AfterFunc(c.ackTimeout, c.checkAck)
}

func (c *Controller) checkAck() {
	unsynced := c.ch.PendingControl() > 0
	c.mu.Lock()
	c.peerUnsynced = unsynced
	c.mu.Unlock()
	if unsynced {
		c.log.Warn("follower did not acknowledge transition in time")
	}
}
