package session

import (
	"errors"
	"time"

	"backend-stridelink/internal/message"
)

type State string

const (
	Idle    State = "idle"
	Active  State = "active"
	Paused  State = "paused"
	Stopped State = "stopped"
)

var ErrInvalidTransition = errors.New("invalid session transition")

// Context is the host-owned session record. Mutated only by the Controller;
// everything else sees read-only copies.
type Context struct {
	SessionID   string
	State       State
	StartedAt   time.Time
	PausedTotal time.Duration
	Config      message.SessionConfig

	pausedAt time.Time
}

// ActiveDuration is the elapsed session time excluding paused intervals.
// Elapsed-time-based metrics (pace, calories) are computed against this.
func (c *Context) ActiveDuration(now time.Time) time.Duration {
	if c == nil || c.StartedAt.IsZero() {
		return 0
	}
	paused := c.PausedTotal
	if c.State == Paused && !c.pausedAt.IsZero() {
		paused += now.Sub(c.pausedAt)
	}
	d := now.Sub(c.StartedAt) - paused
	if d < 0 {
		return 0
	}
	return d
}
