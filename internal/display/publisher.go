package display

import (
	"context"
	"sync"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"

	"go.uber.org/zap"
)

type Sender interface {
	Send(env message.Envelope) error
}

// Publisher packages the display subset of the metrics snapshot into
// periodic DisplayUpdates for the wearable. Updates are latest-wins: under
// buffer pressure only the newest frame matters.
type Publisher struct {
	mu  sync.Mutex
	ch  Sender
	log *zap.Logger

	interval     time.Duration
	seq          uint64
	latest       metrics.Snapshot
	dirty        bool
	pendingSplit *message.SplitEvent
}

func NewPublisher(ch Sender, interval time.Duration, log *zap.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{ch: ch, log: log, interval: interval}
}

// Update records the newest snapshot; the next tick publishes it.
func (p *Publisher) Update(snap metrics.Snapshot) {
	p.mu.Lock()
	p.latest = snap
	p.dirty = true
	p.mu.Unlock()
}

// NoteSplit attaches the most recent split to the next published frame. The
// split also travels separately as a control message; this copy is display
// garnish.
func (p *Publisher) NoteSplit(ev message.SplitEvent) {
	p.mu.Lock()
	evCopy := ev
	p.pendingSplit = &evCopy
	p.mu.Unlock()
}

// Publish sends one DisplayUpdate if there is anything new. Returns the
// update and whether one went out.
func (p *Publisher) Publish() (message.DisplayUpdate, bool) {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return message.DisplayUpdate{}, false
	}
	p.seq++
	update := message.DisplayUpdate{
		Seq:          p.seq,
		DistanceM:    p.latest.DistanceM,
		PaceSecPerKm: p.latest.PaceSecPerKm,
		CaloriesKcal: p.latest.CaloriesKcal,
		HeartRateBpm: p.latest.HeartRateCurrent,
		ActiveSec:    p.latest.ActiveSec,
		Split:        p.pendingSplit,
	}
	p.dirty = false
	p.pendingSplit = nil
	sessionID := p.latest.SessionID
	p.mu.Unlock()

	env := message.Envelope{Kind: message.KindDisplay, SessionID: sessionID, Display: &update}
	if err := p.ch.Send(env); err != nil {
		p.log.Warn("display update not sent", zap.Error(err))
	}
	return update, true
}

// Run publishes on the configured interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Publish()
		}
	}
}
