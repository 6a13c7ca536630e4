package display

import (
	"sync"
	"testing"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
)

type captureSender struct {
	mu   sync.Mutex
	sent []message.Envelope
}

func (s *captureSender) Send(env message.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestPublishPackagesSnapshotSubset(t *testing.T) {
	sender := &captureSender{}
	p := NewPublisher(sender, time.Second, nil)

	p.Update(metrics.Snapshot{
		SessionID:        "s-1",
		DistanceM:        1234,
		PaceSecPerKm:     355,
		CaloriesKcal:     88.2,
		HeartRateCurrent: 148,
		ActiveSec:        420,
	})

	update, ok := p.Publish()
	if !ok {
		t.Fatalf("expected a publish")
	}
	if update.Seq != 1 || update.DistanceM != 1234 || update.HeartRateBpm != 148 {
		t.Fatalf("unexpected update: %+v", update)
	}
	if update.Split != nil {
		t.Fatalf("unexpected split on frame")
	}

	if sender.count() != 1 {
		t.Fatalf("expected one envelope sent")
	}
	sender.mu.Lock()
	env := sender.sent[0]
	sender.mu.Unlock()
	if env.Kind != message.KindDisplay || env.SessionID != "s-1" || env.Display == nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestPublishSkipsWhenNothingNew(t *testing.T) {
	sender := &captureSender{}
	p := NewPublisher(sender, time.Second, nil)

	if _, ok := p.Publish(); ok {
		t.Fatalf("published with no snapshot")
	}
	p.Update(metrics.Snapshot{DistanceM: 10})
	if _, ok := p.Publish(); !ok {
		t.Fatalf("expected publish")
	}
	if _, ok := p.Publish(); ok {
		t.Fatalf("republished a stale frame")
	}
}

func TestSplitAttachedOnceWithIncreasingSeq(t *testing.T) {
	sender := &captureSender{}
	p := NewPublisher(sender, time.Second, nil)

	p.Update(metrics.Snapshot{DistanceM: 1001})
	p.NoteSplit(message.SplitEvent{SplitIndex: 1, DistanceM: 1000, ElapsedSec: 300})

	first, _ := p.Publish()
	if first.Split == nil || first.Split.SplitIndex != 1 {
		t.Fatalf("split missing: %+v", first)
	}

	p.Update(metrics.Snapshot{DistanceM: 1050})
	second, _ := p.Publish()
	if second.Split != nil {
		t.Fatalf("split republished")
	}
	if second.Seq <= first.Seq {
		t.Fatalf("sequence not increasing: %d then %d", first.Seq, second.Seq)
	}
}
