package channel

import (
	"sync"

	"backend-stridelink/internal/message"
)

// SampleBuffer is the bounded, ordered, durable-until-acked outbound queue.
// Two-class eviction under pressure: the oldest Sample messages go first,
// the newest DisplayUpdate is retained, control messages are never dropped.
type SampleBuffer struct {
	mu           sync.Mutex
	items        []message.Envelope
	cap          int
	highestAcked uint64
	dropped      uint64
}

func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &SampleBuffer{cap: capacity}
}

// Push enqueues env, evicting per the two-class policy when full. Returns
// the number of messages dropped to make room (including env itself when it
// is an evictable message and nothing older could go).
func (b *SampleBuffer) Push(env message.Envelope) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0

	// Latest-wins for display updates: a stale frame is worthless once a
	// newer one exists.
	if env.Kind == message.KindDisplay {
		kept := b.items[:0]
		for _, it := range b.items {
			if it.Kind == message.KindDisplay {
				evicted++
				continue
			}
			kept = append(kept, it)
		}
		b.items = kept
	}

	if len(b.items) >= b.cap {
		if idx := b.oldestSampleIdx(); idx >= 0 {
			b.items = append(b.items[:idx], b.items[idx+1:]...)
			evicted++
		} else if !env.Control() && env.Kind != message.KindDisplay {
			// Nothing evictable and the newcomer is itself expendable.
			b.dropped++
			return 1
		}
		// Control (and the lone display) may transiently exceed the cap
		// rather than be lost.
	}

	b.items = append(b.items, env)
	b.dropped += uint64(evicted)
	return evicted
}

func (b *SampleBuffer) oldestSampleIdx() int {
	for i, it := range b.items {
		if it.Kind == message.KindSample {
			return i
		}
	}
	return -1
}

// AckUpTo evicts every message with seq <= seq and advances the watermark.
func (b *SampleBuffer) AckUpTo(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq <= b.highestAcked {
		return
	}
	b.highestAcked = seq
	kept := b.items[:0]
	for _, it := range b.items {
		if it.Seq > seq {
			kept = append(kept, it)
		}
	}
	b.items = kept
}

// Pending returns the unacknowledged messages in original order; this is the
// replay set after a reconnect.
func (b *SampleBuffer) Pending() []message.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]message.Envelope, len(b.items))
	copy(out, b.items)
	return out
}

func (b *SampleBuffer) PendingControl() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, it := range b.items {
		if it.Control() {
			n++
		}
	}
	return n
}

func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *SampleBuffer) HighestAcked() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.highestAcked
}

func (b *SampleBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
