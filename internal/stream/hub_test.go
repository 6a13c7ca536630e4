package stream

import (
	"encoding/json"
	"testing"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubBroadcastSnapshot(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	hub.BroadcastSnapshot(metrics.Snapshot{SessionID: "session-1", DistanceM: 1234})

	select {
	case msg := <-client.Send:
		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if frame.Type != "snapshot" || frame.Snapshot == nil || frame.Snapshot.DistanceM != 1234 {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for frame")
	}
}

func TestHubBroadcastSplit(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("session-2")
	defer hub.Unregister(client)

	hub.BroadcastSplit("session-2", message.SplitEvent{SplitIndex: 1, DistanceM: 1000})

	select {
	case msg := <-client.Send:
		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if frame.Type != "split" || frame.Split == nil || frame.Split.SplitIndex != 1 {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for frame")
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch == "" {
		t.Fatalf("expected channel")
	}
	if sessionIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected session id")
	}
	if sessionIDFromChannel("bad") != "" {
		t.Fatalf("expected empty session id")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("session-3")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubRedisBroadcastAndSubscribe(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client, nil)
	ws := hub.Register("session-redis")
	defer hub.Unregister(ws)
	time.Sleep(50 * time.Millisecond)

	hub.BroadcastSnapshot(metrics.Snapshot{SessionID: "session-redis", DistanceM: 42})

	// The local fan-out delivers at least once; the redis echo may add a
	// second copy, both carrying the same frame.
	select {
	case msg := <-ws.Send:
		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if frame.Snapshot == nil || frame.Snapshot.DistanceM != 42 {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for frame")
	}
}
