package presence

import (
	"sort"
	"testing"
	"time"
)

func TestTrackAndUntrack(t *testing.T) {
	tr := NewTracker(time.Minute)

	tr.Track("room1", "alice")
	tr.Track("room1", "bob")
	tr.Track("room2", "carol")

	online := tr.Online("room1")
	sort.Strings(online)
	if len(online) != 2 || online[0] != "alice" || online[1] != "bob" {
		t.Fatalf("unexpected online set: %v", online)
	}

	tr.Untrack("room1", "alice")
	online = tr.Online("room1")
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("expected only bob online, got %v", online)
	}

	if got := tr.Online("room3"); got != nil {
		t.Fatalf("expected nil for unknown room, got %v", got)
	}
}

func TestSweepDropsStaleEntries(t *testing.T) {
	tr := NewTracker(10 * time.Millisecond)

	tr.Track("room1", "alice")
	time.Sleep(25 * time.Millisecond)
	tr.Track("room1", "bob")

	// alice's entry is past the TTL even before sweeping.
	online := tr.Online("room1")
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("expected only bob online, got %v", online)
	}

	tr.Sweep()
	tr.mu.RLock()
	_, aliceKept := tr.rooms["room1"]["alice"]
	tr.mu.RUnlock()
	if aliceKept {
		t.Fatalf("expected sweep to drop alice's entry")
	}
}

func TestHeartbeatRefreshes(t *testing.T) {
	tr := NewTracker(30 * time.Millisecond)

	tr.Track("room1", "alice")
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		tr.Heartbeat("room1", "alice")
	}

	online := tr.Online("room1")
	if len(online) != 1 {
		t.Fatalf("expected alice kept alive by heartbeats, got %v", online)
	}
}

func TestSweepInterval(t *testing.T) {
	if got := NewTracker(time.Minute).SweepInterval(); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	// Floors at one second for tiny TTLs.
	if got := NewTracker(time.Millisecond).SweepInterval(); got != time.Second {
		t.Errorf("expected 1s floor, got %v", got)
	}
}
