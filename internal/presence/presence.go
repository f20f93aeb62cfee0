// Package presence tracks which members currently hold a live connection.
// It is advisory only: UI hints and failover timing, never invariant-bearing
// mutations. A missing heartbeat here must not remove anyone from a room.
package presence

import (
	"sync"
	"time"
)

// DefaultTTL is how long a member stays online after its last heartbeat.
const DefaultTTL = 30 * time.Second

// Tracker maintains per-room sets of online uids with last-seen times.
type Tracker struct {
	mu    sync.RWMutex
	ttl   time.Duration
	rooms map[string]map[string]time.Time
}

// NewTracker constructs a tracker with the given staleness TTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:   ttl,
		rooms: make(map[string]map[string]time.Time),
	}
}

// Track marks the uid online in the room.
func (t *Tracker) Track(roomID, uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.rooms[roomID]
	if room == nil {
		room = make(map[string]time.Time)
		t.rooms[roomID] = room
	}
	room[uid] = time.Now()
}

// Heartbeat refreshes the uid's last-seen time. Unknown uids are tracked;
// a reconnect may heartbeat before the explicit track lands.
func (t *Tracker) Heartbeat(roomID, uid string) {
	t.Track(roomID, uid)
}

// Untrack marks the uid offline in the room.
func (t *Tracker) Untrack(roomID, uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, uid)
	if len(room) == 0 {
		delete(t.rooms, roomID)
	}
}

// Online returns the uids currently considered connected in the room.
func (t *Tracker) Online(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room := t.rooms[roomID]
	if len(room) == 0 {
		return nil
	}
	cutoff := time.Now().Add(-t.ttl)
	out := make([]string, 0, len(room))
	for uid, seen := range room {
		if seen.After(cutoff) {
			out = append(out, uid)
		}
	}
	return out
}

// SweepInterval is how often callers should run Sweep.
func (t *Tracker) SweepInterval() time.Duration {
	interval := t.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Sweep drops entries older than the TTL. Run periodically by the hub.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-t.ttl)
	for roomID, room := range t.rooms {
		for uid, seen := range room {
			if seen.Before(cutoff) {
				delete(room, uid)
			}
		}
		if len(room) == 0 {
			delete(t.rooms, roomID)
		}
	}
}
