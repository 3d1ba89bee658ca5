package discovery

import (
	"sort"
	"sync"
	"time"
)

// MaxPeers bounds the peer table so a misbehaving or malicious broadcaster
// can't grow it without limit. Once full, upserts of never-seen IDs are
// dropped; peers already present keep updating normally.
const MaxPeers = 512

// PeerStale is how long a peer can go without an Announce before it's
// dropped from the table by Sweep.
const PeerStale = 300 * time.Second

type peerEntry struct {
	status   PeerStatus
	lastSeen time.Time
}

// PeerTable is the bounded, staleness-evicted directory of peers a
// DiscoveryService has heard from. It has no knowledge of sockets or
// timers; Service drives it.
type PeerTable struct {
	mu      sync.RWMutex
	entries map[string]peerEntry
}

// NewPeerTable creates an empty table.
func NewPeerTable() *PeerTable {
	return &PeerTable{entries: make(map[string]peerEntry)}
}

// Upsert records or refreshes a peer's status as of now. It returns false
// (and does nothing) if id is new and the table is already at MaxPeers.
func (t *PeerTable) Upsert(id string, status PeerStatus, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; !exists && len(t.entries) >= MaxPeers {
		return false
	}
	t.entries[id] = peerEntry{status: status, lastSeen: now}
	return true
}

// Get returns a single peer's last-known status.
func (t *PeerTable) Get(id string) (PeerStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e.status, ok
}

// List returns every peer currently in the table, sorted by ID for
// deterministic output, each annotated with its age relative to now.
func (t *PeerTable) List(now time.Time) []PeerView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	views := make([]PeerView, 0, len(t.entries))
	for _, e := range t.entries {
		views = append(views, PeerView{Status: e.status, Age: now.Sub(e.lastSeen)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Status.ID < views[j].Status.ID })
	return views
}

// Len reports how many peers are currently tracked.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear empties the table.
func (t *PeerTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]peerEntry)
}

// Sweep evicts every peer not seen within PeerStale of now and returns how
// many were removed.
func (t *PeerTable) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.entries {
		if now.Sub(e.lastSeen) > PeerStale {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}
