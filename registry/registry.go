// Package registry tracks which drivers currently hold a live connection,
// together with a cached mirror of their booking slots for fast routing.
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rideline/ride-relay/metrics"
)

// Sender is the live connection handle for a driver. The relay's client
// session implements it; tests use fakes.
type Sender interface {
	// Send pushes one outbound event to the connection.
	Send(event string, data interface{}) error
}

// SlotCache mirrors the routing-relevant fields of one booking slot.
type SlotCache struct {
	RiderID string  `json:"rider_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Entry is the in-memory session record for one driver identity. Entries are
// owned exclusively by the Registry; callers get short-lived copies.
type Entry struct {
	DriverID string       `json:"driver_id"`
	Online   bool         `json:"online"`
	LastSeen time.Time    `json:"last_seen"`
	Slots    [2]SlotCache `json:"slots"`

	sender Sender
}

// Registry is the single shared mutable structure of the relay. Every
// mutation goes through its methods under one mutex.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register creates or refreshes the entry for driverID and attaches the
// connection handle. The cached slots of a previous session survive so a
// fast reconnect sees continuity.
func (r *Registry) Register(driverID string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[driverID]
	if !ok {
		e = &Entry{DriverID: driverID}
		r.entries[driverID] = e
		metrics.ActiveSessions.Inc()
		metrics.TotalSessions.Inc()
	} else if !e.Online {
		metrics.ActiveSessions.Inc()
	}
	e.sender = sender
	e.Online = true
	e.LastSeen = time.Now()
}

// Touch refreshes lastSeen for a connected driver.
func (r *Registry) Touch(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[driverID]; ok {
		e.LastSeen = time.Now()
	}
}

// Unregister marks the entry offline and drops the connection handle. The
// entry itself, including the slot cache, is retained until the staleness
// sweep removes it.
func (r *Registry) Unregister(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[driverID]
	if !ok {
		return
	}
	if e.Online {
		metrics.ActiveSessions.Dec()
	}
	e.Online = false
	e.sender = nil
}

// UnregisterIf unregisters only while sender still owns the entry. A
// connection that dies after the same driver re-registered on a new one must
// not tear down the fresh session. Reports whether the teardown happened.
func (r *Registry) UnregisterIf(driverID string, sender Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[driverID]
	if !ok || e.sender != sender {
		return false
	}
	if e.Online {
		metrics.ActiveSessions.Dec()
	}
	e.Online = false
	e.sender = nil
	return true
}

// Lookup returns a copy of the entry for driverID.
func (r *Registry) Lookup(driverID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[driverID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Online reports whether driverID currently holds a live connection.
func (r *Registry) Online(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[driverID]
	return ok && e.Online && e.sender != nil
}

// Send pushes an event to whoever is currently connected as driverID.
// Sending to an offline driver is a no-op and reports false.
func (r *Registry) Send(driverID, event string, data interface{}) bool {
	r.mu.RLock()
	e, ok := r.entries[driverID]
	var sender Sender
	if ok && e.Online {
		sender = e.sender
	}
	r.mu.RUnlock()

	if sender == nil {
		return false
	}
	if err := sender.Send(event, data); err != nil {
		log.Printf("registry: failed to send %s to driver %s: %v", event, driverID, err)
		return false
	}
	metrics.EventsSent.WithLabelValues(event).Inc()
	return true
}

// SetSlotCache updates the cached mirror of one slot (1-based slot number).
func (r *Registry) SetSlotCache(driverID string, slot int, cache SlotCache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[driverID]
	if !ok || slot < 1 || slot > 2 {
		return
	}
	e.Slots[slot-1] = cache
}

// ClearSlotCache empties the cached mirror of one slot.
func (r *Registry) ClearSlotCache(driverID string, slot int) {
	r.SetSlotCache(driverID, slot, SlotCache{})
}

// FindByRider scans the cached slots for the driver currently bound to
// riderID. This is the router's fast path; the durable store stays
// authoritative.
func (r *Registry) FindByRider(riderID string) (driverID string, slot int, ok bool) {
	if riderID == "" {
		return "", 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.entries {
		for i := range e.Slots {
			if e.Slots[i].RiderID == riderID {
				return id, i + 1, true
			}
		}
	}
	return "", 0, false
}

// Snapshot returns a copy of every entry, for the debug surface.
func (r *Registry) Snapshot() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = *e
	}
	return out
}

// PurgeStale removes every entry whose lastSeen is older than ttl. Returns
// the ids removed.
func (r *Registry) PurgeStale(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged []string
	for id, e := range r.entries {
		if now.Sub(e.LastSeen) > ttl {
			if e.Online {
				metrics.ActiveSessions.Dec()
			}
			delete(r.entries, id)
			purged = append(purged, id)
		}
	}
	return purged
}

// RunSweeper purges stale entries on a fixed interval until ctx is done.
// Purging happens only here, never synchronously on disconnect, so drivers
// reconnecting within the TTL window are treated as continuity.
func (r *Registry) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range r.PurgeStale(now, ttl) {
				log.Printf("registry: purged stale driver session %s", id)
			}
		}
	}
}
