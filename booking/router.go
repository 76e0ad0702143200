package booking

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/rideline/ride-relay/driver"
	"github.com/rideline/ride-relay/metrics"
	"github.com/rideline/ride-relay/registry"
	"github.com/rideline/ride-relay/stream"
)

// RouteStatus classifies the outcome of routing one rider location event.
type RouteStatus int

const (
	// Delivered: the driver was found and is online; the update was relayed.
	Delivered RouteStatus = iota
	// PersistedOnly: the driver was found but holds no live connection; the
	// location was written to the store and real-time delivery was skipped.
	PersistedOnly
	// Miss: no driver currently binds this rider. The event is dropped.
	Miss
)

// RouteResult describes where a rider location event went.
type RouteResult struct {
	Status   RouteStatus
	DriverID string
	Slot     int
}

// Route resolves which driver+slot binds riderID, persists the new
// coordinates into that slot and reports whether the driver can receive a
// live push. The registry cache is consulted first; the durable store stays
// authoritative, so a cache hit is verified against the record and a cache
// miss falls back to a full store scan.
func (s *Service) Route(ctx context.Context, riderID string, lat, lng float64) RouteResult {
	rec, n := s.updateRiderSlot(ctx, riderID, lat, lng)
	if rec == nil {
		metrics.RoutingMisses.Inc()
		logThrottled("route.miss."+riderID, 5*time.Second,
			"booking: no driver mapping found for rider "+riderID)
		return RouteResult{Status: Miss}
	}

	s.mirror(stream.Event{
		Kind:     stream.KindRiderLocation,
		DriverID: rec.ID,
		RiderID:  riderID,
		Payload:  map[string]interface{}{"lat": lat, "lng": lng, "slot": n},
	})

	status := PersistedOnly
	if s.reg.Online(rec.ID) {
		status = Delivered
	}
	return RouteResult{Status: status, DriverID: rec.ID, Slot: n}
}

// updateRiderSlot resolves and persists the rider's coordinates under the
// allocation lock, so the slot write cannot interleave with a concurrent
// booking or clear of the same slot.
func (s *Service) updateRiderSlot(ctx context.Context, riderID string, lat, lng float64) (*driver.Record, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, n := s.resolve(ctx, riderID)
	if rec == nil {
		return nil, 0
	}

	slot := *rec.Slot(n)
	slot.RiderLat = lat
	slot.RiderLng = lng

	// Best-effort persistence: the live relay must not stall behind the
	// store, so a failed write is logged and the relay proceeds on the
	// in-memory copy.
	if err := s.repo.SetSlot(ctx, rec.ID, n, slot); err != nil {
		metrics.StoreFailures.WithLabelValues("update_rider_location").Inc()
		log.Printf("booking: failed to persist rider %s location: %v", riderID, err)
	}
	s.reg.SetSlotCache(rec.ID, n, registry.SlotCache{RiderID: riderID, Lat: lat, Lng: lng})
	return rec, n
}

// resolve finds the record and slot bound to riderID, cache-first.
func (s *Service) resolve(ctx context.Context, riderID string) (*driver.Record, int) {
	if driverID, _, ok := s.reg.FindByRider(riderID); ok {
		rec, err := s.repo.Get(ctx, driverID)
		if err == nil {
			if n, _ := rec.SlotByRider(riderID); n != 0 {
				return rec, n
			}
			// Cache diverged from the store (booking cleared elsewhere);
			// fall through to the authoritative scan.
		} else if !errors.Is(err, driver.ErrNotFound) {
			metrics.StoreFailures.WithLabelValues("read_driver").Inc()
		}
	}

	records, err := s.repo.All(ctx)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("list_drivers").Inc()
		log.Printf("booking: failed to list drivers while routing rider %s: %v", riderID, err)
		return nil, 0
	}
	for _, rec := range records {
		if n, _ := rec.SlotByRider(riderID); n != 0 {
			return rec, n
		}
	}
	return nil, 0
}

// UpdateDriverLocation persists a driver's own coordinates, best-effort.
func (s *Service) UpdateDriverLocation(ctx context.Context, driverID string, lat, lng float64) {
	if err := s.repo.SetDriverLocation(ctx, driverID, lat, lng); err != nil {
		metrics.StoreFailures.WithLabelValues("update_driver_location").Inc()
		log.Printf("booking: failed to persist driver %s location: %v", driverID, err)
		return
	}
	s.mirror(stream.Event{
		Kind:     stream.KindDriverLocation,
		DriverID: driverID,
		Payload:  map[string]interface{}{"lat": lat, "lng": lng},
	})
}

// High-frequency events would spam the log; throttle per key.
var (
	throttleMu sync.Mutex
	lastLogAt  = make(map[string]time.Time)
)

// throttleMapMax bounds the throttle map: once reached, expired entries are
// evicted before a new key is inserted.
const throttleMapMax = 1024

func logThrottled(key string, every time.Duration, msg string) {
	throttleMu.Lock()
	defer throttleMu.Unlock()
	now := time.Now()
	if now.Sub(lastLogAt[key]) <= every {
		return
	}
	log.Print(msg)
	if len(lastLogAt) >= throttleMapMax {
		for k, at := range lastLogAt {
			if now.Sub(at) > every {
				delete(lastLogAt, k)
			}
		}
	}
	lastLogAt[key] = now
}
