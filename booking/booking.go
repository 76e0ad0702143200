// Package booking implements slot allocation, rider location routing and
// clearing of bookings. It mutates the durable store and the registry cache;
// pushing the resulting protocol events to connections is the relay's job.
package booking

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rideline/ride-relay/driver"
	"github.com/rideline/ride-relay/metrics"
	"github.com/rideline/ride-relay/registry"
	"github.com/rideline/ride-relay/stream"
)

var (
	// ErrDriverFull is returned when both slots are occupied. The driver is
	// valid; the caller must retry against a different driver.
	ErrDriverFull = errors.New("booking: driver full")
	// ErrCodeNotFound is returned when no active booking carries the code.
	ErrCodeNotFound = errors.New("booking: no matching booking code")
)

// Service coordinates bookings across the driver repository, the connection
// registry cache and the event stream.
type Service struct {
	repo         *driver.Repo
	reg          *registry.Registry
	stream       stream.Publisher
	storeTimeout time.Duration

	// mu serializes every read-check-write of slot fields. Without it two
	// concurrent bookings can both observe the same free slot and one
	// silently overwrites the other.
	mu sync.Mutex
}

func NewService(repo *driver.Repo, reg *registry.Registry, pub stream.Publisher, storeTimeout time.Duration) *Service {
	return &Service{repo: repo, reg: reg, stream: pub, storeTimeout: storeTimeout}
}

// Request carries one booking attempt.
type Request struct {
	DriverID    string
	RiderID     string
	Lat         float64
	Lng         float64
	Pickup      string
	Destination string
	CreatedAt   int64
}

// Result describes a successful allocation.
type Result struct {
	Slot         int
	BookingCode  string
	CreatedAt    int64
	DriverOnline bool
}

// Allocate books the rider into the first free slot of the driver, in fixed
// slot order. The slot fields are written to the durable record in a single
// partial update and mirrored into the registry cache when the driver holds
// a live session.
func (s *Service) Allocate(ctx context.Context, req Request) (*Result, error) {
	slot, n, err := s.place(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.BookingsCreated.Inc()

	s.mirror(stream.Event{
		Kind:     stream.KindBookingCreated,
		DriverID: req.DriverID,
		RiderID:  req.RiderID,
		Payload: map[string]interface{}{
			"slot":         n,
			"booking_code": slot.BookingCode,
			"pickup":       req.Pickup,
			"destination":  req.Destination,
		},
	})

	return &Result{
		Slot:         n,
		BookingCode:  slot.BookingCode,
		CreatedAt:    slot.CreatedAt,
		DriverOnline: s.reg.Online(req.DriverID),
	}, nil
}

// place claims the first free slot under the allocation lock. The lock spans
// the whole read-check-write window so two concurrent bookings cannot claim
// the same slot.
func (s *Service) place(ctx context.Context, req Request) (driver.Slot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.Get(ctx, req.DriverID)
	if err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			metrics.BookingsRejected.WithLabelValues("not_found").Inc()
		}
		return driver.Slot{}, 0, err
	}

	n, ok := rec.FreeSlot()
	if !ok {
		metrics.BookingsRejected.WithLabelValues("driver_full").Inc()
		return driver.Slot{}, 0, ErrDriverFull
	}

	createdAt := req.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	slot := driver.Slot{
		RiderID:     req.RiderID,
		BookingCode: newBookingCode(rec),
		CreatedAt:   createdAt,
		RiderLat:    req.Lat,
		RiderLng:    req.Lng,
		Pickup:      req.Pickup,
		Destination: req.Destination,
	}

	// The durable write is the record of the booking; if it fails the
	// booking did not happen.
	if err := s.repo.SetSlot(ctx, req.DriverID, n, slot); err != nil {
		metrics.StoreFailures.WithLabelValues("update_slot").Inc()
		return driver.Slot{}, 0, err
	}

	s.reg.SetSlotCache(req.DriverID, n, registry.SlotCache{
		RiderID: req.RiderID,
		Lat:     req.Lat,
		Lng:     req.Lng,
	})
	return slot, n, nil
}

// ClearByCode scans all driver records for the booking code, nulls exactly
// that slot's fields and clears the cache mirror. Returns the driver and
// slot that were cleared.
func (s *Service) ClearByCode(ctx context.Context, code string) (string, int, error) {
	if code == "" {
		return "", 0, ErrCodeNotFound
	}
	driverID, n, riderID, err := s.clear(ctx, code)
	if err != nil {
		return "", 0, err
	}
	s.mirror(stream.Event{
		Kind:     stream.KindBookingCleared,
		DriverID: driverID,
		RiderID:  riderID,
		Payload:  map[string]interface{}{"slot": n, "booking_code": code},
	})
	return driverID, n, nil
}

// clear locates and nulls the slot under the allocation lock so a clear
// cannot interleave with a concurrent booking of the same slot.
func (s *Service) clear(ctx context.Context, code string) (string, int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.repo.All(ctx)
	if err != nil {
		return "", 0, "", err
	}
	for _, rec := range records {
		n, slot := rec.SlotByCode(code)
		if n == 0 {
			continue
		}
		riderID := slot.RiderID
		if err := s.repo.ClearSlot(ctx, rec.ID, n); err != nil {
			metrics.StoreFailures.WithLabelValues("clear_slot").Inc()
			return "", 0, "", err
		}
		s.reg.ClearSlotCache(rec.ID, n)
		return rec.ID, n, riderID, nil
	}
	return "", 0, "", ErrCodeNotFound
}

// mirror publishes to the event stream, best-effort with a bounded timeout.
func (s *Service) mirror(event stream.Event) {
	event.At = time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	if err := s.stream.Publish(ctx, event); err != nil {
		metrics.StreamPublishFailures.Inc()
		log.Printf("booking: stream publish of %s failed: %v", event.Kind, err)
	}
}

// newBookingCode draws a 6-digit code uniformly from [100000, 999999],
// regenerating while it collides with an active code on the same driver.
// Codes from different drivers may still collide.
func newBookingCode(rec *driver.Record) string {
	for {
		code := strconv.Itoa(100000 + rand.Intn(900000))
		if _, s := rec.SlotByCode(code); s == nil {
			return code
		}
	}
}
