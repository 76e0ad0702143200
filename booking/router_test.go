package booking

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rideline/ride-relay/driver"
	"github.com/rideline/ride-relay/registry"
)

type nopSender struct{}

func (nopSender) Send(event string, data interface{}) error { return nil }

func TestRoute_DeliveredToOnlineDriver(t *testing.T) {
	f := newFixture(t)
	id := f.createDriver(t, &driver.Record{
		Slot1: driver.Slot{RiderID: "r1", BookingCode: "111111"},
		Slot2: driver.Slot{RiderID: "r2", BookingCode: "222222"},
	})
	f.reg.Register(id, nopSender{})

	res := f.svc.Route(f.ctx, "r1", 12.9, 77.6)
	assert.Equal(t, Delivered, res.Status)
	assert.Equal(t, id, res.DriverID)
	assert.Equal(t, 1, res.Slot)

	// The matched slot's coordinates are updated, never the other slot.
	rec, err := f.repo.Get(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 12.9, rec.Slot1.RiderLat)
	assert.Equal(t, 77.6, rec.Slot1.RiderLng)
	assert.Equal(t, 0.0, rec.Slot2.RiderLat)
}

func TestRoute_PersistedOnlyWhenDriverOffline(t *testing.T) {
	f := newFixture(t)
	id := f.createDriver(t, &driver.Record{
		Slot2: driver.Slot{RiderID: "r2", BookingCode: "222222"},
	})

	res := f.svc.Route(f.ctx, "r2", 1.5, 2.5)
	assert.Equal(t, PersistedOnly, res.Status)
	assert.Equal(t, id, res.DriverID)
	assert.Equal(t, 2, res.Slot)

	// The durable copy still got the update.
	rec, err := f.repo.Get(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.5, rec.Slot2.RiderLat)
}

func TestRoute_MissIsDropped(t *testing.T) {
	f := newFixture(t)
	f.createDriver(t, &driver.Record{
		Slot1: driver.Slot{RiderID: "r1", BookingCode: "111111"},
	})

	res := f.svc.Route(f.ctx, "orphan", 1, 1)
	assert.Equal(t, Miss, res.Status)
	assert.Empty(t, res.DriverID)
}

func TestRoute_StaleCacheFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	// Cache claims d-stale binds the rider, but the store says otherwise.
	f.reg.Register("d-stale", nopSender{})
	f.reg.SetSlotCache("d-stale", 1, registry.SlotCache{RiderID: "r1"})
	f.createDriver(t, &driver.Record{Name: "stale"}) // record without the rider

	id := f.createDriver(t, &driver.Record{
		Slot1: driver.Slot{RiderID: "r1", BookingCode: "111111"},
	})

	res := f.svc.Route(f.ctx, "r1", 3, 4)
	assert.NotEqual(t, Miss, res.Status)
	assert.Equal(t, id, res.DriverID)
	assert.Equal(t, 1, res.Slot)
}

func TestRoute_RouteAfterClearIsMiss(t *testing.T) {
	f := newFixture(t)
	id := f.createDriver(t, &driver.Record{Name: "D"})
	f.reg.Register(id, nopSender{})

	res, err := f.svc.Allocate(f.ctx, Request{DriverID: id, RiderID: "r1"})
	require.NoError(t, err)

	_, _, err = f.svc.ClearByCode(f.ctx, res.BookingCode)
	require.NoError(t, err)

	// A location update after the clear is a routing miss, not an error.
	route := f.svc.Route(f.ctx, "r1", 9, 9)
	assert.Equal(t, Miss, route.Status)
}

func TestLogThrottled_EvictsExpiredAtCap(t *testing.T) {
	throttleMu.Lock()
	lastLogAt = make(map[string]time.Time)
	stale := time.Now().Add(-time.Minute)
	for i := 0; i < throttleMapMax; i++ {
		lastLogAt[strconv.Itoa(i)] = stale
	}
	throttleMu.Unlock()

	// At the cap, inserting a new key evicts every expired entry instead
	// of growing the map.
	logThrottled("fresh", 5*time.Second, "throttle eviction check")

	throttleMu.Lock()
	defer throttleMu.Unlock()
	assert.Len(t, lastLogAt, 1)
	assert.Contains(t, lastLogAt, "fresh")
}

func TestUpdateDriverLocation(t *testing.T) {
	f := newFixture(t)
	id := f.createDriver(t, &driver.Record{Name: "D"})

	f.svc.UpdateDriverLocation(f.ctx, id, 10.5, 20.5)

	rec, err := f.repo.Get(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10.5, rec.DriverLat)
	assert.Equal(t, 20.5, rec.DriverLng)
}
