package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rideline/ride-relay/booking"
	"github.com/rideline/ride-relay/config"
	"github.com/rideline/ride-relay/driver"
	"github.com/rideline/ride-relay/geo"
	"github.com/rideline/ride-relay/metrics"
	"github.com/rideline/ride-relay/registry"
	"github.com/rideline/ride-relay/store"
	"github.com/rideline/ride-relay/stream"
)

type relayFixture struct {
	repo *driver.Repo
	reg  *registry.Registry
	svc  *booking.Service
	url  string
	ctx  context.Context
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	cfg := &config.AppConfig{
		Store: config.StoreConfig{Type: "memory", OpTimeoutSeconds: 2},
		WebSocket: config.WebSocketConfig{
			MessageSizeLimit: 4096,
			PingInterval:     30,
			PongTimeout:      60,
			ActivityTimeout:  60,
			WriteTimeout:     5,
		},
		Relay: config.RelayConfig{MarkOfflineOnDisconnect: true},
	}

	repo := driver.NewRepo(store.NewMemoryStore())
	reg := registry.New()
	svc := booking.NewService(repo, reg, stream.Noop{}, 2*time.Second)
	h := NewHandler(cfg, reg, repo, svc, geo.NewIndex(), nil)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	return &relayFixture{
		repo: repo,
		reg:  reg,
		svc:  svc,
		url:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		ctx:  context.Background(),
	}
}

func (f *relayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *relayFixture) createDriver(t *testing.T, rec *driver.Record) string {
	t.Helper()
	id, err := f.repo.Create(f.ctx, rec)
	require.NoError(t, err)
	return id
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": event,
		"data":  data,
	}))
}

// awaitEvent reads frames until one of the wanted kind arrives, returning its
// data block.
func awaitEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", want)
		env, err := DecodeEnvelope(msg)
		require.NoError(t, err)
		if env.Event == want {
			return env.Data
		}
	}
}

// assertSilent asserts no frame arrives within the window. Only safe as the
// last read on a connection: the deadline poisons it.
func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHandler_RegisterReplaysActiveBookings(t *testing.T) {
	f := newRelayFixture(t)
	id := f.createDriver(t, &driver.Record{
		Name: "D",
		Slot1: driver.Slot{
			RiderID:     "r1",
			BookingCode: "111111",
			RiderLat:    12.9,
			RiderLng:    77.6,
		},
	})

	conn := f.dial(t)
	send(t, conn, EvRegister, RegisterPayload{DriverID: id})

	data := awaitEvent(t, conn, EvBookingConfirmed)
	confirmed := BookingConfirmed{}
	require.NoError(t, json.Unmarshal(data, &confirmed))
	assert.Equal(t, "r1", confirmed.RiderID)
	assert.Equal(t, "111111", confirmed.BookingCode)
	assert.Equal(t, "slot1", confirmed.Slot)
	assert.Equal(t, 12.9, confirmed.Lat)

	// The replay also primes the in-memory cache for routing.
	require.Eventually(t, func() bool {
		driverID, slot, ok := f.reg.FindByRider("r1")
		return ok && driverID == id && slot == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_BookThenRelayThenClear(t *testing.T) {
	f := newRelayFixture(t)
	id := f.createDriver(t, &driver.Record{Name: "D"})

	driverConn := f.dial(t)
	send(t, driverConn, EvRegister, RegisterPayload{DriverID: id})
	require.Eventually(t, func() bool { return f.reg.Online(id) }, time.Second, 10*time.Millisecond)

	riderConn := f.dial(t)
	send(t, riderConn, EvBookDriver, BookDriverPayload{
		DriverID: id,
		RiderID:  "r1",
		Lat:      12.9,
		Lng:      77.6,
		Pickup:   "MG Road",
	})

	status := BookingStatus{}
	require.NoError(t, json.Unmarshal(awaitEvent(t, riderConn, EvBookingStatus), &status))
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, "slot1", status.Slot)
	assert.Equal(t, id, status.DriverID)

	success := BookingSuccess{}
	require.NoError(t, json.Unmarshal(awaitEvent(t, riderConn, EvBookingSuccess), &success))
	assert.Equal(t, id, success.DriverID)
	assert.Equal(t, "slot1", success.BookingData.Slot)
	assert.NotEmpty(t, success.BookingData.BookingCode)

	confirmed := BookingConfirmed{}
	require.NoError(t, json.Unmarshal(awaitEvent(t, driverConn, EvBookingConfirmed), &confirmed))
	assert.Equal(t, "r1", confirmed.RiderID)
	assert.Equal(t, success.BookingData.BookingCode, confirmed.BookingCode)

	// A rider position now reaches the bound driver, tagged with the slot.
	send(t, riderConn, EvRiderLocation, RiderLocationPayload{RiderID: "r1", Lat: 13.0, Lng: 77.7})
	update := RiderPositionUpdate{}
	require.NoError(t, json.Unmarshal(awaitEvent(t, driverConn, EvRiderPositionUpdate), &update))
	assert.Equal(t, "r1", update.RiderID)
	assert.Equal(t, 13.0, update.Lat)
	assert.Equal(t, "slot1", update.Slot)

	// After the booking is cleared, the same rider's positions become
	// routing misses and the driver hears nothing more.
	_, _, err := f.svc.ClearByCode(f.ctx, success.BookingData.BookingCode)
	require.NoError(t, err)

	send(t, riderConn, EvRiderLocation, RiderLocationPayload{RiderID: "r1", Lat: 14.0, Lng: 78.0})
	assertSilent(t, driverConn)
}

func TestHandler_BookDriverFull(t *testing.T) {
	f := newRelayFixture(t)
	id := f.createDriver(t, &driver.Record{
		Slot1: driver.Slot{RiderID: "r1", BookingCode: "111111"},
		Slot2: driver.Slot{RiderID: "r2", BookingCode: "222222"},
	})

	conn := f.dial(t)
	send(t, conn, EvBookDriver, BookDriverPayload{DriverID: id, RiderID: "r3"})

	var msg string
	require.NoError(t, json.Unmarshal(awaitEvent(t, conn, EvBookingFailed), &msg))
	assert.Equal(t, "Driver full", msg)
}

func TestHandler_BookDriverErrors(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	send(t, conn, EvBookDriver, BookDriverPayload{DriverID: "ghost", RiderID: "r1"})
	status := BookingStatus{}
	require.NoError(t, json.Unmarshal(awaitEvent(t, conn, EvBookingStatus), &status))
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "Driver not found", status.Message)

	send(t, conn, EvBookDriver, BookDriverPayload{RiderID: "r1"})
	status = BookingStatus{}
	require.NoError(t, json.Unmarshal(awaitEvent(t, conn, EvBookingStatus), &status))
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "Driver or Rider ID missing", status.Message)
}

func TestHandler_MalformedFramesDoNotKillConnection(t *testing.T) {
	f := newRelayFixture(t)
	id := f.createDriver(t, &driver.Record{Name: "D"})

	conn := f.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"x":1}}`)))
	send(t, conn, "noSuchEvent", map[string]string{"x": "y"})
	send(t, conn, EvRegister, map[string]string{})                // missing driverId
	send(t, conn, EvDriverLocation, map[string]float64{"lat": 1}) // before register

	// The connection survives all of it and still registers.
	send(t, conn, EvRegister, RegisterPayload{DriverID: id})
	require.Eventually(t, func() bool { return f.reg.Online(id) }, time.Second, 10*time.Millisecond)
}

func TestHandler_DisconnectMarksOfflineButKeepsCache(t *testing.T) {
	f := newRelayFixture(t)
	id := f.createDriver(t, &driver.Record{Name: "D", Online: 1})

	conn := f.dial(t)
	send(t, conn, EvRegister, RegisterPayload{DriverID: id})
	require.Eventually(t, func() bool { return f.reg.Online(id) }, time.Second, 10*time.Millisecond)

	_, err := f.svc.Allocate(f.ctx, booking.Request{DriverID: id, RiderID: "r1"})
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return !f.reg.Online(id) }, time.Second, 10*time.Millisecond)

	// The entry and its slot cache outlive the connection; only the
	// staleness sweep removes them.
	e, ok := f.reg.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "r1", e.Slots[0].RiderID)

	require.Eventually(t, func() bool {
		rec, err := f.repo.Get(f.ctx, id)
		return err == nil && rec.Online == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_StaleCloseAfterReconnectKeepsSessionLive(t *testing.T) {
	f := newRelayFixture(t)
	id := f.createDriver(t, &driver.Record{Name: "D", Online: 1})

	oldConn := f.dial(t)
	send(t, oldConn, EvRegister, RegisterPayload{DriverID: id})
	require.Eventually(t, func() bool { return f.reg.Online(id) }, time.Second, 10*time.Millisecond)
	first, ok := f.reg.Lookup(id)
	require.True(t, ok)

	// Fast reconnect: a fresh connection takes over the driver identity.
	newConn := f.dial(t)
	send(t, newConn, EvRegister, RegisterPayload{DriverID: id})
	require.Eventually(t, func() bool {
		e, ok := f.reg.Lookup(id)
		return ok && e.LastSeen.After(first.LastSeen)
	}, time.Second, 10*time.Millisecond)

	// Kill the old socket and wait for its teardown to run.
	before := testutil.ToFloat64(metrics.ActiveConnections)
	require.NoError(t, oldConn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveConnections) == before-1
	}, time.Second, 10*time.Millisecond)

	// The fresh session survives the stale close: still online, durable
	// flag untouched, pushes still delivered.
	assert.True(t, f.reg.Online(id))
	rec, err := f.repo.Get(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Online)

	require.True(t, f.reg.Send(id, EvBookingCleared, BookingCleared{BookingCode: "111111"}))
	cleared := BookingCleared{}
	require.NoError(t, json.Unmarshal(awaitEvent(t, newConn, EvBookingCleared), &cleared))
	assert.Equal(t, "111111", cleared.BookingCode)
}

func TestHandler_DriverLocationPersisted(t *testing.T) {
	f := newRelayFixture(t)
	id := f.createDriver(t, &driver.Record{Name: "D"})

	conn := f.dial(t)
	send(t, conn, EvRegister, RegisterPayload{DriverID: id})
	send(t, conn, EvDriverLocation, DriverLocationPayload{Lat: 12.9, Lng: 77.6})

	require.Eventually(t, func() bool {
		rec, err := f.repo.Get(f.ctx, id)
		return err == nil && rec.DriverLat == 12.9 && rec.DriverLng == 77.6
	}, time.Second, 10*time.Millisecond)
}
