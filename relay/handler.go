// Package relay implements the websocket protocol surface: one read loop per
// connection, a dispatch table keyed by event kind, and the session
// lifecycle of driver identities.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rideline/ride-relay/booking"
	"github.com/rideline/ride-relay/config"
	"github.com/rideline/ride-relay/driver"
	"github.com/rideline/ride-relay/geo"
	"github.com/rideline/ride-relay/metrics"
	"github.com/rideline/ride-relay/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the websocket endpoint and drives the registry, the slot
// allocator and the location router from inbound events.
type Handler struct {
	cfg       *config.AppConfig
	reg       *registry.Registry
	repo      *driver.Repo
	svc       *booking.Service
	geoIndex  *geo.Index
	validator *JWTValidator

	mu       sync.Mutex
	sessions map[string]*ClientSession
}

func NewHandler(cfg *config.AppConfig, reg *registry.Registry, repo *driver.Repo, svc *booking.Service, geoIndex *geo.Index, validator *JWTValidator) *Handler {
	return &Handler{
		cfg:       cfg,
		reg:       reg,
		repo:      repo,
		svc:       svc,
		geoIndex:  geoIndex,
		validator: validator,
		sessions:  make(map[string]*ClientSession),
	}
}

// storeCtx bounds a store call made from the relay path. The parent is
// always Background: a dropped connection must not cancel an in-flight
// durable write.
func (h *Handler) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(),
		time.Duration(h.cfg.Store.OpTimeoutSeconds)*time.Second)
}

// HandleWebSocket upgrades the connection and runs its read loop. Events of
// one connection are handled inline here, so they stay ordered; connections
// interleave freely.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Auth.Enabled {
		tokenString := r.URL.Query().Get(h.cfg.Auth.TokenQueryParam)
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}
		if _, err := h.validator.ValidateToken(tokenString); err != nil {
			log.Printf("Auth error from %s: %v", r.RemoteAddr, err)
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	session := NewClientSession(uuid.New().String(), conn, &h.cfg.WebSocket)
	session.StartTimers()
	conn.SetPongHandler(session.PongHandler())
	conn.SetReadLimit(int64(h.cfg.WebSocket.MessageSizeLimit))

	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()

	defer h.disconnect(session)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) {
				log.Printf("Read error from connection %s: %v", session.ID, err)
			}
			session.Close(websocket.CloseNormalClosure, "Client disconnected")
			return
		}
		session.UpdateActivity()
		h.dispatch(session, msg)
	}
}

// dispatch routes one inbound frame. A handler failure is logged, never
// propagated: nothing thrown here may terminate the connection or the
// process.
func (h *Handler) dispatch(session *ClientSession, msg []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Recovered from panic handling frame on %s: %v", session.ID, rec)
		}
	}()

	env, err := DecodeEnvelope(msg)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("malformed").Inc()
		log.Printf("Dropping malformed frame from %s: %v", session.ID, err)
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case EvRegister:
		h.handleRegister(session, env.Data)
	case EvDriverLocation:
		h.handleDriverLocation(session, env.Data)
	case EvRiderLocation:
		h.handleRiderLocation(session, env.Data)
	case EvBookDriver:
		h.handleBookDriver(session, env.Data)
	default:
		metrics.EventsRejected.WithLabelValues(env.Event).Inc()
		log.Printf("Dropping unrecognized event %q from %s", env.Event, session.ID)
	}
}

// handleRegister binds the connection to a driver identity, primes the slot
// cache from the durable record and replays active bookings so a driver
// reconnecting mid-trip recovers them without polling.
func (h *Handler) handleRegister(session *ClientSession, data json.RawMessage) {
	p := &RegisterPayload{}
	if err := json.Unmarshal(data, p); err != nil || p.Validate() != nil {
		metrics.EventsRejected.WithLabelValues(EvRegister).Inc()
		log.Printf("register frame missing driverId on connection %s", session.ID)
		return
	}

	session.driverID = p.DriverID
	h.reg.Register(p.DriverID, session)
	log.Printf("Driver registered: %s (connection %s)", p.DriverID, session.ID)

	ctx, cancel := h.storeCtx()
	defer cancel()

	// Best-effort durable online flag.
	if err := h.repo.SetOnline(ctx, p.DriverID, 1); err != nil {
		metrics.StoreFailures.WithLabelValues("set_online").Inc()
		log.Printf("Could not update online flag for driver %s: %v", p.DriverID, err)
	}

	rec, err := h.repo.Get(ctx, p.DriverID)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("read_driver").Inc()
		log.Printf("Could not load record for driver %s after register: %v", p.DriverID, err)
		return
	}

	if rec.DriverLat != 0 || rec.DriverLng != 0 {
		h.geoIndex.Update(p.DriverID, rec.DriverLat, rec.DriverLng)
	}

	for n := 1; n <= driver.SlotCount; n++ {
		slot := rec.Slot(n)
		if slot.Free() {
			continue
		}
		h.reg.SetSlotCache(p.DriverID, n, registry.SlotCache{
			RiderID: slot.RiderID,
			Lat:     slot.RiderLat,
			Lng:     slot.RiderLng,
		})
		h.reg.Send(p.DriverID, EvBookingConfirmed, BookingConfirmed{
			RiderID:     slot.RiderID,
			Lat:         slot.RiderLat,
			Lng:         slot.RiderLng,
			BookingCode: slot.BookingCode,
			Slot:        SlotLabel(n),
		})
	}
}

// handleDriverLocation persists a driver's own position. Frames from a
// connection that never registered are dropped.
func (h *Handler) handleDriverLocation(session *ClientSession, data json.RawMessage) {
	if session.driverID == "" {
		metrics.EventsRejected.WithLabelValues(EvDriverLocation).Inc()
		return
	}
	p := &DriverLocationPayload{}
	if err := json.Unmarshal(data, p); err != nil {
		metrics.EventsRejected.WithLabelValues(EvDriverLocation).Inc()
		return
	}

	h.reg.Touch(session.driverID)
	h.geoIndex.Update(session.driverID, p.Lat, p.Lng)

	ctx, cancel := h.storeCtx()
	defer cancel()
	h.svc.UpdateDriverLocation(ctx, session.driverID, p.Lat, p.Lng)
}

// handleRiderLocation routes a rider position to its bound driver. A miss is
// logged and dropped; the rider is never told.
func (h *Handler) handleRiderLocation(session *ClientSession, data json.RawMessage) {
	p := &RiderLocationPayload{}
	if err := json.Unmarshal(data, p); err != nil || p.Validate() != nil {
		metrics.EventsRejected.WithLabelValues(EvRiderLocation).Inc()
		return
	}

	ctx, cancel := h.storeCtx()
	defer cancel()
	res := h.svc.Route(ctx, p.RiderID, p.Lat, p.Lng)
	if res.Status != booking.Delivered {
		return
	}
	h.reg.Send(res.DriverID, EvRiderPositionUpdate, RiderPositionUpdate{
		RiderID: p.RiderID,
		Lat:     p.Lat,
		Lng:     p.Lng,
		Slot:    SlotLabel(res.Slot),
	})
}

// handleBookDriver allocates a slot and replies to the requesting connection
// with typed status events; the driver group is notified when online.
func (h *Handler) handleBookDriver(session *ClientSession, data json.RawMessage) {
	p := &BookDriverPayload{}
	if err := json.Unmarshal(data, p); err != nil || p.Validate() != nil {
		metrics.EventsRejected.WithLabelValues(EvBookDriver).Inc()
		session.Send(EvBookingStatus, BookingStatus{
			Status:  "error",
			Message: "Driver or Rider ID missing",
		})
		return
	}

	ctx, cancel := h.storeCtx()
	defer cancel()
	res, err := h.svc.Allocate(ctx, booking.Request{
		DriverID:    p.DriverID,
		RiderID:     p.RiderID,
		Lat:         p.Lat,
		Lng:         p.Lng,
		Pickup:      p.Pickup,
		Destination: p.Destination,
		CreatedAt:   p.CreatedAt,
	})
	switch {
	case errors.Is(err, booking.ErrDriverFull):
		session.Send(EvBookingFailed, "Driver full")
		return
	case errors.Is(err, driver.ErrNotFound):
		session.Send(EvBookingStatus, BookingStatus{Status: "error", Message: "Driver not found"})
		return
	case err != nil:
		log.Printf("Booking for rider %s on driver %s failed: %v", p.RiderID, p.DriverID, err)
		session.Send(EvBookingStatus, BookingStatus{Status: "error", Message: "Server error"})
		return
	}

	session.Send(EvBookingStatus, BookingStatus{
		Status:   "success",
		Slot:     SlotLabel(res.Slot),
		DriverID: p.DriverID,
	})
	session.Send(EvBookingSuccess, BookingSuccess{
		DriverID: p.DriverID,
		BookingData: BookingData{
			BookingCode: res.BookingCode,
			Slot:        SlotLabel(res.Slot),
			Lat:         p.Lat,
			Lng:         p.Lng,
			CreatedAt:   res.CreatedAt,
		},
	})

	if res.DriverOnline {
		h.reg.Send(p.DriverID, EvBookingConfirmed, BookingConfirmed{
			RiderID:     p.RiderID,
			Lat:         p.Lat,
			Lng:         p.Lng,
			BookingCode: res.BookingCode,
			Slot:        SlotLabel(res.Slot),
		})
		log.Printf("Notified driver %s of new booking for rider %s", p.DriverID, p.RiderID)
	}
}

// disconnect tears the connection down. The registry entry goes offline but
// keeps its slot cache; only the staleness sweep deletes it.
func (h *Handler) disconnect(session *ClientSession) {
	h.mu.Lock()
	delete(h.sessions, session.ID)
	h.mu.Unlock()
	metrics.ActiveConnections.Dec()

	if session.driverID == "" {
		return
	}
	driverID := session.driverID

	// The driver may have re-registered on a fresh connection while this
	// one was dying; tearing down this stale session must leave the new
	// one alone.
	if !h.reg.UnregisterIf(driverID, session) {
		log.Printf("Stale connection %s for driver %s closed; newer session kept", session.ID, driverID)
		return
	}
	log.Printf("Driver disconnected: %s (connection %s)", driverID, session.ID)

	h.geoIndex.Remove(driverID)

	online := 0
	if !h.cfg.Relay.MarkOfflineOnDisconnect {
		online = 1
	}
	ctx, cancel := h.storeCtx()
	defer cancel()
	if err := h.repo.SetOnline(ctx, driverID, online); err != nil {
		metrics.StoreFailures.WithLabelValues("set_online").Inc()
		log.Printf("Could not update online flag for driver %s on disconnect: %v", driverID, err)
	}
}

// CloseAll closes every open connection, for graceful shutdown.
func (h *Handler) CloseAll(reason string) {
	h.mu.Lock()
	sessions := make([]*ClientSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close(websocket.CloseGoingAway, reason)
	}
}
