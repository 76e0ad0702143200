// Package admin exposes the stateless request/response surface: record CRUD,
// login, online listing, booking clearing and debug views.
package admin

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rideline/ride-relay/booking"
	"github.com/rideline/ride-relay/driver"
	"github.com/rideline/ride-relay/geo"
	"github.com/rideline/ride-relay/registry"
	"github.com/rideline/ride-relay/relay"
)

// Handler carries the dependencies of the admin endpoints.
type Handler struct {
	repo     *driver.Repo
	reg      *registry.Registry
	svc      *booking.Service
	geoIndex *geo.Index
}

func NewHandler(repo *driver.Repo, reg *registry.Registry, svc *booking.Service, geoIndex *geo.Index) *Handler {
	return &Handler{repo: repo, reg: reg, svc: svc, geoIndex: geoIndex}
}

// driverOut adds the record id, which is the store key and not part of the
// stored document.
type driverOut struct {
	ID string `json:"id"`
	*driver.Record
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateDriver registers a new driver record.
func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string  `json:"name"`
		Email    string  `json:"email"`
		Password string  `json:"password"`
		Phone    string  `json:"phone"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" || req.Phone == "" {
		http.Error(w, "All fields are required.", http.StatusBadRequest)
		return
	}

	rec := &driver.Record{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Phone:     req.Phone,
		Online:    1,
		DriverLat: req.Lat,
		DriverLng: req.Lng,
	}
	id, err := h.repo.Create(r.Context(), rec)
	if err != nil {
		log.Printf("admin: failed to create driver: %v", err)
		http.Error(w, "Failed to create driver", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Driver added successfully",
		"driverId": id,
	})
}

// ListOnline returns every record currently flagged online.
func (h *Handler) ListOnline(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.Online(r.Context())
	if err != nil {
		log.Printf("admin: failed to list online drivers: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	out := make([]driverOut, 0, len(records))
	for _, rec := range records {
		out = append(out, driverOut{ID: rec.ID, Record: rec})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(out),
		"drivers": out,
	})
}

// Login authenticates a driver by email and password equality.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	rec, err := h.repo.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, driver.ErrBadCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
			return
		}
		log.Printf("admin: login failed: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Login successful",
		"loggedInUser": driverOut{ID: rec.ID, Record: rec},
	})
}

// SetOnline updates the online flag of one record.
func (h *Handler) SetOnline(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	online := 0
	if req.Online {
		online = 1
	}
	if err := h.repo.SetOnline(r.Context(), driverID, online); err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			http.Error(w, "Driver not found", http.StatusNotFound)
			return
		}
		log.Printf("admin: failed to set online flag for %s: %v", driverID, err)
		http.Error(w, "Failed to update driver", http.StatusInternalServerError)
		return
	}
	if online == 0 {
		h.geoIndex.Remove(driverID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ClearBooking clears a booking by its 6-digit code and notifies the
// driver's connection group.
func (h *Handler) ClearBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingCode string `json:"bookingCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookingCode == "" {
		http.Error(w, "Booking code is required!", http.StatusBadRequest)
		return
	}

	driverID, _, err := h.svc.ClearByCode(r.Context(), req.BookingCode)
	if err != nil {
		if errors.Is(err, booking.ErrCodeNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No matching booking code found!"})
			return
		}
		log.Printf("admin: failed to clear booking %s: %v", req.BookingCode, err)
		http.Error(w, "Server error clearing booking!", http.StatusInternalServerError)
		return
	}

	h.reg.Send(driverID, relay.EvBookingCleared, relay.BookingCleared{BookingCode: req.BookingCode})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Booking cleared successfully!"})
}

// GetDriver fetches one record by id.
func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	rec, err := h.repo.Get(r.Context(), driverID)
	if err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			http.Error(w, "Driver not found", http.StatusNotFound)
			return
		}
		log.Printf("admin: failed to fetch driver %s: %v", driverID, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, driverOut{ID: rec.ID, Record: rec})
}

// Nearby returns online drivers in the geohash neighborhood of lat/lng.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		http.Error(w, "lat and lng query parameters are required", http.StatusBadRequest)
		return
	}

	out := []driverOut{}
	for _, id := range h.geoIndex.Near(lat, lng) {
		rec, err := h.repo.Get(r.Context(), id)
		if err != nil || rec.Online != 1 {
			continue
		}
		out = append(out, driverOut{ID: id, Record: rec})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(out),
		"drivers": out,
	})
}

// DebugSessions dumps the in-memory registry.
func (h *Handler) DebugSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connectedDrivers": h.reg.Snapshot(),
	})
}

// DebugEmit pushes a riderPositionUpdate to a connected driver. Helpful
// while debugging clients.
func (h *Handler) DebugEmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string  `json:"driverId"`
		RiderID  string  `json:"riderId"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" || req.RiderID == "" {
		http.Error(w, "driverId & riderId required", http.StatusBadRequest)
		return
	}

	ok := h.reg.Send(req.DriverID, relay.EvRiderPositionUpdate, relay.RiderPositionUpdate{
		RiderID: req.RiderID,
		Lat:     req.Lat,
		Lng:     req.Lng,
	})
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"message":  "Driver not connected in-memory",
			"driverId": req.DriverID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Emitted to driver connection group",
		"driverId": req.DriverID,
	})
}
