package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event kinds.
const (
	EvRegister       = "register"
	EvDriverLocation = "driverLocation"
	EvRiderLocation  = "riderLocation"
	EvBookDriver     = "bookDriver"
)

// Outbound event kinds.
const (
	EvBookingConfirmed    = "bookingConfirmed"
	EvBookingStatus       = "bookingStatus"
	EvBookingSuccess      = "bookingSuccess"
	EvBookingFailed       = "bookingFailed"
	EvRiderPositionUpdate = "riderPositionUpdate"
	EvBookingCleared      = "bookingCleared"
)

// Envelope frames every message on the wire, both directions:
// {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a raw frame and rejects unrecognized shapes before
// dispatch.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return nil, errors.New("frame missing event kind")
	}
	return env, nil
}

// RegisterPayload announces a driver identity on a fresh connection.
type RegisterPayload struct {
	DriverID string `json:"driverId"`
}

func (p *RegisterPayload) Validate() error {
	if p.DriverID == "" {
		return errors.New("register: missing driverId")
	}
	return nil
}

// DriverLocationPayload is a driver's own live position.
type DriverLocationPayload struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Speed    *float64 `json:"speed,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// RiderLocationPayload is a rider's live position. Riders are identified by
// an explicit application-level id, never by the connection.
type RiderLocationPayload struct {
	RiderID string  `json:"riderId"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (p *RiderLocationPayload) Validate() error {
	if p.RiderID == "" {
		return errors.New("riderLocation: missing riderId")
	}
	return nil
}

// BookDriverPayload is a rider's request to book a slot on a driver.
type BookDriverPayload struct {
	DriverID    string  `json:"driverId"`
	RiderID     string  `json:"riderId"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Pickup      string  `json:"pickup"`
	Destination string  `json:"destination"`
	CreatedAt   int64   `json:"createdAt,omitempty"`
}

func (p *BookDriverPayload) Validate() error {
	if p.DriverID == "" || p.RiderID == "" {
		return errors.New("bookDriver: missing driverId or riderId")
	}
	return nil
}

// BookingConfirmed notifies the driver's connection group of a booking.
type BookingConfirmed struct {
	RiderID     string  `json:"riderId"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	BookingCode string  `json:"bookingCode"`
	Slot        string  `json:"slot"`
}

// BookingStatus is the typed success/error reply to the requesting connection.
type BookingStatus struct {
	Status   string `json:"status"`
	Slot     string `json:"slot,omitempty"`
	DriverID string `json:"driverId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// BookingData is the booking detail block inside BookingSuccess.
type BookingData struct {
	BookingCode string  `json:"bookingCode"`
	Slot        string  `json:"slot"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CreatedAt   int64   `json:"createdAt"`
}

// BookingSuccess carries the full booking back to the requester.
type BookingSuccess struct {
	DriverID    string      `json:"driverId"`
	BookingData BookingData `json:"bookingData"`
}

// RiderPositionUpdate relays a rider's position to its bound driver.
type RiderPositionUpdate struct {
	RiderID string  `json:"riderId"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Slot    string  `json:"slot,omitempty"`
}

// BookingCleared notifies the driver's connection group that a booking was
// cleared by code.
type BookingCleared struct {
	BookingCode string `json:"bookingCode"`
}

// SlotLabel names a slot number on the wire ("slot1"/"slot2").
func SlotLabel(n int) string {
	return fmt.Sprintf("slot%d", n)
}
