// Package stream mirrors relay events into a message broker for offline
// consumers (analytics, audit). Publishing is fire-and-forget: the relay
// never blocks on or fails with the stream.
package stream

import (
	"context"
	"time"
)

// Event kinds mirrored to the stream.
const (
	KindBookingCreated = "bookingCreated"
	KindBookingCleared = "bookingCleared"
	KindRiderLocation  = "riderLocation"
	KindDriverLocation = "driverLocation"
)

// Event is one relay occurrence worth mirroring.
type Event struct {
	Kind     string                 `json:"kind"`
	DriverID string                 `json:"driver_id,omitempty"`
	RiderID  string                 `json:"rider_id,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	At       time.Time              `json:"at"`
}

// Publisher pushes events to the configured broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards every event. Used when no stream is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event Event) error { return nil }
func (Noop) Close() error                                   { return nil }
