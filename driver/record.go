// Package driver holds the durable driver record and its two booking slots.
package driver

// Slot is one of the two fixed booking capacity units on a driver. A slot is
// free iff RiderID is empty; an occupied slot always carries a booking code.
type Slot struct {
	RiderID     string  `json:"rider_id"`
	BookingCode string  `json:"booking_code"`
	CreatedAt   int64   `json:"created_at"`
	RiderLat    float64 `json:"rider_lat"`
	RiderLng    float64 `json:"rider_lng"`
	Pickup      string  `json:"pickup"`
	Destination string  `json:"destination"`
}

// Free reports whether the slot holds no active booking.
func (s *Slot) Free() bool {
	return s.RiderID == ""
}

// Record is the durable driver document. The two slots are stored as separate
// top-level fields so one slot can be replaced in a single partial update
// without touching the other.
type Record struct {
	ID        string  `json:"-"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Phone     string  `json:"phone"`
	Online    int     `json:"online"`
	DriverLat float64 `json:"driver_lat"`
	DriverLng float64 `json:"driver_lng"`
	Slot1     Slot    `json:"slot1"`
	Slot2     Slot    `json:"slot2"`
}

// SlotCount is the fixed booking capacity per driver.
const SlotCount = 2

// SlotKey returns the document field name for a slot number (1 or 2).
func SlotKey(n int) string {
	if n == 1 {
		return "slot1"
	}
	return "slot2"
}

// Slot returns the slot with the given number (1 or 2), or nil.
func (r *Record) Slot(n int) *Slot {
	switch n {
	case 1:
		return &r.Slot1
	case 2:
		return &r.Slot2
	}
	return nil
}

// FreeSlot returns the number of the first free slot in fixed order
// (slot 1, then slot 2), or false when both are occupied.
func (r *Record) FreeSlot() (int, bool) {
	if r.Slot1.Free() {
		return 1, true
	}
	if r.Slot2.Free() {
		return 2, true
	}
	return 0, false
}

// Occupied returns the number of occupied slots.
func (r *Record) Occupied() int {
	n := 0
	if !r.Slot1.Free() {
		n++
	}
	if !r.Slot2.Free() {
		n++
	}
	return n
}

// SlotByCode returns the slot holding the given booking code.
func (r *Record) SlotByCode(code string) (int, *Slot) {
	if code == "" {
		return 0, nil
	}
	if r.Slot1.BookingCode == code {
		return 1, &r.Slot1
	}
	if r.Slot2.BookingCode == code {
		return 2, &r.Slot2
	}
	return 0, nil
}

// SlotByRider returns the slot currently bound to the given rider.
func (r *Record) SlotByRider(riderID string) (int, *Slot) {
	if riderID == "" {
		return 0, nil
	}
	if r.Slot1.RiderID == riderID {
		return 1, &r.Slot1
	}
	if r.Slot2.RiderID == riderID {
		return 2, &r.Slot2
	}
	return 0, nil
}
