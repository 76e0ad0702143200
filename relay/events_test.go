package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		wantEvent string
		wantErr   bool
	}{
		{
			name:      "Valid frame",
			raw:       `{"event":"register","data":{"driverId":"d1"}}`,
			wantEvent: "register",
		},
		{
			name:      "Data may be absent",
			raw:       `{"event":"driverLocation"}`,
			wantEvent: "driverLocation",
		},
		{
			name:    "Not JSON",
			raw:     `hello there`,
			wantErr: true,
		},
		{
			name:    "Missing event kind",
			raw:     `{"data":{"driverId":"d1"}}`,
			wantErr: true,
		},
		{
			name:    "JSON but wrong shape",
			raw:     `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantEvent, env.Event)
		})
	}
}

func TestPayloadValidation(t *testing.T) {
	assert.Error(t, (&RegisterPayload{}).Validate())
	assert.NoError(t, (&RegisterPayload{DriverID: "d1"}).Validate())

	assert.Error(t, (&RiderLocationPayload{Lat: 1, Lng: 2}).Validate())
	assert.NoError(t, (&RiderLocationPayload{RiderID: "r1"}).Validate())

	assert.Error(t, (&BookDriverPayload{DriverID: "d1"}).Validate())
	assert.Error(t, (&BookDriverPayload{RiderID: "r1"}).Validate())
	assert.NoError(t, (&BookDriverPayload{DriverID: "d1", RiderID: "r1"}).Validate())
}

func TestSlotLabel(t *testing.T) {
	assert.Equal(t, "slot1", SlotLabel(1))
	assert.Equal(t, "slot2", SlotLabel(2))
}
