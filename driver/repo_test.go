package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rideline/ride-relay/store"
)

func newTestRepo(t *testing.T) (*Repo, context.Context) {
	t.Helper()
	return NewRepo(store.NewMemoryStore()), context.Background()
}

func TestRepo_CreateAndGet(t *testing.T) {
	repo, ctx := newTestRepo(t)

	id, err := repo.Create(ctx, &Record{
		Name:     "Asha",
		Email:    "asha@example.com",
		Password: "secret",
		Phone:    "555-0101",
		Online:   1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "Asha", rec.Name)
	assert.Equal(t, 1, rec.Online)
	assert.True(t, rec.Slot1.Free())
	assert.True(t, rec.Slot2.Free())
}

func TestRepo_GetNotFound(t *testing.T) {
	repo, ctx := newTestRepo(t)

	_, err := repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_Online(t *testing.T) {
	repo, ctx := newTestRepo(t)

	onID, err := repo.Create(ctx, &Record{Name: "on", Online: 1})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &Record{Name: "off", Online: 0})
	require.NoError(t, err)

	online, err := repo.Online(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, onID, online[0].ID)
}

func TestRepo_SetSlotTouchesOnlyThatSlot(t *testing.T) {
	repo, ctx := newTestRepo(t)

	id, err := repo.Create(ctx, &Record{
		Name:  "D",
		Slot2: Slot{RiderID: "r2", BookingCode: "222222", Pickup: "A", Destination: "B"},
	})
	require.NoError(t, err)

	err = repo.SetSlot(ctx, id, 1, Slot{RiderID: "r1", BookingCode: "111111"})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.Slot1.RiderID)
	// The other slot survives untouched.
	assert.Equal(t, "r2", rec.Slot2.RiderID)
	assert.Equal(t, "A", rec.Slot2.Pickup)
}

func TestRepo_ClearSlot(t *testing.T) {
	repo, ctx := newTestRepo(t)

	id, err := repo.Create(ctx, &Record{
		Slot1: Slot{
			RiderID:     "r1",
			BookingCode: "111111",
			CreatedAt:   42,
			RiderLat:    12.9,
			RiderLng:    77.6,
			Pickup:      "MG Road",
			Destination: "Airport",
		},
	})
	require.NoError(t, err)

	require.NoError(t, repo.ClearSlot(ctx, id, 1))

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Slot{}, rec.Slot1)
}

func TestRepo_SetOnlineNotFound(t *testing.T) {
	repo, ctx := newTestRepo(t)

	err := repo.SetOnline(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_Authenticate(t *testing.T) {
	repo, ctx := newTestRepo(t)

	id, err := repo.Create(ctx, &Record{
		Name:     "Asha",
		Email:    "asha@example.com",
		Password: "secret",
	})
	require.NoError(t, err)

	rec, err := repo.Authenticate(ctx, "asha@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)

	_, err = repo.Authenticate(ctx, "asha@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = repo.Authenticate(ctx, "nobody@example.com", "secret")
	assert.ErrorIs(t, err, ErrBadCredentials)
}
