package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationKeys(t *testing.T) {
	r := Reservation{
		Room:    "room1",
		Date:    "2024-01-07",
		Time:    "09:00-09:45",
		Subject: "math",
	}

	assert.Equal(t, "room1_2024-01-07_09:00-09:45_math", r.Key())
	assert.Equal(t, "room1_2024-01-07_09:00-09:45", r.SlotKey())
}

func TestLockExpired(t *testing.T) {
	created := time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC)
	lock := Lock{
		Key:     "room1_2024-01-07_09:00-09:45",
		Created: created,
		Expires: created.Add(300000 * time.Millisecond),
	}

	assert.False(t, lock.Expired(created.Add(299999*time.Millisecond)))
	assert.False(t, lock.Expired(created.Add(300000*time.Millisecond)))
	assert.True(t, lock.Expired(created.Add(300001*time.Millisecond)))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Reservation{
		Room: "room1",
		Date: "2024-01-07",
		Time: "09:00-09:45",
	}))

	err := Validate(Reservation{Date: "2024-01-07", Time: "09:00-09:45"})
	require.Error(t, err, "missing room must fail validation")

	require.NoError(t, Validate(Room{ID: "room1"}))
	require.Error(t, Validate(Room{Name: "no id"}))

	require.Error(t, Validate(Lock{}), "lock without key must fail validation")
}
