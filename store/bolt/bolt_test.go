package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "roomsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("school_reservations", []byte(`[]`)))

	value, ok, err := s.Get("school_reservations")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[]`, string(value))
}

func TestStore_GetAbsent(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_BackupRestore(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("school_rooms", []byte(`{"room1":{"id":"room1"}}`)))
	require.NoError(t, s.Set("school_rooms", []byte(`{"room2":{"id":"room2"}}`)))

	// Corrupt the primary value behind the store's back
	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketData).Put([]byte("school_rooms"), []byte(`{"room2":`))
	}))

	value, ok, err := s.Get("school_rooms")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"room1":{"id":"room1"}}`, string(value), "backup must be served")
}

func TestStore_CorruptedWithoutBackup(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketData).Put([]byte("school_rooms"), []byte(`not json`))
	}))

	_, _, err := s.Get("school_rooms")
	require.Error(t, err)
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("sync_status", []byte(`{"status":"success"}`)))
	require.NoError(t, s.Remove("sync_status"))

	_, ok, err := s.Get("sync_status")
	require.NoError(t, err)
	assert.False(t, ok)
}
