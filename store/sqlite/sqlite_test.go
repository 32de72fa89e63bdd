package sqlite

import (
	"fmt"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomsync.db")
	s, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("school_reservations", []byte(`[{"room":"room1"}]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := s.Get("school_reservations")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if string(value) != `[{"room":"room1"}]` {
		t.Errorf("unexpected value: %s", value)
	}
}

func TestStore_GetAbsent(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected absent key")
	}
}

func TestStore_BackupRestore(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("school_rooms", []byte(`{"room1":{"id":"room1"}}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// Second write moves the first value into the backup slot, then we
	// corrupt the primary value directly.
	if err := s.Set("school_rooms", []byte(`{"room1":{"id":"room1"},"room2":{"id":"room2"}}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(`UPDATE %s SET value = ? WHERE key = ?`, s.tableName), []byte(`{"room1":`), "school_rooms"); err != nil {
		t.Fatalf("failed to corrupt value: %v", err)
	}

	value, ok, err := s.Get("school_rooms")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected backup to be served")
	}
	if string(value) != `{"room1":{"id":"room1"}}` {
		t.Errorf("expected backup value, got %s", value)
	}
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("sync_status", []byte(`{"status":"success"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Remove("sync_status"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	_, ok, err := s.Get("sync_status")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected key to be removed")
	}
}

func TestStore_Closed(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.Set("k", []byte(`{}`)); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, _, err := s.Get("k"); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
