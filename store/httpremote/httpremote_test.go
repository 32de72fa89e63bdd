package httpremote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	syncErrors "github.com/roomsync/roomsync/errors"
	"github.com/roomsync/roomsync/logging"
	"github.com/roomsync/roomsync/store"
)

// docServer is a minimal in-memory document service for tests.
type docServer struct {
	mu   sync.Mutex
	docs map[string]store.Document // "collection/doc" -> document
}

func newDocServer() *docServer {
	return &docServer{docs: make(map[string]store.Document)}
}

func (ds *docServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{collection}/{doc}", func(w http.ResponseWriter, r *http.Request) {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		doc, ok := ds.docs[r.PathValue("collection")+"/"+r.PathValue("doc")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("PUT /collections/{collection}/{doc}", func(w http.ResponseWriter, r *http.Request) {
		var doc store.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ds.mu.Lock()
		ds.docs[r.PathValue("collection")+"/"+r.PathValue("doc")] = doc
		ds.mu.Unlock()
	})
	mux.HandleFunc("DELETE /collections/{collection}/{doc}", func(w http.ResponseWriter, r *http.Request) {
		ds.mu.Lock()
		delete(ds.docs, r.PathValue("collection")+"/"+r.PathValue("doc"))
		ds.mu.Unlock()
	})
	mux.HandleFunc("GET /collections/{collection}", func(w http.ResponseWriter, r *http.Request) {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		docs := []store.Document{}
		prefix := r.PathValue("collection") + "/"
		for key, doc := range ds.docs {
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				docs = append(docs, doc)
			}
		}
		json.NewEncoder(w).Encode(docs)
	})
	return mux
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL,
		WithRetry(3, 5*time.Millisecond),
		WithLogger(logging.Nop()),
	)
}

func TestClient_SetGetDelete(t *testing.T) {
	client := newTestClient(t, newDocServer().handler())
	ctx := context.Background()

	doc := store.Document{
		Data:        json.RawMessage(`[{"room":"room1"}]`),
		LastUpdated: time.Now().UTC().Truncate(time.Second),
		Version:     42,
	}
	if err := client.Set(ctx, "school_reservations", "main", doc); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := client.Get(ctx, "school_reservations", "main")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected document to exist")
	}
	if got.Version != 42 {
		t.Errorf("expected version 42, got %d", got.Version)
	}

	if err := client.Delete(ctx, "school_reservations", "main"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, err = client.Get(ctx, "school_reservations", "main")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected document to be gone")
	}
}

func TestClient_GetAbsent(t *testing.T) {
	client := newTestClient(t, newDocServer().handler())

	_, ok, err := client.Get(context.Background(), "school_rooms", "main")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected absent document")
	}
}

func TestClient_List(t *testing.T) {
	ds := newDocServer()
	client := newTestClient(t, ds.handler())
	ctx := context.Background()

	for _, key := range []string{"lockA", "lockB"} {
		if err := client.Set(ctx, "active_locks", key, store.Document{Data: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	docs, err := client.List(ctx, "active_locks")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 documents, got %d", len(docs))
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	ds := newDocServer()
	inner := ds.handler()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if failures > 0 {
			failures--
			mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		mu.Unlock()
		inner.ServeHTTP(w, r)
	})

	client := newTestClient(t, handler)
	if err := client.Set(context.Background(), "school_rooms", "main", store.Document{Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
}

func TestClient_RetryCapExhausted(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := newTestClient(t, handler)
	err := client.Set(context.Background(), "school_rooms", "main", store.Document{Data: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !client.Available() {
		t.Error("transient failures must not disable the remote tier")
	}
}

func TestClient_PermissionDeniedDisables(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	client := newTestClient(t, handler)
	err := client.Set(context.Background(), "school_rooms", "main", store.Document{Data: json.RawMessage(`{}`)})
	if !syncErrors.IsPermissionDenied(err) {
		t.Fatalf("expected permission-denied error, got %v", err)
	}
	if client.Available() {
		t.Error("permission failure must disable the remote tier")
	}

	// Subsequent calls fail fast without hitting the network
	if err := client.Set(context.Background(), "school_rooms", "main", store.Document{}); err == nil {
		t.Error("expected error from disabled tier")
	}
}
