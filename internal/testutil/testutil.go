// Package testutil provides shared test helpers for setting up stores,
// indexes and services.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/treeapp/internal/index"
	"github.com/starford/treeapp/internal/nodestore"
	"github.com/starford/treeapp/internal/storage"
	"github.com/starford/treeapp/internal/treeservice"
	"github.com/starford/treeapp/internal/workspace"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "treeapp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore opens a node store backed by a data file in a temp directory.
func TestStore(t *testing.T) (*nodestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "treeapp_data.json")
	p, err := storage.NewFS(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := nodestore.Open(p, nodestore.WithLogger(Logger()))
	if err != nil {
		t.Fatal(err)
	}
	return s, path
}

// Event is one notification captured by Recorder.
type Event struct {
	Name    string
	Payload map[string]any
}

// Recorder is a workspace.Notifier that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event.
func (r *Recorder) Publish(event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: event, Payload: payload})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Name)
	}
	return out
}

// Env bundles the components of a wired test service.
type Env struct {
	Store   *nodestore.Store
	Path    string
	DB      *index.DB
	Events  *Recorder
	Service *treeservice.Service
	Init    *workspace.Initializer
}

// TestService wires a store, index, initializer and service with an
// initialized workspace.
func TestService(t *testing.T) *Env {
	t.Helper()
	store, path := TestStore(t)
	db := TestDB(t)
	rec := &Recorder{}
	ws := workspace.New(store, rec, Logger())
	if _, err := ws.InitializeIfNeeded(); err != nil {
		t.Fatal(err)
	}
	svc := treeservice.NewService(store, db, ws, rec, Logger())
	if err := index.Rebuild(db, store.Snapshot(), Logger()); err != nil {
		t.Fatal(err)
	}
	return &Env{Store: store, Path: path, DB: db, Events: rec, Service: svc, Init: ws}
}

// RootID returns the current root id of the env's store.
func (e *Env) RootID() string { return e.Store.RootID() }
