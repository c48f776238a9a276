// Package nodestore owns the node hierarchy: it keeps every node in memory,
// enforces naming and structural rules on mutation and rewrites the whole
// document through a storage.Provider after each successful change.
//
// All methods are safe for concurrent use. Mutations are serialized behind
// one write lock; reads share a read lock.
package nodestore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/treeapp/internal/apperr"
	"github.com/starford/treeapp/internal/hierarchy"
	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/storage"
)

// Observer receives store activity. Implementations must be cheap and
// must not call back into the store.
type Observer interface {
	Observe(op string, success bool, d time.Duration)
	Saved(d time.Duration)
	Nodes(n int)
	Recovered()
}

type nopObserver struct{}

func (nopObserver) Observe(string, bool, time.Duration) {}
func (nopObserver) Saved(time.Duration)                 {}
func (nopObserver) Nodes(int)                           {}
func (nopObserver) Recovered()                          {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithClock overrides time.Now for timestamps and backup names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the random UUID generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// Store is the node repository.
type Store struct {
	mu     sync.RWMutex
	nodes  map[string]*models.Node
	rootID string

	provider storage.Provider
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Open loads the document from p. A missing document yields an empty store.
// An unparseable document is moved aside and the store starts empty; Open
// only fails when the document cannot be read or moved aside at all.
func Open(p storage.Provider, opts ...Option) (*Store, error) {
	s := &Store{
		nodes:    make(map[string]*models.Node),
		provider: p,
		logger:   slog.Default(),
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := s.provider.Read()
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("store document not found, starting empty", slog.String("location", s.provider.Location()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("nodestore: load: %w", err)
	}

	snap, coerced, err := decode(data)
	if err != nil {
		tag := "corrupt-" + s.now().UTC().Format("20060102T150405Z")
		backup, mvErr := s.provider.MoveAside(tag)
		if mvErr != nil {
			return fmt.Errorf("nodestore: load: %w: %v; backup failed: %w", apperr.ErrPersistenceCorrupt, err, mvErr)
		}
		s.observer.Recovered()
		s.logger.Warn("store document is corrupt, moved aside and starting empty",
			slog.String("location", s.provider.Location()),
			slog.String("backup", backup),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.nodes = snap.Nodes
	s.rootID = snap.RootID
	if len(coerced) > 0 {
		s.logger.Warn("unknown node statuses loaded as pending",
			slog.String("location", s.provider.Location()),
			slog.Int("nodes", len(coerced)),
			slog.String("first_id", coerced[0]),
		)
	}
	if err := hierarchy.ValidateHierarchy(s.nodes); err != nil {
		s.logger.Warn("store document contains a cycle, run the integrity check",
			slog.String("location", s.provider.Location()),
			slog.String("error", err.Error()),
		)
	}
	s.observer.Nodes(len(s.nodes))
	s.logger.Info("store loaded",
		slog.String("location", s.provider.Location()),
		slog.Int("nodes", len(s.nodes)),
		slog.String("root_id", s.rootID),
	)
	return nil
}

// persist writes the whole store. Caller holds the write lock.
func (s *Store) persist() error {
	start := time.Now()
	data, err := Encode(models.Snapshot{RootID: s.rootID, Nodes: s.nodes}, s.now())
	if err != nil {
		return fmt.Errorf("nodestore: encode: %w", err)
	}
	if err := s.provider.Write(data); err != nil {
		s.logger.Error("store write failed", slog.String("location", s.provider.Location()), slog.String("error", err.Error()))
		return fmt.Errorf("nodestore: save: %w", err)
	}
	s.observer.Saved(time.Since(start))
	s.observer.Nodes(len(s.nodes))
	return nil
}

func (s *Store) track(op string, start time.Time, err *error) {
	s.observer.Observe(op, *err == nil, time.Since(start))
}

// mutate runs fn under the write lock and persists if fn changed anything,
// even when fn failed part way.
func (s *Store) mutate(op string, fn func(tx *Tx) error) (err error) {
	defer s.track(op, time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s}
	err = fn(tx)
	if tx.dirty {
		if perr := s.persist(); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

// Update runs fn as one compound mutation: fn sees a consistent store, no
// other call interleaves and the document is written once at the end.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.mutate("update_tx", fn)
}

// View runs fn under the read lock. Mutating calls on tx fail.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Tx{s: s, readOnly: true})
}

// CreateNode adds a node and returns its id. The first node created while
// no root is set becomes the root and parentID is ignored.
func (s *Store) CreateNode(name string, typ models.NodeType, parentID string) (id string, err error) {
	err = s.mutate("create", func(tx *Tx) error {
		var txErr error
		id, txErr = tx.CreateNode(name, typ, parentID)
		return txErr
	})
	return id, err
}

// UpdateNode applies the non-nil fields of upd and refreshes UpdatedAt.
func (s *Store) UpdateNode(id string, upd models.NodeUpdate) error {
	return s.mutate("update", func(tx *Tx) error { return tx.UpdateNode(id, upd) })
}

// DeleteNode removes id and its whole subtree.
func (s *Store) DeleteNode(id string) error {
	return s.mutate("delete", func(tx *Tx) error { return tx.DeleteNode(id) })
}

// MoveNode re-parents id under newParentID, appending it to the new parent's children.
func (s *Store) MoveNode(id, newParentID string) error {
	return s.mutate("move", func(tx *Tx) error { return tx.MoveNode(id, newParentID) })
}

// DuplicateNode copies the subtree of id next to the original and returns the copy's id.
func (s *Store) DuplicateNode(id string) (copyID string, err error) {
	err = s.mutate("duplicate", func(tx *Tx) error {
		var txErr error
		copyID, txErr = tx.DuplicateNode(id)
		return txErr
	})
	return copyID, err
}

// ClearAll removes every node and the root pointer.
func (s *Store) ClearAll() error {
	return s.mutate("clear", func(tx *Tx) error {
		tx.ClearAll()
		return nil
	})
}

// GetNode returns a copy of the node.
func (s *Store) GetNode(id string) (*models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Children returns the ordered child ids of id, empty when id is unknown.
func (s *Store) Children(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return []string{}
	}
	return append([]string{}, n.Children...)
}

// CountNodes returns the number of nodes.
func (s *Store) CountNodes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// RootID returns the root pointer, "" when unset.
func (s *Store) RootID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootID
}

// Stats counts nodes by type and status.
func (s *Store) Stats() models.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st models.Stats
	for _, n := range s.nodes {
		st.Add(n)
	}
	return st
}

// Ancestors returns the parent chain of id, nearest first.
func (s *Store) Ancestors(id string) ([]*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, notFound(id)
	}
	var chain []*models.Node
	seen := map[string]struct{}{id: {}}
	for n.HasParent() {
		parent, ok := s.nodes[n.ParentID]
		if !ok {
			break
		}
		if _, loop := seen[parent.ID]; loop {
			break
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent.Clone())
		n = parent
	}
	return chain, nil
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Store) snapshot() models.Snapshot {
	nodes := make(map[string]*models.Node, len(s.nodes))
	for id, n := range s.nodes {
		nodes[id] = n.Clone()
	}
	return models.Snapshot{RootID: s.rootID, Nodes: nodes}
}

// Location describes where the document is persisted.
func (s *Store) Location() string { return s.provider.Location() }
