// Package workspace bootstraps a node store into a state with a valid root.
package workspace

import (
	"log/slog"
	"sync/atomic"

	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/nodestore"
)

// Event names published by the Initializer.
const (
	EventCreated = "workspace_created"
	EventReset   = "workspace_reset"
)

// Content of the root folder of a fresh workspace.
const (
	RootName     = "Root"
	RootMarkdown = "# New root folder"
	RootNotes    = "Root folder of the initial project"
)

// Notifier receives lifecycle events. Delivery is fire-and-forget.
type Notifier interface {
	Publish(event string, payload map[string]any)
}

// State is the initializer's view of the store.
type State int

const (
	StateUnknown State = iota
	StateNeedsInit
	StateConsistent
)

func (s State) String() string {
	switch s {
	case StateNeedsInit:
		return "needs_init"
	case StateConsistent:
		return "consistent"
	default:
		return "unknown"
	}
}

// Preview is the root data shown right after initialization.
type Preview struct {
	RootID   string          `json:"root_id"`
	Name     string          `json:"name"`
	Status   models.Status   `json:"status"`
	Markdown string          `json:"markdown"`
	Notes    string          `json:"notes"`
	Type     models.NodeType `json:"type"`
	Children []string        `json:"children"`
}

// Result reports what InitializeIfNeeded did.
type Result struct {
	CreatedNew bool     `json:"created_new"`
	RootID     string   `json:"root_id"`
	Preview    *Preview `json:"preview_data"`
}

// Stats are the store counts plus the root pointer.
type Stats struct {
	models.Stats
	RootID string `json:"root_id"`
}

// Initializer decides whether the store needs a root and installs one.
type Initializer struct {
	store    *nodestore.Store
	notifier Notifier
	logger   *slog.Logger
	state    atomic.Int32
}

// New creates an Initializer. notifier may be nil.
func New(store *nodestore.Store, notifier Notifier, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initializer{store: store, notifier: notifier, logger: logger}
}

// State returns the state observed by the last call.
func (w *Initializer) State() State { return State(w.state.Load()) }

func needsInit(tx *nodestore.Tx) bool {
	if tx.CountNodes() == 0 || tx.RootID() == "" {
		return true
	}
	_, ok := tx.Node(tx.RootID())
	return !ok
}

// ShouldCreateInitialWorkspace reports whether the store is empty, has no
// root, or points at a root that does not exist.
func (w *Initializer) ShouldCreateInitialWorkspace() bool {
	var needs bool
	_ = w.store.View(func(tx *nodestore.Tx) error {
		needs = needsInit(tx)
		return nil
	})
	w.observe(needs)
	return needs
}

func (w *Initializer) setState(st State) { w.state.Store(int32(st)) }

func (w *Initializer) observe(needs bool) {
	if needs {
		w.setState(StateNeedsInit)
	} else {
		w.setState(StateConsistent)
	}
}

// install wipes any existing nodes and creates the root folder.
func (w *Initializer) install(tx *nodestore.Tx) (string, error) {
	if n := tx.CountNodes(); n > 0 {
		w.logger.Warn("discarding existing nodes to create the initial workspace",
			slog.Int("nodes", n),
			slog.String("root_id", tx.RootID()),
		)
		tx.ClearAll()
	}
	return tx.CreateRoot(RootName, RootMarkdown, RootNotes)
}

func (w *Initializer) publish(event string, payload map[string]any) {
	if w.notifier != nil {
		w.notifier.Publish(event, payload)
	}
}

// CreateInitialWorkspace installs a fresh "Root" folder as the root. Any
// nodes present are deleted first, even ones a repair could have kept.
func (w *Initializer) CreateInitialWorkspace() (string, error) {
	var rootID string
	err := w.store.Update(func(tx *nodestore.Tx) error {
		var err error
		rootID, err = w.install(tx)
		return err
	})
	if err != nil {
		return "", err
	}
	w.setState(StateConsistent)
	w.logger.Info("initial workspace created", slog.String("root_id", rootID))
	w.publish(EventCreated, map[string]any{"root_id": rootID, "workspace_type": "initial"})
	return rootID, nil
}

// InitializeIfNeeded creates the initial workspace only when required and
// returns a preview of the root either way. Repeated calls are idempotent.
func (w *Initializer) InitializeIfNeeded() (Result, error) {
	var res Result
	err := w.store.Update(func(tx *nodestore.Tx) error {
		needs := needsInit(tx)
		w.observe(needs)
		if needs {
			id, err := w.install(tx)
			if err != nil {
				return err
			}
			res.CreatedNew = true
			res.RootID = id
		} else {
			res.RootID = tx.RootID()
		}
		if root, ok := tx.Node(res.RootID); ok {
			res.Preview = previewOf(root)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	w.setState(StateConsistent)
	if res.CreatedNew {
		w.logger.Info("initial workspace created", slog.String("root_id", res.RootID))
		w.publish(EventCreated, map[string]any{"root_id": res.RootID, "workspace_type": "initial"})
	}
	return res, nil
}

// Reset discards the whole store and installs a fresh root.
func (w *Initializer) Reset() (string, error) {
	var rootID string
	err := w.store.Update(func(tx *nodestore.Tx) error {
		tx.ClearAll()
		var err error
		rootID, err = w.install(tx)
		return err
	})
	if err != nil {
		return "", err
	}
	w.setState(StateConsistent)
	w.logger.Info("workspace reset", slog.String("root_id", rootID))
	w.publish(EventCreated, map[string]any{"root_id": rootID, "workspace_type": "initial"})
	w.publish(EventReset, map[string]any{"new_root_id": rootID})
	return rootID, nil
}

// Preview returns the root preview, or nil without a valid root.
func (w *Initializer) Preview() *Preview {
	var p *Preview
	_ = w.store.View(func(tx *nodestore.Tx) error {
		if root, ok := tx.Node(tx.RootID()); ok {
			p = previewOf(root)
		}
		return nil
	})
	return p
}

// Stats returns the node counts together with the root id.
func (w *Initializer) Stats() Stats {
	return Stats{Stats: w.store.Stats(), RootID: w.store.RootID()}
}

func previewOf(n *models.Node) *Preview {
	return &Preview{
		RootID:   n.ID,
		Name:     n.Name,
		Status:   n.Status,
		Markdown: n.Markdown,
		Notes:    n.Notes,
		Type:     n.Type,
		Children: n.Children,
	}
}
