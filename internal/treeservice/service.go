// Package treeservice coordinates the node store, the search index and the
// event notifier behind the HTTP, MCP and CLI surfaces.
package treeservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/treeapp/internal/apperr"
	"github.com/starford/treeapp/internal/hierarchy"
	"github.com/starford/treeapp/internal/index"
	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/nodestore"
	"github.com/starford/treeapp/internal/outline"
	"github.com/starford/treeapp/internal/query"
	"github.com/starford/treeapp/internal/workspace"
)

// Event names published after successful mutations.
const (
	EventNodeCreated    = "node.created"
	EventNodeUpdated    = "node.updated"
	EventNodeDeleted    = "node.deleted"
	EventNodeMoved      = "node.moved"
	EventNodeDuplicated = "node.duplicated"
	EventNodeImported   = "node.imported"
	EventExternalChange = "store.external_change"
)

// CreateInput describes a node to create. Content fields are optional.
type CreateInput struct {
	Name     string
	Type     models.NodeType
	ParentID string
	Status   models.Status
	Markdown string
	Notes    string
	Code     string
}

// WorkspaceInfo summarizes the workspace without changing it.
type WorkspaceInfo struct {
	State    string             `json:"state"`
	Location string             `json:"location"`
	Preview  *workspace.Preview `json:"preview_data,omitempty"`
	Stats    workspace.Stats    `json:"stats"`
}

// Service coordinates store, index and notifier operations.
type Service struct {
	store    *nodestore.Store
	db       index.NodeIndex
	ws       *workspace.Initializer
	notifier workspace.Notifier
	logger   *slog.Logger
}

// NewService creates a new tree service. notifier may be nil.
func NewService(store *nodestore.Store, db index.NodeIndex, ws *workspace.Initializer, notifier workspace.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, db: db, ws: ws, notifier: notifier, logger: logger}
}

func (s *Service) publish(event string, payload map[string]any) {
	if s.notifier != nil {
		s.notifier.Publish(event, payload)
	}
}

// RebuildIndex brings the search index in line with the store.
func (s *Service) RebuildIndex(_ context.Context) error {
	return index.Rebuild(s.db, s.store.Snapshot(), s.logger)
}

// syncIndex rebuilds after compound mutations. The index is derived data, so
// failures are logged rather than returned.
func (s *Service) syncIndex() {
	if err := index.Rebuild(s.db, s.store.Snapshot(), s.logger); err != nil {
		s.logger.Warn("index sync failed", slog.String("error", err.Error()))
	}
}

func (s *Service) reindex(ids ...string) {
	for _, id := range ids {
		n, ok := s.store.GetNode(id)
		if !ok {
			continue
		}
		if _, err := index.SyncNode(s.db, n); err != nil {
			s.logger.Warn("index update failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

func (s *Service) unindex(ids ...string) {
	if err := s.db.DeleteNodes(ids...); err != nil {
		s.logger.Warn("index delete failed", slog.Int("count", len(ids)), slog.String("error", err.Error()))
	}
}

func notFound(id string) error {
	return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
}

// Workspace reports the workspace state, root preview and counts.
func (s *Service) Workspace(_ context.Context) WorkspaceInfo {
	s.ws.ShouldCreateInitialWorkspace()
	return WorkspaceInfo{
		State:    s.ws.State().String(),
		Location: s.store.Location(),
		Preview:  s.ws.Preview(),
		Stats:    s.ws.Stats(),
	}
}

// InitWorkspace creates the initial workspace when the store needs one.
func (s *Service) InitWorkspace(_ context.Context) (workspace.Result, error) {
	res, err := s.ws.InitializeIfNeeded()
	if err != nil {
		return workspace.Result{}, err
	}
	if res.CreatedNew {
		s.syncIndex()
	}
	return res, nil
}

// ResetWorkspace discards every node and installs a fresh root.
func (s *Service) ResetWorkspace(_ context.Context) (string, error) {
	rootID, err := s.ws.Reset()
	if err != nil {
		return "", err
	}
	s.syncIndex()
	return rootID, nil
}

// GetNode returns a node by id.
func (s *Service) GetNode(_ context.Context, id string) (*models.Node, error) {
	n, ok := s.store.GetNode(id)
	if !ok {
		return nil, notFound(id)
	}
	return n, nil
}

// Children returns the children of id in order.
func (s *Service) Children(_ context.Context, id string) ([]*models.Node, error) {
	if _, ok := s.store.GetNode(id); !ok {
		return nil, notFound(id)
	}
	ids := s.store.Children(id)
	out := make([]*models.Node, 0, len(ids))
	for _, cid := range ids {
		if n, ok := s.store.GetNode(cid); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// Ancestors returns the parent chain of id, nearest first.
func (s *Service) Ancestors(_ context.Context, id string) ([]*models.Node, error) {
	return s.store.Ancestors(id)
}

// CreateNode creates a node and applies any initial content in one write.
func (s *Service) CreateNode(_ context.Context, in CreateInput) (*models.Node, error) {
	var id string
	err := s.store.Update(func(tx *nodestore.Tx) error {
		var err error
		if in.Status != "" && !in.Status.Valid() {
			return fmt.Errorf("%w: %q", apperr.ErrInvalidStatus, in.Status)
		}
		id, err = tx.CreateNode(in.Name, in.Type, in.ParentID)
		if err != nil {
			return err
		}
		upd := models.NodeUpdate{}
		if in.Status != "" {
			upd.Status = &in.Status
		}
		if in.Markdown != "" {
			upd.Markdown = &in.Markdown
		}
		if in.Notes != "" {
			upd.Notes = &in.Notes
		}
		if in.Code != "" {
			upd.Code = &in.Code
		}
		if upd.Empty() {
			return nil
		}
		return tx.UpdateNode(id, upd)
	})
	if err != nil {
		return nil, err
	}
	n, _ := s.store.GetNode(id)
	s.reindex(id)
	s.publish(EventNodeCreated, map[string]any{"id": id, "parent_id": n.ParentID, "name": n.Name, "type": string(n.Type)})
	return n, nil
}

// UpdateNode applies the non-nil fields of upd.
func (s *Service) UpdateNode(_ context.Context, id string, upd models.NodeUpdate) (*models.Node, error) {
	if err := s.store.UpdateNode(id, upd); err != nil {
		return nil, err
	}
	n, _ := s.store.GetNode(id)
	s.reindex(id)
	s.publish(EventNodeUpdated, map[string]any{"id": id, "fields": updatedFields(upd)})
	return n, nil
}

func updatedFields(upd models.NodeUpdate) []string {
	fields := []string{}
	if upd.Name != nil {
		fields = append(fields, "name")
	}
	if upd.Status != nil {
		fields = append(fields, "status")
	}
	if upd.Markdown != nil {
		fields = append(fields, "markdown")
	}
	if upd.Notes != nil {
		fields = append(fields, "notes")
	}
	if upd.Code != nil {
		fields = append(fields, "code")
	}
	return fields
}

// DeleteNode removes id and its subtree and returns the removed ids.
func (s *Service) DeleteNode(_ context.Context, id string) ([]string, error) {
	var removed []string
	err := s.store.Update(func(tx *nodestore.Tx) error {
		if _, ok := tx.Node(id); !ok {
			return notFound(id)
		}
		removed = subtree(tx, id)
		return tx.DeleteNode(id)
	})
	if err != nil {
		return nil, err
	}
	s.unindex(removed...)
	s.publish(EventNodeDeleted, map[string]any{"id": id, "removed": len(removed)})
	return removed, nil
}

// subtree lists id and its descendants.
func subtree(tx *nodestore.Tx, id string) []string {
	var out []string
	seen := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		n, ok := tx.Node(cur)
		if !ok {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		stack = append(stack, n.Children...)
	}
	return out
}

// MoveNode re-parents id under newParentID.
func (s *Service) MoveNode(_ context.Context, id, newParentID string) (*models.Node, error) {
	before, ok := s.store.GetNode(id)
	if !ok {
		return nil, notFound(id)
	}
	if err := s.store.MoveNode(id, newParentID); err != nil {
		return nil, err
	}
	n, _ := s.store.GetNode(id)
	s.reindex(id)
	s.publish(EventNodeMoved, map[string]any{"id": id, "from": before.ParentID, "to": newParentID})
	return n, nil
}

// DuplicateNode copies the subtree of id next to the original.
func (s *Service) DuplicateNode(_ context.Context, id string) (*models.Node, error) {
	copyID, err := s.store.DuplicateNode(id)
	if err != nil {
		return nil, err
	}
	n, _ := s.store.GetNode(copyID)
	s.syncIndex()
	s.publish(EventNodeDuplicated, map[string]any{"id": id, "copy_id": copyID})
	return n, nil
}

// Stats returns the node counts and the root id.
func (s *Service) Stats(_ context.Context) workspace.Stats {
	return s.ws.Stats()
}

// Search runs a full-text search over node names and content.
func (s *Service) Search(_ context.Context, q string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(q) == "" {
		return []index.SearchResult{}, nil
	}
	return s.db.Search(q, limit)
}

// Tags returns the most used tags.
func (s *Service) Tags(_ context.Context, limit int) ([]index.TagCount, error) {
	return s.db.TopTags(limit)
}

// Filter lists indexed nodes by status, type and tag.
func (s *Service) Filter(_ context.Context, f index.Filter) ([]index.NodeRow, error) {
	if f.Status != "" {
		st, err := models.ParseStatus(f.Status)
		if err != nil {
			return nil, err
		}
		f.Status = string(st)
	}
	if f.Type != "" {
		t, err := models.ParseNodeType(f.Type)
		if err != nil {
			return nil, err
		}
		f.Type = string(t)
	}
	return s.db.Filter(f)
}

// Query evaluates a JSONPath expression against the store document.
func (s *Service) Query(_ context.Context, expr string) ([]any, error) {
	return query.Eval(s.store.Snapshot(), expr)
}

// Integrity lists hierarchy invariant violations; empty means consistent.
func (s *Service) Integrity(_ context.Context) []hierarchy.Issue {
	issues := hierarchy.Check(s.store.Snapshot())
	if issues == nil {
		issues = []hierarchy.Issue{}
	}
	return issues
}

// Export renders the subtree of id (the root when empty) as an outline.
func (s *Service) Export(_ context.Context, id string) (string, error) {
	return outline.Export(s.store.Snapshot(), id)
}

// Import creates the nodes of an outline under parentID (the root when
// empty) and returns the ids of the top-level nodes created.
func (s *Service) Import(_ context.Context, parentID, text string) ([]string, error) {
	var created []string
	err := s.store.Update(func(tx *nodestore.Tx) error {
		var err error
		created, err = outline.Import(tx, parentID, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.syncIndex()
	s.publish(EventNodeImported, map[string]any{"parent_id": parentID, "created": created})
	return created, nil
}

// ExternalChange reports that the data file was modified by another writer.
// The in-memory store keeps serving its own state.
func (s *Service) ExternalChange(sum string) {
	s.publish(EventExternalChange, map[string]any{"location": s.store.Location(), "checksum": sum})
}
