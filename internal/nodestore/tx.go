package nodestore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/starford/treeapp/internal/apperr"
	"github.com/starford/treeapp/internal/hierarchy"
	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/naming"
)

// Tx is the mutation view handed to Store.Update. It is only valid inside
// the callback and must not be retained.
type Tx struct {
	s        *Store
	dirty    bool
	readOnly bool
}

var errReadOnly = errors.New("nodestore: mutation inside View")

func notFound(id string) error {
	return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
}

// RootID returns the root pointer.
func (tx *Tx) RootID() string { return tx.s.rootID }

// CountNodes returns the number of nodes.
func (tx *Tx) CountNodes() int { return len(tx.s.nodes) }

// Node returns a copy of the node.
func (tx *Tx) Node(id string) (*models.Node, bool) {
	n, ok := tx.s.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Snapshot returns a deep copy of the store contents.
func (tx *Tx) Snapshot() models.Snapshot { return tx.s.snapshot() }

// uniqueID draws ids until one is unused.
func (tx *Tx) uniqueID() string {
	for {
		id := tx.s.newID()
		if _, taken := tx.s.nodes[id]; !taken && id != "" {
			return id
		}
	}
}

func (tx *Tx) newNode(name string, typ models.NodeType) *models.Node {
	now := tx.s.now()
	return &models.Node{
		ID:        tx.uniqueID(),
		Name:      name,
		Type:      typ,
		Status:    models.StatusPending,
		Children:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateNode adds a node. See Store.CreateNode.
func (tx *Tx) CreateNode(name string, typ models.NodeType, parentID string) (string, error) {
	if tx.readOnly {
		return "", errReadOnly
	}
	if err := naming.Validate(name); err != nil {
		return "", err
	}
	if !typ.Valid() {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidType, typ)
	}

	s := tx.s
	if s.rootID == "" {
		n := tx.newNode(name, typ)
		s.nodes[n.ID] = n
		s.rootID = n.ID
		tx.dirty = true
		return n.ID, nil
	}

	var parent *models.Node
	if parentID != "" {
		p, ok := s.nodes[parentID]
		if !ok {
			return "", notFound(parentID)
		}
		if !p.IsFolder() {
			return "", apperr.ErrNotAFolder
		}
		parent = p
	}

	n := tx.newNode(name, typ)
	if parent != nil {
		n.ParentID = parent.ID
		parent.Children = append(parent.Children, n.ID)
	}
	s.nodes[n.ID] = n
	tx.dirty = true
	return n.ID, nil
}

// CreateRoot adds a parentless folder with the given content and makes it
// the root, replacing any previous root pointer.
func (tx *Tx) CreateRoot(name, markdown, notes string) (string, error) {
	if tx.readOnly {
		return "", errReadOnly
	}
	if err := naming.Validate(name); err != nil {
		return "", err
	}
	n := tx.newNode(name, models.TypeFolder)
	n.Markdown = markdown
	n.Notes = notes
	tx.s.nodes[n.ID] = n
	tx.s.rootID = n.ID
	tx.dirty = true
	return n.ID, nil
}

// UpdateNode applies upd. See Store.UpdateNode.
func (tx *Tx) UpdateNode(id string, upd models.NodeUpdate) error {
	if tx.readOnly {
		return errReadOnly
	}
	n, ok := tx.s.nodes[id]
	if !ok {
		return notFound(id)
	}
	if upd.Name != nil {
		if err := naming.Validate(*upd.Name); err != nil {
			return err
		}
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidStatus, *upd.Status)
	}

	if upd.Name != nil {
		n.Name = *upd.Name
	}
	if upd.Status != nil {
		n.Status = *upd.Status
	}
	if upd.Markdown != nil {
		n.Markdown = *upd.Markdown
	}
	if upd.Notes != nil {
		n.Notes = *upd.Notes
	}
	if upd.Code != nil {
		n.Code = *upd.Code
	}
	n.UpdatedAt = tx.s.now()
	tx.dirty = true
	return nil
}

// DeleteNode removes id and every descendant. See Store.DeleteNode.
func (tx *Tx) DeleteNode(id string) error {
	if tx.readOnly {
		return errReadOnly
	}
	s := tx.s
	n, ok := s.nodes[id]
	if !ok {
		return notFound(id)
	}

	// Pre-order collection with an explicit stack; removal runs in reverse
	// so descendants go before their ancestors.
	var order []string
	seen := map[string]struct{}{}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[cur]; dup {
			continue
		}
		seen[cur] = struct{}{}
		order = append(order, cur)
		if node, ok := s.nodes[cur]; ok {
			for i := len(node.Children) - 1; i >= 0; i-- {
				if _, exists := s.nodes[node.Children[i]]; exists {
					stack = append(stack, node.Children[i])
				}
			}
		}
	}

	if parent, ok := s.nodes[n.ParentID]; ok && n.HasParent() {
		parent.Children = slices.DeleteFunc(parent.Children, func(c string) bool { return c == id })
		parent.UpdatedAt = s.now()
	}
	for i := len(order) - 1; i >= 0; i-- {
		delete(s.nodes, order[i])
		if order[i] == s.rootID {
			s.rootID = ""
		}
	}
	tx.dirty = true
	return nil
}

// MoveNode re-parents id. See Store.MoveNode.
func (tx *Tx) MoveNode(id, newParentID string) error {
	if tx.readOnly {
		return errReadOnly
	}
	s := tx.s
	n, ok := s.nodes[id]
	if !ok {
		return notFound(id)
	}
	parent, ok := s.nodes[newParentID]
	if !ok {
		return notFound(newParentID)
	}
	if id == s.rootID {
		return apperr.ErrInvalidRoot
	}

	detached := n.Clone()
	detached.ParentID = ""
	if err := hierarchy.ValidateParentChild(parent, detached); err != nil {
		return err
	}
	if hierarchy.IsDescendant(s.nodes, id, newParentID) {
		return &apperr.CycleError{NodeID: id}
	}

	if old, ok := s.nodes[n.ParentID]; ok && n.HasParent() {
		old.Children = slices.DeleteFunc(old.Children, func(c string) bool { return c == id })
	}
	parent.Children = append(parent.Children, id)
	n.ParentID = parent.ID
	n.UpdatedAt = s.now()
	tx.dirty = true
	return nil
}

// DuplicateNode copies a subtree. See Store.DuplicateNode.
func (tx *Tx) DuplicateNode(id string) (string, error) {
	if tx.readOnly {
		return "", errReadOnly
	}
	s := tx.s
	orig, ok := s.nodes[id]
	if !ok {
		return "", notFound(id)
	}
	if id == s.rootID {
		return "", apperr.ErrInvalidRoot
	}
	name := orig.Name + " (copy)"
	if err := naming.Validate(name); err != nil {
		return "", err
	}

	clone := func(src *models.Node, parentID string) *models.Node {
		c := tx.newNode(src.Name, src.Type)
		c.ParentID = parentID
		c.Status = src.Status
		c.Markdown = src.Markdown
		c.Notes = src.Notes
		c.Code = src.Code
		s.nodes[c.ID] = c
		return c
	}

	top := clone(orig, orig.ParentID)
	top.Name = name

	type pair struct{ src, dst *models.Node }
	queue := []pair{{orig, top}}
	seen := map[string]struct{}{orig.ID: {}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, childID := range p.src.Children {
			child, ok := s.nodes[childID]
			if !ok {
				continue
			}
			if _, dup := seen[childID]; dup {
				continue
			}
			seen[childID] = struct{}{}
			c := clone(child, p.dst.ID)
			p.dst.Children = append(p.dst.Children, c.ID)
			queue = append(queue, pair{child, c})
		}
	}

	if parent, ok := s.nodes[orig.ParentID]; ok && orig.HasParent() {
		at := slices.Index(parent.Children, id) + 1
		if at == 0 {
			at = len(parent.Children)
		}
		parent.Children = slices.Insert(parent.Children, at, top.ID)
	}
	tx.dirty = true
	return top.ID, nil
}

// ClearAll empties the store. It is a no-op inside View.
func (tx *Tx) ClearAll() {
	if tx.readOnly {
		return
	}
	clear(tx.s.nodes)
	tx.s.rootID = ""
	tx.dirty = true
}
