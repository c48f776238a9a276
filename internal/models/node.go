// Package models defines the domain types for the node store.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/treeapp/internal/apperr"
)

// NodeType is the kind of a node. Only folders own children.
type NodeType string

const (
	TypeFolder NodeType = "folder"
	TypeFile   NodeType = "file"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return t == TypeFolder || t == TypeFile
}

// ParseNodeType converts user input into a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidType, s)
	}
	return t, nil
}

// Status is the progress state of a node.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusBlocked Status = "blocked"
)

// Glyphs used by presentation layers and by data files written before
// statuses were stored by name.
const (
	GlyphPending = "⬜"
	GlyphDone    = "✅"
	GlyphBlocked = "❌"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// Glyph returns the display symbol for s.
func (s Status) Glyph() string {
	switch s {
	case StatusDone:
		return GlyphDone
	case StatusBlocked:
		return GlyphBlocked
	default:
		return GlyphPending
	}
}

// ParseStatus accepts a status name or its glyph. Empty input means pending.
func ParseStatus(raw string) (Status, error) {
	switch strings.TrimSpace(raw) {
	case "", string(StatusPending), GlyphPending:
		return StatusPending, nil
	case string(StatusDone), GlyphDone:
		return StatusDone, nil
	case string(StatusBlocked), GlyphBlocked:
		return StatusBlocked, nil
	}
	return "", fmt.Errorf("%w: %q", apperr.ErrInvalidStatus, raw)
}

// UnmarshalText lets JSON documents carry either names or glyphs.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Node is a folder or file in the hierarchy.
type Node struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      NodeType  `json:"type"`
	ParentID  string    `json:"parent_id,omitempty"`
	Status    Status    `json:"status"`
	Markdown  string    `json:"markdown"`
	Notes     string    `json:"notes"`
	Code      string    `json:"code"`
	Children  []string  `json:"children"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFolder reports whether the node may own children.
func (n *Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// HasParent reports whether the node is attached to a parent.
func (n *Node) HasParent() bool {
	return n.ParentID != ""
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	c.Children = append([]string{}, n.Children...)
	return &c
}

// NodeUpdate carries the fields accepted by an update. Nil fields are left untouched.
type NodeUpdate struct {
	Name     *string `json:"name,omitempty"`
	Status   *Status `json:"status,omitempty"`
	Markdown *string `json:"markdown,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Code     *string `json:"code,omitempty"`
}

// Empty reports whether the update carries no recognized field.
func (u NodeUpdate) Empty() bool {
	return u.Name == nil && u.Status == nil && u.Markdown == nil && u.Notes == nil && u.Code == nil
}

// Snapshot is a detached copy of the store contents.
type Snapshot struct {
	RootID string
	Nodes  map[string]*Node
}

// Stats aggregates node counts by type and status.
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	Folders    int `json:"folders"`
	Files      int `json:"files"`
	Pending    int `json:"pending"`
	Done       int `json:"done"`
	Blocked    int `json:"blocked"`
}

// Add counts n into s.
func (s *Stats) Add(n *Node) {
	s.TotalNodes++
	if n.IsFolder() {
		s.Folders++
	} else {
		s.Files++
	}
	switch n.Status {
	case StatusDone:
		s.Done++
	case StatusBlocked:
		s.Blocked++
	default:
		s.Pending++
	}
}
