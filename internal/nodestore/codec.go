package nodestore

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/starford/treeapp/internal/models"
)

// FormatVersion is written with every document.
const FormatVersion = "4.0"

type document struct {
	RootID      *string                `json:"root_id"`
	Nodes       map[string]*nodeRecord `json:"nodes"`
	LastUpdated timestamp              `json:"last_updated"`
	Version     string                 `json:"version"`
}

type nodeRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      models.NodeType `json:"type"`
	ParentID  *string         `json:"parent_id"`
	Status    string          `json:"status"`
	Markdown  string          `json:"markdown"`
	Notes     string          `json:"notes"`
	Code      string          `json:"code"`
	Children  []string        `json:"children"`
	CreatedAt timestamp       `json:"created_at"`
	UpdatedAt timestamp       `json:"updated_at"`
}

// timestamp accepts RFC 3339 and zone-less ISO 8601 values, which older
// data files contain, and always writes RFC 3339 in UTC.
type timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			*t = timestamp(v.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// Encode renders a snapshot in the durable document format.
func Encode(snap models.Snapshot, updated time.Time) ([]byte, error) {
	doc := document{
		Nodes:       make(map[string]*nodeRecord, len(snap.Nodes)),
		LastUpdated: timestamp(updated),
		Version:     FormatVersion,
	}
	if snap.RootID != "" {
		root := snap.RootID
		doc.RootID = &root
	}
	for id, n := range snap.Nodes {
		rec := &nodeRecord{
			ID:        n.ID,
			Name:      n.Name,
			Type:      n.Type,
			Status:    string(n.Status),
			Markdown:  n.Markdown,
			Notes:     n.Notes,
			Code:      n.Code,
			Children:  n.Children,
			CreatedAt: timestamp(n.CreatedAt),
			UpdatedAt: timestamp(n.UpdatedAt),
		}
		if rec.Children == nil {
			rec.Children = []string{}
		}
		if n.ParentID != "" {
			parent := n.ParentID
			rec.ParentID = &parent
		}
		doc.Nodes[id] = rec
	}
	return json.MarshalIndent(doc, "", "  ")
}

// decode parses a document. Nodes missing an id take their map key; a
// missing or unknown status means pending, and the ids of nodes whose status
// was unknown are returned as coerced. An unknown type fails the document.
func decode(data []byte) (snap models.Snapshot, coerced []string, err error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Snapshot{}, nil, err
	}
	snap = models.Snapshot{Nodes: make(map[string]*models.Node, len(doc.Nodes))}
	if doc.RootID != nil {
		snap.RootID = *doc.RootID
	}
	for key, rec := range doc.Nodes {
		if rec == nil {
			return models.Snapshot{}, nil, fmt.Errorf("node %s is null", key)
		}
		if rec.ID != "" && rec.ID != key {
			return models.Snapshot{}, nil, fmt.Errorf("node key %s holds id %s", key, rec.ID)
		}
		if !rec.Type.Valid() {
			return models.Snapshot{}, nil, fmt.Errorf("node %s has type %q", key, rec.Type)
		}
		n := &models.Node{
			ID:        key,
			Name:      rec.Name,
			Type:      rec.Type,
			Markdown:  rec.Markdown,
			Notes:     rec.Notes,
			Code:      rec.Code,
			Children:  rec.Children,
			CreatedAt: time.Time(rec.CreatedAt),
			UpdatedAt: time.Time(rec.UpdatedAt),
		}
		if rec.ParentID != nil {
			n.ParentID = *rec.ParentID
		}
		st, stErr := models.ParseStatus(rec.Status)
		if stErr != nil {
			st = models.StatusPending
			coerced = append(coerced, key)
		}
		n.Status = st
		if n.Children == nil {
			n.Children = []string{}
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = n.CreatedAt
		}
		snap.Nodes[key] = n
	}
	sort.Strings(coerced)
	return snap, coerced, nil
}
