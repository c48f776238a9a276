package api

import (
	"github.com/starford/treeapp/internal/index"
	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/treeservice"
	"github.com/starford/treeapp/internal/workspace"
)

// CreateNodeRequest is the request body for creating a node.
type CreateNodeRequest struct {
	Name     string `json:"name" example:"notes.md" validate:"required"`
	Type     string `json:"type" example:"file" validate:"required"`
	ParentID string `json:"parent_id" example:"3f2b..."`
	Status   string `json:"status,omitempty" example:"pending"`
	Markdown string `json:"markdown,omitempty" example:"# Notes"`
	Notes    string `json:"notes,omitempty"`
	Code     string `json:"code,omitempty"`
}

// UpdateNodeRequest is the request body for updating a node. Absent fields
// are left unchanged.
type UpdateNodeRequest struct {
	Name     *string `json:"name,omitempty"`
	Status   *string `json:"status,omitempty" example:"done"`
	Markdown *string `json:"markdown,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Code     *string `json:"code,omitempty"`
}

// MoveNodeRequest is the request body for moving a node.
type MoveNodeRequest struct {
	ParentID string `json:"parent_id" validate:"required"`
}

// Node is the node response type (aliased from the domain layer).
type Node = models.Node

// NodeListResponse wraps a list of nodes.
type NodeListResponse struct {
	Nodes []*Node `json:"nodes" validate:"required"`
}

// DeleteResponse reports the ids removed by a delete.
type DeleteResponse struct {
	Removed []string `json:"removed" validate:"required"`
}

// WorkspaceResponse describes the workspace (aliased from the domain layer).
type WorkspaceResponse = treeservice.WorkspaceInfo

// InitResponse is returned by POST /workspace/init.
type InitResponse = workspace.Result

// ResetResponse is returned by POST /workspace/reset.
type ResetResponse struct {
	RootID string `json:"root_id" validate:"required"`
}

// StatsResponse holds node counts.
type StatsResponse = workspace.Stats

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// TagsResponse wraps tag counts.
type TagsResponse struct {
	Tags []index.TagCount `json:"tags" validate:"required"`
}

// QueryResponse wraps JSONPath matches.
type QueryResponse struct {
	Results []any `json:"results" validate:"required"`
}

// ImportResponse lists the top-level nodes created by an import.
type ImportResponse struct {
	Created []string `json:"created" validate:"required"`
}

func toUpdate(req UpdateNodeRequest) (models.NodeUpdate, error) {
	upd := models.NodeUpdate{
		Name:     req.Name,
		Markdown: req.Markdown,
		Notes:    req.Notes,
		Code:     req.Code,
	}
	if req.Status != nil {
		st, err := models.ParseStatus(*req.Status)
		if err != nil {
			return models.NodeUpdate{}, err
		}
		upd.Status = &st
	}
	return upd, nil
}

func toCreate(req CreateNodeRequest) (treeservice.CreateInput, error) {
	typ, err := models.ParseNodeType(req.Type)
	if err != nil {
		return treeservice.CreateInput{}, err
	}
	in := treeservice.CreateInput{
		Name:     req.Name,
		Type:     typ,
		ParentID: req.ParentID,
		Markdown: req.Markdown,
		Notes:    req.Notes,
		Code:     req.Code,
	}
	if req.Status != "" {
		st, err := models.ParseStatus(req.Status)
		if err != nil {
			return treeservice.CreateInput{}, err
		}
		in.Status = st
	}
	return in, nil
}
