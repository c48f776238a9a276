package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/treeapp/internal/index"
	"github.com/starford/treeapp/internal/treeservice"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *treeservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *treeservice.Service) *Handler {
	return &Handler{svc: svc}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

func intParam(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// GetWorkspace handles GET /api/workspace.
//
//	@Summary		Describe the workspace
//	@Tags			workspace
//	@Produce		json
//	@Success		200	{object}	WorkspaceResponse
//	@Security		BearerAuth
//	@Router			/workspace [get]
func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Workspace(r.Context()))
}

// InitWorkspace handles POST /api/workspace/init.
//
//	@Summary		Create the initial workspace if needed
//	@Tags			workspace
//	@Produce		json
//	@Success		200	{object}	InitResponse
//	@Success		201	{object}	InitResponse
//	@Security		BearerAuth
//	@Router			/workspace/init [post]
func (h *Handler) InitWorkspace(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.InitWorkspace(r.Context())
	if err != nil {
		writeError(w, "init workspace", err)
		return
	}
	status := http.StatusOK
	if res.CreatedNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// ResetWorkspace handles POST /api/workspace/reset.
//
//	@Summary		Discard all nodes and create a fresh root
//	@Tags			workspace
//	@Produce		json
//	@Success		200	{object}	ResetResponse
//	@Security		BearerAuth
//	@Router			/workspace/reset [post]
func (h *Handler) ResetWorkspace(w http.ResponseWriter, r *http.Request) {
	rootID, err := h.svc.ResetWorkspace(r.Context())
	if err != nil {
		writeError(w, "reset workspace", err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{RootID: rootID})
}

// CreateNode handles POST /api/nodes.
//
//	@Summary		Create a node
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNodeRequest	true	"Node to create"
//	@Success		201		{object}	Node
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes [post]
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := toCreate(req)
	if err != nil {
		writeError(w, "create node", err)
		return
	}
	n, err := h.svc.CreateNode(r.Context(), in)
	if err != nil {
		writeError(w, "create node", err, slog.String("name", req.Name))
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// GetNode handles GET /api/nodes/{id}.
//
//	@Summary		Get a node by id
//	@Tags			nodes
//	@Produce		json
//	@Param			id	path		string	true	"Node id"
//	@Success		200	{object}	Node
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id} [get]
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get node", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// UpdateNode handles PATCH /api/nodes/{id}.
//
//	@Summary		Update node fields
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Node id"
//	@Param			body	body		UpdateNodeRequest	true	"Fields to change"
//	@Success		200		{object}	Node
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id} [patch]
func (h *Handler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateNodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	upd, err := toUpdate(req)
	if err != nil {
		writeError(w, "update node", err)
		return
	}
	if upd.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody("no fields to update"))
		return
	}
	n, err := h.svc.UpdateNode(r.Context(), id, upd)
	if err != nil {
		writeError(w, "update node", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DeleteNode handles DELETE /api/nodes/{id}.
//
//	@Summary		Delete a node and its subtree
//	@Tags			nodes
//	@Param			id	path		string	true	"Node id"
//	@Success		200	{object}	DeleteResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id} [delete]
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.svc.DeleteNode(r.Context(), id)
	if err != nil {
		writeError(w, "delete node", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Removed: removed})
}

// Children handles GET /api/nodes/{id}/children.
func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.Children(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "list children", err)
		return
	}
	writeJSON(w, http.StatusOK, NodeListResponse{Nodes: nodes})
}

// Ancestors handles GET /api/nodes/{id}/ancestors.
func (h *Handler) Ancestors(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.Ancestors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "list ancestors", err)
		return
	}
	writeJSON(w, http.StatusOK, NodeListResponse{Nodes: nodes})
}

// MoveNode handles POST /api/nodes/{id}/move.
//
//	@Summary		Move a node under another folder
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Node id"
//	@Param			body	body		MoveNodeRequest	true	"New parent"
//	@Success		200		{object}	Node
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id}/move [post]
func (h *Handler) MoveNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req MoveNodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ParentID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("parent_id is required"))
		return
	}
	n, err := h.svc.MoveNode(r.Context(), id, req.ParentID)
	if err != nil {
		writeError(w, "move node", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DuplicateNode handles POST /api/nodes/{id}/duplicate.
func (h *Handler) DuplicateNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.DuplicateNode(r.Context(), id)
	if err != nil {
		writeError(w, "duplicate node", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats(r.Context()))
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across node names and content
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results, err := h.svc.Search(r.Context(), q, intParam(r, "limit"))
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Tags handles GET /api/tags.
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context(), intParam(r, "limit"))
	if err != nil {
		writeError(w, "top tags", err)
		return
	}
	writeJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}

// ListNodes handles GET /api/nodes with optional status, type and tag filters.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.svc.Filter(r.Context(), index.Filter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Tag:    q.Get("tag"),
		Limit:  intParam(r, "limit"),
	})
	if err != nil {
		writeError(w, "list nodes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": rows})
}

// Query handles GET /api/query?expr=<jsonpath>.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("expr")
	if expr == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'expr' is required"))
		return
	}
	results, err := h.svc.Query(r.Context(), expr)
	if err != nil {
		writeError(w, "query", err, slog.String("expr", expr))
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Results: results})
}

// Integrity handles GET /api/integrity.
func (h *Handler) Integrity(w http.ResponseWriter, r *http.Request) {
	issues := h.svc.Integrity(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"consistent": len(issues) == 0,
		"issues":     issues,
	})
}
