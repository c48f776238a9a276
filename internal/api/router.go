package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/treeapp/internal/treeservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *treeservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Workspace lifecycle.
	r.Get("/workspace", h.GetWorkspace)
	r.Post("/workspace/init", h.InitWorkspace)
	r.Post("/workspace/reset", h.ResetWorkspace)

	// Nodes.
	r.Get("/nodes", h.ListNodes)
	r.Post("/nodes", h.CreateNode)
	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Get("/", h.GetNode)
		r.Patch("/", h.UpdateNode)
		r.Delete("/", h.DeleteNode)
		r.Get("/children", h.Children)
		r.Get("/ancestors", h.Ancestors)
		r.Post("/move", h.MoveNode)
		r.Post("/duplicate", h.DuplicateNode)
	})

	// Reports and lookups.
	r.Get("/stats", h.Stats)
	r.Get("/search", h.Search)
	r.Get("/tags", h.Tags)
	r.Get("/query", h.Query)
	r.Get("/integrity", h.Integrity)

	// Outline transfer.
	r.Get("/export", h.Export)
	r.Post("/import", h.Import)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
