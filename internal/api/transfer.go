package api

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const maxOutlineBytes = 5 << 20

// Export handles GET /api/export?id=<node>. The outline is returned as
// text/plain; download=1 adds a Content-Disposition header.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	text, err := h.svc.Export(r.Context(), id)
	if err != nil {
		writeError(w, "export", err, slog.String("id", id))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", `attachment; filename="outline.txt"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// Import handles POST /api/import?parent_id=<folder>. The outline is read
// from the multipart field "file" or, for any other content type, from the
// raw request body.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOutlineBytes)

	text, ok := readOutline(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("outline is empty"))
		return
	}

	parentID := r.URL.Query().Get("parent_id")
	created, err := h.svc.Import(r.Context(), parentID, text)
	if err != nil {
		writeError(w, "import", err, slog.String("parent_id", parentID))
		return
	}
	writeJSON(w, http.StatusCreated, ImportResponse{Created: created})
}

func readOutline(w http.ResponseWriter, r *http.Request) (string, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxOutlineBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
			return "", false
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
			return "", false
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
			return "", false
		}
		return string(data), true
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return "", false
	}
	return string(data), true
}
