package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/venuevision/venuestudio/internal/providers"
)

// HandleStatic serves uploaded and generated images.
func (h *Handler) HandleStatic(w http.ResponseWriter, r *http.Request) {
	// Prevent directory traversal attacks
	name, err := providers.UploadName(r.URL.Path)
	if err != nil {
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, filepath.Join(h.uploadsDir, name))
}
