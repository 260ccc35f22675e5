package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/venuevision/venuestudio/internal/editsession"
	"github.com/venuevision/venuestudio/internal/models"
)

const maxUploadBytes = 20 * 1024 * 1024

type uploadResponse struct {
	SessionID string             `json:"sessionId"`
	ImageURL  string             `json:"imageUrl"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Session   models.EditSession `json:"session"`
}

// HandleUpload stores a venue photo and opens an edit session on it.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Check if this is a JSON request with image URL
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		h.handleURLUpload(w, r)
		return
	}

	h.handleFileUpload(w, r)
}

func (h *Handler) handleURLUpload(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ImageURL  string `json:"imageUrl"`
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if request.ImageURL == "" {
		h.writeError(w, "imageUrl is required", http.StatusBadRequest)
		return
	}

	imageData, err := h.downloadImageFromURL(r.Context(), request.ImageURL)
	if err != nil {
		h.writeError(w, "Failed to process image URL: "+err.Error(), http.StatusBadRequest)
		return
	}

	parts := strings.Split(request.ImageURL, "/")
	filename := parts[len(parts)-1]
	h.createUploadSession(r.Context(), w, imageData, filename, request.ProjectID)
}

func (h *Handler) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("files")
		if err != nil {
			h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	defer file.Close()

	fileData, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(fileData) >= maxUploadBytes {
		h.writeError(w, "File too large (max 20MB)", http.StatusBadRequest)
		return
	}

	h.createUploadSession(r.Context(), w, fileData, header.Filename, r.FormValue("projectId"))
}

func (h *Handler) createUploadSession(ctx context.Context, w http.ResponseWriter, data []byte, filename, projectID string) {
	if err := h.ensureUploadsDir(); err != nil {
		h.writeError(w, "Failed to create uploads directory: "+err.Error(), http.StatusInternalServerError)
		return
	}

	result, err := h.processImageFile(data, filename)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	var session models.EditSession
	_ = h.sessions.With(func(store *editsession.Store) error {
		session = store.CreateSession(projectID, result.ImageURL)
		return nil
	})
	h.updateSessionGauge()

	h.writeCreated(w, uploadResponse{
		SessionID: session.ID,
		ImageURL:  result.ImageURL,
		Width:     result.Width,
		Height:    result.Height,
		Session:   session,
	})
}
