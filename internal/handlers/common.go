package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/venuevision/venuestudio/internal/editing"
	"github.com/venuevision/venuestudio/internal/editsession"
	"github.com/venuevision/venuestudio/internal/metrics"
	"github.com/venuevision/venuestudio/internal/models"
	"github.com/venuevision/venuestudio/internal/providers"
	"github.com/venuevision/venuestudio/internal/scene"
	"github.com/venuevision/venuestudio/internal/storage"
)

// Documents persists exported sessions and scenes.
type Documents interface {
	SaveScene(ctx context.Context, projectID string, data models.SceneData) error
	SaveSession(ctx context.Context, session models.EditSession) error
	LoadSession(ctx context.Context, sessionID string) (models.EditSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteScene(ctx context.Context, projectID string) error
}

// Deps are the collaborators a Handler serves. Documents and Metrics may be nil.
type Deps struct {
	Sessions   *storage.EditSessions
	Scenes     *storage.SceneStore
	Editing    *editing.Service
	Documents  Documents
	Metrics    *metrics.Metrics
	UploadsDir string
}

type Handler struct {
	sessions   *storage.EditSessions
	scenes     *storage.SceneStore
	editing    *editing.Service
	docs       Documents
	metrics    *metrics.Metrics
	uploadsDir string
}

func New(deps Deps) *Handler {
	if deps.Sessions == nil {
		deps.Sessions = storage.NewEditSessions(nil)
	}
	if deps.Scenes == nil {
		deps.Scenes = storage.NewSceneStore(nil)
	}
	if deps.UploadsDir == "" {
		deps.UploadsDir = "uploads"
	}
	return &Handler{
		sessions:   deps.Sessions,
		scenes:     deps.Scenes,
		editing:    deps.Editing,
		docs:       deps.Documents,
		metrics:    deps.Metrics,
		uploadsDir: deps.UploadsDir,
	}
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/upload", h.HandleUpload)
	mux.HandleFunc("/api/sessions", h.HandleSessions)
	mux.HandleFunc("/api/sessions/", h.HandleSessionDetail)
	mux.HandleFunc("/api/scenes", h.HandleScenes)
	mux.HandleFunc("/api/scenes/", h.HandleSceneDetail)
	mux.HandleFunc("/static/uploads/", h.HandleStatic)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
}

// Instrument counts requests by method, route and status.
func (h *Handler) Instrument(next http.Handler) http.Handler {
	if h.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.metrics.RequestsTotal.WithLabelValues(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routeLabel keeps the first two path segments so ids do not become labels.
func routeLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "status", code)
	} else {
		slog.Warn(message, "status", code)
	}
	http.Error(w, message, code)
}

// writeErr maps domain errors to HTTP status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	h.writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, editsession.ErrSessionNotFound),
		errors.Is(err, editsession.ErrEntryNotFound),
		errors.Is(err, scene.ErrItemNotFound),
		errors.Is(err, storage.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, scene.ErrDuplicateItemID),
		errors.Is(err, editing.ErrStaleSession):
		return http.StatusConflict
	case errors.Is(err, scene.ErrInvalidTransform),
		errors.Is(err, scene.ErrInvalidItem),
		errors.Is(err, scene.ErrUnsupportedVersion),
		errors.Is(err, scene.ErrInvalidViewMode),
		errors.Is(err, providers.ErrInvalidImageRef),
		errors.Is(err, editsession.ErrInvalidSession),
		errors.Is(err, editsession.ErrEmptyBatch),
		errors.Is(err, editing.ErrInvalidRequest),
		errors.Is(err, errNotAnImage),
		errors.Is(err, errInvalidSetting):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// File operation helpers
func (h *Handler) ensureUploadsDir() error {
	return os.MkdirAll(h.uploadsDir, 0755)
}
