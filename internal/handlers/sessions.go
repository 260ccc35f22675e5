package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/venuevision/venuestudio/internal/editing"
	"github.com/venuevision/venuestudio/internal/editsession"
	"github.com/venuevision/venuestudio/internal/models"
	"github.com/venuevision/venuestudio/internal/providers"
	"github.com/venuevision/venuestudio/internal/storage"
)

type entryRequest struct {
	EntryID string `json:"entryId"`
}

type recordRequest struct {
	Results        []editsession.Result `json:"results"`
	IterationGroup string               `json:"iterationGroup"`
}

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		var sessions []models.EditSession
		_ = h.sessions.With(func(store *editsession.Store) error {
			sessions = store.ListSessions()
			return nil
		})
		h.writeJSON(w, sessions)
	case "POST":
		var request struct {
			ProjectID        string `json:"projectId"`
			OriginalImageURL string `json:"originalImageUrl"`
		}
		if !h.decodeJSON(w, r, &request) {
			return
		}
		if request.OriginalImageURL == "" {
			h.writeError(w, "originalImageUrl is required", http.StatusBadRequest)
			return
		}
		if _, err := providers.UploadName(request.OriginalImageURL); err != nil {
			h.writeErr(w, err)
			return
		}
		var session models.EditSession
		_ = h.sessions.With(func(store *editsession.Store) error {
			session = store.CreateSession(request.ProjectID, request.OriginalImageURL)
			return nil
		})
		h.updateSessionGauge()
		slog.Info("Edit session created", "session_id", session.ID, "project_id", session.ProjectID)
		h.writeCreated(w, session)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSessionDetail serves /api/sessions/{id} and its actions.
func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if rest == "import" {
		h.handleImportSession(w, r)
		return
	}

	sessionID, action, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		h.writeError(w, "Session id is required", http.StatusBadRequest)
		return
	}
	if err := h.ensureSessionLoaded(r.Context(), sessionID); err != nil {
		h.writeErr(w, err)
		return
	}

	switch action {
	case "":
		h.handleSession(w, r, sessionID)
	case "history":
		h.handleHistory(w, r, sessionID)
	case "path", "chosen", "context", "children", "export":
		if r.Method != "GET" {
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleSessionQuery(w, r, sessionID, action)
	case "choose", "goback", "branch":
		if r.Method != "POST" {
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleNavigate(w, r, sessionID, action)
	case "generate":
		h.handleGenerate(w, r, sessionID)
	case "save":
		h.handleSaveSession(w, r, sessionID)
	default:
		h.writeError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case "GET":
		var session models.EditSession
		err := h.sessions.With(func(store *editsession.Store) (err error) {
			session, err = store.GetSession(sessionID)
			return err
		})
		if err != nil {
			h.writeErr(w, err)
			return
		}
		h.writeJSON(w, session)
	case "DELETE":
		err := h.sessions.With(func(store *editsession.Store) error {
			return store.ClearSession(sessionID)
		})
		if err != nil {
			h.writeErr(w, err)
			return
		}
		if h.docs != nil {
			if err := h.docs.DeleteSession(r.Context(), sessionID); err != nil {
				slog.Warn("Failed to delete stored session", "session_id", sessionID, "error", err)
			}
		}
		h.updateSessionGauge()
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case "GET":
		var history []models.EditHistoryEntry
		err := h.sessions.With(func(store *editsession.Store) (err error) {
			history, err = store.HistoryTree(sessionID)
			return err
		})
		if err != nil {
			h.writeErr(w, err)
			return
		}
		h.writeJSON(w, history)
	case "POST":
		// Results produced outside the server, e.g. by a client-side model.
		var request recordRequest
		if !h.decodeJSON(w, r, &request) {
			return
		}
		var entries []models.EditHistoryEntry
		err := h.sessions.With(func(store *editsession.Store) (err error) {
			entries, err = store.AddToHistory(sessionID, request.Results, request.IterationGroup)
			return err
		})
		if err != nil {
			h.writeErr(w, err)
			return
		}
		if h.metrics != nil {
			h.metrics.CandidatesTotal.Add(float64(len(entries)))
		}
		h.writeCreated(w, entries)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSessionQuery(w http.ResponseWriter, r *http.Request, sessionID, query string) {
	var result interface{}
	err := h.sessions.With(func(store *editsession.Store) (err error) {
		switch query {
		case "path":
			result, err = store.PathToCurrent(sessionID)
		case "chosen":
			result, err = store.ChosenPath(sessionID)
		case "context":
			result, err = store.AccumulatedContext(sessionID)
		case "children":
			result, err = store.Children(sessionID, r.URL.Query().Get("entryId"))
		case "export":
			result, err = store.ExportSession(sessionID)
		}
		return err
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, result)
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request, sessionID, action string) {
	var request entryRequest
	if !h.decodeJSON(w, r, &request) {
		return
	}
	if request.EntryID == "" {
		h.writeError(w, "entryId is required", http.StatusBadRequest)
		return
	}

	var session models.EditSession
	err := h.sessions.With(func(store *editsession.Store) error {
		var err error
		switch action {
		case "choose":
			err = store.ChooseEntry(sessionID, request.EntryID)
		case "goback":
			_, err = store.GoBackTo(sessionID, request.EntryID)
		case "branch":
			_, err = store.BranchFrom(sessionID, request.EntryID)
		}
		if err != nil {
			return err
		}
		session, err = store.GetSession(sessionID)
		return err
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}

	if h.metrics != nil {
		if action == "choose" {
			h.metrics.EntriesChosen.Inc()
		} else {
			h.metrics.Navigations.WithLabelValues(action).Inc()
		}
	}
	slog.Info("Edit session moved", "session_id", sessionID, "action", action, "entry_id", request.EntryID)
	h.writeJSON(w, session)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.editing == nil {
		h.writeError(w, "Image generation is not configured", http.StatusServiceUnavailable)
		return
	}
	var request editing.Request
	if !h.decodeJSON(w, r, &request) {
		return
	}
	entries, err := h.editing.Generate(r.Context(), sessionID, request)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeCreated(w, entries)
}

func (h *Handler) handleImportSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var data models.EditSession
	if !h.decodeJSON(w, r, &data) {
		return
	}
	var session models.EditSession
	err := h.sessions.With(func(store *editsession.Store) (err error) {
		session, err = store.ImportSession(data)
		return err
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.updateSessionGauge()
	h.writeCreated(w, session)
}

func (h *Handler) handleSaveSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.docs == nil {
		h.writeError(w, "Persistence is not configured", http.StatusServiceUnavailable)
		return
	}
	var session models.EditSession
	err := h.sessions.With(func(store *editsession.Store) (err error) {
		session, err = store.ExportSession(sessionID)
		return err
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.docs.SaveSession(r.Context(), session); err != nil {
		h.writeError(w, "Failed to save session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Edit session saved", "session_id", sessionID, "entries", len(session.History))
	h.writeJSON(w, map[string]any{"sessionId": sessionID, "saved": true})
}

// ensureSessionLoaded restores a saved session that is not in memory.
func (h *Handler) ensureSessionLoaded(ctx context.Context, sessionID string) error {
	if h.docs == nil {
		return nil
	}
	var exists bool
	_ = h.sessions.With(func(store *editsession.Store) error {
		_, err := store.GetSession(sessionID)
		exists = err == nil
		return nil
	})
	if exists {
		return nil
	}

	stored, err := h.docs.LoadSession(ctx, sessionID)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = h.sessions.With(func(store *editsession.Store) error {
		if _, err := store.GetSession(sessionID); err == nil {
			return nil
		}
		_, err := store.ImportSession(stored)
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("Edit session restored from document store", "session_id", sessionID)
	h.updateSessionGauge()
	return nil
}

func (h *Handler) updateSessionGauge() {
	if h.metrics == nil {
		return
	}
	var n int
	_ = h.sessions.With(func(store *editsession.Store) error {
		n = len(store.ListSessions())
		return nil
	})
	h.metrics.SessionsActive.Set(float64(n))
}
