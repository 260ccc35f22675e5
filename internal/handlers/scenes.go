package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/venuevision/venuestudio/internal/models"
	"github.com/venuevision/venuestudio/internal/scene"
)

var errInvalidSetting = errors.New("invalid scene setting")

type sceneState struct {
	Scene        models.SceneData `json:"scene"`
	Selection    []string         `json:"selection"`
	Tool         scene.Tool       `json:"tool"`
	SnapToGrid   bool             `json:"snapToGrid"`
	GridSize     float64          `json:"gridSize"`
	CanUndo      bool             `json:"canUndo"`
	CanRedo      bool             `json:"canRedo"`
	HistoryIndex int              `json:"historyIndex"`
	HistoryLen   int              `json:"historyLength"`
}

type selectRequest struct {
	ItemID string `json:"itemId"`
	Multi  bool   `json:"multi"`
}

type settingsRequest struct {
	Tool       *scene.Tool    `json:"tool,omitempty"`
	SnapToGrid *bool          `json:"snapToGrid,omitempty"`
	GridSize   *float64       `json:"gridSize,omitempty"`
	ViewMode   *string        `json:"viewMode,omitempty"`
	Camera     *models.Camera `json:"camera,omitempty"`
}

func stateOf(m *scene.Manager) sceneState {
	selection := m.Selection()
	if selection == nil {
		selection = []string{}
	}
	return sceneState{
		Scene:        m.ExportScene(),
		Selection:    selection,
		Tool:         m.Tool(),
		SnapToGrid:   m.SnapToGrid(),
		GridSize:     m.GridSize(),
		CanUndo:      m.CanUndo(),
		CanRedo:      m.CanRedo(),
		HistoryIndex: m.HistoryIndex(),
		HistoryLen:   m.HistoryLen(),
	}
}

// HandleScenes lists the projects with a scene in memory.
func (h *Handler) HandleScenes(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, h.scenes.Projects())
}

// HandleSceneDetail serves /api/scenes/{project} and its actions.
func (h *Handler) HandleSceneDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/scenes/")
	projectID, action, _ := strings.Cut(rest, "/")
	if projectID == "" {
		h.writeError(w, "Project id is required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "":
		h.handleScene(w, r, projectID)
	case action == "items":
		if r.Method != "POST" {
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleAddItem(w, r, projectID)
	case strings.HasPrefix(action, "items/"):
		itemID, sub, _ := strings.Cut(strings.TrimPrefix(action, "items/"), "/")
		h.handleItem(w, r, projectID, itemID, sub)
	case action == "save":
		h.handleSaveScene(w, r, projectID)
	case action == "select", action == "clear-selection", action == "checkpoint",
		action == "undo", action == "redo", action == "settings":
		if r.Method != "POST" {
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleSceneAction(w, r, projectID, action)
	default:
		h.writeError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) handleScene(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case "GET":
		h.withScene(w, r, projectID, "", func(m *scene.Manager) error { return nil })
	case "PUT":
		var data models.SceneData
		if !h.decodeJSON(w, r, &data) {
			return
		}
		h.withScene(w, r, projectID, "import", func(m *scene.Manager) error {
			return m.ImportScene(data)
		})
	case "DELETE":
		if h.docs != nil {
			if err := h.docs.DeleteScene(r.Context(), projectID); err != nil {
				h.writeError(w, "Failed to delete stored scene: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		h.scenes.Delete(projectID)
		h.updateSceneGauge()
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// newItemRequest is a CanvasItem whose visibility defaults to true when the
// field is absent.
type newItemRequest struct {
	models.CanvasItem
	Visible *bool `json:"visible"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request, projectID string) {
	var request newItemRequest
	if !h.decodeJSON(w, r, &request) {
		return
	}
	item := request.CanvasItem
	item.Visible = request.Visible == nil || *request.Visible
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	h.withScene(w, r, projectID, "add", func(m *scene.Manager) error {
		return m.AddItem(item)
	})
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request, projectID, itemID, sub string) {
	if itemID == "" {
		h.writeError(w, "Item id is required", http.StatusBadRequest)
		return
	}

	switch {
	case sub == "duplicate" && r.Method == "POST":
		h.withScene(w, r, projectID, "duplicate", func(m *scene.Manager) error {
			_, err := m.DuplicateItem(itemID)
			return err
		})
	case sub != "":
		h.writeError(w, "Not found", http.StatusNotFound)
	case r.Method == "PATCH":
		var update models.ItemUpdate
		if !h.decodeJSON(w, r, &update) {
			return
		}
		h.withScene(w, r, projectID, "update", func(m *scene.Manager) error {
			return m.UpdateItem(itemID, update)
		})
	case r.Method == "DELETE":
		h.withScene(w, r, projectID, "remove", func(m *scene.Manager) error {
			return m.RemoveItem(itemID)
		})
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSceneAction(w http.ResponseWriter, r *http.Request, projectID, action string) {
	switch action {
	case "select":
		var request selectRequest
		if !h.decodeJSON(w, r, &request) {
			return
		}
		h.withScene(w, r, projectID, action, func(m *scene.Manager) error {
			m.SelectItem(request.ItemID, request.Multi)
			return nil
		})
	case "clear-selection":
		h.withScene(w, r, projectID, action, func(m *scene.Manager) error {
			m.ClearSelection()
			return nil
		})
	case "checkpoint":
		h.withScene(w, r, projectID, action, func(m *scene.Manager) error {
			m.SaveHistory()
			return nil
		})
	case "undo":
		h.withScene(w, r, projectID, action, func(m *scene.Manager) error {
			m.Undo()
			return nil
		})
	case "redo":
		h.withScene(w, r, projectID, action, func(m *scene.Manager) error {
			m.Redo()
			return nil
		})
	case "settings":
		var request settingsRequest
		if !h.decodeJSON(w, r, &request) {
			return
		}
		h.withScene(w, r, projectID, action, func(m *scene.Manager) error {
			return applySettings(m, request)
		})
	}
}

func applySettings(m *scene.Manager, s settingsRequest) error {
	if s.Tool != nil {
		switch *s.Tool {
		case scene.ToolSelect, scene.ToolMove, scene.ToolRotate, scene.ToolScale, scene.ToolPan:
		default:
			return fmt.Errorf("%w: tool %q", errInvalidSetting, *s.Tool)
		}
	}
	if s.ViewMode != nil && *s.ViewMode != string(scene.View2D) && *s.ViewMode != string(scene.View3D) {
		return fmt.Errorf("%w: view mode %q", errInvalidSetting, *s.ViewMode)
	}
	if s.GridSize != nil {
		if err := m.SetGridSize(*s.GridSize); err != nil {
			return err
		}
	}
	if s.Tool != nil {
		m.SetTool(*s.Tool)
	}
	if s.SnapToGrid != nil {
		m.SetSnapToGrid(*s.SnapToGrid)
	}
	if s.ViewMode != nil {
		m.SetViewMode(scene.ViewMode(*s.ViewMode))
	}
	if s.Camera != nil {
		m.SetCamera(*s.Camera)
	}
	return nil
}

func (h *Handler) handleSaveScene(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.docs == nil {
		h.writeError(w, "Persistence is not configured", http.StatusServiceUnavailable)
		return
	}
	var data models.SceneData
	err := h.scenes.With(r.Context(), projectID, func(m *scene.Manager) error {
		data = m.ExportScene()
		return nil
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.docs.SaveScene(r.Context(), projectID, data); err != nil {
		h.writeError(w, "Failed to save scene: "+err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Scene saved", "project_id", projectID, "items", len(data.Items))
	h.writeJSON(w, map[string]any{"projectId": projectID, "saved": true})
}

// withScene runs fn on the project's scene and responds with the resulting
// state. op names the operation for metrics; empty means a read.
func (h *Handler) withScene(w http.ResponseWriter, r *http.Request, projectID, op string, fn func(*scene.Manager) error) {
	var state sceneState
	err := h.scenes.With(r.Context(), projectID, func(m *scene.Manager) error {
		if err := fn(m); err != nil {
			return err
		}
		state = stateOf(m)
		return nil
	})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.updateSceneGauge()
	if op != "" && h.metrics != nil {
		h.metrics.SceneOps.WithLabelValues(op).Inc()
	}
	h.writeJSON(w, state)
}

func (h *Handler) updateSceneGauge() {
	if h.metrics != nil {
		h.metrics.ScenesActive.Set(float64(len(h.scenes.Projects())))
	}
}
