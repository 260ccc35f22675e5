package models

import "time"

// EditSession is the non-linear edit history for one source image in a project
type EditSession struct {
	ID                 string             `json:"id" yaml:"id"`
	ProjectID          string             `json:"projectId" yaml:"project_id"`
	OriginalImageURL   string             `json:"originalImageUrl" yaml:"original_image_url"`
	CurrentImageURL    string             `json:"currentImageUrl" yaml:"current_image_url"`
	CurrentEntryID     string             `json:"currentEntryId,omitempty" yaml:"current_entry_id,omitempty"` // empty means the original image
	History            []EditHistoryEntry `json:"history" yaml:"history"`
	AccumulatedContext []string           `json:"accumulatedContext" yaml:"accumulated_context"`
	CreatedAt          time.Time          `json:"createdAt" yaml:"created_at"`
}

// EditHistoryEntry is one generated candidate image
type EditHistoryEntry struct {
	ID             string    `json:"id" yaml:"id"`
	ImageURL       string    `json:"imageUrl" yaml:"image_url"`
	Prompt         string    `json:"prompt" yaml:"prompt"`
	EnhancedPrompt string    `json:"enhancedPrompt,omitempty" yaml:"enhanced_prompt,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	ParentID       string    `json:"parentId,omitempty" yaml:"parent_id,omitempty"` // empty when generated from the original
	IterationGroup string    `json:"iterationGroup" yaml:"iteration_group"`
	IsChosen       bool      `json:"isChosen" yaml:"is_chosen"`
	Model          string    `json:"model,omitempty" yaml:"model,omitempty"`
}

// Clone returns a copy that shares no slices with s
func (s EditSession) Clone() EditSession {
	out := s
	out.History = append([]EditHistoryEntry(nil), s.History...)
	out.AccumulatedContext = append([]string(nil), s.AccumulatedContext...)
	if out.History == nil {
		out.History = []EditHistoryEntry{}
	}
	if out.AccumulatedContext == nil {
		out.AccumulatedContext = []string{}
	}
	return out
}

// Vec3 is an x, y, z triple. It serializes as a three element array.
type Vec3 [3]float64

// CanvasItem is one furniture instance placed in a scene
type CanvasItem struct {
	ID          string         `json:"id"`
	FurnitureID string         `json:"furnitureId"`
	Position    Vec3           `json:"position"`
	Rotation    Vec3           `json:"rotation"` // Euler angles, radians
	Scale       Vec3           `json:"scale"`
	Locked      bool           `json:"locked"`
	Visible     bool           `json:"visible"`
	Material    map[string]any `json:"material,omitempty"`
}

// ItemUpdate carries a partial update for a CanvasItem. Nil fields are left alone.
type ItemUpdate struct {
	FurnitureID *string        `json:"furnitureId,omitempty"`
	Position    *Vec3          `json:"position,omitempty"`
	Rotation    *Vec3          `json:"rotation,omitempty"`
	Scale       *Vec3          `json:"scale,omitempty"`
	Locked      *bool          `json:"locked,omitempty"`
	Visible     *bool          `json:"visible,omitempty"`
	Material    map[string]any `json:"material,omitempty"`
}

// Camera is the editor viewpoint
type Camera struct {
	Position Vec3    `json:"position"`
	Target   Vec3    `json:"target"`
	Zoom     float64 `json:"zoom"`
}

// SceneData is the at-rest scene document
type SceneData struct {
	Version   string       `json:"version"`
	Timestamp string       `json:"timestamp"`
	ViewMode  string       `json:"viewMode"`
	Camera    Camera       `json:"camera"`
	Items     []CanvasItem `json:"items"`
}
