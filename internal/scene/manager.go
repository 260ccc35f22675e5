// Package scene holds the furniture layout of one project editor and a
// bounded, linear undo/redo history of full-scene snapshots.
//
// The history here is unrelated to the edit session tree in
// internal/editsession: it never branches, and a new edit after an undo
// discards the redo side. A Manager is not safe for concurrent use.
package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/venuevision/venuestudio/internal/models"
)

const (
	// MaxHistory is the number of snapshots kept for undo.
	MaxHistory = 50

	// FormatVersion is written into every exported scene.
	FormatVersion = "1.0"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

var (
	ErrDuplicateItemID    = errors.New("duplicate item id")
	ErrItemNotFound       = errors.New("item not found")
	ErrInvalidTransform   = errors.New("invalid transform")
	ErrInvalidItem        = errors.New("invalid item")
	ErrUnsupportedVersion = errors.New("unsupported scene version")
	ErrInvalidViewMode    = errors.New("invalid view mode")
)

type Tool string

const (
	ToolSelect Tool = "select"
	ToolMove   Tool = "move"
	ToolRotate Tool = "rotate"
	ToolScale  Tool = "scale"
	ToolPan    Tool = "pan"
)

type ViewMode string

const (
	View2D ViewMode = "2d"
	View3D ViewMode = "3d"
)

// Snapshot is an immutable copy of every item at one point in time.
type Snapshot struct {
	Items     []models.CanvasItem
	Timestamp time.Time
}

// MissingItemFunc is told about UpdateItem/RemoveItem calls on ids that are
// not in the scene. op is "update" or "remove".
type MissingItemFunc func(op, id string)

type Manager struct {
	items map[string]*models.CanvasItem
	order []string

	selection  []string
	tool       Tool
	snapToGrid bool
	gridSize   float64
	camera     models.Camera
	viewMode   ViewMode

	history      []Snapshot
	historyIndex int

	strict    bool
	onMissing MissingItemFunc
	now       func() time.Time
	newID     func() string
}

type Option func(*Manager)

// Strict makes UpdateItem and RemoveItem return ErrItemNotFound instead of
// silently doing nothing.
func Strict() Option {
	return func(m *Manager) { m.strict = true }
}

func WithMissingItemHandler(fn MissingItemFunc) Option {
	return func(m *Manager) { m.onMissing = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		items:        make(map[string]*models.CanvasItem),
		tool:         ToolSelect,
		gridSize:     0.5,
		viewMode:     View3D,
		camera:       DefaultCamera(),
		historyIndex: -1,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func DefaultCamera() models.Camera {
	return models.Camera{
		Position: models.Vec3{10, 10, 10},
		Target:   models.Vec3{0, 0, 0},
		Zoom:     1,
	}
}

// AddItem inserts item and checkpoints the scene.
func (m *Manager) AddItem(item models.CanvasItem) error {
	if item.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidItem)
	}
	if _, exists := m.items[item.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateItemID, item.ID)
	}
	if err := validateItem(item); err != nil {
		return err
	}
	copied := cloneItem(item)
	m.items[item.ID] = &copied
	m.order = append(m.order, item.ID)
	m.SaveHistory()
	return nil
}

// DuplicateItem copies an existing item under a fresh id, offset by one grid
// step on x and z, and checkpoints the scene.
func (m *Manager) DuplicateItem(id string) (models.CanvasItem, error) {
	src, ok := m.items[id]
	if !ok {
		return models.CanvasItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	dup := cloneItem(*src)
	dup.ID = m.newID()
	dup.Position[0] += m.gridSize
	dup.Position[2] += m.gridSize
	dup.Locked = false
	if err := m.AddItem(dup); err != nil {
		return models.CanvasItem{}, err
	}
	return cloneItem(dup), nil
}

// UpdateItem merges update into the item. It does not checkpoint; call
// SaveHistory once the gesture ends. Transform fields are ignored on a
// locked item unless the same update unlocks it. With snap to grid on, the
// floor-plane position (x, z) is rounded to the grid.
func (m *Manager) UpdateItem(id string, update models.ItemUpdate) error {
	item, ok := m.items[id]
	if !ok {
		return m.missing("update", id)
	}

	next := cloneItem(*item)
	if update.Locked != nil {
		next.Locked = *update.Locked
	}
	if !next.Locked {
		if update.Position != nil {
			next.Position = m.snap(*update.Position)
		}
		if update.Rotation != nil {
			next.Rotation = *update.Rotation
		}
		if update.Scale != nil {
			next.Scale = *update.Scale
		}
	}
	if update.FurnitureID != nil {
		next.FurnitureID = *update.FurnitureID
	}
	if update.Visible != nil {
		next.Visible = *update.Visible
	}
	if update.Material != nil {
		if next.Material == nil {
			next.Material = make(map[string]any, len(update.Material))
		}
		for k, v := range cloneMap(update.Material) {
			next.Material[k] = v
		}
	}
	if err := validateItem(next); err != nil {
		return err
	}
	*item = next
	return nil
}

// RemoveItem deletes the item, drops it from the selection and checkpoints.
func (m *Manager) RemoveItem(id string) error {
	if _, ok := m.items[id]; !ok {
		return m.missing("remove", id)
	}
	delete(m.items, id)
	m.order = without(m.order, id)
	m.selection = without(m.selection, id)
	m.SaveHistory()
	return nil
}

func (m *Manager) missing(op, id string) error {
	if m.onMissing != nil {
		m.onMissing(op, id)
	}
	if m.strict {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	slog.Debug("Ignoring operation on missing scene item", "op", op, "item_id", id)
	return nil
}

// Item returns a copy of one item.
func (m *Manager) Item(id string) (models.CanvasItem, bool) {
	item, ok := m.items[id]
	if !ok {
		return models.CanvasItem{}, false
	}
	return cloneItem(*item), true
}

// Items returns copies of all items in insertion order.
func (m *Manager) Items() []models.CanvasItem {
	out := make([]models.CanvasItem, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneItem(*m.items[id]))
	}
	return out
}

// SelectItem replaces the selection with id, or toggles id when multi is set.
func (m *Manager) SelectItem(id string, multi bool) {
	if !multi {
		m.selection = []string{id}
		return
	}
	for _, selected := range m.selection {
		if selected == id {
			m.selection = without(m.selection, id)
			return
		}
	}
	m.selection = append(m.selection, id)
}

func (m *Manager) ClearSelection() {
	m.selection = nil
}

func (m *Manager) Selection() []string {
	return append([]string{}, m.selection...)
}

func (m *Manager) SetTool(tool Tool) { m.tool = tool }
func (m *Manager) Tool() Tool { return m.tool }
func (m *Manager) SetSnapToGrid(on bool) { m.snapToGrid = on }
func (m *Manager) SnapToGrid() bool { return m.snapToGrid }
func (m *Manager) GridSize() float64 { return m.gridSize }
func (m *Manager) Camera() models.Camera { return m.camera }
func (m *Manager) SetCamera(c models.Camera) { m.camera = c }
func (m *Manager) ViewMode() ViewMode { return m.viewMode }
func (m *Manager) SetViewMode(v ViewMode) { m.viewMode = v }

func (m *Manager) SetGridSize(size float64) error {
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return fmt.Errorf("%w: grid size %v", ErrInvalidTransform, size)
	}
	m.gridSize = size
	return nil
}

// ExportScene serializes the view mode, camera and items.
func (m *Manager) ExportScene() models.SceneData {
	return models.SceneData{
		Version:   FormatVersion,
		Timestamp: m.now().UTC().Format(timestampLayout),
		ViewMode:  string(m.viewMode),
		Camera:    m.camera,
		Items:     m.Items(),
	}
}

// ImportScene replaces the whole scene and resets history to a single
// snapshot of the imported items. Nothing changes if data is invalid.
func (m *Manager) ImportScene(data models.SceneData) error {
	if data.Version != FormatVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, data.Version)
	}
	switch ViewMode(data.ViewMode) {
	case "", View2D, View3D:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidViewMode, data.ViewMode)
	}
	items := make(map[string]*models.CanvasItem, len(data.Items))
	order := make([]string, 0, len(data.Items))
	for _, item := range data.Items {
		if item.ID == "" {
			return fmt.Errorf("%w: id is empty", ErrInvalidItem)
		}
		if _, exists := items[item.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateItemID, item.ID)
		}
		if err := validateItem(item); err != nil {
			return err
		}
		copied := cloneItem(item)
		items[item.ID] = &copied
		order = append(order, item.ID)
	}

	m.items = items
	m.order = order
	m.camera = data.Camera
	if data.ViewMode != "" {
		m.viewMode = ViewMode(data.ViewMode)
	}
	m.selection = nil
	m.history = []Snapshot{m.snapshot()}
	m.historyIndex = 0
	return nil
}

func (m *Manager) snap(p models.Vec3) models.Vec3 {
	if !m.snapToGrid {
		return p
	}
	p[0] = math.Round(p[0]/m.gridSize) * m.gridSize
	p[2] = math.Round(p[2]/m.gridSize) * m.gridSize
	return p
}

func validateItem(item models.CanvasItem) error {
	fields := []struct {
		name string
		v    models.Vec3
	}{{"position", item.Position}, {"rotation", item.Rotation}, {"scale", item.Scale}}
	for _, f := range fields {
		for _, c := range f.v {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("%w: item %s has non-finite %s", ErrInvalidTransform, item.ID, f.name)
			}
		}
	}
	return nil
}

func cloneItem(item models.CanvasItem) models.CanvasItem {
	item.Material = cloneMap(item.Material)
	return item
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
