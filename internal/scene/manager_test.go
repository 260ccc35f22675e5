package scene

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/venuevision/venuestudio/internal/models"
)

func item(id string, x float64) models.CanvasItem {
	return models.CanvasItem{
		ID:          id,
		FurnitureID: "chair-chiavari",
		Position:    models.Vec3{x, 0, 0},
		Scale:       models.Vec3{1, 1, 1},
		Visible:     true,
	}
}

func ids(items []models.CanvasItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func newTestManager(opts ...Option) *Manager {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewManager(append([]Option{WithClock(func() time.Time { return base })}, opts...)...)
}

func TestInitialState(t *testing.T) {
	m := newTestManager()
	if m.HistoryIndex() != -1 || m.HistoryLen() != 0 {
		t.Errorf("Expected empty history at -1, got len=%d index=%d", m.HistoryLen(), m.HistoryIndex())
	}
	if m.Undo() || m.Redo() {
		t.Errorf("Expected undo/redo to be no-ops on empty history")
	}
}

func TestAddItemPushesSnapshot(t *testing.T) {
	m := newTestManager()
	if err := m.AddItem(item("a", 1)); err != nil {
		t.Fatal(err)
	}
	if err := m.AddItem(item("b", 2)); err != nil {
		t.Fatal(err)
	}
	if m.HistoryLen() != 2 || m.HistoryIndex() != 1 {
		t.Errorf("Expected 2 snapshots at index 1, got len=%d index=%d", m.HistoryLen(), m.HistoryIndex())
	}
	if got := ids(m.Items()); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Expected insertion order [a b], got %v", got)
	}
}

func TestDuplicateAndMissingIDs(t *testing.T) {
	m := newTestManager()
	if err := m.AddItem(item("x", 0)); err != nil {
		t.Fatal(err)
	}
	if err := m.AddItem(item("x", 5)); !errors.Is(err, ErrDuplicateItemID) {
		t.Errorf("Expected ErrDuplicateItemID, got %v", err)
	}
	if m.HistoryLen() != 1 {
		t.Errorf("Expected failed add to leave history alone, got %d", m.HistoryLen())
	}

	before := m.ExportScene()
	pos := models.Vec3{9, 9, 9}
	if err := m.UpdateItem("y", models.ItemUpdate{Position: &pos}); err != nil {
		t.Errorf("Expected silent no-op, got %v", err)
	}
	if err := m.RemoveItem("y"); err != nil {
		t.Errorf("Expected silent no-op, got %v", err)
	}
	if after := m.ExportScene(); !reflect.DeepEqual(before, after) {
		t.Errorf("Expected scene unchanged")
	}
	if m.HistoryLen() != 1 {
		t.Errorf("Expected no snapshot for missing remove, got %d", m.HistoryLen())
	}
}

func TestMissingItemPolicies(t *testing.T) {
	var seen []string
	lenient := newTestManager(WithMissingItemHandler(func(op, id string) {
		seen = append(seen, op+":"+id)
	}))
	_ = lenient.UpdateItem("ghost", models.ItemUpdate{})
	_ = lenient.RemoveItem("ghost")
	if !reflect.DeepEqual(seen, []string{"update:ghost", "remove:ghost"}) {
		t.Errorf("Expected handler calls, got %v", seen)
	}

	strict := newTestManager(Strict())
	if err := strict.UpdateItem("ghost", models.ItemUpdate{}); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
	if err := strict.RemoveItem("ghost"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestUpdateItemDoesNotCheckpoint(t *testing.T) {
	m := newTestManager()
	_ = m.AddItem(item("a", 0))

	for i := 1; i <= 10; i++ {
		pos := models.Vec3{float64(i), 0, 0}
		if err := m.UpdateItem("a", models.ItemUpdate{Position: &pos}); err != nil {
			t.Fatal(err)
		}
	}
	if m.HistoryLen() != 1 {
		t.Errorf("Expected updates not to checkpoint, got %d snapshots", m.HistoryLen())
	}
	m.SaveHistory()
	if m.HistoryLen() != 2 {
		t.Errorf("Expected explicit checkpoint, got %d snapshots", m.HistoryLen())
	}
	got, _ := m.Item("a")
	if got.Position[0] != 10 {
		t.Errorf("Expected x=10, got %v", got.Position[0])
	}
}

func TestUpdateItemRejectsNonFinite(t *testing.T) {
	m := newTestManager()
	_ = m.AddItem(item("a", 1))

	tests := []struct {
		name   string
		update models.ItemUpdate
	}{
		{"nan position", models.ItemUpdate{Position: &models.Vec3{math.NaN(), 0, 0}}},
		{"inf scale", models.ItemUpdate{Scale: &models.Vec3{1, math.Inf(1), 1}}},
		{"inf rotation", models.ItemUpdate{Rotation: &models.Vec3{0, 0, math.Inf(-1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.UpdateItem("a", tt.update); !errors.Is(err, ErrInvalidTransform) {
				t.Errorf("Expected ErrInvalidTransform, got %v", err)
			}
			got, _ := m.Item("a")
			if got.Position[0] != 1 || got.Scale[1] != 1 {
				t.Errorf("Expected item untouched, got %+v", got)
			}
		})
	}

	bad := item("b", math.NaN())
	if err := m.AddItem(bad); !errors.Is(err, ErrInvalidTransform) {
		t.Errorf("Expected ErrInvalidTransform on add, got %v", err)
	}
}

func TestLockedItemIgnoresTransforms(t *testing.T) {
	m := newTestManager()
	locked := item("a", 1)
	locked.Locked = true
	_ = m.AddItem(locked)

	pos := models.Vec3{5, 0, 0}
	visible := false
	_ = m.UpdateItem("a", models.ItemUpdate{Position: &pos, Visible: &visible})
	got, _ := m.Item("a")
	if got.Position[0] != 1 {
		t.Errorf("Expected locked position unchanged, got %v", got.Position)
	}
	if got.Visible {
		t.Errorf("Expected visibility to change on a locked item")
	}

	unlock := false
	_ = m.UpdateItem("a", models.ItemUpdate{Position: &pos, Locked: &unlock})
	got, _ = m.Item("a")
	if got.Position[0] != 5 || got.Locked {
		t.Errorf("Expected unlock and move in one update, got %+v", got)
	}
}

func TestSnapToGrid(t *testing.T) {
	m := newTestManager()
	_ = m.AddItem(item("a", 0))
	m.SetSnapToGrid(true)
	if err := m.SetGridSize(0.25); err != nil {
		t.Fatal(err)
	}
	pos := models.Vec3{1.13, 0.7, -0.9}
	_ = m.UpdateItem("a", models.ItemUpdate{Position: &pos})
	got, _ := m.Item("a")
	if got.Position != (models.Vec3{1.25, 0.7, -1}) {
		t.Errorf("Expected snapped position, got %v", got.Position)
	}
	if err := m.SetGridSize(0); !errors.Is(err, ErrInvalidTransform) {
		t.Errorf("Expected grid size validation, got %v", err)
	}
}

func TestRemoveItemClearsSelection(t *testing.T) {
	m := newTestManager()
	_ = m.AddItem(item("a", 0))
	_ = m.AddItem(item("b", 1))
	m.SelectItem("a", false)
	m.SelectItem("b", true)

	if err := m.RemoveItem("a"); err != nil {
		t.Fatal(err)
	}
	if got := m.Selection(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Expected selection [b], got %v", got)
	}
	if m.HistoryLen() != 3 {
		t.Errorf("Expected remove to checkpoint, got %d", m.HistoryLen())
	}
}

func TestSelection(t *testing.T) {
	m := newTestManager()
	m.SelectItem("a", false)
	m.SelectItem("b", true)
	m.SelectItem("c", true)
	if got := m.Selection(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Expected [a b c], got %v", got)
	}
	m.SelectItem("b", true)
	if got := m.Selection(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Expected toggle off b, got %v", got)
	}
	m.SelectItem("d", false)
	if got := m.Selection(); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("Expected replace with [d], got %v", got)
	}
	m.ClearSelection()
	if len(m.Selection()) != 0 {
		t.Errorf("Expected empty selection")
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	m := newTestManager()
	_ = m.AddItem(item("a", 0))
	_ = m.AddItem(item("b", 1))
	pos := models.Vec3{7, 0, 0}
	_ = m.UpdateItem("a", models.ItemUpdate{Position: &pos})
	m.SaveHistory()

	before := m.Items()
	m.SelectItem("a", false)
	if !m.Undo() {
		t.Fatal("Expected undo")
	}
	if len(m.Selection()) != 0 {
		t.Errorf("Expected undo to clear selection")
	}
	got, _ := m.Item("a")
	if got.Position[0] != 0 {
		t.Errorf("Expected a back at x=0, got %v", got.Position)
	}
	if !m.Redo() {
		t.Fatal("Expected redo")
	}
	if after := m.Items(); !reflect.DeepEqual(before, after) {
		t.Errorf("Expected round trip:\n%+v\n%+v", before, after)
	}
	if m.Redo() {
		t.Errorf("Expected redo at newest snapshot to be a no-op")
	}
}

func TestUndoFloor(t *testing.T) {
	m := newTestManager()
	_ = m.AddItem(item("a", 0))
	if m.Undo() {
		t.Errorf("Expected undo at index 0 to be a no-op")
	}
	if m.HistoryIndex() != 0 || len(m.Items()) != 1 {
		t.Errorf("Expected state unchanged")
	}
}

func TestNewEditAfterUndoDiscardsRedo(t *testing.T) {
	m := newTestManager()
	_ = m.AddItem(item("s0", 0))
	_ = m.AddItem(item("s1", 1))
	_ = m.AddItem(item("s2", 2))
	if m.HistoryIndex() != 2 {
		t.Fatalf("Expected index 2, got %d", m.HistoryIndex())
	}

	m.Undo()
	if m.HistoryIndex() != 1 {
		t.Fatalf("Expected index 1, got %d", m.HistoryIndex())
	}
	_ = m.AddItem(item("x", 3))

	history := m.History()
	if len(history) != 3 || m.HistoryIndex() != 2 {
		t.Fatalf("Expected 3 snapshots at index 2, got len=%d index=%d", len(history), m.HistoryIndex())
	}
	want := [][]string{{"s0"}, {"s0", "s1"}, {"s0", "s1", "x"}}
	for i, snap := range history {
		if got := ids(snap.Items); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("Snapshot %d: expected %v, got %v", i, want[i], got)
		}
	}
	if m.CanRedo() {
		t.Errorf("Expected redo history discarded")
	}
}

func TestHistoryCap(t *testing.T) {
	m := newTestManager()
	for i := 0; i < MaxHistory+5; i++ {
		if err := m.AddItem(item(fmt.Sprintf("i%d", i), float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	history := m.History()
	if len(history) != MaxHistory {
		t.Fatalf("Expected %d snapshots, got %d", MaxHistory, len(history))
	}
	if m.HistoryIndex() != MaxHistory-1 {
		t.Errorf("Expected index at newest, got %d", m.HistoryIndex())
	}
	// The oldest surviving snapshot is the sixth push, holding six items.
	if n := len(history[0].Items); n != 6 {
		t.Errorf("Expected oldest snapshot with 6 items, got %d", n)
	}
	if n := len(history[MaxHistory-1].Items); n != MaxHistory+5 {
		t.Errorf("Expected newest snapshot with %d items, got %d", MaxHistory+5, n)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	m := newTestManager()
	withMaterial := item("a", 0)
	withMaterial.Material = map[string]any{"color": "#fff", "layers": []any{"linen"}}
	_ = m.AddItem(withMaterial)

	withMaterial.Material["color"] = "#000"
	history := m.History()
	history[0].Items[0].Position[0] = 99
	history[0].Items[0].Material["color"] = "#123"
	items := m.Items()
	items[0].Material["layers"].([]any)[0] = "velvet"

	got, _ := m.Item("a")
	if got.Position[0] != 0 || got.Material["color"] != "#fff" || got.Material["layers"].([]any)[0] != "linen" {
		t.Errorf("Expected manager state isolated from callers, got %+v", got)
	}
	m.SaveHistory()
	m.Undo()
	got, _ = m.Item("a")
	if got.Position[0] != 0 || got.Material["color"] != "#fff" {
		t.Errorf("Expected snapshot isolated, got %+v", got)
	}
}

func TestExportImportScene(t *testing.T) {
	src := newTestManager()
	a := item("a", 1)
	a.Material = map[string]any{"fabric": "satin"}
	_ = src.AddItem(a)
	_ = src.AddItem(item("b", 2))
	_ = src.AddItem(item("c", 3))
	src.SetViewMode(View2D)
	src.SetCamera(models.Camera{Position: models.Vec3{0, 20, 0}, Zoom: 2})

	data := src.ExportScene()
	if data.Version != "1.0" || data.Timestamp != "2024-06-01T12:00:00.000Z" || data.ViewMode != "2d" {
		t.Errorf("Unexpected header %q %q %q", data.Version, data.Timestamp, data.ViewMode)
	}

	dst := newTestManager()
	_ = dst.AddItem(item("old", 0))
	_ = dst.AddItem(item("older", 0))
	dst.SelectItem("old", false)
	if err := dst.ImportScene(data); err != nil {
		t.Fatalf("ImportScene: %v", err)
	}
	if !reflect.DeepEqual(dst.Items(), src.Items()) {
		t.Errorf("Expected items round trip:\n%+v\n%+v", src.Items(), dst.Items())
	}
	if dst.HistoryLen() != 1 || dst.HistoryIndex() != 0 {
		t.Errorf("Expected history reset to one snapshot, got len=%d index=%d", dst.HistoryLen(), dst.HistoryIndex())
	}
	if dst.Camera() != src.Camera() || dst.ViewMode() != View2D {
		t.Errorf("Expected camera and view mode imported")
	}
	if len(dst.Selection()) != 0 {
		t.Errorf("Expected selection cleared")
	}
}

func TestImportSceneRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data models.SceneData
		want error
	}{
		{"wrong version", models.SceneData{Version: "2.0"}, ErrUnsupportedVersion},
		{"duplicate ids", models.SceneData{Version: "1.0", Items: []models.CanvasItem{item("a", 0), item("a", 1)}}, ErrDuplicateItemID},
		{"non-finite", models.SceneData{Version: "1.0", Items: []models.CanvasItem{item("a", math.Inf(1))}}, ErrInvalidTransform},
		{"empty id", models.SceneData{Version: "1.0", Items: []models.CanvasItem{item("", 0)}}, ErrInvalidItem},
		{"unknown view mode", models.SceneData{Version: "1.0", ViewMode: "isometric"}, ErrInvalidViewMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager()
			_ = m.AddItem(item("keep", 0))
			if err := m.ImportScene(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if got := ids(m.Items()); !reflect.DeepEqual(got, []string{"keep"}) || m.HistoryLen() != 1 {
				t.Errorf("Expected scene untouched, got %v", got)
			}
		})
	}
}

func TestDuplicateItem(t *testing.T) {
	m := newTestManager(WithIDGenerator(func() string { return "copy" }))
	src := item("a", 1)
	src.Locked = true
	_ = m.AddItem(src)

	dup, err := m.DuplicateItem("a")
	if err != nil {
		t.Fatal(err)
	}
	if dup.ID != "copy" || dup.Position[0] != 1.5 || dup.Position[2] != 0.5 || dup.Locked {
		t.Errorf("Unexpected duplicate %+v", dup)
	}
	if m.HistoryLen() != 2 {
		t.Errorf("Expected duplicate to checkpoint")
	}
	if _, err := m.DuplicateItem("nope"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}
