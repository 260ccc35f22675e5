package scene

import "github.com/venuevision/venuestudio/internal/models"

// SaveHistory checkpoints the current items. Anything after the current
// position is dropped first, and the oldest snapshot goes once the stack
// passes MaxHistory.
func (m *Manager) SaveHistory() {
	m.history = append(m.history[:m.historyIndex+1], m.snapshot())
	if len(m.history) > MaxHistory {
		m.history = append([]Snapshot(nil), m.history[len(m.history)-MaxHistory:]...)
	}
	m.historyIndex = len(m.history) - 1
}

// Undo steps back one snapshot. It clears the selection and does nothing at
// the oldest snapshot.
func (m *Manager) Undo() bool {
	if m.historyIndex <= 0 {
		return false
	}
	m.historyIndex--
	m.restore(m.history[m.historyIndex])
	return true
}

// Redo steps forward one snapshot. It clears the selection and does nothing
// at the newest snapshot.
func (m *Manager) Redo() bool {
	if m.historyIndex < 0 || m.historyIndex >= len(m.history)-1 {
		return false
	}
	m.historyIndex++
	m.restore(m.history[m.historyIndex])
	return true
}

func (m *Manager) CanUndo() bool { return m.historyIndex > 0 }
func (m *Manager) CanRedo() bool { return m.historyIndex >= 0 && m.historyIndex < len(m.history)-1 }

// HistoryLen is the number of snapshots held.
func (m *Manager) HistoryLen() int { return len(m.history) }

// HistoryIndex is the current snapshot position, -1 before the first checkpoint.
func (m *Manager) HistoryIndex() int { return m.historyIndex }

// History returns copies of the held snapshots, oldest first.
func (m *Manager) History() []Snapshot {
	out := make([]Snapshot, len(m.history))
	for i, snap := range m.history {
		out[i] = Snapshot{Items: cloneItems(snap.Items), Timestamp: snap.Timestamp}
	}
	return out
}

func (m *Manager) snapshot() Snapshot {
	return Snapshot{Items: m.Items(), Timestamp: m.now()}
}

func (m *Manager) restore(snap Snapshot) {
	items := make(map[string]*models.CanvasItem, len(snap.Items))
	order := make([]string, 0, len(snap.Items))
	for _, item := range snap.Items {
		copied := cloneItem(item)
		items[item.ID] = &copied
		order = append(order, item.ID)
	}
	m.items = items
	m.order = order
	m.selection = nil
}

func cloneItems(items []models.CanvasItem) []models.CanvasItem {
	out := make([]models.CanvasItem, len(items))
	for i, item := range items {
		out[i] = cloneItem(item)
	}
	return out
}
