package terminal

import (
	"sync"

	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

// Mirror is the terminal's read-derived copy of the venue's table state.
// Authoritative data comes in exactly one way: ReplaceAll swaps the whole
// set. Optimistic local edits overlay it between snapshots and are
// overwritten by the next one, whichever terminal won the race server-side.
type Mirror struct {
	mu     sync.Mutex
	seq    uint64
	fresh  bool // a snapshot arrived on the current connection
	tables []models.Table
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// Hydrate seeds the mirror from the bootstrap read. The data counts as stale
// until the first snapshot confirms it.
func (m *Mirror) Hydrate(tables []models.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = cloneTables(tables)
}

// ReplaceAll applies an authoritative snapshot wholesale. Frames that do not
// advance the sequence are discarded, so a late reordered snapshot can never
// roll visible state back. The first frame after a (re)connect is always
// accepted; a restarted server starts counting again.
func (m *Mirror) ReplaceAll(frame models.SnapshotFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh && frame.Seq <= m.seq {
		return false
	}
	m.seq = frame.Seq
	m.fresh = true
	m.tables = cloneTables(frame.Tables)
	return true
}

// Invalidate downgrades trust in the mirror after the synchronization
// channel drops. Data is kept for display but flagged stale until a fresh
// snapshot arrives.
func (m *Mirror) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fresh = false
}

// ApplyLocal overlays an optimistic edit on one table. Only the next
// snapshot makes it, or its competitor, authoritative.
func (m *Mirror) ApplyLocal(tableID int64, order *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tables {
		if m.tables[i].ID == tableID {
			m.tables[i].Order = order.Clone()
			return
		}
	}
}

// Tables returns a deep copy of the mirrored state.
func (m *Mirror) Tables() []models.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTables(m.tables)
}

// Table returns a deep copy of one table.
func (m *Mirror) Table(tableID int64) (models.Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tables {
		if t.ID == tableID {
			return t.Clone(), true
		}
	}
	return models.Table{}, false
}

// Current reports the last applied sequence and whether a snapshot on the
// live connection has confirmed the mirror.
func (m *Mirror) Current() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, m.fresh
}

func cloneTables(tables []models.Table) []models.Table {
	out := make([]models.Table, 0, len(tables))
	for _, t := range tables {
		out = append(out, t.Clone())
	}
	return out
}
