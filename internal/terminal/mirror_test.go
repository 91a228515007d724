package terminal

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func frame(seq uint64, tables ...models.Table) models.SnapshotFrame {
	return models.SnapshotFrame{Type: models.FrameSnapshot, Seq: seq, Tables: tables}
}

func occupied(id int64, name, checkout string) models.Table {
	return models.Table{ID: id, Name: name, Order: &models.Order{
		CheckoutID: checkout,
		Lines:      []models.OrderLine{{ItemID: 1, Name: "Pizza", UnitPrice: dec("9.50"), Quantity: 1}},
	}}
}

func free(id int64, name string) models.Table {
	return models.Table{ID: id, Name: name}
}

func TestReplaceAllDiscardsStaleFrames(t *testing.T) {
	m := NewMirror()

	if !m.ReplaceAll(frame(2, occupied(1, "Bar 1", "chk-2"))) {
		t.Fatal("first frame must apply")
	}
	// A reordered older snapshot arrives late.
	if m.ReplaceAll(frame(1, free(1, "Bar 1"))) {
		t.Fatal("older frame must be discarded")
	}

	tbl, ok := m.Table(1)
	if !ok || tbl.Order == nil || tbl.Order.CheckoutID != "chk-2" {
		t.Error("stale frame rolled visible state back")
	}
	if seq, fresh := m.Current(); seq != 2 || !fresh {
		t.Errorf("seq=%d fresh=%v, want 2/true", seq, fresh)
	}
}

func TestReplaceAllOverwritesOptimisticEdit(t *testing.T) {
	m := NewMirror()
	m.ReplaceAll(frame(1, free(1, "Bar 1")))

	// Optimistic local overlay, then the authoritative answer without it:
	// the competing terminal won.
	m.ApplyLocal(1, &models.Order{CheckoutID: "mine", Lines: []models.OrderLine{{ItemID: 2, Quantity: 1}}})
	m.ReplaceAll(frame(2, occupied(1, "Bar 1", "theirs")))

	tbl, _ := m.Table(1)
	if tbl.Order == nil || tbl.Order.CheckoutID != "theirs" {
		t.Error("snapshot must overwrite the optimistic edit wholesale")
	}
}

func TestInvalidateAcceptsRestartedSequence(t *testing.T) {
	m := NewMirror()
	m.ReplaceAll(frame(5, occupied(1, "Bar 1", "chk-5")))

	m.Invalidate()
	if _, fresh := m.Current(); fresh {
		t.Fatal("invalidate must flag the mirror stale")
	}
	// Data survives the drop for display.
	if tbl, _ := m.Table(1); tbl.Order == nil {
		t.Fatal("invalidate must keep the last known state")
	}

	// The server restarted and counts from 1 again.
	if !m.ReplaceAll(frame(1, free(1, "Bar 1"))) {
		t.Fatal("first frame after reconnect must apply regardless of seq")
	}
	if seq, fresh := m.Current(); seq != 1 || !fresh {
		t.Errorf("seq=%d fresh=%v, want 1/true", seq, fresh)
	}
}

func TestHydrateStaysStale(t *testing.T) {
	m := NewMirror()
	m.Hydrate([]models.Table{free(1, "Bar 1"), free(2, "Bar 2")})

	if len(m.Tables()) != 2 {
		t.Fatal("hydrate must seed the tables")
	}
	if _, fresh := m.Current(); fresh {
		t.Error("bootstrap data counts as stale until a snapshot confirms it")
	}
}

func TestTablesAreDeepCopies(t *testing.T) {
	m := NewMirror()
	m.ReplaceAll(frame(1, occupied(1, "Bar 1", "chk-1")))

	tbl, _ := m.Table(1)
	tbl.Order.Lines[0].Quantity = 99
	m.Tables()[0].Name = "hacked"

	fresh, _ := m.Table(1)
	if fresh.Order.Lines[0].Quantity != 1 || fresh.Name != "Bar 1" {
		t.Error("mutating returned copies leaked into the mirror")
	}
}

func TestApplyLocalUnknownTableIsNoop(t *testing.T) {
	m := NewMirror()
	m.ReplaceAll(frame(1, free(1, "Bar 1")))

	m.ApplyLocal(42, &models.Order{CheckoutID: "chk"})

	if len(m.Tables()) != 1 {
		t.Error("ApplyLocal must never invent tables")
	}
}
