package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/internal/venue/db"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

var (
	ErrUnknownTable      = errors.New("unknown table")
	ErrCheckoutFinalized = errors.New("checkout already finalized")
)

// Persistence writes the durable copy of a table's open order. The store
// never mutates memory for an update that did not persist. SaveOpenOrder
// re-checks the idempotency fence in the same transaction as the write and
// returns db.ErrFinalizedCheckout, with nothing written, when a finalize for
// the checkout committed concurrently.
type Persistence interface {
	SaveOpenOrder(ctx context.Context, tableID int64, order *models.Order) error
	DeleteOpenOrder(ctx context.Context, tableID int64) error
}

// Fence reports whether a sale was already recorded under an idempotency
// key. A fenced checkout can no longer be edited. This lookup is the fast
// path; the authoritative check rides inside Persistence.SaveOpenOrder so a
// finalize racing the lookup still cannot resurrect its checkout.
type Fence interface {
	SaleExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// Broadcaster pushes authoritative snapshots to every connected terminal.
type Broadcaster interface {
	Broadcast(frame models.SnapshotFrame)
}

// Store owns the authoritative table -> open order map. Orders are replaced
// or cleared as a whole, never merged: when two terminals race, the later
// intent wins and the earlier terminal is corrected by the next snapshot.
// Every mutation bumps the snapshot sequence and broadcasts the full state.
type Store struct {
	persist Persistence
	fence   Fence
	cast    Broadcaster
	taxRate decimal.Decimal
	now     func() time.Time

	mu     sync.Mutex
	seq    uint64
	tables map[int64]*models.Table
}

func New(persist Persistence, fence Fence, cast Broadcaster, taxRate decimal.Decimal, tables []models.Table) *Store {
	m := make(map[int64]*models.Table, len(tables))
	for _, t := range tables {
		dup := t.Clone()
		m[t.ID] = &dup
	}
	return &Store{
		persist: persist,
		fence:   fence,
		cast:    cast,
		taxRate: taxRate,
		now:     time.Now,
		tables:  m,
	}
}

// Apply replaces the table's open order wholesale. nil clears the table, and
// an order whose lines all normalize away counts as a clear too. The durable
// row is written before memory changes and before any broadcast, so a
// persistence failure leaves every terminal's view matching what is actually
// stored. Totals are recomputed here; whatever the terminal calculated is
// advisory only.
func (s *Store) Apply(ctx context.Context, tableID int64, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[tableID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTable, tableID)
	}

	order = order.Clone()
	if order != nil && !order.Normalize() {
		order = nil
	}

	if order != nil {
		if order.CheckoutID == "" {
			order.CheckoutID = uuid.NewString()
		}
		finalized, err := s.fence.SaleExists(ctx, order.CheckoutID)
		if err != nil {
			return fmt.Errorf("checkout fence lookup: %w", err)
		}
		if finalized {
			return fmt.Errorf("%w: %s", ErrCheckoutFinalized, order.CheckoutID)
		}
		order.Recalculate(s.taxRate)
		if err := s.persist.SaveOpenOrder(ctx, tableID, order); err != nil {
			if errors.Is(err, db.ErrFinalizedCheckout) {
				// A finalize for this checkout committed between the fence
				// lookup and the write; the durable row was rolled back.
				return fmt.Errorf("%w: %s", ErrCheckoutFinalized, order.CheckoutID)
			}
			return fmt.Errorf("persist open order: %w", err)
		}
	} else {
		if err := s.persist.DeleteOpenOrder(ctx, tableID); err != nil {
			return fmt.Errorf("clear open order: %w", err)
		}
	}

	table.Order = order
	s.broadcastLocked()
	return nil
}

// CompleteSale clears the table after a finalized sale. The finalize
// transaction already removed the durable open order row, so only memory and
// the connected terminals need the update.
func (s *Store) CompleteSale(tableID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[tableID]
	if !ok {
		return
	}
	table.Order = nil
	s.broadcastLocked()
}

// Snapshot returns a deep copy of the full authoritative table state at the
// current sequence. This is the only representation terminals ever receive.
func (s *Store) Snapshot() models.SnapshotFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

// TableName reports the display name for a table id.
func (s *Store) TableName(tableID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableID]
	if !ok {
		return "", false
	}
	return t.Name, true
}

func (s *Store) broadcastLocked() {
	s.seq++
	s.cast.Broadcast(s.frameLocked())
}

func (s *Store) frameLocked() models.SnapshotFrame {
	tables := make([]models.Table, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, t.Clone())
	}
	sortTables(tables)
	return models.SnapshotFrame{
		Type:     models.FrameSnapshot,
		Seq:      s.seq,
		IssuedAt: s.now().UTC(),
		Tables:   tables,
	}
}

// sortTables orders by manual sort position when set, nulls last, then by id.
func sortTables(tables []models.Table) {
	sort.Slice(tables, func(i, j int) bool {
		pi, pj := tables[i].SortPos, tables[j].SortPos
		switch {
		case pi != nil && pj != nil && *pi != *pj:
			return *pi < *pj
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return tables[i].ID < tables[j].ID
	})
}
