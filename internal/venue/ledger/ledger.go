package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

var (
	ErrUnknownPool = errors.New("unknown stock pool")
	ErrQuantity    = errors.New("invalid quantity")
	ErrKind        = errors.New("unsupported movement kind")
)

// Store persists a movement batch together with the pool balances it
// produced. Either all rows commit or none do.
type Store interface {
	InsertMovements(ctx context.Context, movements []models.Movement, pools []models.StockPool) error
}

// CommitFunc persists a sale's movement batch inside the caller's own
// transaction, alongside the sale record itself.
type CommitFunc func(ctx context.Context, movements []models.Movement, pools []models.StockPool) error

// Ledger is the venue's stock accounting engine. Every quantity change is an
// immutable movement against a stock pool; the pool's quantity is the cached
// sum of its movement deltas and its average cost is folded on supply.
// Items sharing a pool therefore always report the same balance. All
// mutations serialize on one mutex, and the in-memory state only advances
// after the movement batch is durably stored.
type Ledger struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	pools map[int64]*models.StockPool
}

func New(store Store, pools []models.StockPool) *Ledger {
	m := make(map[int64]*models.StockPool, len(pools))
	for _, p := range pools {
		dup := p
		m[p.ID] = &dup
	}
	return &Ledger{store: store, now: time.Now, pools: m}
}

// PoolSupply is one received batch for a pool, resolved from the item the
// operator named. TotalCost is the cost of the whole batch.
type PoolSupply struct {
	PoolID    int64
	Quantity  int
	TotalCost decimal.Decimal
}

// batch stages movements and the pool states they produce before anything is
// persisted. Movements staged later in the same batch see the balances left
// by earlier ones.
type batch struct {
	movements []models.Movement
	staged    map[int64]models.StockPool
	ids       []int64
}

func newBatch() *batch {
	return &batch{staged: make(map[int64]models.StockPool)}
}

func (b *batch) pools() []models.StockPool {
	out := make([]models.StockPool, 0, len(b.ids))
	for _, id := range b.ids {
		out = append(out, b.staged[id])
	}
	return out
}

// stage validates one movement and appends it to the batch. Negative deltas
// clamp so the balance never drops below zero; the recorded delta is the
// clamped one, which keeps every balance equal to the sum of its movements.
func (l *Ledger) stage(b *batch, poolID, delta int64, kind models.MovementKind, reason, user string, cost decimal.Decimal) error {
	pool, ok := b.staged[poolID]
	if !ok {
		current, known := l.pools[poolID]
		if !known {
			return fmt.Errorf("%w: %d", ErrUnknownPool, poolID)
		}
		pool = *current
	}

	switch kind {
	case models.MovementSupply:
		if delta <= 0 {
			return fmt.Errorf("%w: supply delta %d", ErrQuantity, delta)
		}
	case models.MovementSale, models.MovementWaste:
		if delta >= 0 {
			return fmt.Errorf("%w: %s delta %d", ErrQuantity, kind, delta)
		}
	case models.MovementCorrection:
		if delta == 0 {
			return fmt.Errorf("%w: correction delta 0", ErrQuantity)
		}
	default:
		return fmt.Errorf("%w: %q", ErrKind, kind)
	}

	if delta < 0 && pool.Quantity+delta < 0 {
		// Physical stock cannot go negative even when the bookkeeping
		// briefly disagrees.
		delta = -pool.Quantity
	}

	if kind == models.MovementSupply {
		// newCost = (oldQty*oldCost + suppliedTotalCost) / (oldQty + suppliedQty)
		held := decimal.NewFromInt(pool.Quantity).Mul(pool.AvgCost)
		pool.AvgCost = held.Add(cost).Div(decimal.NewFromInt(pool.Quantity + delta))
	} else {
		cost = decimal.Zero
	}
	pool.Quantity += delta

	if _, seen := b.staged[poolID]; !seen {
		b.ids = append(b.ids, poolID)
	}
	b.staged[poolID] = pool
	b.movements = append(b.movements, models.Movement{
		PoolID: poolID,
		Delta:  delta,
		Kind:   kind,
		Reason: reason,
		User:   user,
		Cost:   cost,
		At:     l.now().UTC(),
	})
	return nil
}

// applyLocked publishes staged pool states to the cached balances. Callers
// hold l.mu and have already persisted the batch.
func (l *Ledger) applyLocked(b *batch) {
	for id, pool := range b.staged {
		dup := pool
		l.pools[id] = &dup
	}
}

// RecordMovement appends one immutable movement for the pool and returns the
// resulting pool state.
func (l *Ledger) RecordMovement(ctx context.Context, poolID, delta int64, kind models.MovementKind, reason, user string, cost decimal.Decimal) (models.StockPool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := newBatch()
	if err := l.stage(b, poolID, delta, kind, reason, user, cost); err != nil {
		return models.StockPool{}, err
	}
	if err := l.store.InsertMovements(ctx, b.movements, b.pools()); err != nil {
		return models.StockPool{}, fmt.Errorf("persist movement: %w", err)
	}
	l.applyLocked(b)
	return b.staged[poolID], nil
}

// DeductForSale turns an order's tracked lines into sale movements: lines
// selling from the same physical pool are summed first so each pool gets
// exactly one movement, never one per line. Untracked lines are skipped
// entirely. commit persists the batch, typically inside the sale
// transaction, and always runs even when no line tracks stock; balances
// change in memory only after it succeeds. The mutex is held across the
// commit so concurrent sales of a shared item cannot interleave their
// balance math.
func (l *Ledger) DeductForSale(ctx context.Context, lines []models.OrderLine, reason, user string, commit CommitFunc) ([]models.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	perPool := make(map[int64]int64)
	var ids []int64
	for _, line := range lines {
		if !line.TrackStock || line.PoolID == 0 {
			continue
		}
		if _, seen := perPool[line.PoolID]; !seen {
			ids = append(ids, line.PoolID)
		}
		perPool[line.PoolID] += int64(line.Quantity)
	}

	b := newBatch()
	for _, poolID := range ids {
		if qty := perPool[poolID]; qty > 0 {
			if err := l.stage(b, poolID, -qty, models.MovementSale, reason, user, decimal.Zero); err != nil {
				return nil, err
			}
		}
	}
	if err := commit(ctx, b.movements, b.pools()); err != nil {
		return nil, err
	}
	l.applyLocked(b)
	return b.movements, nil
}

// AddSupply records received stock. Kind supply folds each batch cost into
// the pool's weighted-average cost; kind correction adjusts the count upward
// without touching cost. The whole batch persists atomically.
func (l *Ledger) AddSupply(ctx context.Context, entries []PoolSupply, reason, user string, kind models.MovementKind) ([]models.StockPool, error) {
	if kind != models.MovementSupply && kind != models.MovementCorrection {
		return nil, fmt.Errorf("%w: %q", ErrKind, kind)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no movements", ErrQuantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := newBatch()
	for _, e := range entries {
		if e.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %d for pool %d", ErrQuantity, e.Quantity, e.PoolID)
		}
		cost := e.TotalCost
		if kind == models.MovementCorrection {
			cost = decimal.Zero
		}
		if err := l.stage(b, e.PoolID, int64(e.Quantity), kind, reason, user, cost); err != nil {
			return nil, err
		}
	}
	if err := l.store.InsertMovements(ctx, b.movements, b.pools()); err != nil {
		return nil, fmt.Errorf("persist supply: %w", err)
	}
	l.applyLocked(b)
	return b.pools(), nil
}

// AddWaste records spoiled or lost stock (kind waste) or a count correction
// downward (kind correction). The delta clamps at a zero balance.
func (l *Ledger) AddWaste(ctx context.Context, poolID int64, quantity int, reason, user string, kind models.MovementKind) (models.StockPool, error) {
	if kind != models.MovementWaste && kind != models.MovementCorrection {
		return models.StockPool{}, fmt.Errorf("%w: %q", ErrKind, kind)
	}
	if quantity <= 0 {
		return models.StockPool{}, fmt.Errorf("%w: %d", ErrQuantity, quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := newBatch()
	if err := l.stage(b, poolID, -int64(quantity), kind, reason, user, decimal.Zero); err != nil {
		return models.StockPool{}, err
	}
	if err := l.store.InsertMovements(ctx, b.movements, b.pools()); err != nil {
		return models.StockPool{}, fmt.Errorf("persist waste: %w", err)
	}
	l.applyLocked(b)
	return b.staged[poolID], nil
}

// Balance returns the cached aggregate for one pool.
func (l *Ledger) Balance(poolID int64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[poolID]
	if !ok {
		return 0, false
	}
	return p.Quantity, true
}

// Pool returns a copy of one pool's state.
func (l *Ledger) Pool(poolID int64) (models.StockPool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[poolID]
	if !ok {
		return models.StockPool{}, false
	}
	return *p, true
}

// Pools returns a copy of every pool state, ordered by id.
func (l *Ledger) Pools() []models.StockPool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.StockPool, 0, len(l.pools))
	for _, p := range l.pools {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
