package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

var (
	// ErrDuplicateKey reports a sale insert that lost the idempotency race:
	// another finalize already committed under the same key.
	ErrDuplicateKey = errors.New("idempotency key already used")

	// ErrFinalizedCheckout reports an open-order write for a checkout that
	// already has a sale. The write was rolled back.
	ErrFinalizedCheckout = errors.New("checkout already has a sale")
)

const uniqueViolation = "23505"

type VenueDB struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewVenueDB(pool *pgxpool.Pool, log *logger.Logger) *VenueDB {
	return &VenueDB{pool: pool, log: log}
}

// LoadTables returns every venue table with its surviving open order
// attached, ready to seed the order store after a restart.
func (d *VenueDB) LoadTables(ctx context.Context) ([]models.Table, error) {
	rows, err := d.pool.Query(ctx, `
        SELECT t.id, t.name, t.zone, t.sort_pos, o.payload
        FROM venue_tables t
        LEFT JOIN open_orders o ON o.table_id = t.id
        ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	defer rows.Close()

	var tables []models.Table
	for rows.Next() {
		var t models.Table
		var payload []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Zone, &t.SortPos, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		if payload != nil {
			var order models.Order
			if err := json.Unmarshal(payload, &order); err != nil {
				return nil, fmt.Errorf("open order for table %d: %w", t.ID, err)
			}
			t.Order = &order
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// LoadItems returns the sellable catalog joined with stock pool codes.
func (d *VenueDB) LoadItems(ctx context.Context) ([]models.Item, error) {
	rows, err := d.pool.Query(ctx, `
        SELECT i.id, i.name, i.price::text, i.printer, i.track_stock,
               COALESCE(i.pool_id, 0), COALESCE(p.code, ''), i.reorder_threshold
        FROM items i
        LEFT JOIN stock_pools p ON p.id = i.pool_id
        ORDER BY i.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		var price string
		if err := rows.Scan(&it.ID, &it.Name, &price, &it.Printer, &it.TrackStock,
			&it.PoolID, &it.PoolCode, &it.ReorderThreshold); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("price for item %d: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LoadPools returns every stock pool with its cached balance and average
// cost.
func (d *VenueDB) LoadPools(ctx context.Context) ([]models.StockPool, error) {
	rows, err := d.pool.Query(ctx, `
        SELECT id, code, quantity, avg_cost::text
        FROM stock_pools
        ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock pools: %w", err)
	}
	defer rows.Close()

	var pools []models.StockPool
	for rows.Next() {
		var p models.StockPool
		var cost string
		if err := rows.Scan(&p.ID, &p.Code, &p.Quantity, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan stock pool: %w", err)
		}
		if p.AvgCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("avg cost for pool %d: %w", p.ID, err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// SaveOpenOrder upserts the durable copy of a table's open order. The upsert
// and an idempotency-fence re-check share one transaction: the row lock taken
// by the upsert orders this write against a concurrent FinalizeSale on the
// same table, so by the time the re-check runs a racing finalize has either
// committed (the check sees its sale and everything rolls back with
// ErrFinalizedCheckout) or will delete this row when it commits. Either way a
// finalized checkout can never survive as an open order.
func (d *VenueDB) SaveOpenOrder(ctx context.Context, tableID int64, order *models.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode open order: %w", err)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO open_orders (table_id, checkout_id, payload, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (table_id)
        DO UPDATE SET checkout_id = EXCLUDED.checkout_id,
                      payload = EXCLUDED.payload,
                      updated_at = NOW()`,
		tableID, order.CheckoutID, payload)
	if err != nil {
		return fmt.Errorf("failed to save open order: %w", err)
	}

	var finalized bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sales WHERE idempotency_key = $1)`, order.CheckoutID).Scan(&finalized)
	if err != nil {
		return fmt.Errorf("failed to re-check idempotency key: %w", err)
	}
	if finalized {
		return fmt.Errorf("%w: %s", ErrFinalizedCheckout, order.CheckoutID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit open order: %w", err)
	}
	return nil
}

// DeleteOpenOrder removes the durable copy when a table is cleared without a
// sale.
func (d *VenueDB) DeleteOpenOrder(ctx context.Context, tableID int64) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM open_orders WHERE table_id = $1`, tableID); err != nil {
		return fmt.Errorf("failed to delete open order: %w", err)
	}
	return nil
}

// SaleExists reports whether a sale was recorded under the idempotency key.
func (d *VenueDB) SaleExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sales WHERE idempotency_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

// SaleByKey returns the sale recorded under the idempotency key, or nil when
// none exists.
func (d *VenueDB) SaleByKey(ctx context.Context, key string) (*models.Sale, error) {
	var (
		s                    models.Sale
		subtotal, tax, total string
		payload              []byte
	)
	err := d.pool.QueryRow(ctx, `
        SELECT id, idempotency_key, table_id, table_name, username,
               subtotal::text, tax::text, total::text, payload, created_at
        FROM sales
        WHERE idempotency_key = $1`, key).
		Scan(&s.ID, &s.IdempotencyKey, &s.TableID, &s.TableName, &s.User,
			&subtotal, &tax, &total, &payload, &s.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	if s.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("subtotal for sale %d: %w", s.ID, err)
	}
	if s.Tax, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("tax for sale %d: %w", s.ID, err)
	}
	if s.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("total for sale %d: %w", s.ID, err)
	}
	if err := json.Unmarshal(payload, &s.Order); err != nil {
		return nil, fmt.Errorf("order payload for sale %d: %w", s.ID, err)
	}
	return &s, nil
}

// FinalizeSale commits one checkout atomically: the immutable sale row, the
// aggregated sale movements with the pool balances they produced, and the
// removal of the table's open order. A concurrent finalize that already used
// the key surfaces as ErrDuplicateKey with nothing written.
func (d *VenueDB) FinalizeSale(ctx context.Context, sale models.Sale, movements []models.Movement, pools []models.StockPool) (models.Sale, error) {
	payload, err := json.Marshal(sale.Order)
	if err != nil {
		return models.Sale{}, fmt.Errorf("failed to encode sale order: %w", err)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return models.Sale{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO sales (idempotency_key, table_id, table_name, username, subtotal, tax, total, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at`,
		sale.IdempotencyKey, sale.TableID, sale.TableName, sale.User,
		sale.Subtotal.String(), sale.Tax.String(), sale.Total.String(), payload).
		Scan(&sale.ID, &sale.At)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Sale{}, ErrDuplicateKey
		}
		return models.Sale{}, fmt.Errorf("failed to insert sale: %w", err)
	}

	if err := execMovements(ctx, tx, movements, pools); err != nil {
		return models.Sale{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM open_orders WHERE table_id = $1`, sale.TableID); err != nil {
		return models.Sale{}, fmt.Errorf("failed to clear open order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Sale{}, fmt.Errorf("failed to commit sale: %w", err)
	}
	return sale, nil
}

// InsertMovements persists a movement batch and the resulting pool balances
// in one transaction. Used for supply, waste and correction movements; sale
// movements ride along in FinalizeSale instead.
func (d *VenueDB) InsertMovements(ctx context.Context, movements []models.Movement, pools []models.StockPool) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := execMovements(ctx, tx, movements, pools); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit movements: %w", err)
	}
	return nil
}

func execMovements(ctx context.Context, tx pgx.Tx, movements []models.Movement, pools []models.StockPool) error {
	if len(movements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`
            INSERT INTO stock_movements (pool_id, delta, kind, reason, username, cost, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.PoolID, m.Delta, string(m.Kind), m.Reason, m.User, m.Cost.String(), m.At)
	}
	for _, p := range pools {
		batch.Queue(`
            UPDATE stock_pools SET quantity = $2, avg_cost = $3 WHERE id = $1`,
			p.ID, p.Quantity, p.AvgCost.String())
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to write stock movement batch: %w", err)
		}
	}
	return nil
}
