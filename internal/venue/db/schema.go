package db

import (
	"context"
	"fmt"
)

// EnsureSchema creates the venue tables when they do not exist yet. Venue
// provisioning (table, item and pool rows) happens in the back office, so
// only the structure is managed here.
func (d *VenueDB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS venue_tables (
            id       BIGSERIAL PRIMARY KEY,
            name     VARCHAR(100) NOT NULL,
            zone     VARCHAR(100) NOT NULL DEFAULT '',
            sort_pos INT
        )`,
		`CREATE TABLE IF NOT EXISTS stock_pools (
            id       BIGSERIAL PRIMARY KEY,
            code     VARCHAR(100) NOT NULL UNIQUE,
            quantity BIGINT NOT NULL DEFAULT 0,
            avg_cost NUMERIC NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS items (
            id                BIGSERIAL PRIMARY KEY,
            name              VARCHAR(200) NOT NULL,
            price             NUMERIC(10,2) NOT NULL,
            printer           VARCHAR(100) NOT NULL DEFAULT '',
            track_stock       BOOLEAN NOT NULL DEFAULT FALSE,
            pool_id           BIGINT REFERENCES stock_pools(id),
            reorder_threshold INT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS open_orders (
            table_id    BIGINT PRIMARY KEY REFERENCES venue_tables(id),
            checkout_id VARCHAR(64) NOT NULL,
            payload     JSONB NOT NULL,
            updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS sales (
            id              BIGSERIAL PRIMARY KEY,
            idempotency_key VARCHAR(64) NOT NULL UNIQUE,
            table_id        BIGINT NOT NULL,
            table_name      VARCHAR(100) NOT NULL,
            username        VARCHAR(100) NOT NULL,
            subtotal        NUMERIC NOT NULL,
            tax             NUMERIC NOT NULL,
            total           NUMERIC NOT NULL,
            payload         JSONB NOT NULL,
            created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
            id         BIGSERIAL PRIMARY KEY,
            pool_id    BIGINT NOT NULL REFERENCES stock_pools(id),
            delta      BIGINT NOT NULL,
            kind       VARCHAR(20) NOT NULL,
            reason     TEXT NOT NULL DEFAULT '',
            username   VARCHAR(100) NOT NULL,
            cost       NUMERIC NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_stock_movements_pool ON stock_movements (pool_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	d.log.Info("", "schema_ready", "Database schema ensured")
	return nil
}
