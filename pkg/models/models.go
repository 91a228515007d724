package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineStatus tracks whether an order line has been transmitted to its
// kitchen/bar printer yet. Fresh lines may still be edited on the terminal.
type LineStatus string

const (
	LineStatusNew  LineStatus = "new"
	LineStatusSent LineStatus = "sent"
)

// MovementKind tags a stock movement with its cause.
type MovementKind string

const (
	MovementSupply     MovementKind = "supply"
	MovementSale       MovementKind = "sale"
	MovementWaste      MovementKind = "waste"
	MovementCorrection MovementKind = "correction"
)

// Table is one seat group in the venue. Order is nil while the table is free.
// The order field is only ever replaced or cleared as a whole, never patched.
type Table struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Zone    string `json:"zone,omitempty"`
	SortPos *int   `json:"sort_pos,omitempty"`
	Order   *Order `json:"order"`
}

// Order is one open checkout session on a table. CheckoutID is the session's
// idempotency key: assigned when the session opens, kept across every
// mutation, and fenced against double finalization server-side.
// Subtotal, Tax and Total are cached projections of Lines and the venue tax
// rate; Recalculate is the only way they are produced.
type Order struct {
	CheckoutID string          `json:"checkout_id"`
	Lines      []OrderLine     `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
}

// OrderLine is a sellable item snapshot plus quantity. The snapshot fields
// are frozen at the moment the line is added so later catalog edits never
// change an open check.
type OrderLine struct {
	ItemID     int64           `json:"item_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Printer    string          `json:"printer,omitempty"`
	TrackStock bool            `json:"track_stock"`
	PoolID     int64           `json:"pool_id,omitempty"`
	Quantity   int             `json:"quantity"`
	AddedBy    string          `json:"added_by"`
	Status     LineStatus      `json:"status"`
}

// Item is a sellable catalog entry. Tracked items always reference a stock
// pool; items sharing a pool sell from one physical count under different
// names and prices. PoolID zero means the item is untracked (infinite stock,
// excluded from every ledger operation).
type Item struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Printer          string          `json:"printer,omitempty"`
	TrackStock       bool            `json:"track_stock"`
	PoolID           int64           `json:"pool_id,omitempty"`
	PoolCode         string          `json:"pool_code,omitempty"`
	ReorderThreshold int             `json:"reorder_threshold,omitempty"`
}

// StockPool is one physical countable stock. Quantity is the cached aggregate
// of all movement deltas for the pool; AvgCost is the running
// weighted-average unit cost, updated only by supply movements.
type StockPool struct {
	ID       int64           `json:"id"`
	Code     string          `json:"code"`
	Quantity int64           `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// Movement is one immutable ledger entry. Corrections are new entries, never
// edits. Cost is the total cost of the supplied units and stays zero for
// every other kind.
type Movement struct {
	ID     int64           `json:"id,omitempty"`
	PoolID int64           `json:"pool_id"`
	Delta  int64           `json:"delta"`
	Kind   MovementKind    `json:"kind"`
	Reason string          `json:"reason,omitempty"`
	User   string          `json:"user"`
	Cost   decimal.Decimal `json:"cost"`
	At     time.Time       `json:"at"`
}

// Sale is the immutable record of one finalized checkout. Its unique
// idempotency key is what makes resubmitted finalize requests safe.
type Sale struct {
	ID             int64           `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	TableID        int64           `json:"table_id"`
	TableName      string          `json:"table_name"`
	User           string          `json:"user"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	Order          Order           `json:"order"`
	At             time.Time       `json:"at"`
}

// Frame types carried over the synchronization channel.
const (
	FrameIntent   = "intent"
	FrameSnapshot = "snapshot"
)

// IntentFrame is a terminal's proposed order mutation: "I want this table's
// order to become X". Order nil clears the table. Intents are applied
// optimistically on the sender and are never authoritative.
type IntentFrame struct {
	Type    string `json:"type"`
	TableID int64  `json:"table_id"`
	Order   *Order `json:"order"`
}

// SnapshotFrame is the complete authoritative table state, pushed to every
// connected terminal after each committed mutation and once on connect.
// Seq increases with every broadcast; terminals discard frames that do not
// advance it.
type SnapshotFrame struct {
	Type     string    `json:"type"`
	Seq      uint64    `json:"seq"`
	IssuedAt time.Time `json:"issued_at"`
	Tables   []Table   `json:"tables"`
}

// ItemStock is the read-side join of a catalog item with its live pool
// balance. Low reports balance at or under the reorder threshold.
type ItemStock struct {
	Item
	Quantity int64 `json:"quantity"`
	Low      bool  `json:"low,omitempty"`
}

// BootstrapResponse hydrates a terminal on connect: the full table list, the
// venue tax rate and the tracked item balances.
type BootstrapResponse struct {
	Tables   []Table         `json:"tables"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
	Currency string          `json:"currency"`
	Items    []ItemStock     `json:"items"`
}

// FinalizeRequest asks the venue server to close out a table. The idempotency
// key, not the table, is what fences duplicates: retrying with the same key
// returns the original sale.
type FinalizeRequest struct {
	TableID        int64  `json:"table_id"`
	TableName      string `json:"table_name"`
	User           string `json:"user"`
	IdempotencyKey string `json:"idempotency_key"`
	Order          Order  `json:"order"`
}

// SaleResponse acknowledges a finalize request. Duplicate marks a replay that
// was answered with the pre-existing sale.
type SaleResponse struct {
	SaleID    int64     `json:"sale_id"`
	CreatedAt time.Time `json:"created_at"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// SupplyEntry is one received batch of stock for an item. TotalCost is the
// cost of the whole batch and feeds the weighted-average cost on supply
// movements; corrections ignore it.
type SupplyEntry struct {
	ItemID    int64           `json:"item_id"`
	Quantity  int             `json:"quantity"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// SupplyRequest records received stock (type supply) or count corrections
// upward (type correction) for a batch of items.
type SupplyRequest struct {
	Movements []SupplyEntry `json:"movements"`
	Reason    string        `json:"reason"`
	UserID    string        `json:"user_id"`
	Type      MovementKind  `json:"type"`
}

// WasteRequest records spoiled or lost stock (type waste) or count
// corrections downward (type correction) for a single item.
type WasteRequest struct {
	ItemID   int64        `json:"item_id"`
	Quantity int          `json:"quantity"`
	Reason   string       `json:"reason"`
	UserID   string       `json:"user_id"`
	Type     MovementKind `json:"type"`
}

// PoolBalance is the read model for one stock pool and the items selling
// from it.
type PoolBalance struct {
	PoolID   int64           `json:"pool_id"`
	Code     string          `json:"code"`
	Quantity int64           `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
	Items    []string        `json:"items,omitempty"`
	Low      bool            `json:"low,omitempty"`
}

// StockResponse answers stock reads and movement requests with the balances
// that resulted.
type StockResponse struct {
	Balances []PoolBalance `json:"balances"`
}

// TicketLine is one printable line of a finalized order.
type TicketLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Printer  string `json:"printer,omitempty"`
}

// PrintTicket is the fire-and-forget payload handed to the printing
// collaborator after a sale commits. The core never blocks on or retries its
// delivery.
type PrintTicket struct {
	SaleID    int64           `json:"sale_id"`
	TableName string          `json:"table_name"`
	User      string          `json:"user"`
	At        time.Time       `json:"at"`
	Currency  string          `json:"currency"`
	Lines     []TicketLine    `json:"lines"`
	Total     decimal.Decimal `json:"total"`
}
