package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/internal/venue/db"
	"github.com/loungenpark/PosProject-sub001/internal/venue/ledger"
	"github.com/loungenpark/PosProject-sub001/internal/venue/store"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
	"github.com/loungenpark/PosProject-sub001/pkg/rabbitmq"
)

var (
	ErrEmptyOrder = errors.New("order has no lines")
	ErrMissingKey = errors.New("idempotency key is required")
)

// Sales is the durable sale log. SaleByKey returns nil without error when no
// sale used the key yet; FinalizeSale commits the sale, its stock movements
// and the open-order removal in one transaction and returns db.ErrDuplicateKey
// when the key lost a race.
type Sales interface {
	SaleByKey(ctx context.Context, key string) (*models.Sale, error)
	FinalizeSale(ctx context.Context, sale models.Sale, movements []models.Movement, pools []models.StockPool) (models.Sale, error)
}

// Tickets carries finalized orders to the printing collaborator. Delivery is
// fire and forget; a failure is logged and never rolls a sale back.
type Tickets interface {
	PublishJSON(exchange, routingKey string, payload any) error
}

// Finalizer drives a checkout through its terminal transition: fence on the
// idempotency key, commit sale plus stock deduction atomically, clear the
// table, hand off the print ticket. Replays with an already-used key get the
// original sale back instead of a second one.
type Finalizer struct {
	sales    Sales
	store    *store.Store
	ledger   *ledger.Ledger
	tickets  Tickets
	log      *logger.Logger
	taxRate  decimal.Decimal
	currency string
	now      func() time.Time
}

func New(sales Sales, st *store.Store, led *ledger.Ledger, tickets Tickets, log *logger.Logger, taxRate decimal.Decimal, currency string) *Finalizer {
	return &Finalizer{
		sales:    sales,
		store:    st,
		ledger:   led,
		tickets:  tickets,
		log:      log,
		taxRate:  taxRate,
		currency: currency,
		now:      time.Now,
	}
}

// Finalize closes out one checkout and reports whether the response is a
// replay of an earlier sale.
func (f *Finalizer) Finalize(ctx context.Context, req models.FinalizeRequest, requestID string) (models.Sale, bool, error) {
	order := req.Order
	if !order.Normalize() {
		return models.Sale{}, false, ErrEmptyOrder
	}
	if req.IdempotencyKey == "" {
		return models.Sale{}, false, ErrMissingKey
	}
	tableName, ok := f.store.TableName(req.TableID)
	if !ok {
		return models.Sale{}, false, fmt.Errorf("%w: %d", store.ErrUnknownTable, req.TableID)
	}
	if req.TableName == "" {
		req.TableName = tableName
	}

	// Fence first: a replayed request answers from the sale log without
	// touching stock or the table.
	existing, err := f.sales.SaleByKey(ctx, req.IdempotencyKey)
	if err != nil {
		return models.Sale{}, false, fmt.Errorf("sale lookup: %w", err)
	}
	if existing != nil {
		f.log.Info(requestID, "finalize_replayed", fmt.Sprintf("Sale %d already recorded for key %s", existing.ID, req.IdempotencyKey))
		return *existing, true, nil
	}

	// The terminal's totals are advisory; recompute from the lines.
	order.CheckoutID = req.IdempotencyKey
	order.Recalculate(f.taxRate)
	sale := models.Sale{
		IdempotencyKey: req.IdempotencyKey,
		TableID:        req.TableID,
		TableName:      req.TableName,
		User:           req.User,
		Subtotal:       order.Subtotal,
		Tax:            order.Tax,
		Total:          order.Total,
		Order:          order,
		At:             f.now().UTC(),
	}

	// The ledger stages the per-pool deductions and commits them through the
	// same transaction that writes the sale row. Its cached balances advance
	// only when that transaction lands.
	var committed models.Sale
	_, err = f.ledger.DeductForSale(ctx, order.Lines, "sale "+req.TableName, req.User,
		func(ctx context.Context, movements []models.Movement, pools []models.StockPool) error {
			s, commitErr := f.sales.FinalizeSale(ctx, sale, movements, pools)
			if commitErr != nil {
				return commitErr
			}
			committed = s
			return nil
		})
	if errors.Is(err, db.ErrDuplicateKey) {
		// Lost the race against a concurrent finalize with the same key.
		// Nothing was written or deducted; answer with the winner's sale.
		existing, lookupErr := f.sales.SaleByKey(ctx, req.IdempotencyKey)
		if lookupErr != nil || existing == nil {
			return models.Sale{}, false, fmt.Errorf("finalize raced for key %s but sale not found: %w", req.IdempotencyKey, err)
		}
		f.log.Info(requestID, "finalize_replayed", fmt.Sprintf("Sale %d won the race for key %s", existing.ID, req.IdempotencyKey))
		return *existing, true, nil
	}
	if err != nil {
		return models.Sale{}, false, fmt.Errorf("finalize sale: %w", err)
	}

	f.store.CompleteSale(req.TableID)

	if err := f.tickets.PublishJSON(rabbitmq.PrintExchange, "", committed.Ticket(f.currency)); err != nil {
		f.log.Error(requestID, "ticket_publish_failed", fmt.Sprintf("Print ticket for sale %d was not delivered", committed.ID), err)
	}

	f.log.Info(requestID, "sale_finalized",
		fmt.Sprintf("Sale %d finalized for table %q by %s, total %s", committed.ID, req.TableName, req.User, committed.Total.String()))
	return committed, false, nil
}
