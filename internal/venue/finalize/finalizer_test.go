package finalize

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/internal/venue/db"
	"github.com/loungenpark/PosProject-sub001/internal/venue/ledger"
	"github.com/loungenpark/PosProject-sub001/internal/venue/store"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

// memSales plays the sale log and the checkout fence at once, like the real
// database does.
type memSales struct {
	byKey     map[string]models.Sale
	nextID    int64
	commits   int
	movements []models.Movement
	hideOnce  bool
	failWith  error
}

func newMemSales() *memSales {
	return &memSales{byKey: make(map[string]models.Sale)}
}

func (m *memSales) SaleByKey(ctx context.Context, key string) (*models.Sale, error) {
	if m.hideOnce {
		m.hideOnce = false
		return nil, nil
	}
	if s, ok := m.byKey[key]; ok {
		dup := s
		return &dup, nil
	}
	return nil, nil
}

func (m *memSales) SaleExists(ctx context.Context, key string) (bool, error) {
	_, ok := m.byKey[key]
	return ok, nil
}

func (m *memSales) FinalizeSale(ctx context.Context, sale models.Sale, movements []models.Movement, pools []models.StockPool) (models.Sale, error) {
	if m.failWith != nil {
		return models.Sale{}, m.failWith
	}
	if _, ok := m.byKey[sale.IdempotencyKey]; ok {
		return models.Sale{}, db.ErrDuplicateKey
	}
	m.commits++
	m.nextID++
	sale.ID = m.nextID
	m.byKey[sale.IdempotencyKey] = sale
	m.movements = append(m.movements, movements...)
	return sale, nil
}

type nopPersist struct{}

func (nopPersist) SaveOpenOrder(ctx context.Context, tableID int64, order *models.Order) error {
	return nil
}
func (nopPersist) DeleteOpenOrder(ctx context.Context, tableID int64) error { return nil }

type captureCast struct {
	frames []models.SnapshotFrame
}

func (c *captureCast) Broadcast(frame models.SnapshotFrame) { c.frames = append(c.frames, frame) }

type nopLedgerStore struct{}

func (nopLedgerStore) InsertMovements(ctx context.Context, movements []models.Movement, pools []models.StockPool) error {
	return nil
}

type memTickets struct {
	published []any
	err       error
}

func (m *memTickets) PublishJSON(exchange, routingKey string, payload any) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, payload)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	fin     *Finalizer
	sales   *memSales
	store   *store.Store
	ledger  *ledger.Ledger
	tickets *memTickets
	cast    *captureCast
}

func newFixture() *fixture {
	sales := newMemSales()
	cast := &captureCast{}
	tickets := &memTickets{}
	log := logger.NewLogger("venue-server")

	st := store.New(nopPersist{}, sales, cast, dec("0.19"), []models.Table{
		{ID: 1, Name: "Bar 1"},
		{ID: 5, Name: "Terrace 5"},
	})
	led := ledger.New(nopLedgerStore{}, []models.StockPool{
		{ID: 7, Code: "KEG-1", Quantity: 20, AvgCost: dec("1.10")},
	})

	return &fixture{
		fin:     New(sales, st, led, tickets, log, dec("0.19"), "EUR"),
		sales:   sales,
		store:   st,
		ledger:  led,
		tickets: tickets,
		cast:    cast,
	}
}

func draftOrder() models.Order {
	return models.Order{
		CheckoutID: "chk-1",
		Lines: []models.OrderLine{
			{ItemID: 11, Name: "Draft 0.3L", UnitPrice: dec("3.00"), Printer: "bar", TrackStock: true, PoolID: 7, Quantity: 1, AddedBy: "anna", Status: models.LineStatusSent},
			{ItemID: 12, Name: "Draft 0.5L", UnitPrice: dec("4.50"), Printer: "bar", TrackStock: true, PoolID: 7, Quantity: 1, AddedBy: "anna", Status: models.LineStatusSent},
		},
	}
}

func draftRequest() models.FinalizeRequest {
	return models.FinalizeRequest{
		TableID:        5,
		User:           "anna",
		IdempotencyKey: "chk-1",
		Order:          draftOrder(),
	}
}

func TestFinalizeHappyPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.store.Apply(ctx, 5, &models.Order{CheckoutID: "chk-1", Lines: draftOrder().Lines}); err != nil {
		t.Fatal(err)
	}

	sale, duplicate, err := f.fin.Finalize(ctx, draftRequest(), "req-1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if duplicate {
		t.Error("first finalize flagged as duplicate")
	}
	if sale.ID != 1 {
		t.Errorf("sale id = %d, want 1", sale.ID)
	}
	// 7.50 subtotal at 19% tax.
	if !sale.Subtotal.Equal(dec("7.50")) || !sale.Total.Equal(dec("8.925")) {
		t.Errorf("totals = %s/%s, want 7.50/8.925", sale.Subtotal, sale.Total)
	}
	if sale.TableName != "Terrace 5" {
		t.Errorf("table name = %q, filled in from the store", sale.TableName)
	}

	// Both draft sizes drew from the shared keg: one movement, balance 18.
	if qty, _ := f.ledger.Balance(7); qty != 18 {
		t.Errorf("keg balance = %d, want 18", qty)
	}
	if len(f.sales.movements) != 1 || f.sales.movements[0].Delta != -2 {
		t.Errorf("committed movements = %+v, want one with delta -2", f.sales.movements)
	}

	// The table cleared and terminals heard about it.
	snap := f.store.Snapshot()
	for _, tbl := range snap.Tables {
		if tbl.ID == 5 && tbl.Order != nil {
			t.Error("table 5 still occupied after finalize")
		}
	}
	if len(f.cast.frames) == 0 || f.cast.frames[len(f.cast.frames)-1].Seq != snap.Seq {
		t.Error("finalize must broadcast the cleared table")
	}

	if len(f.tickets.published) != 1 {
		t.Fatalf("published %d tickets, want 1", len(f.tickets.published))
	}
	ticket, ok := f.tickets.published[0].(models.PrintTicket)
	if !ok {
		t.Fatalf("published payload is %T, want PrintTicket", f.tickets.published[0])
	}
	if ticket.SaleID != sale.ID || len(ticket.Lines) != 2 || !ticket.Total.Equal(sale.Total) {
		t.Errorf("ticket = %+v does not match the sale", ticket)
	}
}

func TestFinalizeReplayReturnsOriginal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, _, err := f.fin.Finalize(ctx, draftRequest(), "req-1")
	if err != nil {
		t.Fatal(err)
	}
	balanceAfter, _ := f.ledger.Balance(7)

	second, duplicate, err := f.fin.Finalize(ctx, draftRequest(), "req-2")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !duplicate {
		t.Error("replay not flagged as duplicate")
	}
	if second.ID != first.ID {
		t.Errorf("replay returned sale %d, want original %d", second.ID, first.ID)
	}
	if f.sales.commits != 1 {
		t.Errorf("sale committed %d times, want 1", f.sales.commits)
	}
	if qty, _ := f.ledger.Balance(7); qty != balanceAfter {
		t.Errorf("replay deducted stock again: %d != %d", qty, balanceAfter)
	}
	if len(f.tickets.published) != 1 {
		t.Errorf("replay published another ticket: %d", len(f.tickets.published))
	}
}

func TestFinalizeValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	empty := draftRequest()
	empty.Order = models.Order{CheckoutID: "chk-1"}
	if _, _, err := f.fin.Finalize(ctx, empty, "req-1"); !errors.Is(err, ErrEmptyOrder) {
		t.Errorf("err = %v, want ErrEmptyOrder", err)
	}

	noKey := draftRequest()
	noKey.IdempotencyKey = ""
	if _, _, err := f.fin.Finalize(ctx, noKey, "req-1"); !errors.Is(err, ErrMissingKey) {
		t.Errorf("err = %v, want ErrMissingKey", err)
	}

	badTable := draftRequest()
	badTable.TableID = 42
	if _, _, err := f.fin.Finalize(ctx, badTable, "req-1"); !errors.Is(err, store.ErrUnknownTable) {
		t.Errorf("err = %v, want ErrUnknownTable", err)
	}

	if f.sales.commits != 0 {
		t.Errorf("rejected requests committed %d sales", f.sales.commits)
	}
	if qty, _ := f.ledger.Balance(7); qty != 20 {
		t.Errorf("rejected requests moved stock: %d", qty)
	}
}

// Two finalizes race past the fence; the loser's insert hits the unique key
// and must answer with the winner's sale without deducting stock twice.
func TestFinalizeLostRace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, _, err := f.fin.Finalize(ctx, draftRequest(), "req-1"); err != nil {
		t.Fatal(err)
	}
	f.sales.hideOnce = true // fence misses, insert collides

	sale, duplicate, err := f.fin.Finalize(ctx, draftRequest(), "req-2")
	if err != nil {
		t.Fatalf("lost race: %v", err)
	}
	if !duplicate || sale.ID != 1 {
		t.Errorf("lost race returned sale %d duplicate=%v, want 1/true", sale.ID, duplicate)
	}
	if qty, _ := f.ledger.Balance(7); qty != 18 {
		t.Errorf("lost race deducted stock again: balance %d, want 18", qty)
	}
}

func TestFinalizeCommitFailure(t *testing.T) {
	f := newFixture()
	f.sales.failWith = errors.New("db down")

	_, _, err := f.fin.Finalize(context.Background(), draftRequest(), "req-1")
	if err == nil {
		t.Fatal("expected commit error")
	}
	if qty, _ := f.ledger.Balance(7); qty != 20 {
		t.Errorf("failed commit moved stock: %d", qty)
	}
	if len(f.tickets.published) != 0 {
		t.Error("failed commit published a ticket")
	}
}

func TestFinalizePublishFailureDoesNotFailSale(t *testing.T) {
	f := newFixture()
	f.tickets.err = errors.New("broker down")

	sale, duplicate, err := f.fin.Finalize(context.Background(), draftRequest(), "req-1")
	if err != nil || duplicate {
		t.Fatalf("Finalize: %v duplicate=%v", err, duplicate)
	}
	if sale.ID != 1 {
		t.Errorf("sale id = %d, want 1", sale.ID)
	}
	if qty, _ := f.ledger.Balance(7); qty != 18 {
		t.Errorf("balance = %d, want 18", qty)
	}
}

func TestFinalizeUntrackedLinesMoveNoStock(t *testing.T) {
	f := newFixture()

	req := draftRequest()
	req.Order = models.Order{
		CheckoutID: "chk-1",
		Lines: []models.OrderLine{
			{ItemID: 30, Name: "Cover charge", UnitPrice: dec("5.00"), Quantity: 2, AddedBy: "anna"},
		},
	}

	sale, _, err := f.fin.Finalize(context.Background(), req, "req-1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sale.ID != 1 {
		t.Errorf("sale id = %d, want 1", sale.ID)
	}
	if len(f.sales.movements) != 0 {
		t.Errorf("untracked sale produced movements: %+v", f.sales.movements)
	}
	if qty, _ := f.ledger.Balance(7); qty != 20 {
		t.Errorf("balance = %d, want 20", qty)
	}
}

func TestFinalizeRecomputesTotals(t *testing.T) {
	f := newFixture()

	req := draftRequest()
	req.Order.Subtotal = dec("999")
	req.Order.Total = dec("999")

	sale, _, err := f.fin.Finalize(context.Background(), req, "req-1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !sale.Subtotal.Equal(dec("7.50")) || !sale.Total.Equal(dec("8.925")) {
		t.Errorf("totals = %s/%s, terminal math must not be trusted", sale.Subtotal, sale.Total)
	}
}
