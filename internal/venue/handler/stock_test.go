package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/internal/venue/ledger"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

func stockHandler() *VenueHandler {
	led := ledger.New(nopLedgerStore{}, []models.StockPool{
		{ID: 7, Code: "KEG-1", Quantity: 8, AvgCost: decimal.RequireFromString("1.25")},
		{ID: 9, Code: "WINE", Quantity: 30},
	})
	return NewVenueHandler(nil, led, nil, nil, testCatalog(), logger.NewLogger("test"),
		decimal.RequireFromString("0.19"), "EUR")
}

func getStock(t *testing.T, h *VenueHandler, target string) (*httptest.ResponseRecorder, models.StockResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Stock(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var resp models.StockResponse
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func TestStockListsEveryPool(t *testing.T) {
	rec, resp := getStock(t, stockHandler(), "/stock")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(resp.Balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(resp.Balances))
	}
}

func TestStockItemQueryNarrowsToThePool(t *testing.T) {
	rec, resp := getStock(t, stockHandler(), "/stock?item=2")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(resp.Balances) != 1 {
		t.Fatalf("got %d balances, want the single shared keg", len(resp.Balances))
	}
	b := resp.Balances[0]
	if b.PoolID != 7 || b.Quantity != 8 {
		t.Errorf("balance = pool %d qty %d, want pool 7 qty 8", b.PoolID, b.Quantity)
	}
	// 8 on hand is under the 0.5L member's threshold of 10.
	if !b.Low {
		t.Error("shared keg must flag low for its most demanding member")
	}
	if len(b.Items) != 2 {
		t.Errorf("pool members = %v, want both draft sizes", b.Items)
	}
}

func TestStockItemQueryRejections(t *testing.T) {
	h := stockHandler()
	tests := []struct {
		target string
		status int
	}{
		{"/stock?item=3", http.StatusBadRequest}, // does not track stock
		{"/stock?item=99", http.StatusNotFound},
		{"/stock?item=keg", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec, _ := getStock(t, h, tt.target); rec.Code != tt.status {
			t.Errorf("%s -> %d, want %d", tt.target, rec.Code, tt.status)
		}
	}
}
