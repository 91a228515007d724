package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(itemID int64, name, price string, qty int, user string, status LineStatus) OrderLine {
	return OrderLine{
		ItemID:    itemID,
		Name:      name,
		UnitPrice: dec(price),
		Quantity:  qty,
		AddedBy:   user,
		Status:    status,
	}
}

func TestRecalculate(t *testing.T) {
	tests := []struct {
		name     string
		lines    []OrderLine
		taxRate  string
		subtotal string
		tax      string
		total    string
	}{
		{
			name: "two lines with tax",
			lines: []OrderLine{
				line(1, "Pizza", "8.50", 2, "anna", LineStatusNew),
				line(2, "Cola", "2.00", 1, "anna", LineStatusNew),
			},
			taxRate:  "0.19",
			subtotal: "19.00",
			tax:      "3.61",
			total:    "22.61",
		},
		{
			name:     "empty order",
			lines:    nil,
			taxRate:  "0.19",
			subtotal: "0",
			tax:      "0",
			total:    "0",
		},
		{
			name: "zero tax rate",
			lines: []OrderLine{
				line(3, "Espresso", "2.40", 3, "bela", LineStatusSent),
			},
			taxRate:  "0",
			subtotal: "7.20",
			tax:      "0",
			total:    "7.20",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := &Order{Lines: tc.lines}
			o.Recalculate(dec(tc.taxRate))
			if !o.Subtotal.Equal(dec(tc.subtotal)) {
				t.Errorf("subtotal = %s, want %s", o.Subtotal, tc.subtotal)
			}
			if !o.Tax.Equal(dec(tc.tax)) {
				t.Errorf("tax = %s, want %s", o.Tax, tc.tax)
			}
			if !o.Total.Equal(dec(tc.total)) {
				t.Errorf("total = %s, want %s", o.Total, tc.total)
			}
		})
	}
}

func TestMergeLine(t *testing.T) {
	o := &Order{}
	o.MergeLine(line(1, "Pizza", "8.50", 2, "anna", LineStatusNew))
	o.MergeLine(line(1, "Pizza", "8.50", 1, "anna", LineStatusNew))
	if len(o.Lines) != 1 || o.Lines[0].Quantity != 3 {
		t.Fatalf("same item+user should merge, got %+v", o.Lines)
	}

	// A different user gets a separate line.
	o.MergeLine(line(1, "Pizza", "8.50", 1, "bela", LineStatusNew))
	if len(o.Lines) != 2 {
		t.Fatalf("different user should append, got %d lines", len(o.Lines))
	}

	// Lines already sent to a printer are never folded into.
	o.Lines[0].Status = LineStatusSent
	o.MergeLine(line(1, "Pizza", "8.50", 2, "anna", LineStatusNew))
	if len(o.Lines) != 3 {
		t.Fatalf("sent line must not absorb new quantity, got %d lines", len(o.Lines))
	}
	if o.Lines[0].Quantity != 3 {
		t.Errorf("sent line quantity changed: %d", o.Lines[0].Quantity)
	}
}

func TestReduceLine(t *testing.T) {
	o := &Order{Lines: []OrderLine{
		line(1, "Pizza", "8.50", 2, "anna", LineStatusSent),
		line(1, "Pizza", "8.50", 3, "anna", LineStatusNew),
	}}

	removed := o.ReduceLine(1, 2, "anna")
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if len(o.Lines) != 2 || o.Lines[1].Quantity != 1 {
		t.Fatalf("fresh line should shrink to 1, got %+v", o.Lines)
	}

	// Only the fresh remainder can go; the transmitted line is immune.
	removed = o.ReduceLine(1, 5, "anna")
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(o.Lines) != 1 || o.Lines[0].Status != LineStatusSent {
		t.Fatalf("sent line must survive, got %+v", o.Lines)
	}
}

func TestNormalize(t *testing.T) {
	o := &Order{Lines: []OrderLine{
		line(1, "Pizza", "8.50", 0, "anna", LineStatusNew),
		line(2, "Cola", "2.00", -1, "anna", LineStatusNew),
	}}
	if o.Normalize() {
		t.Fatal("order with only non-positive lines should normalize to empty")
	}
	if !o.IsEmpty() {
		t.Fatal("normalized order should be empty")
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	orig := &Order{
		CheckoutID: "abc",
		Lines:      []OrderLine{line(1, "Pizza", "8.50", 2, "anna", LineStatusNew)},
	}
	dup := orig.Clone()
	dup.Lines[0].Quantity = 99
	if orig.Lines[0].Quantity != 2 {
		t.Fatal("clone shares line storage with the original")
	}

	var nilOrder *Order
	if nilOrder.Clone() != nil {
		t.Fatal("nil order should clone to nil")
	}
}

func TestTableCloneIsDeep(t *testing.T) {
	pos := 4
	tbl := Table{
		ID:      5,
		Name:    "Terrace 5",
		SortPos: &pos,
		Order:   &Order{CheckoutID: "abc", Lines: []OrderLine{line(1, "Pizza", "8.50", 1, "anna", LineStatusNew)}},
	}
	dup := tbl.Clone()
	*dup.SortPos = 9
	dup.Order.Lines[0].Quantity = 7
	if *tbl.SortPos != 4 || tbl.Order.Lines[0].Quantity != 1 {
		t.Fatal("table clone shares storage with the original")
	}
}

func TestSaleTicket(t *testing.T) {
	s := Sale{
		ID:        12,
		TableName: "Bar 1",
		User:      "anna",
		Total:     dec("22.61"),
		Order: Order{Lines: []OrderLine{
			{Name: "Pizza", Quantity: 2, Printer: "kitchen"},
			{Name: "Cola", Quantity: 1, Printer: "bar"},
		}},
	}
	ticket := s.Ticket("EUR")
	if ticket.SaleID != 12 || ticket.TableName != "Bar 1" || ticket.Currency != "EUR" {
		t.Fatalf("ticket header mismatch: %+v", ticket)
	}
	if len(ticket.Lines) != 2 || ticket.Lines[0].Printer != "kitchen" {
		t.Fatalf("ticket lines mismatch: %+v", ticket.Lines)
	}
	if !ticket.Total.Equal(dec("22.61")) {
		t.Errorf("ticket total = %s", ticket.Total)
	}
}
