package models

import "github.com/shopspring/decimal"

// NewLine freezes a catalog item into an order line snapshot.
func NewLine(item Item, quantity int, user string) OrderLine {
	return OrderLine{
		ItemID:     item.ID,
		Name:       item.Name,
		UnitPrice:  item.Price,
		Printer:    item.Printer,
		TrackStock: item.TrackStock,
		PoolID:     item.PoolID,
		Quantity:   quantity,
		AddedBy:    user,
		Status:     LineStatusNew,
	}
}

// Recalculate rebuilds the cached subtotal/tax/total projection from the line
// list. Totals are never authoritative on their own; whoever assembles an
// order calls this before showing or storing it.
func (o *Order) Recalculate(taxRate decimal.Decimal) {
	subtotal := decimal.Zero
	for _, l := range o.Lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	o.Subtotal = subtotal
	o.Tax = subtotal.Mul(taxRate)
	o.Total = o.Subtotal.Add(o.Tax)
}

// MergeLine adds a line to the order, folding it into an existing untransmitted
// line for the same item by the same user instead of duplicating it. Lines
// already sent to a printer are never touched.
func (o *Order) MergeLine(line OrderLine) {
	for i := range o.Lines {
		l := &o.Lines[i]
		if l.ItemID == line.ItemID && l.AddedBy == line.AddedBy && l.Status == LineStatusNew {
			l.Quantity += line.Quantity
			return
		}
	}
	o.Lines = append(o.Lines, line)
}

// ReduceLine subtracts quantity from the user's untransmitted lines for the
// item, dropping lines that reach zero. It reports how much was actually
// removed; transmitted lines are immune to local edits.
func (o *Order) ReduceLine(itemID int64, quantity int, user string) int {
	removed := 0
	kept := o.Lines[:0]
	for _, l := range o.Lines {
		if l.ItemID == itemID && l.AddedBy == user && l.Status == LineStatusNew && removed < quantity {
			take := quantity - removed
			if take >= l.Quantity {
				removed += l.Quantity
				continue
			}
			l.Quantity -= take
			removed += take
		}
		kept = append(kept, l)
	}
	o.Lines = kept
	return removed
}

// MarkSent flips every fresh line to transmitted. Terminals call it once the
// lines have gone out to the kitchen/bar.
func (o *Order) MarkSent() {
	for i := range o.Lines {
		if o.Lines[i].Status == LineStatusNew {
			o.Lines[i].Status = LineStatusSent
		}
	}
}

// Normalize drops non-positive quantities and reports whether any lines
// remain. An order that normalizes to empty is a table clear.
func (o *Order) Normalize() bool {
	kept := o.Lines[:0]
	for _, l := range o.Lines {
		if l.Quantity > 0 {
			kept = append(kept, l)
		}
	}
	o.Lines = kept
	return len(o.Lines) > 0
}

// IsEmpty reports whether the order holds no lines.
func (o *Order) IsEmpty() bool {
	return o == nil || len(o.Lines) == 0
}

// Clone returns a deep copy. Snapshots and mirrors must never share line
// slices with the authoritative store.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	dup := *o
	dup.Lines = make([]OrderLine, len(o.Lines))
	copy(dup.Lines, o.Lines)
	return &dup
}

// Clone deep-copies a table including its order.
func (t Table) Clone() Table {
	dup := t
	if t.SortPos != nil {
		v := *t.SortPos
		dup.SortPos = &v
	}
	dup.Order = t.Order.Clone()
	return dup
}

// Ticket renders the finalized order into the printing collaborator payload.
func (s Sale) Ticket(currency string) PrintTicket {
	lines := make([]TicketLine, 0, len(s.Order.Lines))
	for _, l := range s.Order.Lines {
		lines = append(lines, TicketLine{Name: l.Name, Quantity: l.Quantity, Printer: l.Printer})
	}
	return PrintTicket{
		SaleID:    s.ID,
		TableName: s.TableName,
		User:      s.User,
		At:        s.At,
		Currency:  currency,
		Lines:     lines,
		Total:     s.Total,
	}
}
