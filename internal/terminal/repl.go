package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

const (
	intentAckWait   = 3 * time.Second
	finalizeTimeout = 10 * time.Second
)

// repl drives the operator loop. It owns the per-table checkout bookkeeping:
// which finalize requests are in flight and must be resent with the same
// idempotency key until the server confirms them.
type repl struct {
	client   *Client
	user     string
	taxRate  decimal.Decimal
	currency string
	items    map[int64]models.Item
	out      io.Writer
	pending  map[int64]models.FinalizeRequest
}

func newREPL(client *Client, boot *models.BootstrapResponse, user string, out io.Writer) *repl {
	items := make(map[int64]models.Item, len(boot.Items))
	for _, entry := range boot.Items {
		items[entry.Item.ID] = entry.Item
	}
	return &repl{
		client:   client,
		user:     user,
		taxRate:  boot.TaxRate,
		currency: boot.Currency,
		items:    items,
		out:      out,
		pending:  make(map[int64]models.FinalizeRequest),
	}
}

func (r *repl) loop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.printf("Connected as %s. Type 'help' for commands.", r.user)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !r.dispatch(ctx, strings.Fields(line)) {
				return
			}
		}
	}
}

// dispatch runs one command; returning false ends the loop.
func (r *repl) dispatch(ctx context.Context, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "help":
		r.help()
	case "tables":
		r.showTables()
	case "items":
		r.showItems()
	case "status":
		r.showStatus()
	case "stock":
		err = r.showStock(ctx, args)
	case "add":
		err = r.add(ctx, args)
	case "remove":
		err = r.remove(ctx, args)
	case "send":
		err = r.send(ctx, args)
	case "clear":
		err = r.clear(ctx, args)
	case "finalize":
		err = r.finalize(ctx, args)
	case "supply":
		err = r.supply(ctx, args)
	case "waste":
		err = r.waste(ctx, args)
	case "correct":
		err = r.correct(ctx, args)
	case "quit", "exit":
		return false
	default:
		r.printf("unknown command %q, try 'help'", cmd)
	}
	if err != nil {
		r.printf("error: %v", err)
	}
	return true
}

func (r *repl) help() {
	r.printf("commands:")
	r.printf("  tables                                   show every table and its open check")
	r.printf("  items                                    show the sellable catalog")
	r.printf("  stock [item]                             show live stock balances")
	r.printf("  status                                   show connection and sync state")
	r.printf("  add <table> <item> [qty]                 add an item to a table's check")
	r.printf("  remove <table> <item> [qty]              remove your untransmitted lines")
	r.printf("  send <table>                             mark the check's lines transmitted")
	r.printf("  clear <table>                            abandon the open check")
	r.printf("  finalize <table>                         close the check out (resend to retry)")
	r.printf("  supply <item> <qty> <total-cost> [note]  record received stock")
	r.printf("  waste <item> <qty> [note]                write stock off")
	r.printf("  correct <item> <+N|-N> [note]            fix a miscounted balance")
	r.printf("  quit                                     exit")
}

// propose applies the edit optimistically, ships the intent and waits for
// the confirming snapshot. Offline or unconfirmed proposals keep the local
// edit; the next snapshot settles it either way.
func (r *repl) propose(ctx context.Context, tableID int64, order *models.Order) error {
	seq, _ := r.client.Mirror().Current()
	r.client.Mirror().ApplyLocal(tableID, order)
	if err := r.client.SendIntent(tableID, order); err != nil {
		return fmt.Errorf("edit kept locally, not yet accepted: %w", err)
	}
	if err := r.client.AwaitSnapshot(ctx, seq, intentAckWait); err != nil {
		r.printf("warning: %v", err)
	}
	return nil
}

func (r *repl) add(ctx context.Context, args []string) error {
	tableID, itemID, qty, err := parseLineArgs(args, "add")
	if err != nil {
		return err
	}
	item, ok := r.items[itemID]
	if !ok {
		return fmt.Errorf("unknown item %d", itemID)
	}
	table, ok := r.client.Mirror().Table(tableID)
	if !ok {
		return fmt.Errorf("unknown table %d", tableID)
	}

	order := table.Order.Clone()
	if order == nil {
		order = &models.Order{CheckoutID: uuid.NewString()}
	}
	order.MergeLine(models.NewLine(item, qty, r.user))
	order.Recalculate(r.taxRate)

	r.printf("%s x%d -> %s, check total %s %s", item.Name, qty, table.Name, order.Total.StringFixed(2), r.currency)
	return r.propose(ctx, tableID, order)
}

func (r *repl) remove(ctx context.Context, args []string) error {
	tableID, itemID, qty, err := parseLineArgs(args, "remove")
	if err != nil {
		return err
	}
	table, ok := r.client.Mirror().Table(tableID)
	if !ok {
		return fmt.Errorf("unknown table %d", tableID)
	}
	if table.Order.IsEmpty() {
		return fmt.Errorf("table %s has no open check", table.Name)
	}

	order := table.Order.Clone()
	removed := order.ReduceLine(itemID, qty, r.user)
	if removed == 0 {
		return errors.New("nothing removed: only your own untransmitted lines can be edited")
	}
	if removed < qty {
		r.printf("only %d removable, the rest is already transmitted", removed)
	}
	if !order.Normalize() {
		return r.propose(ctx, tableID, nil)
	}
	order.Recalculate(r.taxRate)
	return r.propose(ctx, tableID, order)
}

func (r *repl) send(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: send <table>")
	}
	tableID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("table id: %w", err)
	}
	table, ok := r.client.Mirror().Table(tableID)
	if !ok {
		return fmt.Errorf("unknown table %d", tableID)
	}
	if table.Order.IsEmpty() {
		return fmt.Errorf("table %s has no open check", table.Name)
	}

	order := table.Order.Clone()
	order.MarkSent()
	return r.propose(ctx, tableID, order)
}

func (r *repl) clear(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: clear <table>")
	}
	tableID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("table id: %w", err)
	}
	if _, ok := r.client.Mirror().Table(tableID); !ok {
		return fmt.Errorf("unknown table %d", tableID)
	}
	return r.propose(ctx, tableID, nil)
}

// finalize drives the checkout's terminal transition. A request that got no
// answer stays pending with its idempotency key pinned, and running finalize
// again resends exactly that request; the server answers replays with the
// original sale, so double charging is impossible.
func (r *repl) finalize(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: finalize <table>")
	}
	tableID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("table id: %w", err)
	}

	req, retrying := r.pending[tableID]
	if retrying {
		if table, ok := r.client.Mirror().Table(tableID); ok && pendingDiverged(table.Order, req) {
			r.printf("warning: the check changed after this finalize was first sent; the sale will close it as of key %s and later edits are not included", shortKey(req.IdempotencyKey))
		}
		r.printf("resending finalize for table %d, key %s", tableID, req.IdempotencyKey)
	} else {
		table, ok := r.client.Mirror().Table(tableID)
		if !ok {
			return fmt.Errorf("unknown table %d", tableID)
		}
		if table.Order.IsEmpty() {
			return fmt.Errorf("table %s has no open check", table.Name)
		}
		req = models.FinalizeRequest{
			TableID:        tableID,
			TableName:      table.Name,
			User:           r.user,
			IdempotencyKey: table.Order.CheckoutID,
			Order:          *table.Order.Clone(),
		}
		r.pending[tableID] = req
	}

	callCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()
	resp, err := r.client.Finalize(callCtx, req)
	if err != nil {
		var reject *RequestError
		if errors.As(err, &reject) {
			// The server answered; resending the same payload cannot help.
			delete(r.pending, tableID)
			return fmt.Errorf("finalize rejected: %s", reject.Msg)
		}
		return fmt.Errorf("no confirmation, check still finalizing; run 'finalize %d' again: %w", tableID, err)
	}

	delete(r.pending, tableID)
	if resp.Duplicate {
		r.printf("sale %d confirmed, already recorded at %s", resp.SaleID, resp.CreatedAt.Format(time.RFC3339))
	} else {
		r.printf("sale %d closed at %s", resp.SaleID, resp.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (r *repl) supply(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: supply <item> <qty> <total-cost> [note]")
	}
	itemID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	cost, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("total cost: %w", err)
	}

	resp, err := r.client.Supply(ctx, models.SupplyRequest{
		Movements: []models.SupplyEntry{{ItemID: itemID, Quantity: qty, TotalCost: cost}},
		Reason:    strings.Join(args[3:], " "),
		UserID:    r.user,
		Type:      models.MovementSupply,
	})
	if err != nil {
		return err
	}
	r.printBalances(resp.Balances)
	return nil
}

func (r *repl) waste(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: waste <item> <qty> [note]")
	}
	itemID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}

	resp, err := r.client.Waste(ctx, models.WasteRequest{
		ItemID:   itemID,
		Quantity: qty,
		Reason:   strings.Join(args[2:], " "),
		UserID:   r.user,
		Type:     models.MovementWaste,
	})
	if err != nil {
		return err
	}
	r.printBalances(resp.Balances)
	return nil
}

// correct fixes a miscounted balance in either direction. Corrections never
// touch the average cost.
func (r *repl) correct(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: correct <item> <+N|-N> [note]")
	}
	itemID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	delta, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("delta: %w", err)
	}
	if delta == 0 {
		return errors.New("delta must not be zero")
	}
	reason := strings.Join(args[2:], " ")

	var resp *models.StockResponse
	if delta > 0 {
		resp, err = r.client.Supply(ctx, models.SupplyRequest{
			Movements: []models.SupplyEntry{{ItemID: itemID, Quantity: delta}},
			Reason:    reason,
			UserID:    r.user,
			Type:      models.MovementCorrection,
		})
	} else {
		resp, err = r.client.Waste(ctx, models.WasteRequest{
			ItemID:   itemID,
			Quantity: -delta,
			Reason:   reason,
			UserID:   r.user,
			Type:     models.MovementCorrection,
		})
	}
	if err != nil {
		return err
	}
	r.printBalances(resp.Balances)
	return nil
}

func (r *repl) showStock(ctx context.Context, args []string) error {
	var itemID int64
	if len(args) > 0 {
		var err error
		if itemID, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			return fmt.Errorf("item id: %w", err)
		}
	}
	resp, err := r.client.Stock(ctx, itemID)
	if err != nil {
		return err
	}
	r.printBalances(resp.Balances)
	return nil
}

func (r *repl) showTables() {
	if _, fresh := r.client.Mirror().Current(); !fresh {
		r.printf("(view may be stale, waiting for the server)")
	}
	for _, t := range r.client.Mirror().Tables() {
		name := t.Name
		if t.Zone != "" {
			name = fmt.Sprintf("%s (%s)", t.Name, t.Zone)
		}
		if t.Order.IsEmpty() {
			r.printf("%4d  %-24s free", t.ID, name)
			continue
		}
		r.printf("%4d  %-24s %d line(s), total %s %s, check %s",
			t.ID, name, len(t.Order.Lines), t.Order.Total.StringFixed(2), r.currency, shortKey(t.Order.CheckoutID))
		for _, l := range t.Order.Lines {
			r.printf("      %dx %-20s %8s  %s/%s", l.Quantity, l.Name,
				l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).StringFixed(2), l.AddedBy, l.Status)
		}
	}
}

func (r *repl) showItems() {
	ids := make([]int64, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		it := r.items[id]
		stock := "untracked"
		if it.TrackStock && it.PoolCode != "" {
			stock = "pool " + it.PoolCode
		}
		r.printf("%4d  %-24s %8s %s  %-10s %s", it.ID, it.Name, it.Price.StringFixed(2), r.currency, it.Printer, stock)
	}
}

func (r *repl) showStatus() {
	seq, fresh := r.client.Mirror().Current()
	state := "offline"
	if r.client.Online() {
		state = "online"
	}
	sync := "stale"
	if fresh {
		sync = "synchronized"
	}
	r.printf("channel %s, view %s at seq %d, %d finalize(s) pending", state, sync, seq, len(r.pending))
}

func (r *repl) printBalances(balances []models.PoolBalance) {
	for _, b := range balances {
		low := ""
		if b.Low {
			low = "  LOW"
		}
		r.printf("%-12s %6d on hand, avg cost %s %s  [%s]%s",
			b.Code, b.Quantity, b.AvgCost.StringFixed(4), r.currency, strings.Join(b.Items, ", "), low)
	}
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func parseLineArgs(args []string, cmd string) (tableID, itemID int64, qty int, err error) {
	if len(args) < 2 || len(args) > 3 {
		return 0, 0, 0, fmt.Errorf("usage: %s <table> <item> [qty]", cmd)
	}
	if tableID, err = strconv.ParseInt(args[0], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("table id: %w", err)
	}
	if itemID, err = strconv.ParseInt(args[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("item id: %w", err)
	}
	qty = 1
	if len(args) == 3 {
		if qty, err = strconv.Atoi(args[2]); err != nil {
			return 0, 0, 0, fmt.Errorf("quantity: %w", err)
		}
	}
	if qty <= 0 {
		return 0, 0, 0, errors.New("quantity must be positive")
	}
	return tableID, itemID, qty, nil
}

// pendingDiverged reports whether the table's current check no longer
// matches a pending finalize request. An empty table is not divergence: the
// sale may have already committed with its ack lost, which is exactly what
// the resend resolves.
func pendingDiverged(current *models.Order, pinned models.FinalizeRequest) bool {
	if current.IsEmpty() {
		return false
	}
	if current.CheckoutID != pinned.IdempotencyKey || len(current.Lines) != len(pinned.Order.Lines) {
		return true
	}
	for i, l := range current.Lines {
		p := pinned.Order.Lines[i]
		if l.ItemID != p.ItemID || l.Quantity != p.Quantity {
			return true
		}
	}
	return false
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
