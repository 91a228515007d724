package handler

import (
	"errors"
	"fmt"

	"github.com/loungenpark/PosProject-sub001/internal/venue/ledger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

var (
	ErrUnknownItem = errors.New("unknown item")
	ErrUntracked   = errors.New("item does not track stock")
)

// Catalog is the read-only sellable item list, loaded once at boot. Menu
// management happens in the back office, outside this service.
type Catalog struct {
	items map[int64]models.Item
	ids   []int64
}

func NewCatalog(items []models.Item) *Catalog {
	c := &Catalog{items: make(map[int64]models.Item, len(items))}
	for _, it := range items {
		c.items[it.ID] = it
		c.ids = append(c.ids, it.ID)
	}
	return c
}

// Item returns the catalog entry for id.
func (c *Catalog) Item(id int64) (models.Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// Tracked resolves an item for a stock movement request. Movements only make
// sense against items that draw from a pool.
func (c *Catalog) Tracked(id int64) (models.Item, error) {
	it, ok := c.Item(id)
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	if !it.TrackStock || it.PoolID == 0 {
		return models.Item{}, fmt.Errorf("%w: %s", ErrUntracked, it.Name)
	}
	return it, nil
}

// ItemsWithStock joins every catalog item with its live pool balance, in
// catalog order. Items sharing a pool report the same quantity; untracked
// items report zero and are never flagged low.
func (c *Catalog) ItemsWithStock(led *ledger.Ledger) []models.ItemStock {
	out := make([]models.ItemStock, 0, len(c.ids))
	for _, id := range c.ids {
		it := c.items[id]
		entry := models.ItemStock{Item: it}
		if it.TrackStock && it.PoolID != 0 {
			if qty, ok := led.Balance(it.PoolID); ok {
				entry.Quantity = qty
				entry.Low = qty <= int64(it.ReorderThreshold)
			}
		}
		out = append(out, entry)
	}
	return out
}

// PoolItems lists the item names selling from each pool.
func (c *Catalog) PoolItems() map[int64][]string {
	members := make(map[int64][]string)
	for _, id := range c.ids {
		it := c.items[id]
		if it.TrackStock && it.PoolID != 0 {
			members[it.PoolID] = append(members[it.PoolID], it.Name)
		}
	}
	return members
}

// PoolThresholds reports the highest reorder threshold among each pool's
// members, so a shared pool warns as early as its most demanding item.
func (c *Catalog) PoolThresholds() map[int64]int {
	thresholds := make(map[int64]int)
	for _, it := range c.items {
		if !it.TrackStock || it.PoolID == 0 {
			continue
		}
		if t, ok := thresholds[it.PoolID]; !ok || it.ReorderThreshold > t {
			thresholds[it.PoolID] = it.ReorderThreshold
		}
	}
	return thresholds
}
