package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/loungenpark/PosProject-sub001/internal/venue/ledger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

// Supply records received stock, or count corrections upward when the
// request carries type correction. Movements for several items land as one
// atomic batch.
func (h *VenueHandler) Supply(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	var req models.SupplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error(reqID, "supply_bad_payload", "Invalid JSON payload", err)
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Type == "" {
		req.Type = models.MovementSupply
	}
	if len(req.Movements) == 0 {
		respondError(w, http.StatusBadRequest, "movements are required")
		return
	}

	entries := make([]ledger.PoolSupply, 0, len(req.Movements))
	for _, m := range req.Movements {
		item, err := h.catalog.Tracked(m.ItemID)
		if err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		entries = append(entries, ledger.PoolSupply{PoolID: item.PoolID, Quantity: m.Quantity, TotalCost: m.TotalCost})
	}

	pools, err := h.ledger.AddSupply(r.Context(), entries, req.Reason, req.UserID, req.Type)
	if err != nil {
		h.log.Error(reqID, "supply_failed", "Stock supply was not recorded", err)
		respondError(w, statusFor(err), err.Error())
		return
	}

	h.log.Info(reqID, "stock_supplied", fmt.Sprintf("%d %s movement(s) recorded by %s", len(pools), req.Type, req.UserID))
	respondJSON(w, http.StatusOK, models.StockResponse{Balances: h.poolBalances(pools)})
}

// Waste records spoiled or lost stock for one item, or a count correction
// downward when the request carries type correction.
func (h *VenueHandler) Waste(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	var req models.WasteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error(reqID, "waste_bad_payload", "Invalid JSON payload", err)
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Type == "" {
		req.Type = models.MovementWaste
	}

	item, err := h.catalog.Tracked(req.ItemID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	pool, err := h.ledger.AddWaste(r.Context(), item.PoolID, req.Quantity, req.Reason, req.UserID, req.Type)
	if err != nil {
		h.log.Error(reqID, "waste_failed", "Stock waste was not recorded", err)
		respondError(w, statusFor(err), err.Error())
		return
	}

	h.log.Info(reqID, "stock_wasted", fmt.Sprintf("%s x%d written off by %s", item.Name, req.Quantity, req.UserID))
	respondJSON(w, http.StatusOK, models.StockResponse{Balances: h.poolBalances([]models.StockPool{pool})})
}

// Stock reports the live balance of every pool and the items drawing from it.
// An item query narrows the answer to the pool that item sells from.
func (h *VenueHandler) Stock(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("item"); q != "" {
		h.itemStock(w, q)
		return
	}
	respondJSON(w, http.StatusOK, models.StockResponse{Balances: h.poolBalances(h.ledger.Pools())})
}

func (h *VenueHandler) itemStock(w http.ResponseWriter, q string) {
	id, err := strconv.ParseInt(q, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "item must be an integer id")
		return
	}
	item, err := h.catalog.Tracked(id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	pool, ok := h.ledger.Pool(item.PoolID)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown stock pool %d", item.PoolID))
		return
	}
	respondJSON(w, http.StatusOK, models.StockResponse{Balances: h.poolBalances([]models.StockPool{pool})})
}

func (h *VenueHandler) poolBalances(pools []models.StockPool) []models.PoolBalance {
	members := h.catalog.PoolItems()
	thresholds := h.catalog.PoolThresholds()

	out := make([]models.PoolBalance, 0, len(pools))
	for _, p := range pools {
		out = append(out, models.PoolBalance{
			PoolID:   p.ID,
			Code:     p.Code,
			Quantity: p.Quantity,
			AvgCost:  p.AvgCost,
			Items:    members[p.ID],
			Low:      p.Quantity <= int64(thresholds[p.ID]),
		})
	}
	return out
}
