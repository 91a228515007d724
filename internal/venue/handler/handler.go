package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/loungenpark/PosProject-sub001/internal/venue/finalize"
	"github.com/loungenpark/PosProject-sub001/internal/venue/hub"
	"github.com/loungenpark/PosProject-sub001/internal/venue/ledger"
	"github.com/loungenpark/PosProject-sub001/internal/venue/store"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

// VenueHandler exposes the venue server's request/response surface: the
// bootstrap read, the synchronization channel upgrade, sale finalization and
// the stock endpoints.
type VenueHandler struct {
	store    *store.Store
	ledger   *ledger.Ledger
	final    *finalize.Finalizer
	hub      *hub.Hub
	catalog  *Catalog
	log      *logger.Logger
	taxRate  decimal.Decimal
	currency string
	upgrader websocket.Upgrader
}

func NewVenueHandler(st *store.Store, led *ledger.Ledger, fin *finalize.Finalizer, h *hub.Hub, cat *Catalog, log *logger.Logger, taxRate decimal.Decimal, currency string) *VenueHandler {
	return &VenueHandler{
		store:    st,
		ledger:   led,
		final:    fin,
		hub:      h,
		catalog:  cat,
		log:      log,
		taxRate:  taxRate,
		currency: currency,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Terminals are venue devices, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Bootstrap hydrates a terminal on connect: the full table state, the venue
// tax rate and currency, and every item joined with its live stock balance.
func (h *VenueHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	frame := h.store.Snapshot()
	respondJSON(w, http.StatusOK, models.BootstrapResponse{
		Tables:   frame.Tables,
		TaxRate:  h.taxRate,
		Currency: h.currency,
		Items:    h.catalog.ItemsWithStock(h.ledger),
	})
}

// Connect upgrades the terminal's synchronization channel. The hub owns the
// connection from here on and immediately queues a hydration snapshot.
func (h *VenueHandler) Connect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(requestID(r), "ws_upgrade_failed", "Failed to upgrade synchronization channel", err)
		return
	}
	h.hub.Serve(conn)
}

// FinalizeSale closes out a table. 201 records a new sale; 200 answers a
// replayed idempotency key with the original one.
func (h *VenueHandler) FinalizeSale(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	var req models.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error(reqID, "finalize_bad_payload", "Invalid JSON payload", err)
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	sale, duplicate, err := h.final.Finalize(r.Context(), req, reqID)
	if err != nil {
		h.log.Error(reqID, "finalize_failed", fmt.Sprintf("Finalize for table %d failed", req.TableID), err)
		respondError(w, statusFor(err), err.Error())
		return
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, models.SaleResponse{SaleID: sale.ID, CreatedAt: sale.At, Duplicate: duplicate})
}

// statusFor maps domain sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, finalize.ErrEmptyOrder),
		errors.Is(err, finalize.ErrMissingKey),
		errors.Is(err, ledger.ErrQuantity),
		errors.Is(err, ledger.ErrKind),
		errors.Is(err, ErrUntracked):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnknownTable),
		errors.Is(err, ledger.ErrUnknownPool),
		errors.Is(err, ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, store.ErrCheckoutFinalized):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// requestID reuses the caller's X-Request-ID so terminal retries correlate
// across log lines, generating one otherwise.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return "req-" + uuid.NewString()
}
