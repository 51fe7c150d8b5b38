package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/httputil"
	"github.com/stocklane/stocklane/pkg/inventory"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/observability"
)

// readAuthorities may read item data.
var readAuthorities = []auth.Authority{
	auth.RoleUser, auth.RoleAdmin, auth.RoleInventory, auth.RoleService,
}

// writeAuthorities may change items and stock levels.
var writeAuthorities = []auth.Authority{auth.RoleInventory, auth.RoleAdmin}

// InventoryHandlers serves item and reservation management.
type InventoryHandlers struct {
	inventory      inventory.Service
	reservationTTL time.Duration
	metrics        *observability.Metrics
}

// NewInventoryHandlers creates the inventory handlers. metrics may be
// nil.
func NewInventoryHandlers(inventoryService inventory.Service, reservationTTL time.Duration, metrics *observability.Metrics) *InventoryHandlers {
	if reservationTTL <= 0 {
		reservationTTL = 15 * time.Minute
	}
	return &InventoryHandlers{
		inventory:      inventoryService,
		reservationTTL: reservationTTL,
		metrics:        metrics,
	}
}

// RegisterRoutes registers inventory routes. Reads are open to any
// authenticated role; mutations need the inventory or admin role; the
// reservation lifecycle is for peer services.
func (h *InventoryHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/items", middleware.RequireAnyAuthority(readAuthorities, h.listItems)).Methods("GET")
	router.HandleFunc("/items", middleware.RequireAnyAuthority(writeAuthorities, h.createItem)).Methods("POST")
	router.HandleFunc("/items/{id:[0-9]+}", middleware.RequireAnyAuthority(readAuthorities, h.getItem)).Methods("GET")
	router.HandleFunc("/items/{id:[0-9]+}", middleware.RequireAnyAuthority(writeAuthorities, h.updateItem)).Methods("PUT")
	router.HandleFunc("/items/{id:[0-9]+}", middleware.RequireAnyAuthority(writeAuthorities, h.deleteItem)).Methods("DELETE")
	router.HandleFunc("/items/sku/{sku}", middleware.RequireAnyAuthority(readAuthorities, h.getItemBySKU)).Methods("GET")
	router.HandleFunc("/items/{id:[0-9]+}/stock", middleware.RequireAnyAuthority(writeAuthorities, h.adjustStock)).Methods("POST")

	serviceOnly := []auth.Authority{auth.RoleService, auth.RoleAdmin}
	router.HandleFunc("/items/{id:[0-9]+}/reservations",
		middleware.RequireAnyAuthority(serviceOnly, h.reserve)).Methods("POST")
	router.HandleFunc("/reservations/{id:[0-9]+}/commit",
		middleware.RequireAnyAuthority(serviceOnly, h.commitReservation)).Methods("POST")
	router.HandleFunc("/reservations/{id:[0-9]+}/release",
		middleware.RequireAnyAuthority(serviceOnly, h.releaseReservation)).Methods("POST")
}

// createItem handles POST /items
func (h *InventoryHandlers) createItem(w http.ResponseWriter, r *http.Request) {
	var req inventory.CreateItemRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	item, err := h.inventory.CreateItem(r.Context(), &req)
	if err != nil {
		if errors.Is(err, inventory.ErrSKUTaken) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		httputil.WriteValidationError(w, err.Error())
		return
	}

	_ = httputil.WriteCreated(w, item)
}

// listItems handles GET /items
func (h *InventoryHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	limit, _ := httputil.ParseQueryInt(r, "limit", 100)
	offset, _ := httputil.ParseQueryInt(r, "offset", 0)

	list, err := h.inventory.ListItems(r.Context(), inventory.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, list)
}

// getItem handles GET /items/{id}
func (h *InventoryHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	item, err := h.inventory.GetItem(r.Context(), id)
	if err != nil {
		h.writeInventoryError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, item)
}

// getItemBySKU handles GET /items/sku/{sku}
func (h *InventoryHandlers) getItemBySKU(w http.ResponseWriter, r *http.Request) {
	sku, ok := httputil.ParsePathStringOrError(w, r, "sku")
	if !ok {
		return
	}

	item, err := h.inventory.GetItemBySKU(r.Context(), sku)
	if err != nil {
		h.writeInventoryError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, item)
}

// updateItem handles PUT /items/{id}
func (h *InventoryHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req inventory.UpdateItemRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	item, err := h.inventory.UpdateItem(r.Context(), id, &req)
	if err != nil {
		h.writeInventoryError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, item)
}

// deleteItem handles DELETE /items/{id}
func (h *InventoryHandlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.inventory.DeleteItem(r.Context(), id); err != nil {
		if errors.Is(err, inventory.ErrItemNotFound) {
			httputil.WriteNotFoundError(w, "item not found")
			return
		}
		httputil.WriteConflict(w, err.Error())
		return
	}

	httputil.WriteNoContent(w)
}

// adjustStock handles POST /items/{id}/stock
func (h *InventoryHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Delta int `json:"delta"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		httputil.WriteValidationError(w, "delta must be non-zero")
		return
	}

	item, err := h.inventory.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		h.writeInventoryError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, item)
}

// reserve handles POST /items/{id}/reservations
func (h *InventoryHandlers) reserve(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Quantity   int    `json:"quantity"`
		OrderRef   string `json:"order_ref"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ttl := h.reservationTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	reservation, err := h.inventory.Reserve(r.Context(), id, req.Quantity, req.OrderRef, ttl)
	if err != nil {
		h.countReservation("rejected")
		h.writeInventoryError(w, err)
		return
	}

	h.countReservation("reserved")
	_ = httputil.WriteCreated(w, reservation)
}

// commitReservation handles POST /reservations/{id}/commit
func (h *InventoryHandlers) commitReservation(w http.ResponseWriter, r *http.Request) {
	h.settleReservation(w, r, h.inventory.CommitReservation, "committed")
}

// releaseReservation handles POST /reservations/{id}/release
func (h *InventoryHandlers) releaseReservation(w http.ResponseWriter, r *http.Request) {
	h.settleReservation(w, r, h.inventory.ReleaseReservation, "released")
}

func (h *InventoryHandlers) settleReservation(w http.ResponseWriter, r *http.Request, settle func(context.Context, int64) error, outcome string) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := settle(r.Context(), id); err != nil {
		h.writeInventoryError(w, err)
		return
	}

	h.countReservation(outcome)
	httputil.WriteNoContent(w)
}

func (h *InventoryHandlers) countReservation(outcome string) {
	if h.metrics != nil {
		h.metrics.ReservationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *InventoryHandlers) writeInventoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inventory.ErrItemNotFound):
		httputil.WriteNotFoundError(w, "item not found")
	case errors.Is(err, inventory.ErrReservationNotFound):
		httputil.WriteNotFoundError(w, "reservation not found")
	case errors.Is(err, inventory.ErrInsufficientStock):
		httputil.WriteConflict(w, "insufficient stock")
	case errors.Is(err, inventory.ErrSKUTaken):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
