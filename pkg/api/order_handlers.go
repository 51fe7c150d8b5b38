package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/httputil"
	"github.com/stocklane/stocklane/pkg/inventory"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/orders"
)

// OrderHandlers serves order management. Customers operate on their
// own orders; admins see everything.
type OrderHandlers struct {
	orders orders.Service
}

// NewOrderHandlers creates the order handlers.
func NewOrderHandlers(orderService orders.Service) *OrderHandlers {
	return &OrderHandlers{orders: orderService}
}

// RegisterRoutes registers order routes.
func (h *OrderHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orders", middleware.RequireAuthority(auth.RoleUser, h.createOrder)).Methods("POST")
	router.HandleFunc("/orders", middleware.RequireAuthenticated(h.listOrders)).Methods("GET")
	router.HandleFunc("/orders/{id:[0-9]+}", middleware.RequireAuthenticated(h.getOrder)).Methods("GET")
	router.HandleFunc("/orders/{id:[0-9]+}/status", middleware.RequireAuthenticated(h.updateStatus)).Methods("POST")
}

// createOrder handles POST /orders. The customer is always the
// authenticated principal; the payload cannot order on someone else's
// behalf.
func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromRequest(r)

	var req orders.CreateOrderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), principal.Username, &req)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	_ = httputil.WriteCreated(w, order)
}

// listOrders handles GET /orders
func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromRequest(r)
	limit, _ := httputil.ParseQueryInt(r, "limit", 100)
	offset, _ := httputil.ParseQueryInt(r, "offset", 0)

	opts := orders.ListOptions{Limit: limit, Offset: offset}
	if principal.HasAuthority(auth.RoleAdmin) {
		// Admins may narrow to one customer or see everything.
		opts.Customer = httputil.ParseQueryString(r, "customer", "")
	} else {
		opts.Customer = principal.Username
	}

	list, err := h.orders.ListOrders(r.Context(), opts)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, list)
}

// getOrder handles GET /orders/{id}
func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	_ = httputil.WriteSuccess(w, order)
}

// updateStatus handles POST /orders/{id}/status. Customers may
// confirm or cancel their own pending orders; fulfilment states are
// for admins.
func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromRequest(r)

	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	var req struct {
		Status orders.Status `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !principal.HasAuthority(auth.RoleAdmin) {
		switch req.Status {
		case orders.StatusConfirmed, orders.StatusCancelled:
		default:
			httputil.WriteForbidden(w, "only administrators can set fulfilment states")
			return
		}
	}

	updated, err := h.orders.UpdateStatus(r.Context(), order.ID, req.Status)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, updated)
}

// loadOwnedOrder fetches the order and enforces that non-admin
// callers only touch their own orders. Someone else's order reads as
// missing rather than forbidden.
func (h *OrderHandlers) loadOwnedOrder(w http.ResponseWriter, r *http.Request) (*orders.Order, bool) {
	principal := middleware.PrincipalFromRequest(r)

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeOrderError(w, err)
		return nil, false
	}

	if order.CustomerName != principal.Username && !principal.HasAuthority(auth.RoleAdmin) {
		httputil.WriteNotFoundError(w, "order not found")
		return nil, false
	}
	return order, true
}

func (h *OrderHandlers) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		httputil.WriteNotFoundError(w, "order not found")
	case errors.Is(err, orders.ErrUnknownCustomer):
		httputil.WriteValidationError(w, "unknown customer")
	case errors.Is(err, orders.ErrIllegalTransition):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, inventory.ErrItemNotFound):
		httputil.WriteValidationError(w, "item not found")
	case errors.Is(err, inventory.ErrInsufficientStock):
		httputil.WriteConflict(w, "insufficient stock")
	default:
		httputil.WriteInternalError(w, err)
	}
}
