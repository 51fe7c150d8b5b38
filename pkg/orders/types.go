package orders

import (
	"errors"
	"time"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// legalTransitions maps each status to the states it may move to.
// Cancellation is only possible while the stock hold is still pending.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped},
	StatusShipped:   {StatusDelivered},
}

// CanTransition reports whether an order may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Order is a customer's purchase of a single item. PriceCents
// snapshots the item price at order time.
type Order struct {
	ID            int64     `json:"id"`
	CustomerName  string    `json:"customer"`
	ItemID        int64     `json:"item_id"`
	ItemSKU       string    `json:"item_sku"`
	Quantity      int       `json:"quantity"`
	PriceCents    int64     `json:"price_cents"`
	Status        Status    `json:"status"`
	ReservationID int64     `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateOrderRequest carries the fields for placing an order. The
// customer comes from the authenticated principal, not the payload.
type CreateOrderRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

// ListOptions controls order listing. Customer narrows the listing to
// one customer's orders.
type ListOptions struct {
	Customer string
	Limit    int
	Offset   int
}

var (
	// ErrOrderNotFound indicates no such order exists.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnknownCustomer indicates the customer could not be resolved.
	ErrUnknownCustomer = errors.New("unknown customer")

	// ErrIllegalTransition indicates the requested status change is
	// not allowed from the order's current state.
	ErrIllegalTransition = errors.New("illegal status transition")
)
