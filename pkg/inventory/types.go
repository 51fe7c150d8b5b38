package inventory

import (
	"errors"
	"time"
)

// Item is a stocked product. Available stock is Quantity minus
// Reserved.
type Item struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Quantity    int       `json:"quantity"`
	Reserved    int       `json:"reserved"`
	PriceCents  int64     `json:"price_cents"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Available returns the stock not held by reservations.
func (i *Item) Available() int {
	return i.Quantity - i.Reserved
}

// Reservation status values.
const (
	ReservationPending   = "pending"
	ReservationCommitted = "committed"
	ReservationReleased  = "released"
)

// Reservation holds stock for an order until committed or released.
type Reservation struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	OrderRef  string    `json:"order_ref"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateItemRequest carries the fields for adding an item.
type CreateItemRequest struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	PriceCents  int64  `json:"price_cents"`
}

// UpdateItemRequest carries the mutable item fields. Nil pointers
// leave the current value unchanged. Stock moves through AdjustStock
// and reservations, not here.
type UpdateItemRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	PriceCents  *int64  `json:"price_cents,omitempty"`
}

// ListOptions controls item listing.
type ListOptions struct {
	Limit  int
	Offset int
}

var (
	// ErrItemNotFound indicates no such item exists.
	ErrItemNotFound = errors.New("item not found")

	// ErrSKUTaken indicates the SKU is already registered.
	ErrSKUTaken = errors.New("sku already taken")

	// ErrInsufficientStock indicates available stock cannot cover the
	// requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrReservationNotFound indicates no pending reservation matches.
	ErrReservationNotFound = errors.New("reservation not found")
)
