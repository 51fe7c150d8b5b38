package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stocklane/stocklane/pkg/inventory"
)

// InventoryClient calls the inventory service. It satisfies the order
// service's InventoryGateway.
type InventoryClient struct {
	*Client
	reservationTTL time.Duration
}

// NewInventoryClient creates a client for the inventory service.
func NewInventoryClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource, reservationTTL time.Duration) *InventoryClient {
	return &InventoryClient{
		Client:         NewClient(baseURL, timeout, tokens),
		reservationTTL: reservationTTL,
	}
}

// GetItem fetches an item by ID.
func (c *InventoryClient) GetItem(ctx context.Context, id int64) (*inventory.Item, error) {
	var item inventory.Item
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/items/%d", id), nil, &item)
	if statusCode(err) == http.StatusNotFound {
		return nil, inventory.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type reserveRequest struct {
	Quantity   int    `json:"quantity"`
	OrderRef   string `json:"order_ref"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

// Reserve places a stock hold on an item.
func (c *InventoryClient) Reserve(ctx context.Context, itemID int64, quantity int, orderRef string) (*inventory.Reservation, error) {
	req := reserveRequest{
		Quantity: quantity,
		OrderRef: orderRef,
	}
	if c.reservationTTL > 0 {
		req.TTLSeconds = int64(c.reservationTTL.Seconds())
	}

	var reservation inventory.Reservation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/reservations", itemID), req, &reservation)
	switch statusCode(err) {
	case http.StatusNotFound:
		return nil, inventory.ErrItemNotFound
	case http.StatusConflict:
		return nil, inventory.ErrInsufficientStock
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// CommitReservation converts a hold into a stock deduction.
func (c *InventoryClient) CommitReservation(ctx context.Context, reservationID int64) error {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/reservations/%d/commit", reservationID), nil, nil)
	if statusCode(err) == http.StatusNotFound {
		return inventory.ErrReservationNotFound
	}
	return err
}

// ReleaseReservation returns a hold to available stock.
func (c *InventoryClient) ReleaseReservation(ctx context.Context, reservationID int64) error {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/reservations/%d/release", reservationID), nil, nil)
	if statusCode(err) == http.StatusNotFound {
		return inventory.ErrReservationNotFound
	}
	return err
}
