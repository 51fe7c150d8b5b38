package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/inventory"
	"github.com/stocklane/stocklane/pkg/observability"
)

// InventoryGateway is the slice of the inventory service an order
// needs: item lookup and the reservation lifecycle.
type InventoryGateway interface {
	GetItem(ctx context.Context, id int64) (*inventory.Item, error)
	Reserve(ctx context.Context, itemID int64, quantity int, orderRef string) (*inventory.Reservation, error)
	CommitReservation(ctx context.Context, reservationID int64) error
	ReleaseReservation(ctx context.Context, reservationID int64) error
}

// Service manages orders.
type Service interface {
	CreateOrder(ctx context.Context, customer string, req *CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, opts ListOptions) ([]*Order, error)
	UpdateStatus(ctx context.Context, id int64, to Status) (*Order, error)
}

// PostgresService implements the Service interface using PostgreSQL,
// calling out to the user and inventory services for validation and
// stock holds.
type PostgresService struct {
	db        *sql.DB
	customers auth.Directory
	stock     InventoryGateway
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewPostgresService creates a new PostgresService. logger and metrics
// may be nil.
func NewPostgresService(db *sql.DB, customers auth.Directory, stock InventoryGateway, logger *observability.Logger, metrics *observability.Metrics) *PostgresService {
	return &PostgresService{
		db:        db,
		customers: customers,
		stock:     stock,
		logger:    logger,
		metrics:   metrics,
	}
}

const orderColumns = "id, customer, item_id, item_sku, quantity, price_cents, status, reservation_id, created_at, updated_at"

// CreateOrder places a pending order for customer, holding stock via
// the inventory service. The hold is released if recording the order
// fails.
func (s *PostgresService) CreateOrder(ctx context.Context, customer string, req *CreateOrderRequest) (*Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	if _, err := s.customers.LookupPrincipal(ctx, customer); err != nil {
		return nil, ErrUnknownCustomer
	}

	item, err := s.stock.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}

	orderRef := fmt.Sprintf("order:%s:%d", customer, req.ItemID)
	reservation, err := s.stock.Reserve(ctx, req.ItemID, req.Quantity, orderRef)
	if err != nil {
		return nil, err
	}

	order := &Order{
		CustomerName:  customer,
		ItemID:        item.ID,
		ItemSKU:       item.SKU,
		Quantity:      req.Quantity,
		PriceCents:    item.PriceCents * int64(req.Quantity),
		Status:        StatusPending,
		ReservationID: reservation.ID,
	}

	query := `
		INSERT INTO orders (customer, item_id, item_sku, quantity, price_cents, status, reservation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, order.CustomerName, order.ItemID, order.ItemSKU,
		order.Quantity, order.PriceCents, order.Status, order.ReservationID).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		// Give the stock back, we could not record the order.
		if releaseErr := s.stock.ReleaseReservation(ctx, reservation.ID); releaseErr != nil && s.logger != nil {
			s.logger.WithError(releaseErr).
				WithField("reservation_id", reservation.ID).
				Error("failed to release orphaned reservation")
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.OrdersTotal.WithLabelValues(string(StatusPending)).Inc()
	}
	return order, nil
}

// GetOrder retrieves an order by ID.
func (s *PostgresService) GetOrder(ctx context.Context, id int64) (*Order, error) {
	query := fmt.Sprintf("SELECT %s FROM orders WHERE id = $1", orderColumns)
	return scanOrder(s.db.QueryRowContext(ctx, query, id))
}

// ListOrders returns orders newest first, optionally for one customer.
func (s *PostgresService) ListOrders(ctx context.Context, opts ListOptions) ([]*Order, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT %s FROM orders", orderColumns)
	args := []interface{}{}
	if opts.Customer != "" {
		query += " WHERE customer = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3"
		args = append(args, opts.Customer, limit, opts.Offset)
	} else {
		query += " ORDER BY created_at DESC LIMIT $1 OFFSET $2"
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// UpdateStatus moves an order through its lifecycle. Confirming an
// order commits its stock hold; cancelling releases it.
func (s *PostgresService) UpdateStatus(ctx context.Context, id int64, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown status %q", to)
	}

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(order.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, to)
	}

	// Settle the stock hold before recording the new status: if the
	// inventory call fails the order stays where it was.
	switch to {
	case StatusConfirmed:
		if err := s.stock.CommitReservation(ctx, order.ReservationID); err != nil {
			return nil, fmt.Errorf("failed to commit stock hold: %w", err)
		}
	case StatusCancelled:
		if err := s.stock.ReleaseReservation(ctx, order.ReservationID); err != nil {
			return nil, fmt.Errorf("failed to release stock hold: %w", err)
		}
	}

	query := fmt.Sprintf(
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING %s", orderColumns)
	updated, err := scanOrder(s.db.QueryRowContext(ctx, query, to, id))
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.OrdersTotal.WithLabelValues(string(to)).Inc()
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	order := &Order{}
	err := row.Scan(&order.ID, &order.CustomerName, &order.ItemID, &order.ItemSKU,
		&order.Quantity, &order.PriceCents, &order.Status, &order.ReservationID,
		&order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return order, nil
}
