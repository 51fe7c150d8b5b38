package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/stocklane/stocklane/pkg/storage/postgres"
)

// Service manages stock items and reservations.
type Service interface {
	CreateItem(ctx context.Context, req *CreateItemRequest) (*Item, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	GetItemBySKU(ctx context.Context, sku string) (*Item, error)
	ListItems(ctx context.Context, opts ListOptions) ([]*Item, error)
	UpdateItem(ctx context.Context, id int64, req *UpdateItemRequest) (*Item, error)
	DeleteItem(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, id int64, delta int) (*Item, error)
	Reserve(ctx context.Context, itemID int64, quantity int, orderRef string, ttl time.Duration) (*Reservation, error)
	CommitReservation(ctx context.Context, reservationID int64) error
	ReleaseReservation(ctx context.Context, reservationID int64) error
	ReleaseExpired(ctx context.Context) (int64, error)
}

// PostgresService implements the Service interface using PostgreSQL,
// with an optional read cache for item lookups.
type PostgresService struct {
	db    *sql.DB
	cache *postgres.TieredCache
}

// NewPostgresService creates a new PostgresService. cache may be nil.
func NewPostgresService(db *sql.DB, cache *postgres.TieredCache) *PostgresService {
	return &PostgresService{db: db, cache: cache}
}

const itemColumns = "id, sku, name, description, quantity, reserved, price_cents, created_at, updated_at"

// CreateItem adds a new item with its opening stock.
func (s *PostgresService) CreateItem(ctx context.Context, req *CreateItemRequest) (*Item, error) {
	if strings.TrimSpace(req.SKU) == "" {
		return nil, fmt.Errorf("sku is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.Quantity < 0 {
		return nil, fmt.Errorf("quantity cannot be negative")
	}

	item := &Item{
		SKU:         strings.ToUpper(strings.TrimSpace(req.SKU)),
		Name:        req.Name,
		Description: req.Description,
		Quantity:    req.Quantity,
		PriceCents:  req.PriceCents,
	}

	query := `
		INSERT INTO items (sku, name, description, quantity, price_cents)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, item.SKU, item.Name, item.Description, item.Quantity, item.PriceCents).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSKUTaken
		}
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	return item, nil
}

// GetItem retrieves an item by ID, consulting the cache first.
func (s *PostgresService) GetItem(ctx context.Context, id int64) (*Item, error) {
	key := itemKey(id)
	if s.cache != nil {
		var cached Item
		if s.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	query := fmt.Sprintf("SELECT %s FROM items WHERE id = $1", itemColumns)
	item, err := s.scanItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, item)
	}
	return item, nil
}

// GetItemBySKU retrieves an item by SKU.
func (s *PostgresService) GetItemBySKU(ctx context.Context, sku string) (*Item, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	key := skuKey(sku)
	if s.cache != nil {
		var cached Item
		if s.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	query := fmt.Sprintf("SELECT %s FROM items WHERE sku = $1", itemColumns)
	item, err := s.scanItem(s.db.QueryRowContext(ctx, query, sku))
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, item)
	}
	return item, nil
}

// ListItems returns items ordered by SKU. Listings bypass the cache.
func (s *PostgresService) ListItems(ctx context.Context, opts ListOptions) ([]*Item, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT %s FROM items ORDER BY sku LIMIT $1 OFFSET $2", itemColumns)
	rows, err := s.db.QueryContext(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UpdateItem applies the non-nil fields of req to the item.
func (s *PostgresService) UpdateItem(ctx context.Context, id int64, req *UpdateItemRequest) (*Item, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	arg := 1

	if req.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", arg))
		args = append(args, *req.Name)
		arg++
	}
	if req.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", arg))
		args = append(args, *req.Description)
		arg++
	}
	if req.PriceCents != nil {
		sets = append(sets, fmt.Sprintf("price_cents = $%d", arg))
		args = append(args, *req.PriceCents)
		arg++
	}

	query := fmt.Sprintf("UPDATE items SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), arg, itemColumns)
	args = append(args, id)

	item, err := s.scanItem(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, item)
	return item, nil
}

// DeleteItem removes an item. Items with pending reservations cannot
// be deleted.
func (s *PostgresService) DeleteItem(ctx context.Context, id int64) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Reserved > 0 {
		return fmt.Errorf("item has pending reservations")
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deletion: %w", err)
	}
	if affected == 0 {
		return ErrItemNotFound
	}

	s.invalidate(ctx, item)
	return nil
}

// AdjustStock moves the on-hand quantity by delta. The result may not
// drop below the reserved count.
func (s *PostgresService) AdjustStock(ctx context.Context, id int64, delta int) (*Item, error) {
	query := fmt.Sprintf(`
		UPDATE items
		SET quantity = quantity + $1, updated_at = NOW()
		WHERE id = $2 AND quantity + $1 >= reserved
		RETURNING %s
	`, itemColumns)

	item, err := s.scanItem(s.db.QueryRowContext(ctx, query, delta, id))
	if err == ErrItemNotFound {
		// Distinguish a missing item from a rejected adjustment.
		if _, getErr := s.getItemUncached(ctx, id); getErr == nil {
			return nil, ErrInsufficientStock
		}
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, item)
	return item, nil
}

// Reserve holds quantity units of an item for orderRef. The hold
// expires after ttl unless committed.
func (s *PostgresService) Reserve(ctx context.Context, itemID int64, quantity int, orderRef string, ttl time.Duration) (*Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reservation: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE items SET reserved = reserved + $1, updated_at = NOW()
		WHERE id = $2 AND quantity - reserved >= $1
	`, quantity, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve stock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check reservation: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.getItemUncached(ctx, itemID); getErr != nil {
			return nil, ErrItemNotFound
		}
		return nil, ErrInsufficientStock
	}

	reservation := &Reservation{
		ItemID:   itemID,
		OrderRef: orderRef,
		Quantity: quantity,
		Status:   ReservationPending,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reservations (item_id, order_ref, quantity, status, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5::interval)
		RETURNING id, expires_at, created_at
	`, itemID, orderRef, quantity, ReservationPending, fmt.Sprintf("%d seconds", int64(ttl.Seconds()))).
		Scan(&reservation.ID, &reservation.ExpiresAt, &reservation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	s.invalidateByID(ctx, itemID)
	return reservation, nil
}

// CommitReservation converts a pending hold into a stock deduction.
func (s *PostgresService) CommitReservation(ctx context.Context, reservationID int64) error {
	return s.settleReservation(ctx, reservationID, ReservationCommitted, `
		UPDATE items SET quantity = quantity - $1, reserved = reserved - $1, updated_at = NOW()
		WHERE id = $2
	`)
}

// ReleaseReservation returns a pending hold to available stock.
func (s *PostgresService) ReleaseReservation(ctx context.Context, reservationID int64) error {
	return s.settleReservation(ctx, reservationID, ReservationReleased, `
		UPDATE items SET reserved = reserved - $1, updated_at = NOW()
		WHERE id = $2
	`)
}

func (s *PostgresService) settleReservation(ctx context.Context, reservationID int64, newStatus, itemUpdate string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback()

	var itemID int64
	var quantity int
	err = tx.QueryRowContext(ctx, `
		UPDATE reservations SET status = $1
		WHERE id = $2 AND status = $3
		RETURNING item_id, quantity
	`, newStatus, reservationID, ReservationPending).Scan(&itemID, &quantity)
	if err == sql.ErrNoRows {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to settle reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, itemUpdate, quantity, itemID); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	s.invalidateByID(ctx, itemID)
	return nil
}

// ReleaseExpired releases all pending reservations past their expiry,
// returning the number released.
func (s *PostgresService) ReleaseExpired(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM reservations
		WHERE status = $1 AND expires_at < NOW()
	`, ReservationPending)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired reservations: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan reservation: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var released int64
	for _, id := range ids {
		err := s.ReleaseReservation(ctx, id)
		if err == ErrReservationNotFound {
			// Settled concurrently, skip it.
			continue
		}
		if err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// getItemUncached reads straight from the database, used when a write
// needs the current row rather than a possibly stale cache entry.
func (s *PostgresService) getItemUncached(ctx context.Context, id int64) (*Item, error) {
	query := fmt.Sprintf("SELECT %s FROM items WHERE id = $1", itemColumns)
	return s.scanItem(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresService) invalidate(ctx context.Context, item *Item) {
	if s.cache != nil {
		s.cache.Delete(ctx, itemKey(item.ID), skuKey(item.SKU))
	}
}

func (s *PostgresService) invalidateByID(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if item, err := s.getItemUncached(ctx, id); err == nil {
		s.cache.Delete(ctx, itemKey(item.ID), skuKey(item.SKU))
	} else {
		s.cache.Delete(ctx, itemKey(id))
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresService) scanItem(row rowScanner) (*Item, error) {
	item := &Item{}
	err := row.Scan(&item.ID, &item.SKU, &item.Name, &item.Description,
		&item.Quantity, &item.Reserved, &item.PriceCents, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	return item, nil
}

func itemKey(id int64) string {
	return fmt.Sprintf("item:%d", id)
}

func skuKey(sku string) string {
	return "sku:" + sku
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
