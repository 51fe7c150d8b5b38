package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/inventory"
	"github.com/stocklane/stocklane/pkg/middleware"
)

type fakeInventoryService struct {
	items        map[int64]*inventory.Item
	reservations map[int64]*inventory.Reservation
	nextID       int64
}

func newFakeInventoryService() *fakeInventoryService {
	return &fakeInventoryService{
		items:        make(map[int64]*inventory.Item),
		reservations: make(map[int64]*inventory.Reservation),
		nextID:       1,
	}
}

func (f *fakeInventoryService) add(item *inventory.Item) *inventory.Item {
	item.ID = f.nextID
	f.nextID++
	f.items[item.ID] = item
	return item
}

func (f *fakeInventoryService) CreateItem(ctx context.Context, req *inventory.CreateItemRequest) (*inventory.Item, error) {
	for _, item := range f.items {
		if item.SKU == strings.ToUpper(req.SKU) {
			return nil, inventory.ErrSKUTaken
		}
	}
	return f.add(&inventory.Item{
		SKU:        strings.ToUpper(req.SKU),
		Name:       req.Name,
		Quantity:   req.Quantity,
		PriceCents: req.PriceCents,
	}), nil
}

func (f *fakeInventoryService) GetItem(ctx context.Context, id int64) (*inventory.Item, error) {
	if item, ok := f.items[id]; ok {
		return item, nil
	}
	return nil, inventory.ErrItemNotFound
}

func (f *fakeInventoryService) GetItemBySKU(ctx context.Context, sku string) (*inventory.Item, error) {
	for _, item := range f.items {
		if item.SKU == strings.ToUpper(sku) {
			return item, nil
		}
	}
	return nil, inventory.ErrItemNotFound
}

func (f *fakeInventoryService) ListItems(ctx context.Context, opts inventory.ListOptions) ([]*inventory.Item, error) {
	var out []*inventory.Item
	for _, item := range f.items {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeInventoryService) UpdateItem(ctx context.Context, id int64, req *inventory.UpdateItemRequest) (*inventory.Item, error) {
	item, err := f.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.PriceCents != nil {
		item.PriceCents = *req.PriceCents
	}
	return item, nil
}

func (f *fakeInventoryService) DeleteItem(ctx context.Context, id int64) error {
	if _, ok := f.items[id]; !ok {
		return inventory.ErrItemNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeInventoryService) AdjustStock(ctx context.Context, id int64, delta int) (*inventory.Item, error) {
	item, err := f.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Quantity+delta < item.Reserved {
		return nil, inventory.ErrInsufficientStock
	}
	item.Quantity += delta
	return item, nil
}

func (f *fakeInventoryService) Reserve(ctx context.Context, itemID int64, quantity int, orderRef string, ttl time.Duration) (*inventory.Reservation, error) {
	item, err := f.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Available() < quantity {
		return nil, inventory.ErrInsufficientStock
	}
	item.Reserved += quantity
	res := &inventory.Reservation{
		ID:        f.nextID,
		ItemID:    itemID,
		OrderRef:  orderRef,
		Quantity:  quantity,
		Status:    inventory.ReservationPending,
		ExpiresAt: time.Now().Add(ttl),
	}
	f.nextID++
	f.reservations[res.ID] = res
	return res, nil
}

func (f *fakeInventoryService) CommitReservation(ctx context.Context, reservationID int64) error {
	res, ok := f.reservations[reservationID]
	if !ok || res.Status != inventory.ReservationPending {
		return inventory.ErrReservationNotFound
	}
	res.Status = inventory.ReservationCommitted
	return nil
}

func (f *fakeInventoryService) ReleaseReservation(ctx context.Context, reservationID int64) error {
	res, ok := f.reservations[reservationID]
	if !ok || res.Status != inventory.ReservationPending {
		return inventory.ErrReservationNotFound
	}
	res.Status = inventory.ReservationReleased
	return nil
}

func (f *fakeInventoryService) ReleaseExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func inventoryTestServer(t *testing.T, svc *fakeInventoryService, issuer *auth.TokenIssuer) *httptest.Server {
	t.Helper()

	directory := auth.NewStaticDirectory(
		&auth.Principal{Username: "bob", Authorities: []auth.Authority{auth.RoleUser}},
		&auth.Principal{Username: "wendy", Authorities: []auth.Authority{auth.RoleInventory}},
		&auth.Principal{Username: "svc:order-service", Authorities: []auth.Authority{auth.RoleService}},
	)
	authn := middleware.NewAuthenticator(issuer, directory, nil, nil, nil)
	router := NewRouter(RouterConfig{Authenticator: authn})
	NewInventoryHandlers(svc, 15*time.Minute, nil).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, url, jsonBody(t, body))
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestItemRouteAuthorization(t *testing.T) {
	svc := newFakeInventoryService()
	svc.add(&inventory.Item{SKU: "WIDGET-1", Name: "Widget", Quantity: 10})
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := inventoryTestServer(t, svc, issuer)

	userToken := tokenFor(t, issuer, "bob", auth.RoleUser)
	stockToken := tokenFor(t, issuer, "wendy", auth.RoleInventory)

	// Plain users can read but not write.
	resp := doJSON(t, http.MethodGet, server.URL+"/items/1", userToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, server.URL+"/items", userToken,
		inventory.CreateItemRequest{SKU: "x", Name: "x", Quantity: 1})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The inventory role can write.
	resp = doJSON(t, http.MethodPost, server.URL+"/items", stockToken,
		inventory.CreateItemRequest{SKU: "gadget-2", Name: "Gadget", Quantity: 5})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created inventory.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, "GADGET-2", created.SKU)

	// Duplicate SKUs conflict.
	resp = doJSON(t, http.MethodPost, server.URL+"/items", stockToken,
		inventory.CreateItemRequest{SKU: "gadget-2", Name: "Gadget", Quantity: 5})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// But the reservation lifecycle is not theirs.
	resp = doJSON(t, http.MethodPost, server.URL+"/items/1/reservations", stockToken,
		map[string]interface{}{"quantity": 1, "order_ref": "order:x:1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdjustStock(t *testing.T) {
	svc := newFakeInventoryService()
	svc.add(&inventory.Item{SKU: "WIDGET-1", Name: "Widget", Quantity: 10, Reserved: 4})
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := inventoryTestServer(t, svc, issuer)

	token := tokenFor(t, issuer, "wendy", auth.RoleInventory)

	resp := doJSON(t, http.MethodPost, server.URL+"/items/1/stock", token, map[string]int{"delta": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item inventory.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&item))
	resp.Body.Close()
	assert.Equal(t, 15, item.Quantity)

	// Zero deltas are rejected outright.
	resp = doJSON(t, http.MethodPost, server.URL+"/items/1/stock", token, map[string]int{"delta": 0})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Draining below the reserved quantity conflicts.
	resp = doJSON(t, http.MethodPost, server.URL+"/items/1/stock", token, map[string]int{"delta": -12})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReservationLifecycle(t *testing.T) {
	svc := newFakeInventoryService()
	svc.add(&inventory.Item{SKU: "WIDGET-1", Name: "Widget", Quantity: 3})
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := inventoryTestServer(t, svc, issuer)

	token := tokenFor(t, issuer, "svc:order-service", auth.RoleService)

	resp := doJSON(t, http.MethodPost, server.URL+"/items/1/reservations", token,
		map[string]interface{}{"quantity": 2, "order_ref": "order:bob:1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res inventory.Reservation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	resp.Body.Close()
	assert.Equal(t, inventory.ReservationPending, res.Status)

	// Holding more than is available conflicts.
	resp = doJSON(t, http.MethodPost, server.URL+"/items/1/reservations", token,
		map[string]interface{}{"quantity": 2, "order_ref": "order:bob:2"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Commit settles the hold.
	commitURL := server.URL + "/reservations/2/commit"
	resp = doJSON(t, http.MethodPost, commitURL, token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A settled reservation cannot be settled again.
	resp = doJSON(t, http.MethodPost, server.URL+"/reservations/2/release", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, server.URL+"/reservations/99/commit", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
