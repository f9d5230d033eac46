// Package readapi implements the buyer- and operator-facing read surface:
// order status polling, an inventory snapshot, the recent-pending feed, and
// the goodie counter. None of these mutate ledger, session, or order state,
// aside from the pending feed's opportunistic cleanup of dangling index
// entries, which paysession.Store already performs internally.
package readapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/orderstore"
	"github.com/renerocksai/tigerfans-go/internal/paysession"
)

// OrderView is the JSON-shaped response for GET /api/orders/{id}.
type OrderView struct {
	OrderID    string
	Status     orderstore.Status
	Cls        string
	Qty        int
	Amount     int64
	Currency   string
	PaidAt     *time.Time
	TicketCode string
	GotGoodie  bool
}

// ResourceView is one entry of the inventory snapshot.
type ResourceView struct {
	Capacity    int64
	Posted      int64
	PendingLive int64
	Available   int64
	SoldOut     bool
}

// InventorySnapshot is the full GET /api/inventory response.
type InventorySnapshot struct {
	A         ResourceView
	B         ResourceView
	Timestamp time.Time
}

// GoodiesView is the GET /api/admin/goodies response.
type GoodiesView struct {
	Used  int64
	Limit int64
}

// API wires the ledger, session store, and order store for the read-only
// endpoints.
type API struct {
	ledger         accounting.Ledger
	sessions       paysession.Store
	orders         orderstore.Store
	goodieCapacity int64
}

// New wires an API.
func New(ledger accounting.Ledger, sessions paysession.Store, orders orderstore.Store, goodieCapacity int64) *API {
	return &API{ledger: ledger, sessions: sessions, orders: orders, goodieCapacity: goodieCapacity}
}

// ErrNotFound is returned by Order when no order exists yet for orderID —
// the normal "webhook hasn't finished" signal that tells pollers to retry.
var ErrNotFound = orderstore.ErrNotFound

// Order returns the durable order view, or ErrNotFound.
func (a *API) Order(ctx context.Context, orderID string) (OrderView, error) {
	order, err := a.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orderstore.ErrNotFound) {
			return OrderView{}, ErrNotFound
		}
		return OrderView{}, fmt.Errorf("readapi: get order: %w", err)
	}

	ticketCode := ""
	if order.TicketCode != nil {
		ticketCode = *order.TicketCode
	}
	return OrderView{
		OrderID:    order.OrderID,
		Status:     order.Status,
		Cls:        order.Cls,
		Qty:        order.Qty,
		Amount:     order.Amount,
		Currency:   order.Currency,
		PaidAt:     order.PaidAt,
		TicketCode: ticketCode,
		GotGoodie:  order.GotGoodie,
	}, nil
}

// Inventory returns a snapshot of both ticket classes. Each resource is read
// with its own ledger call, per the ledger contract's "consistent per call,
// not across resources" guarantee.
func (a *API) Inventory(ctx context.Context) (InventorySnapshot, error) {
	invA, err := a.ledger.Inventory(ctx, accounting.ClassA)
	if err != nil {
		return InventorySnapshot{}, fmt.Errorf("readapi: inventory class_a: %w", err)
	}
	invB, err := a.ledger.Inventory(ctx, accounting.ClassB)
	if err != nil {
		return InventorySnapshot{}, fmt.Errorf("readapi: inventory class_b: %w", err)
	}

	return InventorySnapshot{
		A:         toResourceView(invA),
		B:         toResourceView(invB),
		Timestamp: time.Now(),
	}, nil
}

func toResourceView(inv accounting.Inventory) ResourceView {
	return ResourceView{
		Capacity:    inv.Capacity,
		Posted:      inv.Posted,
		PendingLive: inv.PendingLive,
		Available:   inv.Available,
		SoldOut:     inv.Available <= 0,
	}
}

// PendingSummary re-exports paysession.PendingSummary for callers that only
// import readapi.
type PendingSummary = paysession.PendingSummary

// Pending returns the total count and up to limit most recent pending
// sessions, most recent first.
func (a *API) Pending(ctx context.Context, limit int) (total int, items []PendingSummary, err error) {
	total, items, err = a.sessions.GetRecentPaymentSessions(ctx, limit)
	if err != nil {
		return 0, nil, fmt.Errorf("readapi: recent pending: %w", err)
	}
	return total, items, nil
}

// Goodies returns how many goodie slots have been posted against the
// configured limit.
func (a *API) Goodies(ctx context.Context) (GoodiesView, error) {
	used, err := a.ledger.GoodiesPosted(ctx)
	if err != nil {
		return GoodiesView{}, fmt.Errorf("readapi: goodies posted: %w", err)
	}
	return GoodiesView{Used: used, Limit: a.goodieCapacity}, nil
}

// AdminOrder is one row of the admin order listing.
type AdminOrder = orderstore.Order

// AdminOrders returns the most recently created durable orders, newest
// first, for the admin order feed.
func (a *API) AdminOrders(ctx context.Context, limit int) ([]AdminOrder, error) {
	orders, err := a.orders.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("readapi: admin orders: %w", err)
	}
	return orders, nil
}
