// Package orderstore is the durable record of completed purchases. Orders
// are written exactly once, at the end of a successful webhook, and never
// mutated afterward; see the original implementation's orm.Order model.
package orderstore

import (
	"context"
	"errors"
	"time"
)

// Status is the terminal state of an order.
type Status string

const (
	StatusPaid             Status = "PAID"
	StatusPaidUnfulfilled  Status = "PAID_UNFULFILLED"
	StatusFailed           Status = "FAILED"
	StatusCanceled         Status = "CANCELED"
)

// ErrNotFound is returned by Get when no order exists for the given id.
var ErrNotFound = errors.New("orderstore: not found")

// ErrDuplicate is returned by Create when the order's unique fields
// (order_id, ticket_transfer_id, or ticket_code) collide with an existing
// row — the caller's signal that this is a replayed webhook delivery.
var ErrDuplicate = errors.New("orderstore: duplicate order")

// Order is one durable purchase record.
type Order struct {
	OrderID          string
	TicketTransferID string
	GoodieTransferID string
	TryGoodie        bool
	Cls              string
	Qty              int
	Amount           int64
	Currency         string
	CustomerEmail    string
	Status           Status
	CreatedAt        time.Time
	PaidAt           *time.Time
	TicketCode       *string
	GotGoodie        bool
}

// Store is the contract the order store implements.
type Store interface {
	// Create inserts a new order. Returns ErrDuplicate if order_id or
	// ticket_transfer_id already exist, which the webhook handler treats as
	// an already-processed delivery rather than an error.
	Create(ctx context.Context, order Order) error

	// Get returns the order for orderID, or ErrNotFound.
	Get(ctx context.Context, orderID string) (Order, error)

	// CountByResource returns the number of PAID orders of ticket class cls,
	// used by the read-only reconciliation view. It counts tickets only;
	// goodies are not counted.
	CountByResource(ctx context.Context, cls string) (int64, error)

	// ListPaidUnfulfilled returns orders stuck in PAID_UNFULFILLED, for the
	// reconciliation report.
	ListPaidUnfulfilled(ctx context.Context, limit int) ([]Order, error)

	// ListRecent returns the most recently created orders, newest first,
	// for the admin order feed.
	ListRecent(ctx context.Context, limit int) ([]Order, error)
}
