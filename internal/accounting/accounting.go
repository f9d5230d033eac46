// Package accounting implements the two-phase reservation ledger: the
// authoritative counter of capacity per resource, with pending/posted/voided
// transfers and a reservation timeout.
//
// Two implementations share the Ledger interface: PgLedger (a relational
// implementation backed by Postgres, see pgledger.go) and RemoteLedger (a
// client of a separate external-ledger process reached through a batcher,
// see remoteledger.go and batcher.go). Callers select one at startup from
// configuration; neither implementation detail leaks past this interface.
package accounting

import (
	"context"
	"errors"
	"time"
)

// Resource names the three capacity buckets this system tracks.
type Resource string

const (
	ClassA Resource = "class_a"
	ClassB Resource = "class_b"
	Goodie Resource = "goodie"
)

// ErrUnknownResource names the error for a resource the ledger was not
// configured with. Neither backend returns it: PgLedger reports the failed
// resource lookup as a wrapped database error, and the remote ledger engine
// rejects a reservation or fast-book against an unknown resource
// (accepted=false) and fails Inventory with its own error.
var ErrUnknownResource = errors.New("accounting: unknown resource")

// TransferID is a 128-bit opaque identifier the caller chooses, typically a
// UUID, used for both pending holds and posted/fast-booked transfers.
type TransferID string

// Inventory is a point-in-time snapshot of a single resource's capacity
// accounting. It is consistent within itself but not across resources read
// in separate calls.
type Inventory struct {
	Resource     Resource
	Capacity     int64
	Posted       int64
	PendingLive  int64
	Available    int64
}

// Ledger is the contract both accounting backends implement.
type Ledger interface {
	// Reserve atomically allocates qty units of resource if capacity allows,
	// returning a transfer id and accepted=true; otherwise accepted=false and
	// no capacity is consumed. The hold expires at time.Now().Add(timeout)
	// unless committed or voided first.
	Reserve(ctx context.Context, resource Resource, qty int64, timeout time.Duration) (TransferID, bool, error)

	// ReserveMany submits several reservations together so the batcher (on
	// the external-ledger backend) can pack them into one RPC; the
	// relational backend processes them sequentially in the same order.
	// The returned slice is positionally parallel to items.
	ReserveMany(ctx context.Context, items []TransferRequest) ([]ReserveResult, error)

	// Post commits a pending transfer. Returns true iff the transfer was
	// still pending and not expired. Safe to call twice with the same id:
	// the second call returns the same outcome as the first.
	Post(ctx context.Context, id TransferID) (bool, error)

	// Void releases a pending transfer. No-op (returns nil) if the transfer
	// is already terminal or expired.
	Void(ctx context.Context, id TransferID) error

	// FastBook directly posts qty units without a pending phase. Used by the
	// webhook's late-success recovery path when the original hold already
	// expired but payment still succeeded.
	FastBook(ctx context.Context, resource Resource, qty int64) (TransferID, bool, error)

	// Inventory returns a snapshot of one resource.
	Inventory(ctx context.Context, resource Resource) (Inventory, error)

	// GoodiesPosted returns the count of posted transfers against the
	// goodie resource.
	GoodiesPosted(ctx context.Context) (int64, error)
}

// TransferRequest is one item submitted to ReserveMany.
type TransferRequest struct {
	Resource Resource
	Qty      int64
	Timeout  time.Duration
}

// ReserveResult is ReserveMany's per-item outcome, positionally parallel to
// the TransferRequest slice passed in.
type ReserveResult struct {
	ID       TransferID
	Accepted bool
}
