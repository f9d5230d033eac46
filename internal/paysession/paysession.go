// Package paysession implements the handoff record between checkout and
// webhook: a short-lived reservation of a ticket and (optionally) a goodie
// slot against a specific payment-provider session id (psid), plus the
// idempotency gates the webhook uses to fulfill an order exactly once.
//
// Two backends share the Store interface: a Redis-backed hot store
// (redisstore.go) and a relational store (pgstore.go). Both are grounded in
// the original implementation's paymentsession module, adapted from Python's
// duck-typed dict mappings to a concrete Go struct.
package paysession

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no session exists for the given psid.
var ErrNotFound = errors.New("paysession: not found")

// Session is the handoff record created by checkout and consumed by the
// webhook. TicketTransferID and GoodieTransferID are accounting.TransferID
// values, but kept as plain strings here to avoid an import cycle and
// because the store treats them as opaque.
type Session struct {
	PSID             string
	OrderID          string
	Cls              string
	Qty              int
	Amount           int64
	Currency         string
	CustomerEmail    string
	TicketTransferID string
	GoodieTransferID string
	TryGoodie        bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// PendingSummary is one row of the admin-facing recent-pendings listing.
type PendingSummary struct {
	PSID      string
	CreatedAt time.Time
	AgeMS     int64
	OrderID   string
	Cls       string
	Qty       int
	Email     string
	Amount    int64
	Currency  string
	TryGoodie bool
	Status    string
}

// FulfillResult is the combined outcome of FulfillAndMarkEvent.
type FulfillResult struct {
	// AlreadyFulfilled is true if the fulfillment gate for this psid was
	// already set by a prior call; the caller must not fulfill again.
	AlreadyFulfilled bool
	// EventSeen is nil if eventID was empty or the gate was already
	// fulfilled (not checked); otherwise true if this exact event id was
	// already marked, false if this call marked it for the first time.
	EventSeen *bool
}

// Store is the contract both paysession backends implement.
type Store interface {
	// Save creates or replaces the handoff record for psid. ExpiresAt is
	// computed by the caller; both backends persist it verbatim.
	Save(ctx context.Context, session Session) error

	// Get returns the session for psid, or ErrNotFound.
	Get(ctx context.Context, psid string) (Session, error)

	// RemovePending drops psid from the live-pending index. It does not
	// delete the underlying session record in the relational backend,
	// matching the original implementation's housekeeping split.
	RemovePending(ctx context.Context, psid string) error

	// FulfillGate atomically claims the one-time fulfillment gate for
	// psid. Returns true iff this call claimed it (first call wins).
	FulfillGate(ctx context.Context, psid string) (bool, error)

	// MarkEventSeen atomically claims the idempotency key for eventID.
	// Returns true iff this call claimed it; an empty eventID always
	// returns true without writing anything.
	MarkEventSeen(ctx context.Context, eventID string) (bool, error)

	// FulfillAndMarkEvent combines FulfillGate and MarkEventSeen into one
	// round trip: it only checks MarkEventSeen if the fulfillment gate was
	// newly claimed, since a session already fulfilled has no further use
	// for idempotency bookkeeping.
	FulfillAndMarkEvent(ctx context.Context, psid, eventID string) (FulfillResult, error)

	// ListRecentPSIDs returns up to limit psids from the pending index,
	// most recent first.
	ListRecentPSIDs(ctx context.Context, limit int) ([]string, error)

	// GetRecentPaymentSessions returns the total count of pending sessions
	// and up to limit summaries, most recent first. Entries whose session
	// record is missing (dangling pending index entries) are pruned as a
	// side effect and excluded from the returned items.
	GetRecentPaymentSessions(ctx context.Context, limit int) (total int, items []PendingSummary, err error)
}
