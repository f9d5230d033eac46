// Package ledgerengine is the in-memory bookkeeping core served over the
// network by cmd/ledgerd. It stands in for an external atomic-ledger
// service: callers submit transfers against named resources with a
// debits-must-not-exceed-credits style capacity check, and the engine
// itself is the sole arbiter of acceptance.
//
// Expiry of pending transfers is computed on read, never by a background
// reaper, matching the accounting ledger's edge-case policy.
package ledgerengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type status int

const (
	pending status = iota
	posted
	voided
)

type transfer struct {
	resource  string
	qty       int64
	status    status
	expiresAt time.Time // zero value means no expiry
}

func (t transfer) expired(now time.Time) bool {
	return t.status == pending && !t.expiresAt.IsZero() && !t.expiresAt.After(now)
}

// Engine holds every resource's capacity and every transfer ever created
// against it, guarded by a single mutex. It is intentionally simple: this
// is a reference stand-in for an external ledger, not a production
// datastore.
type Engine struct {
	mu         sync.Mutex
	capacities map[string]int64
	transfers  map[string]*transfer
}

// New creates an Engine with the given per-resource capacities.
func New(capacities map[string]int64) *Engine {
	caps := make(map[string]int64, len(capacities))
	for k, v := range capacities {
		caps[k] = v
	}
	return &Engine{
		capacities: caps,
		transfers:  make(map[string]*transfer),
	}
}

// ReserveItem mirrors accounting.ReserveItem without importing that
// package, keeping this engine free of any dependency on the HTTP-facing
// accounting contracts it serves.
type ReserveItem struct {
	Resource string
	Qty      int64
	TimeoutMS int64
}

// ReserveOutcome mirrors accounting.ReserveOutcome.
type ReserveOutcome struct {
	ID       string
	Accepted bool
}

// CreateTransfers processes a batch of reservation requests sequentially,
// so that requests against the same resource within one batch correctly
// observe each other's effect on capacity.
func (e *Engine) CreateTransfers(items []ReserveItem) []ReserveOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	out := make([]ReserveOutcome, len(items))
	for i, item := range items {
		id, accepted := e.reserveLocked(item.Resource, item.Qty, time.Duration(item.TimeoutMS)*time.Millisecond, now)
		out[i] = ReserveOutcome{ID: id, Accepted: accepted}
	}
	return out
}

func (e *Engine) reserveLocked(resource string, qty int64, timeout time.Duration, now time.Time) (string, bool) {
	capacity, ok := e.capacities[resource]
	if !ok {
		return "", false
	}

	posted, pendingLive := e.tallyLocked(resource, now)
	if posted+pendingLive+qty > capacity {
		return "", false
	}

	id := uuid.New().String()
	var expiresAt time.Time
	if timeout > 0 {
		expiresAt = now.Add(timeout)
	}
	e.transfers[id] = &transfer{resource: resource, qty: qty, status: pending, expiresAt: expiresAt}
	return id, true
}

// Post commits a pending transfer. Idempotent: repeat calls with the same
// id return the same outcome as the first call.
func (e *Engine) Post(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transfers[id]
	if !ok {
		return false
	}
	now := time.Now()
	switch {
	case t.status == posted:
		return true
	case t.status == voided:
		return false
	case t.expired(now):
		return false
	default:
		t.status = posted
		return true
	}
}

// Void releases a pending transfer. No-op if terminal or expired.
func (e *Engine) Void(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transfers[id]
	if !ok {
		return
	}
	if t.status == pending && !t.expired(time.Now()) {
		t.status = voided
	}
}

// FastBook directly posts qty units with no pending phase.
func (e *Engine) FastBook(resource string, qty int64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	capacity, ok := e.capacities[resource]
	if !ok {
		return "", false
	}

	now := time.Now()
	posted, pendingLive := e.tallyLocked(resource, now)
	if posted+pendingLive+qty > capacity {
		return "", false
	}

	id := uuid.New().String()
	e.transfers[id] = &transfer{resource: resource, qty: qty, status: posted}
	return id, true
}

// Inventory returns a point-in-time snapshot for one resource.
func (e *Engine) Inventory(resource string) (capacity, postedQty, pendingLive int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	capacity, ok := e.capacities[resource]
	if !ok {
		return 0, 0, 0, fmt.Errorf("ledgerengine: unknown resource %q", resource)
	}
	postedQty, pendingLive = e.tallyLocked(resource, time.Now())
	return capacity, postedQty, pendingLive, nil
}

// GoodiesPosted counts posted transfers against the "goodie" resource.
func (e *Engine) GoodiesPosted() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	posted, _ := e.tallyLocked("goodie", time.Now())
	return posted
}

func (e *Engine) tallyLocked(resource string, now time.Time) (postedQty, pendingLive int64) {
	for _, t := range e.transfers {
		if t.resource != resource {
			continue
		}
		switch {
		case t.status == posted:
			postedQty += t.qty
		case t.status == pending && !t.expired(now):
			pendingLive += t.qty
		}
	}
	return postedQty, pendingLive
}
