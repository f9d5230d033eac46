// Package reconcile provides read-only operator visibility into drift
// between the ledger's posted() counters and the durable order log.
//
// It never writes to the ledger, the session store, or the order table:
// auto-correcting capacity counters here would violate the ledger's
// exclusive-writer ownership of capacity state. Drift is only possible
// when the ledger posted a transfer but the durable write that should have
// followed it never landed (a crash between the two, or an operator
// intervening directly on the ledger); this package surfaces that drift,
// it does not fix it.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/orderstore"
)

// Report is one point-in-time drift check, per resource plus the
// cross-cutting PAID_UNFULFILLED list.
type Report struct {
	CheckedAt        time.Time
	ClassA           ResourceDrift
	ClassB           ResourceDrift
	PaidUnfulfilled  []orderstore.Order
}

// ResourceDrift compares the ledger's posted() count against the durable
// order count referencing the same resource.
type ResourceDrift struct {
	Resource    accounting.Resource
	LedgerPosted int64
	OrderCount   int64
	Drift        int64
}

// Checker runs on-demand and periodic reconciliation checks.
type Checker struct {
	ledger accounting.Ledger
	orders orderstore.Store
	log    zerolog.Logger
	stopCh chan struct{}
}

// NewChecker wires a Checker.
func NewChecker(ledger accounting.Ledger, orders orderstore.Store, logger zerolog.Logger) *Checker {
	return &Checker{
		ledger: ledger,
		orders: orders,
		log:    logger.With().Str("component", "reconcile").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Run performs one drift check and logs a structured warning for each
// resource with non-zero drift, and for any PAID_UNFULFILLED order found.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	report := Report{CheckedAt: time.Now()}

	driftA, err := c.resourceDrift(ctx, accounting.ClassA, "A")
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: class_a: %w", err)
	}
	report.ClassA = driftA

	driftB, err := c.resourceDrift(ctx, accounting.ClassB, "B")
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: class_b: %w", err)
	}
	report.ClassB = driftB

	unfulfilled, err := c.orders.ListPaidUnfulfilled(ctx, 100)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: paid unfulfilled: %w", err)
	}
	report.PaidUnfulfilled = unfulfilled

	for _, order := range unfulfilled {
		c.log.Warn().
			Str("order_id", order.OrderID).
			Str("cls", order.Cls).
			Msg("order stuck in PAID_UNFULFILLED, requires operator reconciliation")
	}
	if driftA.Drift != 0 {
		c.log.Warn().Int64("drift", driftA.Drift).Str("resource", string(accounting.ClassA)).Msg("ledger/order drift detected")
	}
	if driftB.Drift != 0 {
		c.log.Warn().Int64("drift", driftB.Drift).Str("resource", string(accounting.ClassB)).Msg("ledger/order drift detected")
	}

	return report, nil
}

func (c *Checker) resourceDrift(ctx context.Context, resource accounting.Resource, cls string) (ResourceDrift, error) {
	inv, err := c.ledger.Inventory(ctx, resource)
	if err != nil {
		return ResourceDrift{}, fmt.Errorf("inventory: %w", err)
	}
	count, err := c.orders.CountByResource(ctx, cls)
	if err != nil {
		return ResourceDrift{}, fmt.Errorf("count by resource: %w", err)
	}
	return ResourceDrift{
		Resource:     resource,
		LedgerPosted: inv.Posted,
		OrderCount:   count,
		Drift:        inv.Posted - count,
	}, nil
}

// StartPeriodic runs Run every interval until Stop is called, logging (but
// not returning) any error from an individual run.
func (c *Checker) StartPeriodic(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	c.log.Info().Dur("interval", interval).Msg("starting periodic reconciliation")

	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if _, err := c.Run(ctx); err != nil {
					c.log.Error().Err(err).Msg("periodic reconciliation failed")
				}
				cancel()
			case <-c.stopCh:
				ticker.Stop()
				c.log.Info().Msg("periodic reconciliation stopped")
				return
			}
		}
	}()
}

// Stop stops the periodic reconciliation goroutine.
func (c *Checker) Stop() {
	close(c.stopCh)
}
