package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/orderstore"
	"github.com/renerocksai/tigerfans-go/internal/reconcile"
)

type fakeLedger struct {
	inventory map[accounting.Resource]accounting.Inventory
}

func (f *fakeLedger) Reserve(ctx context.Context, resource accounting.Resource, qty int64, timeout time.Duration) (accounting.TransferID, bool, error) {
	panic("not used")
}
func (f *fakeLedger) ReserveMany(ctx context.Context, items []accounting.TransferRequest) ([]accounting.ReserveResult, error) {
	panic("not used")
}
func (f *fakeLedger) Post(ctx context.Context, id accounting.TransferID) (bool, error) {
	panic("not used")
}
func (f *fakeLedger) Void(ctx context.Context, id accounting.TransferID) error { panic("not used") }
func (f *fakeLedger) FastBook(ctx context.Context, resource accounting.Resource, qty int64) (accounting.TransferID, bool, error) {
	panic("not used")
}
func (f *fakeLedger) Inventory(ctx context.Context, resource accounting.Resource) (accounting.Inventory, error) {
	return f.inventory[resource], nil
}
func (f *fakeLedger) GoodiesPosted(ctx context.Context) (int64, error) { panic("not used") }

type fakeOrders struct {
	counts      map[string]int64
	unfulfilled []orderstore.Order
}

func (f *fakeOrders) Create(ctx context.Context, order orderstore.Order) error { panic("not used") }
func (f *fakeOrders) Get(ctx context.Context, orderID string) (orderstore.Order, error) {
	panic("not used")
}
func (f *fakeOrders) CountByResource(ctx context.Context, cls string) (int64, error) {
	return f.counts[cls], nil
}
func (f *fakeOrders) ListPaidUnfulfilled(ctx context.Context, limit int) ([]orderstore.Order, error) {
	return f.unfulfilled, nil
}
func (f *fakeOrders) ListRecent(ctx context.Context, limit int) ([]orderstore.Order, error) {
	panic("not used")
}

func TestRun_NoDrift(t *testing.T) {
	ledger := &fakeLedger{inventory: map[accounting.Resource]accounting.Inventory{
		accounting.ClassA: {Posted: 100},
		accounting.ClassB: {Posted: 50},
	}}
	orders := &fakeOrders{counts: map[string]int64{"A": 100, "B": 50}}
	checker := reconcile.NewChecker(ledger, orders, zerolog.Nop())

	report, err := checker.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.ClassA.Drift)
	assert.Zero(t, report.ClassB.Drift)
	assert.Empty(t, report.PaidUnfulfilled)
}

func TestRun_DetectsDrift(t *testing.T) {
	ledger := &fakeLedger{inventory: map[accounting.Resource]accounting.Inventory{
		accounting.ClassA: {Posted: 105},
		accounting.ClassB: {Posted: 50},
	}}
	orders := &fakeOrders{
		counts:      map[string]int64{"A": 100, "B": 50},
		unfulfilled: []orderstore.Order{{OrderID: "stuck-1", Cls: "A"}},
	}
	checker := reconcile.NewChecker(ledger, orders, zerolog.Nop())

	report, err := checker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.ClassA.Drift)
	assert.Zero(t, report.ClassB.Drift)
	require.Len(t, report.PaidUnfulfilled, 1)
	assert.Equal(t, "stuck-1", report.PaidUnfulfilled[0].OrderID)
}
