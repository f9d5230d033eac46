package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/checkout"
	"github.com/renerocksai/tigerfans-go/internal/paysession"
)

// fakeLedger is an in-memory accounting.Ledger double. Only the methods
// Checkout exercises need real behavior; the rest panic if called.
type fakeLedger struct {
	accepted map[accounting.Resource]bool
	voided   []accounting.TransferID
}

func (f *fakeLedger) Reserve(ctx context.Context, resource accounting.Resource, qty int64, timeout time.Duration) (accounting.TransferID, bool, error) {
	panic("not used by checkout")
}

func (f *fakeLedger) ReserveMany(ctx context.Context, items []accounting.TransferRequest) ([]accounting.ReserveResult, error) {
	out := make([]accounting.ReserveResult, len(items))
	for i, item := range items {
		ok := f.accepted[item.Resource]
		out[i] = accounting.ReserveResult{ID: accounting.TransferID(uuid.New().String()), Accepted: ok}
	}
	return out, nil
}

func (f *fakeLedger) Post(ctx context.Context, id accounting.TransferID) (bool, error) {
	panic("not used by checkout")
}

func (f *fakeLedger) Void(ctx context.Context, id accounting.TransferID) error {
	f.voided = append(f.voided, id)
	return nil
}

func (f *fakeLedger) FastBook(ctx context.Context, resource accounting.Resource, qty int64) (accounting.TransferID, bool, error) {
	panic("not used by checkout")
}

func (f *fakeLedger) Inventory(ctx context.Context, resource accounting.Resource) (accounting.Inventory, error) {
	panic("not used by checkout")
}

func (f *fakeLedger) GoodiesPosted(ctx context.Context) (int64, error) {
	panic("not used by checkout")
}

// fakeSessions is an in-memory paysession.Store double recording Save calls.
type fakeSessions struct {
	saved []paysession.Session
}

func (f *fakeSessions) Save(ctx context.Context, session paysession.Session) error {
	f.saved = append(f.saved, session)
	return nil
}
func (f *fakeSessions) Get(ctx context.Context, psid string) (paysession.Session, error) {
	panic("not used")
}
func (f *fakeSessions) RemovePending(ctx context.Context, psid string) error { panic("not used") }
func (f *fakeSessions) FulfillGate(ctx context.Context, psid string) (bool, error) {
	panic("not used")
}
func (f *fakeSessions) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	panic("not used")
}
func (f *fakeSessions) FulfillAndMarkEvent(ctx context.Context, psid, eventID string) (paysession.FulfillResult, error) {
	panic("not used")
}
func (f *fakeSessions) ListRecentPSIDs(ctx context.Context, limit int) ([]string, error) {
	panic("not used")
}
func (f *fakeSessions) GetRecentPaymentSessions(ctx context.Context, limit int) (int, []paysession.PendingSummary, error) {
	panic("not used")
}

func TestCheckout_Success(t *testing.T) {
	ledger := &fakeLedger{accepted: map[accounting.Resource]bool{
		accounting.ClassA: true,
		accounting.Goodie: true,
	}}
	sessions := &fakeSessions{}
	h := checkout.NewHandler(ledger, sessions, 5*time.Minute, "/mockpay/", zerolog.Nop())

	result, err := h.Checkout(context.Background(), checkout.Request{Cls: "A", CustomerEmail: "buyer@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.OrderID)
	assert.Contains(t, result.RedirectURL, "/mockpay/")
	assert.Equal(t, int64(6500), result.Amount)
	assert.Equal(t, "eur", result.Currency)
	require.Len(t, sessions.saved, 1)
	assert.True(t, sessions.saved[0].TryGoodie)
	assert.Empty(t, ledger.voided)
}

func TestCheckout_SoldOutVoidsGoodieHold(t *testing.T) {
	ledger := &fakeLedger{accepted: map[accounting.Resource]bool{
		accounting.ClassB: false,
		accounting.Goodie: true,
	}}
	sessions := &fakeSessions{}
	h := checkout.NewHandler(ledger, sessions, 5*time.Minute, "/mockpay/", zerolog.Nop())

	_, err := h.Checkout(context.Background(), checkout.Request{Cls: "B", CustomerEmail: "buyer@example.com"})
	require.ErrorIs(t, err, checkout.ErrSoldOut)
	assert.Len(t, ledger.voided, 1)
	assert.Empty(t, sessions.saved)
}

func TestCheckout_SoldOutNoGoodieToVoid(t *testing.T) {
	ledger := &fakeLedger{accepted: map[accounting.Resource]bool{
		accounting.ClassA: false,
		accounting.Goodie: false,
	}}
	sessions := &fakeSessions{}
	h := checkout.NewHandler(ledger, sessions, 5*time.Minute, "/mockpay/", zerolog.Nop())

	_, err := h.Checkout(context.Background(), checkout.Request{Cls: "A", CustomerEmail: "buyer@example.com"})
	require.ErrorIs(t, err, checkout.ErrSoldOut)
	assert.Empty(t, ledger.voided)
}

func TestCheckout_InvalidClass(t *testing.T) {
	h := checkout.NewHandler(&fakeLedger{}, &fakeSessions{}, time.Minute, "/mockpay/", zerolog.Nop())
	_, err := h.Checkout(context.Background(), checkout.Request{Cls: "C", CustomerEmail: "buyer@example.com"})
	assert.ErrorIs(t, err, checkout.ErrBadClass)
}

func TestCheckout_InvalidEmail(t *testing.T) {
	h := checkout.NewHandler(&fakeLedger{}, &fakeSessions{}, time.Minute, "/mockpay/", zerolog.Nop())
	_, err := h.Checkout(context.Background(), checkout.Request{Cls: "A", CustomerEmail: "not-an-email"})
	assert.ErrorIs(t, err, checkout.ErrBadEmail)
}
