package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/orderstore"
	"github.com/renerocksai/tigerfans-go/internal/paysession"
)

const testSecret = "test-secret"

func sign(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// fakeLedger is an in-memory accounting.Ledger double for the webhook's
// post/void/fast-book paths.
type fakeLedger struct {
	posted    map[accounting.TransferID]bool
	voided    []accounting.TransferID
	fastBook  bool
}

func (f *fakeLedger) Reserve(ctx context.Context, resource accounting.Resource, qty int64, timeout time.Duration) (accounting.TransferID, bool, error) {
	panic("not used")
}
func (f *fakeLedger) ReserveMany(ctx context.Context, items []accounting.TransferRequest) ([]accounting.ReserveResult, error) {
	panic("not used")
}
func (f *fakeLedger) Post(ctx context.Context, id accounting.TransferID) (bool, error) {
	if f.posted == nil {
		return false, nil
	}
	return f.posted[id], nil
}
func (f *fakeLedger) Void(ctx context.Context, id accounting.TransferID) error {
	f.voided = append(f.voided, id)
	return nil
}
func (f *fakeLedger) FastBook(ctx context.Context, resource accounting.Resource, qty int64) (accounting.TransferID, bool, error) {
	return accounting.TransferID("fastbooked"), f.fastBook, nil
}
func (f *fakeLedger) Inventory(ctx context.Context, resource accounting.Resource) (accounting.Inventory, error) {
	panic("not used")
}
func (f *fakeLedger) GoodiesPosted(ctx context.Context) (int64, error) { panic("not used") }

type fakeSessions struct {
	session      paysession.Session
	fulfilled    bool
	removed      []string
	eventsSeen   map[string]bool
}

func (f *fakeSessions) Save(ctx context.Context, session paysession.Session) error { panic("not used") }
func (f *fakeSessions) Get(ctx context.Context, psid string) (paysession.Session, error) {
	if psid != f.session.PSID {
		return paysession.Session{}, paysession.ErrNotFound
	}
	return f.session, nil
}
func (f *fakeSessions) RemovePending(ctx context.Context, psid string) error {
	f.removed = append(f.removed, psid)
	return nil
}
func (f *fakeSessions) FulfillGate(ctx context.Context, psid string) (bool, error) { panic("not used") }
func (f *fakeSessions) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	panic("not used")
}
func (f *fakeSessions) FulfillAndMarkEvent(ctx context.Context, psid, eventID string) (paysession.FulfillResult, error) {
	if f.fulfilled {
		return paysession.FulfillResult{AlreadyFulfilled: true}, nil
	}
	if f.eventsSeen == nil {
		f.eventsSeen = map[string]bool{}
	}
	seen := f.eventsSeen[eventID]
	if eventID != "" {
		f.eventsSeen[eventID] = true
	}
	f.fulfilled = true
	return paysession.FulfillResult{EventSeen: &seen}, nil
}
func (f *fakeSessions) ListRecentPSIDs(ctx context.Context, limit int) ([]string, error) {
	panic("not used")
}
func (f *fakeSessions) GetRecentPaymentSessions(ctx context.Context, limit int) (int, []paysession.PendingSummary, error) {
	panic("not used")
}

type fakeOrders struct {
	created []orderstore.Order
}

func (f *fakeOrders) Create(ctx context.Context, order orderstore.Order) error {
	f.created = append(f.created, order)
	return nil
}
func (f *fakeOrders) Get(ctx context.Context, orderID string) (orderstore.Order, error) {
	panic("not used")
}
func (f *fakeOrders) CountByResource(ctx context.Context, cls string) (int64, error) {
	panic("not used")
}
func (f *fakeOrders) ListPaidUnfulfilled(ctx context.Context, limit int) ([]orderstore.Order, error) {
	panic("not used")
}
func (f *fakeOrders) ListRecent(ctx context.Context, limit int) ([]orderstore.Order, error) {
	panic("not used")
}

func TestVerify_RejectsBadSignature(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeSessions{}, &fakeOrders{}, testSecret, zerolog.Nop())
	body := []byte(`{"type":"payment_session.succeeded","payment_session_id":"ps1"}`)
	_, err := h.Verify(body, "not-the-right-signature")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_AcceptsValidSignature(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeSessions{}, &fakeOrders{}, testSecret, zerolog.Nop())
	body := []byte(`{"type":"payment_session.succeeded","payment_session_id":"ps1"}`)
	e, err := h.Verify(body, sign(t, body))
	require.NoError(t, err)
	assert.Equal(t, "ps1", e.PaymentSessionID)
	assert.Equal(t, "succeeded", e.kind())
}

func TestHandle_SucceededPostsTicketAndWritesOrder(t *testing.T) {
	ledger := &fakeLedger{posted: map[accounting.TransferID]bool{
		"ticket-1": true,
		"goodie-1": true,
	}}
	sessions := &fakeSessions{session: paysession.Session{
		PSID:             "ps1",
		OrderID:          "order-1",
		Cls:              "A",
		TicketTransferID: "ticket-1",
		GoodieTransferID: "goodie-1",
		TryGoodie:        true,
	}}
	orders := &fakeOrders{}
	h := NewHandler(ledger, sessions, orders, testSecret, zerolog.Nop())

	result, err := h.Handle(context.Background(), event{
		Type:             "payment_session.succeeded",
		PaymentSessionID: "ps1",
	})
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusPaid, result.OrderStatus)
	require.Len(t, orders.created, 1)
	assert.True(t, orders.created[0].GotGoodie)
	assert.NotNil(t, orders.created[0].TicketCode)
	assert.Equal(t, []string{"ps1"}, sessions.removed)
}

func TestHandle_SucceededFastBooksWhenHoldExpired(t *testing.T) {
	ledger := &fakeLedger{
		posted:   map[accounting.TransferID]bool{}, // Post returns false: hold expired
		fastBook: true,
	}
	sessions := &fakeSessions{session: paysession.Session{
		PSID:             "ps1",
		OrderID:          "order-1",
		Cls:              "A",
		TicketTransferID: "ticket-1",
	}}
	orders := &fakeOrders{}
	h := NewHandler(ledger, sessions, orders, testSecret, zerolog.Nop())

	result, err := h.Handle(context.Background(), event{Type: "payment_session.succeeded", PaymentSessionID: "ps1"})
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusPaid, result.OrderStatus)
}

func TestHandle_TerminalFailureVoidsHoldsAndRemovesPending(t *testing.T) {
	ledger := &fakeLedger{}
	sessions := &fakeSessions{session: paysession.Session{
		PSID:             "ps1",
		TicketTransferID: "ticket-1",
		GoodieTransferID: "goodie-1",
	}}
	h := NewHandler(ledger, sessions, &fakeOrders{}, testSecret, zerolog.Nop())

	result, err := h.Handle(context.Background(), event{Type: "payment_session.failed", PaymentSessionID: "ps1"})
	require.NoError(t, err)
	assert.Equal(t, orderstore.StatusFailed, result.OrderStatus)
	assert.Len(t, ledger.voided, 2)
	assert.Equal(t, []string{"ps1"}, sessions.removed)
}

func TestHandle_IdempotentOnSecondDelivery(t *testing.T) {
	sessions := &fakeSessions{session: paysession.Session{PSID: "ps1"}, fulfilled: true}
	h := NewHandler(&fakeLedger{}, sessions, &fakeOrders{}, testSecret, zerolog.Nop())

	result, err := h.Handle(context.Background(), event{Type: "payment_session.succeeded", PaymentSessionID: "ps1"})
	require.NoError(t, err)
	assert.True(t, result.Idempotent)
}

func TestHandle_UnknownSessionReturnsErrSessionNotFound(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeSessions{}, &fakeOrders{}, testSecret, zerolog.Nop())
	_, err := h.Handle(context.Background(), event{Type: "payment_session.succeeded", PaymentSessionID: "missing"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
