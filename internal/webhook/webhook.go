// Package webhook implements the second half of the purchase pipeline: an
// idempotent handler for the payment provider's asynchronous callback that
// commits or releases the reservation a checkout created, and writes the
// durable order record exactly once.
//
// The handler must stay correct under duplicate delivery, concurrent
// delivery for the same psid, and a crash between the ledger call and the
// durable write — see the fulfillment-gate short-circuit below and the
// PAID_UNFULFILLED recovery path.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/orderstore"
	"github.com/renerocksai/tigerfans-go/internal/paysession"
)

// ErrBadSignature is returned when the x-mockpay-signature header is
// missing or does not match the HMAC of the raw body.
var ErrBadSignature = errors.New("webhook: invalid signature")

// ErrBadPayload is returned when the body does not parse as the expected
// event JSON, or is missing a payment_session_id.
var ErrBadPayload = errors.New("webhook: invalid payload")

// ErrSessionNotFound is returned when no payment session exists for the
// event's psid — the caller should respond 404.
var ErrSessionNotFound = errors.New("webhook: payment session not found")

// event is the wire shape of a provider callback, shared by the real mock
// provider's delivery and tests.
type event struct {
	Type             string `json:"type"`
	PaymentSessionID string `json:"payment_session_id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	CreatedAt        int64  `json:"created_at"`
	IdempotencyKey   string `json:"idempotency_key"`
}

func (e event) kind() string {
	parts := strings.Split(e.Type, ".")
	return parts[len(parts)-1]
}

// Result is returned to the HTTP layer to shape the JSON response.
type Result struct {
	Idempotent  bool
	OrderStatus orderstore.Status
}

// Handler wires the ledger, session store, and order store together for
// the webhook endpoint.
type Handler struct {
	ledger   accounting.Ledger
	sessions paysession.Store
	orders   orderstore.Store
	secret   []byte
	log      zerolog.Logger
}

// NewHandler wires a Handler. secret is the shared HMAC key used to verify
// x-mockpay-signature.
func NewHandler(ledger accounting.Ledger, sessions paysession.Store, orders orderstore.Store, secret string, logger zerolog.Logger) *Handler {
	return &Handler{
		ledger:   ledger,
		sessions: sessions,
		orders:   orders,
		secret:   []byte(secret),
		log:      logger.With().Str("component", "webhook").Logger(),
	}
}

// Verify checks the raw body against sig (the x-mockpay-signature header
// value) in constant time, then parses it as an event. It is split out from
// Handle so the HTTP layer can map ErrBadSignature/ErrBadPayload to 400
// before committing to any side effect.
func (h *Handler) Verify(body []byte, sig string) (event, error) {
	if sig == "" {
		return event{}, ErrBadSignature
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return event{}, ErrBadSignature
	}

	var e event
	if err := json.Unmarshal(body, &e); err != nil {
		return event{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if e.PaymentSessionID == "" {
		return event{}, ErrBadPayload
	}
	return e, nil
}

// Handle runs the full state machine for one verified event. The caller is
// responsible for calling Verify first.
func (h *Handler) Handle(ctx context.Context, e event) (Result, error) {
	ps, err := h.sessions.Get(ctx, e.PaymentSessionID)
	if err != nil {
		if errors.Is(err, paysession.ErrNotFound) {
			return Result{}, ErrSessionNotFound
		}
		return Result{}, fmt.Errorf("webhook: get session: %w", err)
	}

	flags, err := h.sessions.FulfillAndMarkEvent(ctx, e.PaymentSessionID, e.IdempotencyKey)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: fulfill gate: %w", err)
	}
	if flags.AlreadyFulfilled || (flags.EventSeen != nil && *flags.EventSeen) {
		return Result{Idempotent: true}, nil
	}

	// We now exclusively own this psid: no other delivery for it can pass
	// the gate above.
	kind := e.kind()

	switch kind {
	case "succeeded":
		return h.handleSucceeded(ctx, ps)
	case "failed", "canceled":
		return h.handleTerminalFailure(ctx, ps, kind)
	default:
		return Result{}, fmt.Errorf("%w: unknown event kind %q", ErrBadPayload, kind)
	}
}

func (h *Handler) handleTerminalFailure(ctx context.Context, ps paysession.Session, kind string) (Result, error) {
	if err := h.ledger.Void(ctx, accounting.TransferID(ps.TicketTransferID)); err != nil {
		h.log.Warn().Err(err).Str("psid", ps.PSID).Msg("failed to void ticket hold")
	}
	if ps.GoodieTransferID != "" {
		if err := h.ledger.Void(ctx, accounting.TransferID(ps.GoodieTransferID)); err != nil {
			h.log.Warn().Err(err).Str("psid", ps.PSID).Msg("failed to void goodie hold")
		}
	}
	if err := h.sessions.RemovePending(ctx, ps.PSID); err != nil {
		h.log.Warn().Err(err).Str("psid", ps.PSID).Msg("failed to remove pending session")
	}

	status := orderstore.StatusCanceled
	if kind == "failed" {
		status = orderstore.StatusFailed
	}
	return Result{OrderStatus: status}, nil
}

func (h *Handler) handleSucceeded(ctx context.Context, ps paysession.Session) (Result, error) {
	ticketID := accounting.TransferID(ps.TicketTransferID)
	goodieID := accounting.TransferID(ps.GoodieTransferID)

	gotTicket, err := h.ledger.Post(ctx, ticketID)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: post ticket: %w", err)
	}

	gotGoodie := false
	if ps.TryGoodie {
		gotGoodie, err = h.ledger.Post(ctx, goodieID)
		if err != nil {
			return Result{}, fmt.Errorf("webhook: post goodie: %w", err)
		}
	}

	status := orderstore.StatusPaidUnfulfilled
	if !gotTicket {
		// Late-success recovery: the hold expired before the webhook
		// arrived but payment succeeded anyway. Try to book a fresh unit
		// directly.
		classResource, resErr := resourceForClass(ps.Cls)
		if resErr != nil {
			return Result{}, resErr
		}
		_, booked, fbErr := h.ledger.FastBook(ctx, classResource, 1)
		if fbErr != nil {
			return Result{}, fmt.Errorf("webhook: fast book: %w", fbErr)
		}
		if booked {
			gotTicket = true
		}
	}
	if gotTicket {
		status = orderstore.StatusPaid
	}

	var ticketCode *string
	if gotTicket {
		code := "TCK-" + strings.ToUpper(uuid.New().String()[:10])
		ticketCode = &code
	}
	now := time.Now()

	order := orderstore.Order{
		OrderID:          ps.OrderID,
		TicketTransferID: ps.TicketTransferID,
		GoodieTransferID: ps.GoodieTransferID,
		TryGoodie:        ps.TryGoodie,
		Cls:              ps.Cls,
		Qty:              ps.Qty,
		Amount:           ps.Amount,
		Currency:         ps.Currency,
		CustomerEmail:    ps.CustomerEmail,
		Status:           status,
		CreatedAt:        now,
		PaidAt:           &now,
		TicketCode:       ticketCode,
		GotGoodie:        gotGoodie,
	}

	if err := h.orders.Create(ctx, order); err != nil {
		if !errors.Is(err, orderstore.ErrDuplicate) {
			return Result{}, fmt.Errorf("webhook: insert order: %w", err)
		}
		// Idempotent replay racing the first successful write; the first
		// writer's row stands, we just report its outcome as ours.
		h.log.Info().Str("order_id", ps.OrderID).Msg("order insert collided, treating as replay")
	}

	if err := h.sessions.RemovePending(ctx, ps.PSID); err != nil {
		h.log.Warn().Err(err).Str("psid", ps.PSID).Msg("failed to remove pending session")
	}

	return Result{OrderStatus: status}, nil
}

func resourceForClass(cls string) (accounting.Resource, error) {
	switch cls {
	case "A":
		return accounting.ClassA, nil
	case "B":
		return accounting.ClassB, nil
	default:
		return "", fmt.Errorf("webhook: unknown class %q", cls)
	}
}
