// Package checkout implements the first half of the purchase pipeline:
// validate the request, reserve one ticket and one goodie slot, and hand
// off to the payment provider by saving a payment session. Nothing is
// written to the durable order store here — that happens only when the
// webhook reports a terminal outcome (see internal/webhook).
package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/paysession"
)

// ErrBadClass is returned when cls is not "A" or "B".
var ErrBadClass = errors.New("checkout: invalid ticket class")

// ErrBadEmail is returned when customer_email is empty or malformed.
var ErrBadEmail = errors.New("checkout: invalid email")

// ErrSoldOut is returned when the ticket class has no remaining capacity.
var ErrSoldOut = errors.New("checkout: sold out")

// emailPattern is deliberately permissive: it rejects obviously malformed
// input without attempting full RFC 5322 validation.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// priceTable is the fixed price list in minor currency units (eur cents).
// No dynamic pricing; see the price table note in the inventory design.
var priceTable = map[string]int64{
	"A": 6500,
	"B": 4500,
}

const currency = "eur"

// Request is the validated input to Checkout.
type Request struct {
	Cls           string
	CustomerEmail string
}

// Result is the response body returned to the buyer's browser.
type Result struct {
	OrderID     string
	RedirectURL string
	Amount      int64
	Currency    string
}

// Handler wires the ledger and session store together for the checkout
// endpoint.
type Handler struct {
	ledger         accounting.Ledger
	sessions       paysession.Store
	reservationTTL time.Duration
	redirectPrefix string
	log            zerolog.Logger
}

// NewHandler wires a Handler. redirectPrefix is prepended to the psid to
// build the provider redirect URL (e.g. "/pay/").
func NewHandler(ledger accounting.Ledger, sessions paysession.Store, reservationTTL time.Duration, redirectPrefix string, logger zerolog.Logger) *Handler {
	return &Handler{
		ledger:         ledger,
		sessions:       sessions,
		reservationTTL: reservationTTL,
		redirectPrefix: redirectPrefix,
		log:            logger.With().Str("component", "checkout").Logger(),
	}
}

func resourceForClass(cls string) (ticket, goodie accounting.Resource, ok bool) {
	switch cls {
	case "A":
		return accounting.ClassA, accounting.Goodie, true
	case "B":
		return accounting.ClassB, accounting.Goodie, true
	default:
		return "", "", false
	}
}

func validate(req Request) error {
	if _, _, ok := resourceForClass(req.Cls); !ok {
		return ErrBadClass
	}
	if req.CustomerEmail == "" || !emailPattern.MatchString(req.CustomerEmail) {
		return ErrBadEmail
	}
	return nil
}

// Checkout validates req, reserves one ticket and one goodie slot, and
// saves the handoff session. On sold-out it releases any goodie hold it
// managed to acquire before returning ErrSoldOut.
func (h *Handler) Checkout(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	ticketResource, goodieResource, _ := resourceForClass(req.Cls)
	amount := priceTable[req.Cls]

	results, err := h.ledger.ReserveMany(ctx, []accounting.TransferRequest{
		{Resource: ticketResource, Qty: 1, Timeout: h.reservationTTL},
		{Resource: goodieResource, Qty: 1, Timeout: h.reservationTTL},
	})
	if err != nil {
		return Result{}, fmt.Errorf("checkout: reserve: %w", err)
	}

	ticketID, ticketAccepted := results[0].ID, results[0].Accepted
	goodieID, goodieAccepted := results[1].ID, results[1].Accepted

	if !ticketAccepted {
		if goodieAccepted {
			// Best-effort: matches the original implementation's
			// goodie-void-on-sold-out path, which also ignores errors here.
			if voidErr := h.ledger.Void(ctx, goodieID); voidErr != nil {
				h.log.Warn().Err(voidErr).Str("transfer_id", string(goodieID)).Msg("failed to void goodie hold on sold out")
			}
		}
		return Result{}, ErrSoldOut
	}

	orderID := uuid.New().String()
	psid := uuid.New().String()
	now := time.Now()

	session := paysession.Session{
		PSID:             psid,
		OrderID:          orderID,
		Cls:              req.Cls,
		Qty:              1,
		Amount:           amount,
		Currency:         currency,
		CustomerEmail:    req.CustomerEmail,
		TicketTransferID: string(ticketID),
		GoodieTransferID: goodieIDOrEmpty(goodieAccepted, goodieID),
		TryGoodie:        goodieAccepted,
		CreatedAt:        now,
		ExpiresAt:        now.Add(h.reservationTTL + 60*time.Second),
	}

	if err := h.sessions.Save(ctx, session); err != nil {
		return Result{}, fmt.Errorf("checkout: save session: %w", err)
	}

	return Result{
		OrderID:     orderID,
		RedirectURL: h.redirectPrefix + psid,
		Amount:      amount,
		Currency:    currency,
	}, nil
}

func goodieIDOrEmpty(accepted bool, id accounting.TransferID) string {
	if !accepted {
		return ""
	}
	return string(id)
}
