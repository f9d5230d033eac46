// Package httpapi is the HTTP/JSON REST layer: decode request, call a
// plain Go-interface service method (checkout.Handler, webhook.Handler,
// readapi.API), encode response. The external interface is plain JSON, so
// this layer is a thin REST wrapper in front of the service layer rather
// than a generated RPC stub.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/checkout"
	"github.com/renerocksai/tigerfans-go/internal/metrics"
	"github.com/renerocksai/tigerfans-go/internal/readapi"
	"github.com/renerocksai/tigerfans-go/internal/reconcile"
	"github.com/renerocksai/tigerfans-go/internal/webhook"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Handler wires every service-layer component to the HTTP surface.
type Handler struct {
	checkout  *checkout.Handler
	webhook   *webhook.Handler
	read      *readapi.API
	reconcile *reconcile.Checker

	adminUsername string
	adminPassword string

	log zerolog.Logger
}

// New wires a Handler. reconciler may be nil if reconciliation is disabled.
func New(
	checkoutHandler *checkout.Handler,
	webhookHandler *webhook.Handler,
	readAPI *readapi.API,
	reconciler *reconcile.Checker,
	adminUsername, adminPassword string,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		checkout:       checkoutHandler,
		webhook:        webhookHandler,
		read:           readAPI,
		reconcile:      reconciler,
		adminUsername:  adminUsername,
		adminPassword:  adminPassword,
		log:            logger.With().Str("component", "httpapi").Logger(),
	}
}

// RegisterRoutes registers every route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/checkout", h.handleCheckout)
	mux.HandleFunc("/api/orders/", h.handleOrder)
	mux.HandleFunc("/payments/webhook", h.handleWebhook)
	mux.HandleFunc("/api/inventory", h.handleInventory)
	mux.HandleFunc("/api/pending", h.handlePending)
	mux.HandleFunc("/api/admin/goodies", h.requireAdmin(h.handleAdminGoodies))
	mux.HandleFunc("/api/admin/orders", h.requireAdmin(h.handleAdminOrders))
	mux.HandleFunc("/api/admin/reconcile", h.requireAdmin(h.handleAdminReconcile))

	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
}

// --- buyer-facing endpoints ---

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Cls           string `json:"cls"`
		CustomerEmail string `json:"customer_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		metrics.CheckoutTotal.WithLabelValues("bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, err := h.checkout.Checkout(r.Context(), checkout.Request{
		Cls:           body.Cls,
		CustomerEmail: body.CustomerEmail,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrBadClass), errors.Is(err, checkout.ErrBadEmail):
			metrics.CheckoutTotal.WithLabelValues("bad_request").Inc()
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, checkout.ErrSoldOut):
			metrics.CheckoutTotal.WithLabelValues("sold_out").Inc()
			h.writeError(w, http.StatusConflict, "Sold Out")
		default:
			metrics.CheckoutTotal.WithLabelValues("error").Inc()
			h.log.Error().Err(err).Msg("checkout failed")
			h.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	metrics.CheckoutTotal.WithLabelValues("ok").Inc()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":     result.OrderID,
		"redirect_url": result.RedirectURL,
		"amount":       result.Amount,
		"currency":     result.Currency,
	})
}

func (h *Handler) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	orderID := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	if orderID == "" || strings.Contains(orderID, "/") {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.read.Order(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, readapi.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.log.Error().Err(err).Msg("get order failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	paidAt := ""
	if order.PaidAt != nil {
		paidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":    order.OrderID,
		"status":      order.Status,
		"cls":         order.Cls,
		"qty":         order.Qty,
		"amount":      order.Amount,
		"currency":    order.Currency,
		"paid_at":     paidAt,
		"ticket_code": order.TicketCode,
		"got_goodie":  order.GotGoodie,
	})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookTotal.WithLabelValues("bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	sig := r.Header.Get("x-mockpay-signature")
	evt, err := h.webhook.Verify(body, sig)
	if err != nil {
		metrics.WebhookTotal.WithLabelValues("bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.webhook.Handle(r.Context(), evt)
	if err != nil {
		if errors.Is(err, webhook.ErrSessionNotFound) {
			metrics.WebhookTotal.WithLabelValues("not_found").Inc()
			h.writeError(w, http.StatusNotFound, "payment session not found")
			return
		}
		metrics.WebhookTotal.WithLabelValues("error").Inc()
		h.log.Error().Err(err).Msg("webhook handling failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if result.Idempotent {
		metrics.WebhookTotal.WithLabelValues("idempotent").Inc()
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "idempotent": true})
		return
	}

	metrics.WebhookTotal.WithLabelValues(strings.ToLower(string(result.OrderStatus))).Inc()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "order_status": result.OrderStatus})
}

func (h *Handler) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap, err := h.read.Inventory(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("inventory read failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"A":         resourceViewJSON(snap.A),
		"B":         resourceViewJSON(snap.B),
		"timestamp": snap.Timestamp.UTC().Format(time.RFC3339),
	})
}

func resourceViewJSON(v readapi.ResourceView) map[string]interface{} {
	return map[string]interface{}{
		"capacity":     v.Capacity,
		"posted":       v.Posted,
		"pending_live": v.PendingLive,
		"available":    v.Available,
		"sold_out":     v.SoldOut,
	}
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := parseLimit(r, "limit", 100, 500)
	total, items, err := h.read.Pending(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("pending read failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":   items,
		"total":   total,
		"limit":   limit,
		"enabled": true,
	})
}

// --- admin endpoints (basic-auth gated) ---

func (h *Handler) handleAdminGoodies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	view, err := h.read.Goodies(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("goodies read failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"used": view.Used, "limit": view.Limit})
}

func (h *Handler) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := parseLimit(r, "limit", 200, 500)
	orders, err := h.read.AdminOrders(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("admin orders read failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": orders, "limit": limit})
}

func (h *Handler) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.reconcile == nil {
		h.writeError(w, http.StatusServiceUnavailable, "reconciliation not enabled")
		return
	}
	report, err := h.reconcile.Run(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("reconciliation run failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// --- ambient endpoints ---

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// --- helpers ---

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(user, h.adminUsername) || !constantTimeEqual(pass, h.adminPassword) {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

func parseLimit(r *http.Request, param string, def, max int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().Unix(),
	})
}

// CORS is development-friendly permissive CORS middleware, matching the
// teacher's handler.go.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs every HTTP request, matching the teacher's
// handler.go.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration_ms", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
