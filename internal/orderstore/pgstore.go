package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/dbgate"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
  order_id           TEXT PRIMARY KEY,
  ticket_transfer_id TEXT NOT NULL UNIQUE,
  goodie_transfer_id TEXT,
  try_goodie         BOOLEAN NOT NULL,
  cls                TEXT NOT NULL,
  qty                INTEGER NOT NULL,
  amount             BIGINT NOT NULL,
  currency           TEXT NOT NULL,
  customer_email     TEXT NOT NULL,
  status             TEXT NOT NULL,
  created_at         TIMESTAMPTZ NOT NULL,
  paid_at            TIMESTAMPTZ,
  ticket_code        TEXT UNIQUE,
  got_goodie         BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
CREATE INDEX IF NOT EXISTS idx_orders_cls ON orders (cls);
`

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint violation.
const uniqueViolation = "23505"

// PgStore is the relational implementation of Store.
type PgStore struct {
	db   *sql.DB
	gate *dbgate.Gate
	log  zerolog.Logger
}

// NewPgStore runs the idempotent schema migration and returns a ready PgStore.
func NewPgStore(ctx context.Context, db *sql.DB, gate *dbgate.Gate, logger zerolog.Logger) (*PgStore, error) {
	s := &PgStore{db: db, gate: gate, log: logger.With().Str("component", "orderstore").Logger()}
	if err := gate.Do(ctx, func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, schemaSQL)
		return err
	}); err != nil {
		return nil, fmt.Errorf("orderstore: schema migration failed: %w", err)
	}
	s.log.Info().Msg("order schema ready")
	return s, nil
}

func (s *PgStore) Create(ctx context.Context, order Order) error {
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO orders(
				order_id, ticket_transfer_id, goodie_transfer_id, try_goodie,
				cls, qty, amount, currency, customer_email, status,
				created_at, paid_at, ticket_code, got_goodie
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, order.OrderID, order.TicketTransferID, nullIfEmpty(order.GoodieTransferID),
			order.TryGoodie, order.Cls, order.Qty, order.Amount, order.Currency,
			order.CustomerEmail, string(order.Status), order.CreatedAt,
			nullTime(order.PaidAt), nullStr(order.TicketCode), order.GotGoodie,
		)
		return err
	})

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("orderstore: create %s: %w", order.OrderID, err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, orderID string) (Order, error) {
	var order Order
	var goodieID, ticketCode sql.NullString
	var paidAt sql.NullTime
	var status string

	err := s.gate.Do(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT order_id, ticket_transfer_id, goodie_transfer_id, try_goodie,
			       cls, qty, amount, currency, customer_email, status,
			       created_at, paid_at, ticket_code, got_goodie
			FROM orders WHERE order_id = $1
		`, orderID).Scan(
			&order.OrderID, &order.TicketTransferID, &goodieID, &order.TryGoodie,
			&order.Cls, &order.Qty, &order.Amount, &order.Currency, &order.CustomerEmail,
			&status, &order.CreatedAt, &paidAt, &ticketCode, &order.GotGoodie,
		)
	})
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("orderstore: get %s: %w", orderID, err)
	}

	order.Status = Status(status)
	order.GoodieTransferID = goodieID.String
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	if ticketCode.Valid {
		c := ticketCode.String
		order.TicketCode = &c
	}
	return order, nil
}

func (s *PgStore) CountByResource(ctx context.Context, cls string) (int64, error) {
	var n int64
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM orders WHERE cls = $1 AND status = 'PAID'`,
			cls,
		).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("orderstore: count by resource %s: %w", cls, err)
	}
	return n, nil
}

func (s *PgStore) ListPaidUnfulfilled(ctx context.Context, limit int) ([]Order, error) {
	var orders []Order
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT order_id, ticket_transfer_id, goodie_transfer_id, try_goodie,
			       cls, qty, amount, currency, customer_email, status,
			       created_at, paid_at, ticket_code, got_goodie
			FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2
		`, string(StatusPaidUnfulfilled), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var order Order
			var goodieID, ticketCode sql.NullString
			var paidAt sql.NullTime
			var status string
			if err := rows.Scan(
				&order.OrderID, &order.TicketTransferID, &goodieID, &order.TryGoodie,
				&order.Cls, &order.Qty, &order.Amount, &order.Currency, &order.CustomerEmail,
				&status, &order.CreatedAt, &paidAt, &ticketCode, &order.GotGoodie,
			); err != nil {
				return err
			}
			order.Status = Status(status)
			order.GoodieTransferID = goodieID.String
			if paidAt.Valid {
				t := paidAt.Time
				order.PaidAt = &t
			}
			if ticketCode.Valid {
				c := ticketCode.String
				order.TicketCode = &c
			}
			orders = append(orders, order)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("orderstore: list paid unfulfilled: %w", err)
	}
	return orders, nil
}

func (s *PgStore) ListRecent(ctx context.Context, limit int) ([]Order, error) {
	var orders []Order
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT order_id, ticket_transfer_id, goodie_transfer_id, try_goodie,
			       cls, qty, amount, currency, customer_email, status,
			       created_at, paid_at, ticket_code, got_goodie
			FROM orders ORDER BY created_at DESC LIMIT $1
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var order Order
			var goodieID, ticketCode sql.NullString
			var paidAt sql.NullTime
			var status string
			if err := rows.Scan(
				&order.OrderID, &order.TicketTransferID, &goodieID, &order.TryGoodie,
				&order.Cls, &order.Qty, &order.Amount, &order.Currency, &order.CustomerEmail,
				&status, &order.CreatedAt, &paidAt, &ticketCode, &order.GotGoodie,
			); err != nil {
				return err
			}
			order.Status = Status(status)
			order.GoodieTransferID = goodieID.String
			if paidAt.Valid {
				t := paidAt.Time
				order.PaidAt = &t
			}
			if ticketCode.Valid {
				c := ticketCode.String
				order.TicketCode = &c
			}
			orders = append(orders, order)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("orderstore: list recent: %w", err)
	}
	return orders, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

var _ Store = (*PgStore)(nil)
