package paysession

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/dbgate"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS payment_sessions_hot (
  psid               TEXT PRIMARY KEY,
  order_id           TEXT NOT NULL,
  cls                TEXT NOT NULL,
  qty                INTEGER NOT NULL,
  amount             BIGINT NOT NULL,
  currency           TEXT NOT NULL,
  customer_email     TEXT NOT NULL,
  try_goodie         BOOLEAN NOT NULL,
  ticket_transfer_id TEXT,
  goodie_transfer_id TEXT,
  created_at         TIMESTAMPTZ NOT NULL,
  expires_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_sessions_pending (
  psid       TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
  key        TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fulfillment_gates (
  psid       TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ps_hot_created_at ON payment_sessions_hot (created_at DESC);
`

// PgStore is the relational Store backend (PAYSESSION_BACKEND=pg).
type PgStore struct {
	db   *sql.DB
	gate *dbgate.Gate
	ttl  time.Duration
	log  zerolog.Logger
}

// NewPgStore runs the idempotent schema migration and returns a ready PgStore.
func NewPgStore(ctx context.Context, db *sql.DB, gate *dbgate.Gate, ttl time.Duration, logger zerolog.Logger) (*PgStore, error) {
	s := &PgStore{db: db, gate: gate, ttl: ttl, log: logger.With().Str("component", "paysession_pgstore").Logger()}
	if err := gate.Do(ctx, func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, schemaSQL)
		return err
	}); err != nil {
		return nil, fmt.Errorf("paysession: schema migration failed: %w", err)
	}
	s.log.Info().Msg("payment session schema ready")
	return s, nil
}

func (s *PgStore) Save(ctx context.Context, session Session) error {
	return s.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_sessions_hot(
				psid, order_id, cls, qty, amount, currency, customer_email,
				try_goodie, ticket_transfer_id, goodie_transfer_id, created_at, expires_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (psid) DO UPDATE SET
				order_id=EXCLUDED.order_id, cls=EXCLUDED.cls, qty=EXCLUDED.qty,
				amount=EXCLUDED.amount, currency=EXCLUDED.currency,
				customer_email=EXCLUDED.customer_email, try_goodie=EXCLUDED.try_goodie,
				ticket_transfer_id=EXCLUDED.ticket_transfer_id,
				goodie_transfer_id=EXCLUDED.goodie_transfer_id,
				created_at=EXCLUDED.created_at, expires_at=EXCLUDED.expires_at
		`, session.PSID, session.OrderID, session.Cls, session.Qty, session.Amount,
			session.Currency, session.CustomerEmail, session.TryGoodie,
			nullIfEmpty(session.TicketTransferID), nullIfEmpty(session.GoodieTransferID),
			session.CreatedAt, session.ExpiresAt,
		); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_sessions_pending(psid, created_at) VALUES ($1, $2)
			ON CONFLICT (psid) DO UPDATE SET created_at = EXCLUDED.created_at
		`, session.PSID, session.CreatedAt); err != nil {
			return fmt.Errorf("upsert pending index: %w", err)
		}

		return tx.Commit()
	})
}

func (s *PgStore) Get(ctx context.Context, psid string) (Session, error) {
	var session Session
	var ticketID, goodieID sql.NullString

	err := s.gate.Do(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT psid, order_id, cls, qty, amount, currency, customer_email,
			       try_goodie, ticket_transfer_id, goodie_transfer_id, created_at, expires_at
			FROM payment_sessions_hot WHERE psid = $1
		`, psid).Scan(
			&session.PSID, &session.OrderID, &session.Cls, &session.Qty, &session.Amount,
			&session.Currency, &session.CustomerEmail, &session.TryGoodie,
			&ticketID, &goodieID, &session.CreatedAt, &session.ExpiresAt,
		)
	})
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("paysession: get %s: %w", psid, err)
	}
	session.TicketTransferID = ticketID.String
	session.GoodieTransferID = goodieID.String
	return session, nil
}

func (s *PgStore) RemovePending(ctx context.Context, psid string) error {
	return s.gate.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM payment_sessions_pending WHERE psid = $1`, psid)
		return err
	})
}

func (s *PgStore) FulfillGate(ctx context.Context, psid string) (bool, error) {
	var claimed bool
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var returned string
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO fulfillment_gates(psid) VALUES ($1)
			ON CONFLICT (psid) DO NOTHING
			RETURNING psid
		`, psid).Scan(&returned)
		if err == sql.ErrNoRows {
			claimed = false
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (s *PgStore) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	var claimed bool
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var returned string
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO idempotency_keys(key) VALUES ($1)
			ON CONFLICT (key) DO NOTHING
			RETURNING key
		`, eventID).Scan(&returned)
		if err == sql.ErrNoRows {
			claimed = false
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// FulfillAndMarkEvent mirrors the original implementation's optimized
// combined check: it never touches idempotency_keys unless the fulfillment
// gate was claimed by this call.
func (s *PgStore) FulfillAndMarkEvent(ctx context.Context, psid, eventID string) (FulfillResult, error) {
	var result FulfillResult

	err := s.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var returned string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO fulfillment_gates(psid) VALUES ($1)
			ON CONFLICT (psid) DO NOTHING
			RETURNING psid
		`, psid).Scan(&returned)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("fulfillment gate: %w", err)
		}
		if err == sql.ErrNoRows {
			result = FulfillResult{AlreadyFulfilled: true, EventSeen: nil}
			return tx.Commit()
		}

		if eventID == "" {
			result = FulfillResult{AlreadyFulfilled: false, EventSeen: nil}
			return tx.Commit()
		}

		var idemReturned string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO idempotency_keys(key) VALUES ($1)
			ON CONFLICT (key) DO NOTHING
			RETURNING key
		`, eventID).Scan(&idemReturned)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("idempotency key: %w", err)
		}
		alreadySeen := err == sql.ErrNoRows
		result = FulfillResult{AlreadyFulfilled: false, EventSeen: &alreadySeen}
		return tx.Commit()
	})

	return result, err
}

func (s *PgStore) ListRecentPSIDs(ctx context.Context, limit int) ([]string, error) {
	var psids []string
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT psid FROM payment_sessions_pending ORDER BY created_at DESC LIMIT $1
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var psid string
			if err := rows.Scan(&psid); err != nil {
				return err
			}
			psids = append(psids, psid)
		}
		return rows.Err()
	})
	return psids, err
}

func (s *PgStore) GetRecentPaymentSessions(ctx context.Context, limit int) (int, []PendingSummary, error) {
	var total int
	var items []PendingSummary

	err := s.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_sessions_pending`).Scan(&total); err != nil {
			return fmt.Errorf("count pending: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT p.psid, h.created_at, h.order_id, h.cls, h.qty, h.amount,
			       h.currency, h.customer_email, h.try_goodie
			FROM payment_sessions_pending p
			LEFT JOIN payment_sessions_hot h ON h.psid = p.psid
			ORDER BY p.created_at DESC LIMIT $1
		`, limit)
		if err != nil {
			return fmt.Errorf("select recent: %w", err)
		}

		type row struct {
			psid          string
			createdAt     sql.NullTime
			orderID       sql.NullString
			cls           sql.NullString
			qty           sql.NullInt64
			amount        sql.NullInt64
			currency      sql.NullString
			customerEmail sql.NullString
			tryGoodie     sql.NullBool
		}
		var scanned []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.psid, &r.createdAt, &r.orderID, &r.cls, &r.qty,
				&r.amount, &r.currency, &r.customerEmail, &r.tryGoodie); err != nil {
				rows.Close()
				return fmt.Errorf("scan recent: %w", err)
			}
			scanned = append(scanned, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now()
		var missing []string
		for _, r := range scanned {
			if !r.createdAt.Valid {
				missing = append(missing, r.psid)
				continue
			}
			qty := int(r.qty.Int64)
			if qty == 0 {
				qty = 1
			}
			currency := r.currency.String
			if currency == "" {
				currency = "eur"
			}
			items = append(items, PendingSummary{
				PSID:      r.psid,
				CreatedAt: r.createdAt.Time,
				AgeMS:     now.Sub(r.createdAt.Time).Milliseconds(),
				OrderID:   r.orderID.String,
				Cls:       r.cls.String,
				Qty:       qty,
				Email:     r.customerEmail.String,
				Amount:    r.amount.Int64,
				Currency:  currency,
				TryGoodie: r.tryGoodie.Bool,
				Status:    "PENDING",
			})
		}

		for _, psid := range missing {
			if _, err := tx.ExecContext(ctx, `DELETE FROM payment_sessions_pending WHERE psid = $1`, psid); err != nil {
				return fmt.Errorf("prune dangling pending %s: %w", psid, err)
			}
		}

		return tx.Commit()
	})

	return total, items, err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*PgStore)(nil)
