package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/dbgate"
)

// schemaSQL is the idempotent migration for the relational ledger's two
// tables. The resource rows are seeded separately by NewPgLedger.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS resources (
  name     TEXT PRIMARY KEY,
  capacity BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS holds (
  id         TEXT PRIMARY KEY,
  resource   TEXT NOT NULL REFERENCES resources(name),
  qty        BIGINT NOT NULL,
  status     TEXT NOT NULL,
  expires_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_holds_resource_status ON holds (resource, status);
CREATE INDEX IF NOT EXISTS idx_holds_pending_expiry ON holds (resource, status, expires_at)
  WHERE status = 'pending';
`

// PgLedger is the relational implementation of Ledger (ACCT_BACKEND=pg).
// Every statement and transaction passes through the DB gate.
type PgLedger struct {
	db   *sql.DB
	gate *dbgate.Gate
	log  zerolog.Logger
}

// NewPgLedger opens the schema (creating it if absent, seeding capacity
// rows) and returns a ready-to-use PgLedger.
func NewPgLedger(ctx context.Context, db *sql.DB, gate *dbgate.Gate, capacities map[Resource]int64, logger zerolog.Logger) (*PgLedger, error) {
	l := &PgLedger{db: db, gate: gate, log: logger.With().Str("component", "pgledger").Logger()}

	if err := l.gate.Do(ctx, func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, schemaSQL)
		return err
	}); err != nil {
		return nil, fmt.Errorf("pgledger: schema migration failed: %w", err)
	}

	for resource, capacity := range capacities {
		if err := l.gate.Do(ctx, func(ctx context.Context) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO resources(name, capacity) VALUES ($1, $2)
				ON CONFLICT (name) DO NOTHING
			`, string(resource), capacity)
			return err
		}); err != nil {
			return nil, fmt.Errorf("pgledger: seeding resource %s failed: %w", resource, err)
		}
	}

	l.log.Info().Msg("relational ledger schema ready")
	return l, nil
}

func (l *PgLedger) Reserve(ctx context.Context, resource Resource, qty int64, timeout time.Duration) (TransferID, bool, error) {
	var id TransferID
	var accepted bool

	err := l.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var capacity int64
		if err := tx.QueryRowContext(ctx,
			`SELECT capacity FROM resources WHERE name = $1 FOR UPDATE`, string(resource),
		).Scan(&capacity); err != nil {
			return fmt.Errorf("resource %s: %w", resource, err)
		}

		posted, pendingLive, err := sumPostedAndPendingLive(ctx, tx, resource)
		if err != nil {
			return err
		}

		if posted+pendingLive+qty > capacity {
			accepted = false
			return nil
		}

		newID := uuid.New().String()
		expires := time.Now().Add(timeout)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO holds(id, resource, qty, status, expires_at)
			VALUES ($1, $2, $3, 'pending', $4)
		`, newID, string(resource), qty, expires); err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		id = TransferID(newID)
		accepted = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, accepted, nil
}

// ReserveMany is a transparent pass-through on the relational backend: each
// item is reserved sequentially in its own transaction. Batching only pays
// off against a remote RPC.
func (l *PgLedger) ReserveMany(ctx context.Context, items []TransferRequest) ([]ReserveResult, error) {
	results := make([]ReserveResult, len(items))
	for i, item := range items {
		id, accepted, err := l.Reserve(ctx, item.Resource, item.Qty, item.Timeout)
		if err != nil {
			return nil, err
		}
		results[i] = ReserveResult{ID: id, Accepted: accepted}
	}
	return results, nil
}

func (l *PgLedger) Post(ctx context.Context, id TransferID) (bool, error) {
	var result bool
	err := l.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		status, expired, err := lockHold(ctx, tx, id)
		if err == sql.ErrNoRows {
			result = false
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case status == "posted":
			result = true
		case status == "voided":
			result = false
		case status == "pending" && expired:
			result = false
		default: // pending, not expired
			if _, err := tx.ExecContext(ctx,
				`UPDATE holds SET status = 'posted' WHERE id = $1`, string(id),
			); err != nil {
				return fmt.Errorf("post hold: %w", err)
			}
			result = true
		}
		return tx.Commit()
	})
	return result, err
}

func (l *PgLedger) Void(ctx context.Context, id TransferID) error {
	return l.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		status, expired, err := lockHold(ctx, tx, id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		if status == "pending" && !expired {
			if _, err := tx.ExecContext(ctx,
				`UPDATE holds SET status = 'voided' WHERE id = $1`, string(id),
			); err != nil {
				return fmt.Errorf("void hold: %w", err)
			}
		}
		// terminal or expired: no-op, matches spec 4.1 edge-case policy
		return tx.Commit()
	})
}

func (l *PgLedger) FastBook(ctx context.Context, resource Resource, qty int64) (TransferID, bool, error) {
	var id TransferID
	var accepted bool

	err := l.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var capacity int64
		if err := tx.QueryRowContext(ctx,
			`SELECT capacity FROM resources WHERE name = $1 FOR UPDATE`, string(resource),
		).Scan(&capacity); err != nil {
			return fmt.Errorf("resource %s: %w", resource, err)
		}

		posted, pendingLive, err := sumPostedAndPendingLive(ctx, tx, resource)
		if err != nil {
			return err
		}

		if posted+pendingLive+qty > capacity {
			accepted = false
			return nil
		}

		newID := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO holds(id, resource, qty, status, expires_at)
			VALUES ($1, $2, $3, 'posted', NULL)
		`, newID, string(resource), qty); err != nil {
			return fmt.Errorf("insert fast-booked hold: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		id = TransferID(newID)
		accepted = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, accepted, nil
}

func (l *PgLedger) Inventory(ctx context.Context, resource Resource) (Inventory, error) {
	var inv Inventory
	inv.Resource = resource

	err := l.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := tx.QueryRowContext(ctx,
			`SELECT capacity FROM resources WHERE name = $1`, string(resource),
		).Scan(&inv.Capacity); err != nil {
			return fmt.Errorf("resource %s: %w", resource, err)
		}

		posted, pendingLive, err := sumPostedAndPendingLive(ctx, tx, resource)
		if err != nil {
			return err
		}
		inv.Posted = posted
		inv.PendingLive = pendingLive
		inv.Available = inv.Capacity - posted - pendingLive
		return tx.Commit()
	})
	return inv, err
}

func (l *PgLedger) GoodiesPosted(ctx context.Context) (int64, error) {
	var n int64
	err := l.gate.Do(ctx, func(ctx context.Context) error {
		return l.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(qty), 0) FROM holds WHERE resource = $1 AND status = 'posted'`,
			string(Goodie),
		).Scan(&n)
	})
	return n, err
}

// sumPostedAndPendingLive must run inside the same transaction that holds
// the resource row lock, so the read is consistent with the capacity check.
func sumPostedAndPendingLive(ctx context.Context, tx *sql.Tx, resource Resource) (posted, pendingLive int64, err error) {
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM holds WHERE resource = $1 AND status = 'posted'`,
		string(resource),
	).Scan(&posted); err != nil {
		return 0, 0, fmt.Errorf("sum posted: %w", err)
	}
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM holds
		 WHERE resource = $1 AND status = 'pending' AND (expires_at IS NULL OR expires_at > now())`,
		string(resource),
	).Scan(&pendingLive); err != nil {
		return 0, 0, fmt.Errorf("sum pending live: %w", err)
	}
	return posted, pendingLive, nil
}

// lockHold row-locks a hold and reports its status plus whether a pending
// hold has already expired, so callers get a consistent read-then-act.
func lockHold(ctx context.Context, tx *sql.Tx, id TransferID) (status string, expired bool, err error) {
	var expiresAt sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT status, expires_at FROM holds WHERE id = $1 FOR UPDATE`, string(id),
	).Scan(&status, &expiresAt); err != nil {
		return "", false, err
	}
	if status == "pending" && expiresAt.Valid && !expiresAt.Time.After(time.Now()) {
		expired = true
	}
	return status, expired, nil
}
