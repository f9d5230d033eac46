// Command seeder runs the idempotent schema migrations for every
// configured relational component and seeds the resources table with the
// configured per-class and goodie capacities. It is meant to be run once
// before cmd/api's first deploy, and is safe to re-run: every migration and
// seed insert is itself idempotent. A seed insert never overwrites an
// existing resources row, so a re-run after a capacity change leaves the
// stored capacities as they were.
package main

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/config"
	"github.com/renerocksai/tigerfans-go/internal/dbgate"
	"github.com/renerocksai/tigerfans-go/internal/logging"
	"github.com/renerocksai/tigerfans-go/internal/orderstore"
	"github.com/renerocksai/tigerfans-go/internal/paysession"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("database ping failed")
	}
	logger.Info().Msg("connected to database")

	gate := dbgate.New(cfg.DBGateLimit)

	// orders table always lives in Postgres regardless of ACCT_BACKEND /
	// PAYSESSION_BACKEND.
	if _, err := orderstore.NewPgStore(ctx, db, gate, logger); err != nil {
		logger.Fatal().Err(err).Msg("order schema migration failed")
	}

	if cfg.AcctBackend == "pg" {
		capacities := map[accounting.Resource]int64{
			accounting.ClassA: cfg.CapacityClassA,
			accounting.ClassB: cfg.CapacityClassB,
			accounting.Goodie: cfg.CapacityGoodie,
		}
		if _, err := accounting.NewPgLedger(ctx, db, gate, capacities, logger); err != nil {
			logger.Fatal().Err(err).Msg("ledger schema migration failed")
		}
	} else {
		logger.Info().Msg("ACCT_BACKEND=tb: capacities are seeded into ledgerd directly from CAPACITY_* env vars, nothing to migrate here")
	}

	if cfg.PaysessionBackend == "pg" {
		if _, err := paysession.NewPgStore(ctx, db, gate, cfg.ReservationTTL+60*time.Second, logger); err != nil {
			logger.Fatal().Err(err).Msg("payment session schema migration failed")
		}
	} else {
		logger.Info().Msg("PAYSESSION_BACKEND=redis: nothing to migrate here")
	}

	logger.Info().Msg("seeding complete")
}
