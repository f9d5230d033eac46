// Command api is the ticket-sale HTTP server: it wires the configured
// accounting and payment-session backends, the checkout/webhook/readapi
// service layer, and the HTTP surface, then serves until told to shut down.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/checkout"
	"github.com/renerocksai/tigerfans-go/internal/config"
	"github.com/renerocksai/tigerfans-go/internal/dbgate"
	"github.com/renerocksai/tigerfans-go/internal/httpapi"
	"github.com/renerocksai/tigerfans-go/internal/logging"
	"github.com/renerocksai/tigerfans-go/internal/orderstore"
	"github.com/renerocksai/tigerfans-go/internal/paysession"
	"github.com/renerocksai/tigerfans-go/internal/readapi"
	"github.com/renerocksai/tigerfans-go/internal/reconcile"
	"github.com/renerocksai/tigerfans-go/internal/webhook"
)

// mockPayRedirectPrefix is prepended to a payment session id to build the
// redirect URL the buyer is sent to after checkout.
const mockPayRedirectPrefix = "/mockpay/"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Str("acct_backend", cfg.AcctBackend).
		Str("paysession_backend", cfg.PaysessionBackend).
		Msg("starting tigerfans api")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBPoolSize + cfg.DBMaxOverflow)
	db.SetMaxIdleConns(cfg.DBPoolSize)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		logger.Fatal().Err(err).Msg("database ping failed")
	}
	pingCancel()

	gate := dbgate.New(cfg.DBGateLimit)
	ctx := context.Background()

	orders, err := orderstore.NewPgStore(ctx, db, gate, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("order store init failed")
	}

	ledger := mustLedger(ctx, cfg, db, gate, logger)
	sessions := mustSessions(ctx, cfg, db, gate, logger)

	checkoutHandler := checkout.NewHandler(
		ledger,
		sessions,
		cfg.ReservationTTL,
		mockPayRedirectPrefix,
		logger,
	)
	webhookHandler := webhook.NewHandler(ledger, sessions, orders, cfg.MockSecret, logger)
	readAPI := readapi.New(ledger, sessions, orders, cfg.CapacityGoodie)

	reconciler := reconcile.NewChecker(ledger, orders, logger)
	reconciler.StartPeriodic(15 * time.Minute)

	api := httpapi.New(
		checkoutHandler,
		webhookHandler,
		readAPI,
		reconciler,
		cfg.AdminUsername,
		cfg.AdminPassword,
		logger,
	)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = httpapi.CORS(handler)
	handler = httpapi.LoggingMiddleware(logger)(handler)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	reconciler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Only the remote-ledger backend batches asynchronously and needs an
	// explicit flush before the process exits.
	if flusher, ok := ledger.(interface{ ForceFlush(context.Context) error }); ok {
		if err := flusher.ForceFlush(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("ledger flush on shutdown failed")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}

// mustLedger selects and constructs the configured accounting backend,
// exiting the process on failure.
func mustLedger(ctx context.Context, cfg *config.Config, db *sql.DB, gate *dbgate.Gate, logger zerolog.Logger) accounting.Ledger {
	if cfg.AcctBackend == "tb" {
		logger.Info().Str("addr", cfg.TBAddress).Msg("using remote ledger backend")
		return accounting.NewRemoteLedger(cfg.TBAddress, 2*time.Second)
	}

	logger.Info().Msg("using postgres ledger backend")
	capacities := map[accounting.Resource]int64{
		accounting.ClassA: cfg.CapacityClassA,
		accounting.ClassB: cfg.CapacityClassB,
		accounting.Goodie: cfg.CapacityGoodie,
	}
	pg, err := accounting.NewPgLedger(ctx, db, gate, capacities, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres ledger init failed")
	}
	return pg
}

// mustSessions selects and constructs the configured payment-session store,
// exiting the process on failure.
func mustSessions(ctx context.Context, cfg *config.Config, db *sql.DB, gate *dbgate.Gate, logger zerolog.Logger) paysession.Store {
	if cfg.PaysessionBackend == "pg" {
		logger.Info().Msg("using postgres payment session backend")
		pg, err := paysession.NewPgStore(ctx, db, gate, cfg.ReservationTTL+60*time.Second, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres payment session init failed")
		}
		return pg
	}

	logger.Info().Str("addr", cfg.RedisURL).Msg("using redis payment session backend")
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		PoolSize: cfg.RedisMaxConn,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis ping failed")
	}
	return paysession.NewRedisStore(rdb, cfg.ReservationTTL+60*time.Second)
}
