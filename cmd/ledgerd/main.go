// Command ledgerd is the external atomic ledger process. It wraps an
// in-memory ledgerengine.Engine behind the ledgerproto wire protocol, and is
// the process cmd/api talks to when ACCT_BACKEND=tb.
//
// Lifecycle:
//  1. Load configuration from env (capacities, listen address)
//  2. Start the ledgerproto server
//  3. Wait for shutdown signal
//  4. Stop accepting new connections and exit; requests still in flight
//     are not waited for
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/renerocksai/tigerfans-go/internal/accounting"
	"github.com/renerocksai/tigerfans-go/internal/config"
	"github.com/renerocksai/tigerfans-go/internal/ledgerengine"
	"github.com/renerocksai/tigerfans-go/internal/ledgerproto"
	"github.com/renerocksai/tigerfans-go/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Str("addr", cfg.TBAddress).
		Int64("capacity_class_a", cfg.CapacityClassA).
		Int64("capacity_class_b", cfg.CapacityClassB).
		Int64("capacity_goodie", cfg.CapacityGoodie).
		Msg("starting ledgerd")

	engine := ledgerengine.New(map[string]int64{
		string(accounting.ClassA): cfg.CapacityClassA,
		string(accounting.ClassB): cfg.CapacityClassB,
		string(accounting.Goodie): cfg.CapacityGoodie,
	})

	server, err := ledgerproto.NewServer(cfg.TBAddress, engine, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind ledgerd listener")
	}

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("ledgerd listening")
		if err := server.Serve(); err != nil {
			logger.Info().Err(err).Msg("ledgerd stopped serving")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	if err := server.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing ledgerd listener")
	}
	logger.Info().Msg("ledgerd shutdown complete")
}
