package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"investpool/config"
	"investpool/core"
	"investpool/observability"
	"investpool/observability/logging"
	"investpool/rpc"
	"investpool/state"
	"investpool/storage"
)

var genesisAppliedKey = []byte("genesis.applied")

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "investpoold: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	owner, err := cfg.Owner()
	if err != nil {
		return err
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logOut = logging.RotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	}
	logger := logging.Setup("investpoold", cfg.Environment, logOut)

	var db storage.Database
	if cfg.DataDir == "" {
		logger.Warn("no data directory configured, ledger state is in memory only")
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db = ldb
	}
	defer db.Close()

	store := state.NewStore(db)
	metrics := observability.NewMetrics("")
	ledger := core.NewLedger(store, core.Options{
		Owner:              owner,
		InterestRateBps:    cfg.InterestRateBps,
		CollateralRatioBps: cfg.CollateralRatioBps,
		Emitter:            observability.NewLogEmitter(logger),
	})

	if err := applyGenesis(cfg, db, ledger); err != nil {
		return err
	}

	server := rpc.NewServer(ledger, logger, metrics, rpc.Options{
		ListenAddress:     cfg.ListenAddress,
		RequestsPerMinute: cfg.RequestsPerMinute,
		RequestBurst:      cfg.RequestBurst,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// applyGenesis funds the configured balances exactly once per database.
func applyGenesis(cfg *config.Config, db storage.Database, ledger *core.Ledger) error {
	if len(cfg.Genesis) == 0 {
		return nil
	}
	applied, err := db.Has(genesisAppliedKey)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if applied {
		return nil
	}
	balances, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}
	for addr, amount := range balances {
		if err := ledger.FundAccount(ledger.Owner(), addr, amount); err != nil {
			return fmt.Errorf("genesis: fund %s: %w", addr.Hex(), err)
		}
	}
	return db.Put(genesisAppliedKey, []byte{1})
}
