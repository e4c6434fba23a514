package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"rumiprotocol/config"
	"rumiprotocol/observability/logging"
	"rumiprotocol/protocol"
	"rumiprotocol/protocol/eventlog"
	"rumiprotocol/protocol/ledger"
	"rumiprotocol/protocol/oracle"
	"rumiprotocol/storage"
)

func main() {
	configFile := flag.String("config", "./rumid.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Logging.Service, cfg.Logging.Env, logging.ParseLevel(cfg.Logging.Level))

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db, logger)
	if err != nil {
		logger.Error("Failed to start engine", slog.Any("error", err))
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Oracle.RequestsPerMinute)), 1)
	source := oracle.NewHTTPClient(cfg.Oracle.Endpoint, httpClient, limiter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refreshOnce(ctx, engine, source, logger)
	go priceLoop(ctx, engine, source, time.Duration(cfg.Oracle.RefreshSeconds)*time.Second, logger)
	go pendingLoop(ctx, engine, time.Duration(cfg.Protocol.PendingRetrySeconds)*time.Second, logger)

	// Ledger endpoints can embed credentials, so they are masked.
	logger.Info("rumid started",
		logging.MaskField("backend", cfg.Storage.Backend),
		logging.MaskField("developer", cfg.Protocol.Developer),
		logging.MaskField("icp_ledger", cfg.Ledgers.ICPEndpoint),
		logging.MaskField("icusd_ledger", cfg.Ledgers.IcusdEndpoint))
	<-ctx.Done()
	logger.Info("rumid stopping")
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Storage.Backend {
	case "leveldb":
		return storage.NewLevelDB(cfg.Storage.Path)
	case "bolt":
		return storage.NewBoltDB(cfg.Storage.Path)
	case "memory":
		return storage.NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildEngine wires the clients, folds the event log and records the
// init event on a first run.
func buildEngine(cfg *config.Config, db storage.Database, logger *slog.Logger) (*protocol.Engine, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	engine := protocol.NewEngine(eventlog.New(db))
	engine.SetLedgers(
		ledger.NewHTTPClient(cfg.Ledgers.ICPEndpoint, httpClient),
		ledger.NewHTTPClient(cfg.Ledgers.IcusdEndpoint, httpClient),
	)
	engine.SetRateTracker(oracle.NewTracker(time.Duration(cfg.Oracle.StaleAfterSeconds) * time.Second))
	engine.SetLogger(logger)

	if err := engine.Bootstrap(); err != nil {
		return nil, err
	}
	if _, initialized := engine.ProtocolConfig(); !initialized {
		developer, err := cfg.DeveloperAddress()
		if err != nil {
			return nil, err
		}
		if err := engine.Init(protocol.Config{
			FeeE8s:      cfg.Ledgers.FeeE8s,
			IcpLedger:   cfg.Ledgers.ICPEndpoint,
			IcusdLedger: cfg.Ledgers.IcusdEndpoint,
			Oracle:      cfg.Oracle.Endpoint,
			Developer:   developer,
		}); err != nil {
			return nil, err
		}
		logger.Info("protocol initialised", slog.String("developer", developer.String()))
	}
	return engine, nil
}

// priceLoop refreshes the exchange rate and runs the liquidation scan
// after every accepted quote.
func priceLoop(ctx context.Context, engine *protocol.Engine, source *oracle.HTTPClient, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshOnce(ctx, engine, source, logger)
		}
	}
}

func refreshOnce(ctx context.Context, engine *protocol.Engine, source *oracle.HTTPClient, logger *slog.Logger) {
	quote, err := source.FetchPrice(ctx)
	if err != nil {
		// The tracker keeps the last good quote; operations fail with
		// a staleness error only once it ages out.
		logger.Warn("price refresh failed", slog.Any("error", err))
		return
	}
	if err := engine.UpdatePrice(quote); err != nil {
		logger.Warn("price update rejected", slog.Any("error", err))
		return
	}
	n, err := engine.CheckVaults(ctx)
	if err != nil {
		if !protocol.IsUnavailable(err) && !errors.Is(err, protocol.ErrAlreadyProcessing) {
			logger.Error("vault scan failed", slog.Any("error", err))
		}
		return
	}
	if n > 0 {
		logger.Info("vaults liquidated", slog.Int("count", n))
	}
}

// pendingLoop drives queued payouts until they settle.
func pendingLoop(ctx context.Context, engine *protocol.Engine, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.ProcessPendingTransfers(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, protocol.ErrAlreadyProcessing) {
					continue
				}
				logger.Warn("pending transfer pass failed", slog.Any("error", err))
			}
		}
	}
}
