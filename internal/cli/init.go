// Package cli provides common initialization shared by cmd/campus-worker and
// cmd/campusctl.
package cli

import (
	"context"
	"fmt"
	"time"

	"campuschain/internal/amqp"
	"campuschain/internal/backend"
	"campuschain/internal/cache"
	"campuschain/internal/config"
	"campuschain/internal/ledger"
	"campuschain/internal/ledger/memory"
	"campuschain/internal/log"
	"campuschain/internal/services"
	"campuschain/internal/storage"
	"campuschain/internal/vault"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger installs a text logger at the given LOG_LEVEL as the process
// default and returns it tagged with component.
func SetupLogger(level, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Component: component,
	})
	log.SetDefault(logger)
	return logger
}

// LoadConfig loads and validates the configuration.
func LoadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App holds the wired components of one process.
type App struct {
	Config  *config.Config
	Repo    *storage.SQLiteRepository
	Vault   *vault.Vault
	Ledger  ledger.Client
	Network *memory.Network // memory backend only
	AMQP    *amqp.Client    // nil when AMQP_URL is unset
	Caches  *cache.Manager

	Registration *services.RegistrationService
	Executor     *services.TransferExecutor
	Reconciler   *services.Reconciler
	Gate         *services.PrivacyGate
	Funding      *services.FundingService

	cleanup []func() error
}

// Build opens storage, the vault and the ledger backend and wires the
// services on top of them. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	app := &App{Config: cfg, Caches: cache.NewManager()}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository at %s: %w", cfg.SQLiteDBPath, err)
	}
	app.Repo = repo
	app.cleanup = append(app.cleanup, repo.Close)

	key, err := cfg.MasterKey()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Vault, err = vault.New(repo, key)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("initialize vault: %w", err)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	res, err := backend.NewFactory(nil).CreateBackend(ctx, backendCfg)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("create ledger backend: %w", err)
	}
	app.Ledger, app.Network = res.Ledger, res.Network
	if res.Cleanup != nil {
		app.cleanup = append(app.cleanup, res.Cleanup)
	}

	var notifier services.PendingNotifier
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Pending notices are an optimization; the reconcile cycle
			// settles the same transfers without them.
			logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without pending notices", log.FieldError, err.Error())
		} else {
			app.AMQP = client
			notifier = client
			app.cleanup = append(app.cleanup, client.Close)
			logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	merchants := services.NewMerchantDirectory(repo, 256, 5*time.Minute)
	app.Caches.Register(merchants.Cache())

	app.Registration = services.NewRegistrationService(repo, app.Vault)
	app.Executor = services.NewTransferExecutor(services.ExecutorDeps{
		Principals: repo,
		Merchants:  merchants,
		Transfers:  repo,
		Signer:     app.Vault,
		Ledger:     app.Ledger,
		Aggregator: services.NewSyncAggregator(repo),
		Notifier:   notifier,
		AssetID:    cfg.AssetID,
	})
	app.Reconciler = services.NewReconciler(repo, app.Ledger, services.ReconcilerConfig{
		Interval:      cfg.ReconcileInterval,
		Concurrency:   cfg.ReconcileConcurrency,
		PendingExpiry: cfg.PendingExpiry,
		AssetID:       cfg.AssetID,
		TreasuryID:    cfg.TreasuryPrincipalID,
	})
	app.Gate = services.NewPrivacyGate(repo, app.Ledger, cfg.AssetID)
	app.Funding = services.NewFundingService(repo, app.Vault, app.Ledger, cfg.TreasuryPrincipalID, cfg.AssetID)

	logger.InfoContext(ctx, "Application wired",
		log.FieldBackend, cfg.LedgerBackend,
		"asset_id", cfg.AssetID,
		"db_path", cfg.SQLiteDBPath,
		"amqp_enabled", app.AMQP != nil)
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	a.Caches.Stop()
	var first error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil && first == nil {
			first = err
		}
	}
	a.cleanup = nil
	return first
}
