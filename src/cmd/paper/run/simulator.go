package run

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/broker-bridge/src/config"
	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/simulator"
	"github.com/jiaming2012/broker-bridge/src/store"
)

// Store is what the simulator persists to.
type Store interface {
	store.AccountStore
	store.PositionStore
}

// OpenStore uses postgres when a DSN is configured and memory otherwise.
func OpenStore(cfg *config.Config) (Store, error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	db, err := store.OpenPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("OpenStore: %w", err)
	}

	return store.NewGormStore(db), nil
}

// seedAccount creates the configured account the first time it is used.
func seedAccount(ctx context.Context, st Store, cfg *config.Config) error {
	creds := cfg.Credentials

	ok, err := st.VerifyAccount(ctx, creds.UserID, creds.AccountID)
	if err != nil {
		return fmt.Errorf("seedAccount: %w", err)
	}

	if ok {
		return nil
	}

	log.Infof("creating simulated account %s with %.2f %s", creds.AccountID, cfg.Simulator.Balance, cfg.Simulator.Currency)

	return st.SaveAccountDetails(ctx, models.AccountInfo{
		ID:         creds.AccountID,
		UserID:     creds.UserID,
		BrokerName: cfg.Simulator.BrokerName,
		Currency:   cfg.Simulator.Currency,
		Balance:    cfg.Simulator.Balance,
	})
}

// StartSimulator returns a logged in, started simulator adapter. The caller stops it.
func StartSimulator(ctx context.Context, cfg *config.Config, st Store) (*simulator.Adapter, error) {
	policy, err := simulator.NewPolicy(cfg.Simulator.Policy)
	if err != nil {
		return nil, fmt.Errorf("StartSimulator: %w", err)
	}

	commission, err := simulator.NewCommissionCalculator(cfg.Simulator.Commission.Type, cfg.Simulator.Commission.Rate)
	if err != nil {
		return nil, fmt.Errorf("StartSimulator: %w", err)
	}

	if err := seedAccount(ctx, st, cfg); err != nil {
		return nil, fmt.Errorf("StartSimulator: %w", err)
	}

	adapter := simulator.NewAdapter(simulator.Config{
		Name:            "paper",
		BrokerName:      cfg.Simulator.BrokerName,
		Policy:          policy,
		Commission:      commission,
		Instruments:     simulator.Instruments(cfg.Simulator.Instruments),
		MarkInterval:    cfg.Simulator.MarkInterval,
		ReconnectWindow: cfg.ReconnectWindow,
	}, st, st)

	if err := adapter.Login(ctx, cfg.Credentials); err != nil {
		return nil, fmt.Errorf("StartSimulator: %w", err)
	}

	if err := adapter.Start(ctx); err != nil {
		adapter.Stop()
		return nil, fmt.Errorf("StartSimulator: %w", err)
	}

	return adapter, nil
}
