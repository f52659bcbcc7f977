package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/coinbase"
	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/internal/logging"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/quotecache"
)

// loadConfig reads --config (if given), .env and the environment.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newClient(cfg *config.Config) *coinbase.Client {
	return coinbase.NewClient(
		coinbase.WithBaseURL(cfg.Market.BaseURL),
		coinbase.WithTimeout(cfg.Market.TimeoutDuration()),
		coinbase.WithRateLimit(cfg.Market.RateLimit, int(cfg.Market.RateLimit)+1),
		coinbase.WithUserAgent("papertrade/"+version),
	)
}

func newCache(cfg *config.Config, src quotecache.Fetcher, log logrus.FieldLogger) *quotecache.Cache {
	opts := []quotecache.Option{
		quotecache.WithFreshWindow(cfg.Cache.FreshDuration()),
		quotecache.WithLogger(log),
	}
	if d := cfg.Cache.StaleDuration(); d > 0 {
		opts = append(opts, quotecache.WithStaleBound(d))
	}
	return quotecache.New(src, opts...)
}

func openStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Ledger.Store {
	case "sqlite":
		s, err := ledger.OpenSQLite(cfg.Ledger.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		return s, nil
	default:
		return ledger.NewMemoryStore(), nil
	}
}

func newLedger(cfg *config.Config, store ledger.Store, log logrus.FieldLogger) *ledger.Ledger {
	return ledger.New(store,
		ledger.WithStartingBalance(cfg.Ledger.StartingBalanceDecimal()),
		ledger.WithLogger(log),
	)
}
