package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/simbroker/broker"
	"github.com/rustyeddy/simbroker/config"
	"github.com/rustyeddy/simbroker/ledger"
	"github.com/rustyeddy/simbroker/market"
)

var rootCmd = &cobra.Command{
	Use:   "simbroker",
	Short: "A simulated brokerage account driven by historical price bars",
	Long: `Simbroker replays a brokerage account against historical OHLC data.

It provides tools for:
  - Submitting, amending and cancelling orders, including brackets,
    OCA groups and multi-leg combos
  - Advancing simulated time bar-by-bar, filling working orders
  - Tracking per-instrument positions with mark-to-market accounting
  - Tracking multi-currency cash balances with FX conversion

State persists between invocations in the configured ledger store.`,
	SilenceUsage: true,
}

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./simbroker.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		return err
	}
}

// loadConfig reads the configured file, falling back to ./simbroker.yaml and
// then to defaults when no file exists.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "./simbroker.yaml"
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}
	return config.LoadFromFile(path)
}

// openBroker wires the configured store and bar source into an account.
// The returned close func releases the store.
func openBroker() (*broker.Broker, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var store ledger.Store
	closer := func() {}
	switch cfg.Store.Type {
	case "sqlite":
		db, err := ledger.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		store = db
		closer = func() { _ = db.Close() }
	default:
		store = ledger.NewMemory()
	}

	source := market.NewCSVSource(cfg.Data.Dir)
	b := broker.New(store, source.Quote,
		broker.WithCurrency(cfg.Account.Currency),
		broker.WithCommissions(cfg.Schedule()),
	)
	logger.Debug("broker ready",
		zap.String("store", cfg.Store.Type),
		zap.String("currency", cfg.Account.Currency),
		zap.String("data", cfg.Data.Dir))
	return b, closer, nil
}

// parseAsOf accepts RFC3339 or a bare date, which reads as midnight local.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("asof %q: want RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
