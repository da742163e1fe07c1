// Package cmd implements the CLI application to drive portfolio actions.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/config"
	"github.com/blumarkets/portfolio/logging"
	"github.com/blumarkets/portfolio/quotes"
	"github.com/blumarkets/portfolio/server"
	"github.com/blumarkets/portfolio/store"
	"github.com/blumarkets/portfolio/store/file"
	"github.com/blumarkets/portfolio/store/memory"
	"github.com/blumarkets/portfolio/store/postgres"
	"github.com/blumarkets/portfolio/store/sqlite"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var (
	configFile  = flag.String("config", os.Getenv("PAE_CONFIG"), "Path to the YAML configuration file")
	portfolioID = flag.String("portfolio", "default", "Identifier of the portfolio to work on")
	rawOutput   = flag.Bool("raw", false, "Print markdown as is instead of rendering it for the terminal")
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&initCmd{}, "portfolio")
	c.Register(&listCmd{}, "portfolio")
	c.Register(&snapshotCmd{}, "portfolio")
	c.Register(&logCmd{}, "portfolio")

	for _, a := range actionCommands() {
		c.Register(a, "actions")
	}
	c.Register(&liquidateCmd{}, "actions")

	c.Register(&serveCmd{}, "service")
}

// app is what a command runs against: configuration, logger, store and prices.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	policy portfolio.Policy
	target portfolio.TargetLayerPct
	store  store.Store
	reg    *server.Registry
	prices quotes.Source
	now    func() time.Time

	closers []io.Closer
}

// openApp loads the configuration and opens the store it names.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	log, logCloser, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, now: time.Now, closers: []io.Closer{logCloser}}

	if a.policy, err = cfg.Policy.Policy(); err != nil {
		a.Close()
		return nil, err
	}
	if a.target, err = cfg.Target.TargetLayerPct(); err != nil {
		a.Close()
		return nil, err
	}
	if a.store, err = openStore(ctx, cfg.Store); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store)
	if a.prices, err = priceSource(cfg.Prices, log); err != nil {
		a.Close()
		return nil, err
	}
	a.reg = server.NewRegistry(a.store, a.policy, log)
	return a, nil
}

// Close releases the store and the log file, most recent first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// engine returns the engine of the selected portfolio.
func (a *app) engine(ctx context.Context) (*portfolio.Engine, error) {
	e, err := a.reg.Get(ctx, *portfolioID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("portfolio %q does not exist, create it with 'pae init': %w", *portfolioID, err)
	}
	return e, err
}

// inputs reads current prices. Quotes are attached by the caller.
func (a *app) inputs(ctx context.Context) (portfolio.Inputs, error) {
	p, err := a.prices.Prices(ctx)
	if err != nil {
		return portfolio.Inputs{}, fmt.Errorf("could not read prices: %w", err)
	}
	return portfolio.Inputs{Prices: p, Now: a.now()}, nil
}

// openStore opens the configured store driver.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverFile:
		return file.New(cfg.DSN)
	case config.DriverSQLite:
		return sqlite.New(cfg.DSN)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// priceSource reads the price document, through an on disk cache when it is a URL.
func priceSource(cfg config.PricesConfig, log logrus.FieldLogger) (quotes.Source, error) {
	r, err := quotes.NewReader(cfg)
	if err != nil {
		return nil, err
	}
	var opts []quotes.DocumentOption
	if dir, err := os.UserCacheDir(); err == nil && cfg.CacheTTL > 0 {
		opts = append(opts, quotes.WithClient(quotes.Cached(filepath.Join(dir, "pae"), cfg.CacheTTL, log)))
	}
	return quotes.NewDocument(r, cfg.File, opts...), nil
}

// fail prints err and returns the failure status.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return subcommands.ExitFailure
}
