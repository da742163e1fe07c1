// Package config loads the settings of the action engine and its adapters.
//
// Settings come from a YAML file laid over the built-in defaults, then from
// PAE_* environment variables, which a .env file in the working directory
// may provide.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/allocation"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the application.
type Config struct {
	Policy  PolicyConfig  `yaml:"policy"`
	Target  TargetConfig  `yaml:"target"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Prices  PricesConfig  `yaml:"prices"`
}

// PolicyConfig is the YAML form of portfolio.Policy. Map keys are
// lowercase layer and boundary names.
type PolicyConfig struct {
	Boundaries        portfolio.BoundaryTable `yaml:"boundaries"`
	FrictionCopy      map[string][]string     `yaml:"friction_copy"`
	CooldownHours     float64                 `yaml:"cooldown_hours"`
	EmergencyDrift    float64                 `yaml:"emergency_drift"`
	RebalanceMinDrift float64                 `yaml:"rebalance_min_drift"`
	MinDepositIRR     int64                   `yaml:"min_deposit_irr"`
	MinTradeIRR       int64                   `yaml:"min_trade_irr"`
	MaxLTV            map[string]float64      `yaml:"max_ltv"`
	LiquidationLTV    float64                 `yaml:"liquidation_ltv"`
	Loan              struct {
		Installments int `yaml:"installments"`
		TermDays     int `yaml:"term_days"`
	} `yaml:"loan"`
	Protection struct {
		MinDays     int `yaml:"min_days"`
		MaxDays     int `yaml:"max_days"`
		DefaultDays int `yaml:"default_days"`
	} `yaml:"protection"`
	FeeRate      float64 `yaml:"fee_rate"`
	SlippageRate float64 `yaml:"slippage_rate"`
	HighVol      struct {
		Window             int     `yaml:"window"`
		Threshold          float64 `yaml:"threshold"`
		SlippageMultiplier float64 `yaml:"slippage_multiplier"`
	} `yaml:"high_vol"`
	WeightBounds struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	} `yaml:"weight_bounds"`
	Halted []string `yaml:"halted"`
}

// TargetConfig is the default target allocation of new portfolios.
type TargetConfig struct {
	Foundation float64 `yaml:"foundation"`
	Growth     float64 `yaml:"growth"`
	Upside     float64 `yaml:"upside"`
}

// LoggingConfig configures package logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
	// File enables a rotated log file next to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects where portfolios are persisted. DSN is a directory for
// the file driver, a database path for sqlite and a URL for postgres.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PricesConfig locates the price document and the JSONPath of each value in it.
// File may be an http or https URL; responses are then cached for CacheTTL.
type PricesConfig struct {
	File      string            `yaml:"file"`
	CacheTTL  time.Duration     `yaml:"cache_ttl"`
	FXRate    string            `yaml:"fx_rate"`
	Quotes    map[string]string `yaml:"quotes"`
	DirectIRR map[string]string `yaml:"direct_irr"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	p := portfolio.DefaultPolicy()
	cfg := &Config{
		Target:  TargetConfig{Foundation: 0.50, Growth: 0.35, Upside: 0.15},
		Logging: LoggingConfig{Level: "info", Format: "json", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{Driver: DriverFile, DSN: "portfolios"},
		Prices: PricesConfig{
			File:     "prices.json",
			CacheTTL: time.Minute,
			FXRate:   "$.fx.usd_irr",
			Quotes:   make(map[string]string),
		},
	}
	for _, id := range portfolio.Assets() {
		if !portfolio.MustAsset(id).FixedIncome {
			cfg.Prices.Quotes[string(id)] = "$.quotes." + string(id)
		}
	}

	pc := &cfg.Policy
	pc.Boundaries = p.Boundaries
	pc.FrictionCopy = make(map[string][]string, len(p.FrictionCopy))
	for b, lines := range p.FrictionCopy {
		pc.FrictionCopy[strings.ToLower(string(b))] = lines
	}
	pc.CooldownHours = p.Cooldown.Hours()
	pc.EmergencyDrift = p.EmergencyDrift
	pc.RebalanceMinDrift = p.RebalanceMinDrift
	pc.MinDepositIRR = p.MinDepositIRR.Decimal().IntPart()
	pc.MinTradeIRR = p.MinTradeIRR.Decimal().IntPart()
	pc.MaxLTV = make(map[string]float64, len(p.MaxLTV))
	for l, v := range p.MaxLTV {
		pc.MaxLTV[strings.ToLower(string(l))] = v
	}
	pc.LiquidationLTV = p.LiquidationLTV
	pc.Loan.Installments = p.DefaultInstallments
	pc.Loan.TermDays = p.DefaultTermDays
	pc.Protection.MinDays = p.MinProtectionDays
	pc.Protection.MaxDays = p.MaxProtectionDays
	pc.Protection.DefaultDays = p.DefaultProtectionDays
	pc.FeeRate = p.FeeRate
	pc.SlippageRate = p.SlippageRate
	pc.HighVol.Window = p.HighVolWindow
	pc.HighVol.Threshold = p.HighVolThreshold
	pc.HighVol.SlippageMultiplier = p.HighVolSlippageMultiplier
	pc.WeightBounds.Min = p.WeightBounds.Min
	pc.WeightBounds.Max = p.WeightBounds.Max
	return cfg
}

// Load reads the configuration.
//
// path may be empty to use the defaults. A .env file in the working
// directory is loaded first when present; variables already set win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse %s: %w", path, err)
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv applies the PAE_* environment variables.
func overrideWithEnv(cfg *Config) error {
	str := map[string]*string{
		"PAE_LOG_LEVEL":    &cfg.Logging.Level,
		"PAE_LOG_FORMAT":   &cfg.Logging.Format,
		"PAE_LOG_FILE":     &cfg.Logging.File,
		"PAE_SERVER_ADDR":  &cfg.Server.Addr,
		"PAE_STORE_DRIVER": &cfg.Store.Driver,
		"PAE_STORE_DSN":    &cfg.Store.DSN,
		"PAE_PRICES_FILE":  &cfg.Prices.File,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("PAE_COOLDOWN_HOURS"); ok {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PAE_COOLDOWN_HOURS: %w", err)
		}
		cfg.Policy.CooldownHours = h
	}
	return nil
}

// Validate checks the configuration, including the policy it describes.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Target.TargetLayerPct(); err != nil {
		errs = append(errs, fmt.Errorf("target: %w", err))
	}
	if _, err := c.Policy.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: %s driver needs a dsn", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown format %q", c.Logging.Format))
	}
	if c.Prices.FXRate == "" {
		errs = append(errs, errors.New("prices: fx_rate path is required"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server: addr is required"))
	}
	return errors.Join(errs...)
}

// TargetLayerPct converts the target section.
func (t TargetConfig) TargetLayerPct() (portfolio.TargetLayerPct, error) {
	return portfolio.NewTarget(t.Foundation, t.Growth, t.Upside)
}

// Policy converts the policy section and validates the result.
func (pc PolicyConfig) Policy() (portfolio.Policy, error) {
	p := portfolio.DefaultPolicy()
	p.Boundaries = pc.Boundaries
	p.Cooldown = time.Duration(pc.CooldownHours * float64(time.Hour))
	p.EmergencyDrift = pc.EmergencyDrift
	p.RebalanceMinDrift = pc.RebalanceMinDrift
	p.MinDepositIRR = portfolio.M(pc.MinDepositIRR)
	p.MinTradeIRR = portfolio.M(pc.MinTradeIRR)
	p.LiquidationLTV = pc.LiquidationLTV
	p.DefaultInstallments = pc.Loan.Installments
	p.DefaultTermDays = pc.Loan.TermDays
	p.MinProtectionDays = pc.Protection.MinDays
	p.MaxProtectionDays = pc.Protection.MaxDays
	p.DefaultProtectionDays = pc.Protection.DefaultDays
	p.FeeRate = pc.FeeRate
	p.SlippageRate = pc.SlippageRate
	p.HighVolWindow = pc.HighVol.Window
	p.HighVolThreshold = pc.HighVol.Threshold
	p.HighVolSlippageMultiplier = pc.HighVol.SlippageMultiplier
	p.WeightBounds = allocation.Bounds{Min: pc.WeightBounds.Min, Max: pc.WeightBounds.Max}

	if len(pc.FrictionCopy) > 0 {
		p.FrictionCopy = make(portfolio.FrictionCopy, len(pc.FrictionCopy))
		for name, lines := range pc.FrictionCopy {
			b, err := portfolio.ParseBoundary(name)
			if err != nil {
				return portfolio.Policy{}, fmt.Errorf("friction_copy: %w", err)
			}
			p.FrictionCopy[b] = lines
		}
	}
	if len(pc.MaxLTV) > 0 {
		p.MaxLTV = make(map[portfolio.Layer]float64, len(pc.MaxLTV))
		for name, v := range pc.MaxLTV {
			l, err := portfolio.ParseLayer(name)
			if err != nil {
				return portfolio.Policy{}, fmt.Errorf("max_ltv: %w", err)
			}
			p.MaxLTV[l] = v
		}
	}
	if len(pc.Halted) > 0 {
		p.Halted = make(map[portfolio.AssetID]bool, len(pc.Halted))
		for _, name := range pc.Halted {
			id, err := portfolio.ParseAssetID(name)
			if err != nil {
				return portfolio.Policy{}, fmt.Errorf("halted: %w", err)
			}
			p.Halted[id] = true
		}
	}
	if err := p.Validate(); err != nil {
		return portfolio.Policy{}, err
	}
	return p, nil
}
