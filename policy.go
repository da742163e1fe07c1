package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/blumarkets/portfolio/allocation"
)

// Policy holds every tunable rule of the engine.
type Policy struct {
	Boundaries   BoundaryTable
	FrictionCopy FrictionCopy

	// Cooldown is the minimum time between two rebalances. It is waived when
	// the portfolio drifted more than EmergencyDrift.
	Cooldown       time.Duration
	EmergencyDrift float64
	// RebalanceMinDrift is the drift under which a rebalance has nothing to do.
	RebalanceMinDrift float64

	MinDepositIRR Money
	MinTradeIRR   Money

	// MaxLTV is the loan-to-value limit per collateral layer, used when the
	// loan quote does not carry one.
	MaxLTV         map[Layer]float64
	LiquidationLTV float64
	// Loan terms used when the draft leaves them empty.
	DefaultInstallments int
	DefaultTermDays     int

	MinProtectionDays     int
	MaxProtectionDays     int
	DefaultProtectionDays int

	// FeeRate and SlippageRate feed the informational friction estimate of rebalance plans.
	FeeRate      float64
	SlippageRate float64
	// SlippageRate is multiplied by HighVolSlippageMultiplier when the mean
	// volatility of the last HighVolWindow daily prices exceeds HighVolThreshold.
	HighVolWindow             int
	HighVolThreshold          float64
	HighVolSlippageMultiplier float64

	WeightBounds allocation.Bounds
	// Factors override the static asset profiles in intra-layer weights.
	Factors allocation.Factors
	// HistoryWindows sizes the factors derived from price history.
	HistoryWindows allocation.Windows

	// Halted assets cannot be traded until removed from this set.
	Halted map[AssetID]bool
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		Boundaries:                DefaultBoundaryTable(),
		FrictionCopy:              DefaultFrictionCopy(),
		Cooldown:                  24 * time.Hour,
		EmergencyDrift:            0.10,
		RebalanceMinDrift:         0.01,
		MinDepositIRR:             M(1_000_000),
		MinTradeIRR:               M(1_000_000),
		MaxLTV:                    map[Layer]float64{Foundation: 0.7, Growth: 0.5, Upside: 0.3},
		LiquidationLTV:            0.9,
		DefaultInstallments:       6,
		DefaultTermDays:           180,
		MinProtectionDays:         7,
		MaxProtectionDays:         365,
		DefaultProtectionDays:     30,
		FeeRate:                   0.003,
		SlippageRate:              0.002,
		HighVolWindow:             5,
		HighVolThreshold:          0.02,
		HighVolSlippageMultiplier: 2,
		WeightBounds:              allocation.DefaultBounds,
		HistoryWindows:            allocation.DefaultWindows,
	}
}

// Validate checks the internal consistency of a policy.
func (p Policy) Validate() error {
	var errs []error
	if err := p.Boundaries.Validate(); err != nil {
		errs = append(errs, err)
	}
	if p.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must be >= 0, got %s", p.Cooldown))
	}
	if p.MinDepositIRR.IsNegative() || p.MinTradeIRR.IsNegative() {
		errs = append(errs, errors.New("minimum amounts must be >= 0"))
	}
	for _, l := range Layers {
		if v := p.MaxLTV[l]; v < 0 || v >= 1 {
			errs = append(errs, fmt.Errorf("max LTV for %s must be in [0, 1), got %v", l, v))
		}
	}
	if p.LiquidationLTV <= 0 || p.LiquidationLTV > 1 {
		errs = append(errs, fmt.Errorf("liquidation LTV must be in (0, 1], got %v", p.LiquidationLTV))
	}
	if p.DefaultInstallments < 1 || p.DefaultTermDays < 1 {
		errs = append(errs, errors.New("default loan terms must be >= 1"))
	}
	if p.MinProtectionDays < 1 || p.MinProtectionDays > p.MaxProtectionDays {
		errs = append(errs, fmt.Errorf("protection duration bounds [%d, %d] are invalid", p.MinProtectionDays, p.MaxProtectionDays))
	}
	if p.FeeRate < 0 || p.SlippageRate < 0 {
		errs = append(errs, errors.New("friction rates must be >= 0"))
	}
	if p.HighVolSlippageMultiplier < 0 {
		errs = append(errs, fmt.Errorf("high volatility slippage multiplier must be >= 0, got %v", p.HighVolSlippageMultiplier))
	}
	return errors.Join(errs...)
}

// factors returns the intra-layer factors: static profiles overlaid with
// policy factors, then with those derived from history, then with the
// per-call ones.
func (p Policy) factors(history map[string][]float64, extra allocation.Factors) allocation.Factors {
	base := make(allocation.Factors, len(assetTable))
	for id, m := range assetTable {
		base[string(id)] = allocation.Factor{Volatility: m.Volatility, Liquidity: m.Liquidity}
	}
	derived := allocation.FactorsFromHistory(history, p.HistoryWindows)
	return base.Overlay(p.Factors).Overlay(derived).Overlay(extra)
}

// slippage returns the slippage rate for the market described by history,
// and whether it is a high volatility one.
func (p Policy) slippage(history map[string][]float64) (float64, bool) {
	vol, ok := allocation.RecentVolatility(history, p.HighVolWindow)
	if !ok || !(vol > p.HighVolThreshold) || p.HighVolSlippageMultiplier <= 0 {
		return p.SlippageRate, false
	}
	return p.SlippageRate * p.HighVolSlippageMultiplier, true
}

func (p Policy) tradeable(id AssetID) bool {
	m, ok := LookupAsset(id)
	return ok && m.Tradeable && !p.Halted[id]
}
