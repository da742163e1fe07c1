package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fixed income terms. IRR_FIXED_INCOME units are bought at a constant unit price
// and accrue simple interest from the acquisition date.
var (
	FixedIncomeUnitPrice   = M(500_000)
	FixedIncomeAnnualRate  = decimal.RequireFromString("0.30")
	fixedIncomeDaysPerYear = decimal.NewFromInt(365)
)

// Prices is the market data one valuation is computed against.
//
// Quotes are in the quote currency (USD), converted with FXRate. DirectIRR
// prices, when present and positive, take precedence over the quote.
type Prices struct {
	Quotes    map[AssetID]decimal.Decimal `json:"quotes,omitempty"`
	FXRate    decimal.Decimal             `json:"fxRate"`
	DirectIRR map[AssetID]decimal.Decimal `json:"directIrr,omitempty"`
	At        time.Time                   `json:"at"`
}

// UnitPrice returns the IRR price of one unit of a market asset. Fixed income
// always prices at FixedIncomeUnitPrice. The boolean is false when no price is available.
func (p Prices) UnitPrice(id AssetID) (Money, bool) {
	if MustAsset(id).FixedIncome {
		return FixedIncomeUnitPrice, true
	}
	if d, ok := p.DirectIRR[id]; ok && d.IsPositive() {
		return Money{value: d}, true
	}
	q, ok := p.Quotes[id]
	if !ok || !q.IsPositive() || !p.FXRate.IsPositive() {
		return Money{}, false
	}
	return Money{value: q.Mul(p.FXRate)}, true
}

// Priced reports whether the asset can be valued.
func (p Prices) Priced(id AssetID) bool {
	_, ok := p.UnitPrice(id)
	return ok
}

// Value returns the IRR value of a holding. A holding of an unpriced asset is worth 0.
func (p Prices) Value(h Holding) Money {
	if MustAsset(h.AssetID).FixedIncome {
		return accrue(FixedIncomeUnitPrice.Mul(h.Quantity), h.AcquiredAt, p.At)
	}
	price, ok := p.UnitPrice(h.AssetID)
	if !ok {
		return Money{}
	}
	return price.Mul(h.Quantity)
}

// UnitValue returns the value of one unit of the holding, accrual included.
func (p Prices) UnitValue(h Holding) (Money, bool) {
	if MustAsset(h.AssetID).FixedIncome {
		return accrue(FixedIncomeUnitPrice, h.AcquiredAt, p.At), true
	}
	return p.UnitPrice(h.AssetID)
}

// accrue applies simple interest on principal for the whole days between from and to.
func accrue(principal Money, from, to time.Time) Money {
	days := heldDays(from, to)
	if days == 0 {
		return principal
	}
	factor := FixedIncomeAnnualRate.Mul(decimal.NewFromInt(days)).Div(fixedIncomeDaysPerYear).Add(decimal.NewFromInt(1))
	return Money{value: principal.value.Mul(factor)}
}

func heldDays(from, to time.Time) int64 {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return int64(to.Sub(from) / (24 * time.Hour))
}
