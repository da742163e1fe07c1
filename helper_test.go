package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// testTarget is the target used by most tests: 50% foundation, 35% growth, 15% upside.
var testTarget = MustTarget(0.50, 0.35, 0.15)

// testPrices quotes every asset in USD with 1 USD = 500,000 IRR:
// USDT 500,000 IRR, PAXG 1e9, BTC 3e10, ETH 1.5e9, XRP 250,000, SOL 7.5e7 ...
func testPrices(at time.Time) Prices {
	q := map[AssetID]float64{
		USDT: 1, PAXG: 2000,
		BTC: 60000, ETH: 3000, BNB: 600, XRP: 0.5, KAG: 30, QQQ: 450,
		SOL: 150, TON: 5, LINK: 15, AVAX: 30, MATIC: 0.7, ARB: 1,
	}
	p := Prices{Quotes: make(map[AssetID]decimal.Decimal), FXRate: decimal.NewFromInt(500_000), At: at}
	for id, v := range q {
		p.Quotes[id] = decimal.NewFromFloat(v)
	}
	return p
}

func testInputs(at time.Time) Inputs {
	return Inputs{Prices: testPrices(at), Now: at}
}

// balancedState holds 10e9 IRR exactly on target: USDT 5e9, ETH 1.5e9 + XRP 2e9, SOL 1.5e9.
func balancedState() State {
	s := NewState(testTarget)
	s.Holdings = []Holding{
		{AssetID: ETH, Quantity: Q(1), AcquiredAt: t0},
		{AssetID: SOL, Quantity: Q(20), AcquiredAt: t0},
		{AssetID: USDT, Quantity: Q(10_000), AcquiredAt: t0},
		{AssetID: XRP, Quantity: Q(8_000), AcquiredAt: t0},
	}
	return s
}

// driftedState is balancedState plus 3e9 IRR of BTC: growth is 50% against a 35% target.
func driftedState() State {
	s := balancedState()
	s.Holdings = append(s.Holdings, Holding{AssetID: BTC, Quantity: Q(0.1), AcquiredAt: t0})
	sortHoldings(s.Holdings)
	s.Cash = M(50_000_000)
	return s
}

func hasError(r ValidationResult, class string) bool {
	for _, e := range r.Errors {
		if strings.HasPrefix(e, class) {
			return true
		}
	}
	return false
}

// sequentialIDs returns an ID generator producing id-1, id-2, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}
