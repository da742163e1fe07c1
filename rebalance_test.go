package portfolio

import (
	"math"
	"reflect"
	"testing"

	"github.com/blumarkets/portfolio/allocation"
	"github.com/shopspring/decimal"
)

func planInput(s State, mode RebalanceMode) PlanInput {
	return PlanInput{
		Holdings: s.Holdings,
		Cash:     s.Cash,
		Prices:   testPrices(t0),
		Target:   s.Target,
		Mode:     mode,
		Policy:   DefaultPolicy(),
	}
}

func TestPlanRebalance_Modes(t *testing.T) {
	s := driftedState()
	before := s.Snapshot(testPrices(t0)).MaxDrift(s.Target)

	for _, mode := range []RebalanceMode{HoldingsOnly, HoldingsPlusCash, Smart} {
		t.Run(string(mode), func(t *testing.T) {
			in := planInput(s, mode)
			plan := PlanRebalance(in)
			if plan.Requested != mode {
				t.Errorf("Requested = %s, want %s", plan.Requested, mode)
			}
			if plan.Strategy != allocation.Default {
				t.Errorf("Strategy = %s, want %s", plan.Strategy, allocation.Default)
			}
			if len(plan.Trades) == 0 {
				t.Fatalf("no trades for a drifted portfolio")
			}
			if plan.ResidualDrift >= before {
				t.Errorf("ResidualDrift = %v, want below %v", plan.ResidualDrift, before)
			}
			if plan.ResidualDrift > 0.01 {
				t.Errorf("ResidualDrift = %v, want at most 1%%", plan.ResidualDrift)
			}

			values := s.Snapshot(in.Prices).HoldingsIRRByAsset
			for _, tr := range plan.Trades {
				if !tr.AmountIRR.IsPositive() || !tr.AmountIRR.Equal(tr.AmountIRR.Floor()) {
					t.Errorf("trade %+v is not a positive whole amount", tr)
				}
				if tr.Layer != tr.AssetID.Layer() {
					t.Errorf("trade %+v has the wrong layer", tr)
				}
				if tr.Side == Sell && tr.AmountIRR.GreaterThan(values[tr.AssetID]) {
					t.Errorf("sell %+v exceeds holding value %s", tr, values[tr.AssetID])
				}
			}

			hs, cash := ApplyTrades(s.Holdings, s.Cash, in.Prices, plan.Trades)
			if cash.IsNegative() {
				t.Errorf("cash after trades = %s, want >= 0", cash)
			}
			if got := NewSnapshot(hs, cash, in.Prices).MaxDrift(s.Target); got != plan.ResidualDrift {
				t.Errorf("drift after ApplyTrades = %v, want ResidualDrift %v", got, plan.ResidualDrift)
			}
			if !plan.EstimatedFrictionIRR.IsPositive() {
				t.Errorf("EstimatedFrictionIRR = %s, want > 0", plan.EstimatedFrictionIRR)
			}
		})
	}
}

func TestPlanRebalance_HoldingsOnlyKeepsCash(t *testing.T) {
	s := driftedState()
	plan := PlanRebalance(planInput(s, HoldingsOnly))
	if plan.Mode != HoldingsOnly {
		t.Errorf("Mode = %s, want %s", plan.Mode, HoldingsOnly)
	}
	if plan.Bought().GreaterThan(plan.Sold()) {
		t.Errorf("Bought %s > Sold %s: holdings-only must not spend cash", plan.Bought(), plan.Sold())
	}
}

func TestPlanRebalance_HoldingsPlusCashDeploysCash(t *testing.T) {
	s := driftedState()
	plan := PlanRebalance(planInput(s, HoldingsPlusCash))
	_, cash := ApplyTrades(s.Holdings, s.Cash, testPrices(t0), plan.Trades)
	if !cash.LessThan(s.Cash) {
		t.Errorf("cash after = %s, want below %s", cash, s.Cash)
	}
}

func TestPlanRebalance_SmartPicksTheCloser(t *testing.T) {
	s := driftedState()
	ho := PlanRebalance(planInput(s, HoldingsOnly))
	hpc := PlanRebalance(planInput(s, HoldingsPlusCash))
	smart := PlanRebalance(planInput(s, Smart))
	best := min(ho.ResidualDrift, hpc.ResidualDrift)
	if smart.ResidualDrift > best+1e-9 {
		t.Errorf("Smart ResidualDrift = %v, want %v", smart.ResidualDrift, best)
	}
	if smart.Requested != Smart || (smart.Mode != HoldingsOnly && smart.Mode != HoldingsPlusCash) {
		t.Errorf("Smart plan Requested = %s Mode = %s", smart.Requested, smart.Mode)
	}
}

func TestPlanRebalance_Frozen(t *testing.T) {
	s := driftedState()
	i := findHolding(s.Holdings, BTC)
	s.Holdings[i].Frozen = true

	plan := PlanRebalance(planInput(s, HoldingsOnly))
	if !plan.HasFrozenAssets {
		t.Errorf("HasFrozenAssets = false, want true")
	}
	for _, tr := range plan.Trades {
		if tr.AssetID == BTC {
			t.Errorf("plan trades frozen BTC: %+v", tr)
		}
	}
	if len(plan.Trades) == 0 {
		t.Errorf("unfrozen growth assets should still be sold")
	}
}

func TestPlanRebalance_OverweightAllFrozen(t *testing.T) {
	// only BTC in growth, and it is frozen: nothing can be sold
	s := NewState(testTarget)
	s.Holdings = []Holding{
		{AssetID: BTC, Quantity: Q(1), Frozen: true},
		{AssetID: USDT, Quantity: Q(1000)},
	}
	s.Cash = M(1_000_000_000)

	ho := PlanRebalance(planInput(s, HoldingsOnly))
	if len(ho.Trades) != 0 {
		t.Errorf("HoldingsOnly trades = %+v, want none", ho.Trades)
	}
	hpc := PlanRebalance(planInput(s, HoldingsPlusCash))
	if len(hpc.Trades) == 0 {
		t.Fatalf("HoldingsPlusCash should deploy cash")
	}
	for _, tr := range hpc.Trades {
		if tr.Side != Buy {
			t.Errorf("unexpected sell %+v", tr)
		}
	}
	if hpc.Bought().GreaterThan(s.Cash) {
		t.Errorf("Bought %s > cash %s", hpc.Bought(), s.Cash)
	}
}

func TestPlanRebalance_BuysUnheldLayer(t *testing.T) {
	// nothing held in upside: buys go to the layer's listed assets
	s := NewState(testTarget)
	s.Holdings = []Holding{
		{AssetID: USDT, Quantity: Q(10_000)},
		{AssetID: ETH, Quantity: Q(1)},
	}
	plan := PlanRebalance(planInput(s, HoldingsOnly))
	var upside int
	for _, tr := range plan.Trades {
		if tr.Layer == Upside {
			upside++
			if tr.Side != Buy {
				t.Errorf("upside trade %+v, want a buy", tr)
			}
		}
	}
	if upside < 2 {
		t.Errorf("upside buys = %d, want spread over several assets", upside)
	}
}

// withoutLayerQuotes drops the quotes of every asset of a layer.
func withoutLayerQuotes(p Prices, l Layer) Prices {
	q := make(map[AssetID]decimal.Decimal, len(p.Quotes))
	for id, v := range p.Quotes {
		if id.Layer() != l {
			q[id] = v
		}
	}
	p.Quotes = q
	return p
}

func TestPlanRebalance_UnpricedLayerAbsorbsNothing(t *testing.T) {
	// foundation and growth are both overweight, upside cannot be bought
	s := NewState(testTarget)
	s.Holdings = []Holding{
		{AssetID: BTC, Quantity: Q(0.1)},
		{AssetID: USDT, Quantity: Q(10_000)},
	}
	for _, mode := range []RebalanceMode{HoldingsOnly, HoldingsPlusCash, Smart} {
		in := planInput(s, mode)
		in.Prices = withoutLayerQuotes(in.Prices, Upside)
		plan := PlanRebalance(in)
		if len(plan.Trades) != 0 {
			t.Errorf("%s: trades = %+v, want none", mode, plan.Trades)
		}
		if want := s.Snapshot(in.Prices).MaxDrift(s.Target); plan.ResidualDrift != want {
			t.Errorf("%s: ResidualDrift = %v, want %v", mode, plan.ResidualDrift, want)
		}
	}

	in := testInputs(t0)
	in.Prices = withoutLayerQuotes(in.Prices, Upside)
	pa, err := Preview(s, Rebalance{Mode: HoldingsOnly}, in, DefaultPolicy())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if pa.Validation.OK || !hasError(pa.Validation, MsgEmptyPlan) {
		t.Errorf("Validation = %+v, want %q", pa.Validation, MsgEmptyPlan)
	}
}

func TestPlanRebalance_SellsOnlyWhatIsBought(t *testing.T) {
	// growth needs 775,000,000 IRR, upside needs 975,000,000 but cannot be bought
	s := NewState(testTarget)
	s.Holdings = []Holding{
		{AssetID: ETH, Quantity: Q(1)},
		{AssetID: USDT, Quantity: Q(10_000)},
	}
	in := planInput(s, HoldingsOnly)
	in.Prices = withoutLayerQuotes(in.Prices, Upside)
	plan := PlanRebalance(in)
	if len(plan.Trades) == 0 {
		t.Fatalf("growth can still be bought")
	}
	for _, tr := range plan.Trades {
		if tr.Layer == Upside {
			t.Errorf("unexpected upside trade %+v", tr)
		}
	}
	if want := M(775_000_000); plan.Sold().GreaterThan(want) {
		t.Errorf("Sold = %s, want at most %s", plan.Sold(), want)
	}
	if diff := plan.Sold().Sub(plan.Bought()); diff.IsNegative() || diff.GreaterThan(M(10)) {
		t.Errorf("Sold %s and Bought %s differ by %s", plan.Sold(), plan.Bought(), diff)
	}
	before := s.Snapshot(in.Prices).MaxDrift(s.Target)
	if plan.ResidualDrift >= before {
		t.Errorf("ResidualDrift = %v, want below %v", plan.ResidualDrift, before)
	}
}

func upsideBuys(plan RebalancePlan) map[AssetID]Money {
	res := make(map[AssetID]Money)
	for _, tr := range plan.Trades {
		if tr.Layer == Upside && tr.Side == Buy {
			res[tr.AssetID] = tr.AmountIRR
		}
	}
	return res
}

func TestPlanRebalance_History(t *testing.T) {
	s := NewState(testTarget)
	s.Holdings = []Holding{
		{AssetID: USDT, Quantity: Q(10_000)},
		{AssetID: ETH, Quantity: Q(1)},
	}
	calm := PlanRebalance(planInput(s, HoldingsOnly))
	if b := upsideBuys(calm); !b[SOL].GreaterThan(b[TON]) {
		t.Fatalf("static profiles: SOL %s should outweigh TON %s", b[SOL], b[TON])
	}
	if calm.HighVolatility {
		t.Errorf("HighVolatility without history")
	}

	// SOL swings 10% a day, TON climbs steadily
	in := planInput(s, HoldingsOnly)
	in.History = map[string][]float64{"SOL": make([]float64, 80), "TON": make([]float64, 80)}
	for i := range 80 {
		in.History["SOL"][i] = 150 + 15*float64(i%2)
		in.History["TON"][i] = 5 * math.Pow(1.001, float64(i))
	}
	wild := PlanRebalance(in)
	if b := upsideBuys(wild); !b[TON].GreaterThan(b[SOL]) {
		t.Errorf("history: TON %s should outweigh SOL %s", b[TON], b[SOL])
	}
	if !wild.HighVolatility {
		t.Errorf("HighVolatility = false, want true")
	}
	if !wild.EstimatedFrictionIRR.GreaterThan(calm.EstimatedFrictionIRR) {
		t.Errorf("EstimatedFrictionIRR = %s, want above %s", wild.EstimatedFrictionIRR, calm.EstimatedFrictionIRR)
	}
}

func TestPlanRebalance_Deterministic(t *testing.T) {
	s := driftedState()
	for _, strategy := range allocation.Strategies() {
		in := planInput(s, Smart)
		in.Strategy = strategy
		a := PlanRebalance(in)
		b := PlanRebalance(in)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("%s: two plans of the same input differ", strategy)
		}
	}
}

func TestApplyTrades_DoesNotModifyInput(t *testing.T) {
	s := driftedState()
	orig := s.Clone()
	plan := PlanRebalance(planInput(s, HoldingsPlusCash))
	ApplyTrades(s.Holdings, s.Cash, testPrices(t0), plan.Trades)
	if !reflect.DeepEqual(s, orig) {
		t.Errorf("ApplyTrades modified its input")
	}
}

func TestApplyTrades_SellsDustAsWhole(t *testing.T) {
	hs := []Holding{{AssetID: SOL, Quantity: Q(2)}}
	// SOL is 75,000,000 IRR: selling 149,999,999.5 leaves less than one rial
	trades := []PlannedTrade{{Layer: Upside, AssetID: SOL, Side: Sell, AmountIRR: M(149_999_999.5)}}
	got, cash := ApplyTrades(hs, Money{}, testPrices(t0), trades)
	if len(got) != 0 {
		t.Errorf("holdings = %+v, want none", got)
	}
	if want := M(149_999_999.5); !cash.Equal(want) {
		t.Errorf("cash = %s, want %s", cash, want)
	}
}

func TestParseRebalanceMode(t *testing.T) {
	for in, want := range map[string]RebalanceMode{
		"holdings_only":       HoldingsOnly,
		" HOLDINGS_PLUS_CASH": HoldingsPlusCash,
		"smart":               Smart,
	} {
		got, err := ParseRebalanceMode(in)
		if err != nil || got != want {
			t.Errorf("ParseRebalanceMode(%q) = %s, %v, want %s", in, got, err, want)
		}
	}
	if _, err := ParseRebalanceMode("all_in"); err == nil {
		t.Errorf("ParseRebalanceMode(all_in) should fail")
	}
}
