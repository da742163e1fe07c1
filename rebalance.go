package portfolio

import (
	"fmt"
	"slices"
	"strings"

	"github.com/blumarkets/portfolio/allocation"
	"github.com/shopspring/decimal"
)

// RebalanceMode selects where the money of a rebalance comes from.
type RebalanceMode string

const (
	// HoldingsOnly sells overweight layers to buy underweight ones. Cash is untouched.
	HoldingsOnly RebalanceMode = "HOLDINGS_ONLY"
	// HoldingsPlusCash deploys idle cash first, then sells to cover the rest.
	HoldingsPlusCash RebalanceMode = "HOLDINGS_PLUS_CASH"
	// Smart plans both and keeps the one closer to target.
	Smart RebalanceMode = "SMART"
)

func (m RebalanceMode) Valid() bool {
	switch m {
	case HoldingsOnly, HoldingsPlusCash, Smart:
		return true
	}
	return false
}

// ParseRebalanceMode converts a case-insensitive mode name.
func ParseRebalanceMode(s string) (RebalanceMode, error) {
	m := RebalanceMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unsupported rebalance mode %q", s)
	}
	return m, nil
}

// PlannedTrade is one leg of a trade list.
type PlannedTrade struct {
	Layer     Layer   `json:"layer"`
	AssetID   AssetID `json:"assetId"`
	Side      Side    `json:"side"`
	AmountIRR Money   `json:"amountIrr"`
}

// RebalancePlan is the output of the planner.
type RebalancePlan struct {
	Requested            RebalanceMode       `json:"requested"`
	Mode                 RebalanceMode       `json:"mode"`
	Strategy             allocation.Strategy `json:"strategy"`
	Trades               []PlannedTrade      `json:"trades"`
	HasFrozenAssets      bool                `json:"hasFrozenAssets"`
	HighVolatility       bool                `json:"highVolatility,omitempty"`
	CashSufficient       bool                `json:"cashSufficient"`
	ResidualDrift        float64             `json:"residualDrift"`
	EstimatedFrictionIRR Money               `json:"estimatedFrictionIrr"`
}

// Sold and Bought sum the legs of each side.
func (p RebalancePlan) Sold() Money   { return sumSide(p.Trades, Sell) }
func (p RebalancePlan) Bought() Money { return sumSide(p.Trades, Buy) }

func sumSide(trades []PlannedTrade, side Side) Money {
	var total Money
	for _, t := range trades {
		if t.Side == side {
			total = total.Add(t.AmountIRR)
		}
	}
	return total
}

// PlanInput gathers what the planner reads.
type PlanInput struct {
	Holdings []Holding
	Cash     Money
	Prices   Prices
	Target   TargetLayerPct
	Mode     RebalanceMode
	Strategy allocation.Strategy
	Factors  allocation.Factors
	History  map[string][]float64
	Policy   Policy
}

// smartTieTolerance is the residual drift difference under which SMART keeps HOLDINGS_ONLY.
const smartTieTolerance = 1e-9

// PlanRebalance computes the trades that bring holdings back to target.
//
// Sells are floored to whole rials and capped at each holding's unfrozen
// value; buys are funded by the rounded sell total plus, depending on the
// mode, idle cash. Applying the trades can never make cash negative.
func PlanRebalance(in PlanInput) RebalancePlan {
	if in.Strategy == "" {
		in.Strategy = allocation.Default
	}
	factors := in.Policy.factors(in.History, in.Factors)

	var plan RebalancePlan
	switch in.Mode {
	case HoldingsOnly, HoldingsPlusCash:
		plan = planFor(in, in.Mode, factors)
	case Smart:
		ho := planFor(in, HoldingsOnly, factors)
		hpc := planFor(in, HoldingsPlusCash, factors)
		plan = ho
		if hpc.ResidualDrift < ho.ResidualDrift-smartTieTolerance {
			plan = hpc
		}
	default:
		panic(fmt.Sprintf("unsupported rebalance mode %q", in.Mode))
	}

	plan.Requested = in.Mode
	plan.Strategy = in.Strategy
	plan.HasFrozenAssets, plan.CashSufficient = gapAnalysis(in)
	slippage, highVol := in.Policy.slippage(in.History)
	plan.HighVolatility = highVol
	plan.EstimatedFrictionIRR = SumMoney(plan.Sold(), plan.Bought()).MulFloat(in.Policy.FeeRate + slippage)
	return plan
}

// gapAnalysis tells whether any holding is frozen and whether idle cash alone
// covers every underweight layer.
func gapAnalysis(in PlanInput) (hasFrozen, cashSufficient bool) {
	for _, h := range in.Holdings {
		if h.Frozen {
			hasFrozen = true
		}
	}
	snap := NewSnapshot(in.Holdings, in.Cash, in.Prices)
	base := snap.HoldingsIRR.Add(in.Cash)
	var need Money
	for _, l := range Layers {
		if d := base.MulFloat(in.Target[l]).Sub(snap.LayerIRR[l]); d.IsPositive() {
			need = need.Add(d)
		}
	}
	return hasFrozen, need.LessThanOrEqual(in.Cash.Add(M(1)))
}

func planFor(in PlanInput, mode RebalanceMode, factors allocation.Factors) RebalancePlan {
	snap := NewSnapshot(in.Holdings, in.Cash, in.Prices)
	before := snap.MaxDrift(in.Target)
	plan := RebalancePlan{Mode: mode, ResidualDrift: before}

	base := snap.HoldingsIRR
	var cash Money
	if mode == HoldingsPlusCash {
		base = base.Add(in.Cash)
		cash = in.Cash
	}
	if !base.IsPositive() {
		return plan
	}

	// An underweight layer with nothing to buy absorbs nothing, so the
	// sells are sized on the layers that can.
	need := make(map[Layer]Money, len(Layers))
	over := make(map[Layer]Money, len(Layers))
	var totalNeed, totalOver Money
	for _, l := range Layers {
		delta := base.MulFloat(in.Target[l]).Sub(snap.LayerIRR[l])
		if delta.IsPositive() {
			if len(buyCandidates(in, l)) > 0 {
				need[l] = delta
				totalNeed = totalNeed.Add(delta)
			}
			continue
		}
		if o := delta.Neg(); o.IsPositive() {
			over[l] = o
			totalOver = totalOver.Add(o)
		}
	}

	var sells, buys []PlannedTrade
	if toSell := totalNeed.Sub(cash); toSell.IsPositive() && totalOver.IsPositive() {
		scale := decimal.NewFromInt(1)
		if toSell.LessThan(totalOver) {
			scale = toSell.value.Div(totalOver.value)
		}
		for _, l := range Layers {
			if o := over[l]; o.IsPositive() {
				sells = append(sells, sellLayer(in, l, Money{value: o.value.Mul(scale)}, snap.HoldingsIRRByAsset, factors)...)
			}
		}
	}

	budget := sumSide(sells, Sell).Add(cash)
	if totalNeed.IsPositive() && budget.IsPositive() {
		scale := decimal.NewFromInt(1)
		if budget.LessThan(totalNeed) {
			scale = budget.value.Div(totalNeed.value)
		}
		for _, l := range Layers {
			if n := need[l]; n.IsPositive() {
				buys = append(buys, buyLayer(in, l, Money{value: n.value.Mul(scale)}, factors)...)
			}
		}
		buys = fitBudget(buys, budget)
	}

	trades := append(sells, buys...)
	if len(trades) == 0 {
		return plan
	}
	hs, c := ApplyTrades(in.Holdings, in.Cash, in.Prices, trades)
	residual := NewSnapshot(hs, c, in.Prices).MaxDrift(in.Target)
	if !(residual < before) {
		// a plan must lower the max drift
		return plan
	}
	plan.Trades = trades
	plan.ResidualDrift = residual
	return plan
}

// sellLayer spreads amount over the unfrozen holdings of a layer. A holding
// cannot give more than its value; what it cannot give is spread over the others.
func sellLayer(in PlanInput, l Layer, amount Money, values map[AssetID]Money, factors allocation.Factors) []PlannedTrade {
	var ids []AssetID
	room := make(map[AssetID]Money)
	for _, h := range in.Holdings {
		if h.Layer() != l || h.Frozen || !in.Policy.tradeable(h.AssetID) {
			continue
		}
		if v := values[h.AssetID]; v.IsPositive() {
			ids = append(ids, h.AssetID)
			room[h.AssetID] = v
		}
	}
	slices.Sort(ids)
	alloc := make(map[AssetID]Money, len(ids))
	left := amount
	active := ids
	for len(active) > 0 && left.GreaterThanOrEqual(M(1)) {
		w := allocation.Weights(in.Strategy, idStrings(active), factors, in.Policy.WeightBounds)
		var next []AssetID
		var spent Money
		for i, id := range active {
			share := left.MulFloat(w[i])
			if capacity := room[id].Sub(alloc[id]); share.GreaterThanOrEqual(capacity) {
				share = capacity
			} else {
				next = append(next, id)
			}
			alloc[id] = alloc[id].Add(share)
			spent = spent.Add(share)
		}
		left = left.Sub(spent)
		if len(next) == len(active) {
			break
		}
		active = next
	}
	return legs(l, Sell, ids, alloc)
}

// buyLayer spreads amount over the unfrozen holdings of a layer, or over every
// tradeable priced asset of the layer when none is held.
func buyLayer(in PlanInput, l Layer, amount Money, factors allocation.Factors) []PlannedTrade {
	ids := buyCandidates(in, l)
	if len(ids) == 0 {
		return nil
	}
	w := allocation.Weights(in.Strategy, idStrings(ids), factors, in.Policy.WeightBounds)
	alloc := make(map[AssetID]Money, len(ids))
	for i, id := range ids {
		alloc[id] = amount.MulFloat(w[i])
	}
	return legs(l, Buy, ids, alloc)
}

// buyCandidates lists the assets buyLayer can put money in, sorted.
func buyCandidates(in PlanInput, l Layer) []AssetID {
	var ids []AssetID
	for _, h := range in.Holdings {
		if h.Layer() == l && !h.Frozen && in.Policy.tradeable(h.AssetID) && in.Prices.Priced(h.AssetID) {
			ids = append(ids, h.AssetID)
		}
	}
	slices.Sort(ids)
	if len(ids) > 0 {
		return ids
	}
	for _, id := range AssetsInLayer(l) {
		if in.Policy.tradeable(id) && in.Prices.Priced(id) && findHolding(in.Holdings, id) < 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// legs turns an allocation into whole-rial trades, in the order of ids.
func legs(l Layer, side Side, ids []AssetID, alloc map[AssetID]Money) []PlannedTrade {
	var res []PlannedTrade
	for _, id := range ids {
		if amt := alloc[id].Floor(); amt.IsPositive() {
			res = append(res, PlannedTrade{Layer: l, AssetID: id, Side: side, AmountIRR: amt})
		}
	}
	return res
}

// fitBudget trims buys from the end until they fit in budget.
func fitBudget(buys []PlannedTrade, budget Money) []PlannedTrade {
	over := sumSide(buys, Buy).Sub(budget)
	for i := len(buys) - 1; i >= 0 && over.IsPositive(); i-- {
		cut := buys[i].AmountIRR.Min(over.Add(M(1)).Floor())
		buys[i].AmountIRR = buys[i].AmountIRR.Sub(cut)
		over = over.Sub(cut)
	}
	res := buys[:0]
	for _, b := range buys {
		if b.AmountIRR.IsPositive() {
			res = append(res, b)
		}
	}
	return res
}

func idStrings(ids []AssetID) []string {
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = string(id)
	}
	return res
}

// ApplyTrades executes a trade list against holdings and cash, in order.
//
// A SELL converts its amount to quantity at the current unit value; selling
// all but less than one rial of a holding sells the whole holding. Cash moves
// by exactly the trade amounts. The input slice is not modified.
func ApplyTrades(holdings []Holding, cash Money, prices Prices, trades []PlannedTrade) ([]Holding, Money) {
	hs := append([]Holding(nil), holdings...)
	for _, t := range trades {
		switch t.Side {
		case Sell:
			hs, cash = sellAmount(hs, cash, prices, t.AssetID, t.AmountIRR)
		case Buy:
			hs, cash = buyAmount(hs, cash, prices, t.AssetID, t.AmountIRR)
		default:
			panic(fmt.Sprintf("invalid trade side %q", t.Side))
		}
	}
	return pruneHoldings(hs), cash
}

func sellAmount(hs []Holding, cash Money, prices Prices, id AssetID, amount Money) ([]Holding, Money) {
	i := findHolding(hs, id)
	if i < 0 {
		panic(fmt.Sprintf("sell of %s without a holding", id))
	}
	unit, ok := prices.UnitValue(hs[i])
	if !ok {
		panic(fmt.Sprintf("sell of %s without a price", id))
	}
	qty := amount.DivPrice(unit)
	if !qty.LessThan(hs[i].Quantity) || prices.Value(hs[i]).Sub(amount).LessThan(M(1)) {
		qty = hs[i].Quantity
	}
	hs[i].Quantity = hs[i].Quantity.Sub(qty)
	return hs, cash.Add(amount)
}

func sellQuantity(hs []Holding, cash Money, prices Prices, id AssetID, qty Quantity) ([]Holding, Money) {
	i := findHolding(hs, id)
	if i < 0 {
		panic(fmt.Sprintf("sell of %s without a holding", id))
	}
	unit, ok := prices.UnitValue(hs[i])
	if !ok {
		panic(fmt.Sprintf("sell of %s without a price", id))
	}
	qty = qty.Min(hs[i].Quantity)
	hs[i].Quantity = hs[i].Quantity.Sub(qty)
	return hs, cash.Add(unit.Mul(qty))
}

func buyAmount(hs []Holding, cash Money, prices Prices, id AssetID, amount Money) ([]Holding, Money) {
	unit, ok := prices.UnitPrice(id)
	if !ok {
		panic(fmt.Sprintf("buy of %s without a price", id))
	}
	hs = buyInto(hs, id, amount.DivPrice(unit), prices.At)
	return hs, cash.Sub(amount)
}
