package portfolio

import (
	"slices"
	"strings"
	"time"
)

// Holding is a position in one asset.
//
// A frozen holding is pledged as loan collateral as a whole: none of its
// quantity can be sold or pledged again until the loan is repaid.
type Holding struct {
	AssetID    AssetID   `json:"assetId"`
	Quantity   Quantity  `json:"quantity"`
	Frozen     bool      `json:"frozen,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt,omitzero"`
}

// Available returns the quantity that can be sold or pledged.
func (h Holding) Available() Quantity {
	if h.Frozen {
		return Quantity{}
	}
	return h.Quantity
}

// Layer returns the layer of the held asset.
func (h Holding) Layer() Layer { return h.AssetID.Layer() }

// sortHoldings orders holdings by asset ID so that every traversal is deterministic.
func sortHoldings(hs []Holding) {
	slices.SortFunc(hs, func(a, b Holding) int { return strings.Compare(string(a.AssetID), string(b.AssetID)) })
}

// findHolding returns the index of the holding of id or -1.
func findHolding(hs []Holding, id AssetID) int {
	return slices.IndexFunc(hs, func(h Holding) bool { return h.AssetID == id })
}

// pruneHoldings drops holdings whose quantity reached zero and restores the sort order.
func pruneHoldings(hs []Holding) []Holding {
	hs = slices.DeleteFunc(hs, func(h Holding) bool { return !h.Quantity.IsPositive() })
	sortHoldings(hs)
	return hs
}

// buyInto adds quantity bought at the given time to hs.
//
// Buying more of a fixed income holding folds its accrued value into the new
// principal and restarts accrual at the time of the purchase.
func buyInto(hs []Holding, id AssetID, qty Quantity, at time.Time) []Holding {
	i := findHolding(hs, id)
	if i < 0 {
		hs = append(hs, Holding{AssetID: id, Quantity: qty, AcquiredAt: at})
		sortHoldings(hs)
		return hs
	}
	h := hs[i]
	if MustAsset(id).FixedIncome {
		accrued := accrue(FixedIncomeUnitPrice.Mul(h.Quantity), h.AcquiredAt, at)
		h.Quantity = accrued.DivPrice(FixedIncomeUnitPrice).Add(qty)
		h.AcquiredAt = at
	} else {
		h.Quantity = h.Quantity.Add(qty)
		if h.AcquiredAt.IsZero() {
			h.AcquiredAt = at
		}
	}
	hs[i] = h
	return hs
}
