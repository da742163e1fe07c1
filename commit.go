package portfolio

import (
	"fmt"
	"slices"
	"strings"
)

// CommitResult is what a confirmed action reports.
type CommitResult struct {
	NewCashIRR      Money       `json:"newCashIrr"`
	UpdatedHoldings []Holding   `json:"updatedHoldings"`
	LedgerEntry     LedgerEntry `json:"ledgerEntry"`
}

// Commit re-validates a pending action against the current state and inputs
// and applies it. The returned entry has no sequence number yet; the ledger
// assigns it on append.
//
// When the action no longer validates, Commit returns a *StalePreviewError
// and the state is unchanged.
func Commit(s State, pa PendingAction, in Inputs, p Policy, newID func() string) (State, LedgerEntry, error) {
	res := Validate(s, pa.Payload, in, p)
	if !res.OK {
		return s, LedgerEntry{}, &StalePreviewError{Kind: pa.Kind, Errors: res.Errors}
	}
	return record(s, pa.Payload, in, p, newID)
}

// Liquidate closes a loan whose collateral price fell to its liquidation price.
func Liquidate(s State, loanID string, in Inputs, p Policy, newID func() string) (State, LedgerEntry, error) {
	l, _ := s.Loan(loanID)
	a := Liquidation{LoanID: loanID, AssetID: l.CollateralAssetID, Quantity: l.CollateralQuantity, SettledIRR: l.Outstanding()}
	res := Validate(s, a, in, p)
	if !res.OK {
		return s, LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotLiquidatable, strings.Join(res.Errors, "; "))
	}
	return record(s, a, in, p, newID)
}

func record(s State, a Action, in Inputs, p Policy, newID func() string) (State, LedgerEntry, error) {
	next := apply(s, a, in, p, newID)
	before, after := s.Snapshot(in.Prices), next.Snapshot(in.Prices)
	entry := LedgerEntry{
		ID:        newID(),
		Timestamp: in.Now,
		Kind:      a.Kind(),
		Before:    before,
		After:     after,
		Boundary:  Classify(before, after, s.Target, p.Boundaries).Boundary,
		Payload:   cloneAction(a),
	}
	return next, entry, nil
}

// apply returns the state after a valid action. It panics on actions that
// Validate would reject, since those are programming errors.
func apply(s State, a Action, in Inputs, p Policy, newID func() string) State {
	n := s.Clone()
	switch a := a.(type) {
	case AddFunds:
		n.Cash = n.Cash.Add(a.AmountIRR)
	case Trade:
		switch {
		case a.Side == Sell && a.Quantity.IsPositive():
			n.Holdings, n.Cash = sellQuantity(n.Holdings, n.Cash, in.Prices, a.AssetID, a.Quantity)
			n.Holdings = pruneHoldings(n.Holdings)
		default:
			leg := PlannedTrade{Layer: a.AssetID.Layer(), AssetID: a.AssetID, Side: a.Side, AmountIRR: a.AmountIRR}
			n.Holdings, n.Cash = ApplyTrades(n.Holdings, n.Cash, in.Prices, []PlannedTrade{leg})
		}
	case Protect:
		n.Cash = n.Cash.Sub(a.PremiumIRR)
		n.Protections = append(n.Protections, Protection{
			ID:          newID(),
			AssetID:     a.AssetID,
			NotionalIRR: a.NotionalIRR,
			PremiumIRR:  a.PremiumIRR,
			StartTime:   in.Now,
			EndTime:     in.Now.AddDate(0, 0, a.DurationDays),
		})
	case Borrow:
		i := findHolding(n.Holdings, a.AssetID)
		h := n.Holdings[i]
		h.Frozen = true
		n.Holdings[i] = h
		n.Cash = n.Cash.Add(a.AmountIRR)
		n.Loans = append(n.Loans, newLoan(newID(), a, h, in, p))
	case Repay:
		j := slices.IndexFunc(n.Loans, func(l Loan) bool { return l.ID == a.LoanID })
		l := n.Loans[j].repay(a.AmountIRR)
		n.Loans[j] = l
		n.Cash = n.Cash.Sub(a.AmountIRR)
		if l.Status == LoanRepaid {
			releaseCollateral(&n, l.CollateralAssetID)
		}
	case Rebalance:
		n.Holdings, n.Cash = ApplyTrades(n.Holdings, n.Cash, in.Prices, a.Trades)
		n.LastRebalanceAt = in.Now
	case Liquidation:
		j := slices.IndexFunc(n.Loans, func(l Loan) bool { return l.ID == a.LoanID })
		l := n.Loans[j].clone()
		for k := range l.Installments {
			l.Installments[k].PaidIRR = l.Installments[k].AmountIRR
		}
		l.Status = LoanLiquidated
		n.Loans[j] = l
		i := findHolding(n.Holdings, a.AssetID)
		h := n.Holdings[i]
		unit, _ := in.Prices.UnitValue(h)
		qty := a.Quantity.Min(h.Quantity)
		if surplus := unit.Mul(qty).Sub(a.SettledIRR); surplus.IsPositive() {
			n.Cash = n.Cash.Add(surplus)
		}
		n.Holdings[i].Quantity = h.Quantity.Sub(qty)
		n.Holdings = pruneHoldings(n.Holdings)
		releaseCollateral(&n, a.AssetID)
	default:
		panic(fmt.Sprintf("unknown action type %T", a))
	}
	n.Version++
	return n
}

func newLoan(id string, a Borrow, collateral Holding, in Inputs, p Policy) Loan {
	debt := a.AmountIRR.Add(a.InterestIRR)
	value := in.Prices.Value(collateral)
	ltv := 0.0
	if value.IsPositive() {
		ltv = a.AmountIRR.Ratio(value)
	}
	return Loan{
		ID:                  id,
		CollateralAssetID:   a.AssetID,
		CollateralQuantity:  collateral.Quantity,
		PrincipalIRR:        a.AmountIRR,
		InterestIRR:         a.InterestIRR,
		LTV:                 ltv,
		LiquidationPriceIRR: liquidationPrice(debt, collateral.Quantity, p.LiquidationLTV),
		Installments:        schedule(debt, a.Installments, a.TermDays, in.Now),
		Status:              LoanActive,
		CreatedAt:           in.Now,
	}
}

// releaseCollateral unfreezes a holding once no active loan uses it.
func releaseCollateral(s *State, id AssetID) {
	for _, l := range s.Loans {
		if l.Status == LoanActive && l.CollateralAssetID == id {
			return
		}
	}
	if i := findHolding(s.Holdings, id); i >= 0 {
		s.Holdings[i].Frozen = false
	}
}
