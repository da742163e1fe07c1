package portfolio

import (
	"fmt"
	"time"
)

// Validation error classes. Every message in ValidationResult.Errors starts
// with one of them, followed by details.
const (
	MsgNonPositiveAmount     = "amount must be positive"
	MsgBelowMinimum          = "below minimum amount"
	MsgUnknownAsset          = "unknown asset"
	MsgNotTradeable          = "asset not tradeable"
	MsgNoPrice               = "no price available"
	MsgInvalidSide           = "invalid trade side"
	MsgInsufficientCash      = "insufficient cash"
	MsgExceedsAvailable      = "exceeds available balance"
	MsgNoHolding             = "no holding for asset"
	MsgAssetFrozen           = "asset already frozen"
	MsgExceedsMaxBorrow      = "exceeds maximum borrow"
	MsgInvalidLoanTerms      = "invalid loan terms"
	MsgNotEligible           = "asset not eligible for protection"
	MsgInvalidDuration       = "invalid protection duration"
	MsgInvalidPremium        = "invalid premium"
	MsgOverlappingProtection = "overlapping protection"
	MsgUnknownLoan           = "unknown loan"
	MsgLoanNotActive         = "loan not active"
	MsgExceedsOutstanding    = "exceeds outstanding balance"
	MsgUnsupportedMode       = "unsupported rebalance mode"
	MsgUnsupportedStrategy   = "unsupported strategy"
	MsgCooldown              = "rebalance cooldown"
	MsgAlreadyBalanced       = "already balanced"
	MsgEmptyPlan             = "nothing to rebalance"
	MsgNotLiquidatable       = "loan not liquidatable"
)

// ValidationMeta carries the figures behind validation errors.
type ValidationMeta struct {
	Required          *Money        `json:"required,omitempty"`
	Available         *Money        `json:"available,omitempty"`
	MaxBorrow         *Money        `json:"maxBorrow,omitempty"`
	Outstanding       *Money        `json:"outstanding,omitempty"`
	CooldownRemaining time.Duration `json:"cooldownRemaining,omitempty"`
}

// ValidationResult is the outcome of validating an action. Failures are data, not errors.
type ValidationResult struct {
	OK     bool           `json:"ok"`
	Errors []string       `json:"errors,omitempty"`
	Meta   ValidationMeta `json:"meta"`
}

func (r *ValidationResult) fail(class string, format string, args ...any) {
	msg := class
	if format != "" {
		msg += ": " + fmt.Sprintf(format, args...)
	}
	r.Errors = append(r.Errors, msg)
	r.OK = false
}

func ptr(m Money) *Money { return &m }

// Validate checks an action against the state without modifying it.
func Validate(s State, a Action, in Inputs, p Policy) ValidationResult {
	r := ValidationResult{OK: true}
	switch a := a.(type) {
	case AddFunds:
		validateAddFunds(&r, a, p)
	case Trade:
		validateTrade(&r, s, a, in, p)
	case Protect:
		validateProtect(&r, s, a, in, p)
	case Borrow:
		validateBorrow(&r, s, a, in)
	case Repay:
		validateRepay(&r, s, a)
	case Rebalance:
		validateRebalance(&r, s, a, in, p)
	case Liquidation:
		validateLiquidation(&r, s, a, in)
	default:
		panic(fmt.Sprintf("unknown action type %T", a))
	}
	return r
}

func validateAddFunds(r *ValidationResult, a AddFunds, p Policy) {
	switch {
	case !a.AmountIRR.IsPositive():
		r.fail(MsgNonPositiveAmount, "%s", a.AmountIRR)
	case a.AmountIRR.LessThan(p.MinDepositIRR):
		r.Meta.Required = ptr(p.MinDepositIRR)
		r.fail(MsgBelowMinimum, "%s < %s", a.AmountIRR, p.MinDepositIRR)
	}
}

// validateAsset checks that an asset exists, can be traded and has a price.
func validateAsset(r *ValidationResult, id AssetID, in Inputs, p Policy) bool {
	if !id.Known() {
		r.fail(MsgUnknownAsset, "%q", id)
		return false
	}
	if !p.tradeable(id) {
		r.fail(MsgNotTradeable, "%s", id)
		return false
	}
	if !in.Prices.Priced(id) {
		r.fail(MsgNoPrice, "%s", id)
		return false
	}
	return true
}

func validateTrade(r *ValidationResult, s State, a Trade, in Inputs, p Policy) {
	if !validateAsset(r, a.AssetID, in, p) {
		return
	}
	switch a.Side {
	case Buy:
		// a frozen holding is pledged whole; new units could never be sold
		if h, ok := s.Holding(a.AssetID); ok && h.Frozen {
			r.fail(MsgAssetFrozen, "%s", a.AssetID)
		}
		switch {
		case !a.AmountIRR.IsPositive():
			r.fail(MsgNonPositiveAmount, "%s", a.AmountIRR)
		case a.AmountIRR.LessThan(p.MinTradeIRR):
			r.Meta.Required = ptr(p.MinTradeIRR)
			r.fail(MsgBelowMinimum, "%s < %s", a.AmountIRR, p.MinTradeIRR)
		case a.AmountIRR.GreaterThan(s.Cash):
			r.Meta.Required = ptr(a.AmountIRR)
			r.Meta.Available = ptr(s.Cash)
			r.fail(MsgInsufficientCash, "%s > %s", a.AmountIRR, s.Cash)
		}
	case Sell:
		h, _ := s.Holding(a.AssetID)
		h.AssetID = a.AssetID
		unit, _ := in.Prices.UnitValue(h)
		qty := a.Quantity
		if !qty.IsPositive() && unit.IsPositive() {
			qty = a.AmountIRR.DivPrice(unit)
		}
		if !qty.IsPositive() {
			r.fail(MsgNonPositiveAmount, "quantity %s", qty)
			return
		}
		avail := h.Available()
		if qty.GreaterThan(avail) {
			r.Meta.Required = ptr(unit.Mul(qty))
			r.Meta.Available = ptr(unit.Mul(avail))
			r.fail(MsgExceedsAvailable, "%s %s > %s", qty, a.AssetID, avail)
		}
	default:
		r.fail(MsgInvalidSide, "%q", a.Side)
	}
}

func validateProtect(r *ValidationResult, s State, a Protect, in Inputs, p Policy) {
	meta, ok := LookupAsset(a.AssetID)
	if !ok {
		r.fail(MsgUnknownAsset, "%q", a.AssetID)
		return
	}
	if !meta.ProtectionEligible {
		r.fail(MsgNotEligible, "%s", a.AssetID)
		return
	}
	h, ok := s.Holding(a.AssetID)
	if !ok {
		r.fail(MsgNoHolding, "%s", a.AssetID)
		return
	}
	if h.Frozen {
		r.fail(MsgAssetFrozen, "%s", a.AssetID)
	}
	if a.DurationDays < p.MinProtectionDays || a.DurationDays > p.MaxProtectionDays {
		r.fail(MsgInvalidDuration, "%d days not in [%d, %d]", a.DurationDays, p.MinProtectionDays, p.MaxProtectionDays)
	}
	if !a.NotionalIRR.IsPositive() {
		r.fail(MsgNonPositiveAmount, "notional %s", a.NotionalIRR)
	}
	switch {
	case !a.PremiumIRR.IsPositive():
		r.fail(MsgInvalidPremium, "%s", a.PremiumIRR)
	case a.PremiumIRR.GreaterThan(s.Cash):
		r.Meta.Required = ptr(a.PremiumIRR)
		r.Meta.Available = ptr(s.Cash)
		r.fail(MsgInsufficientCash, "premium %s > %s", a.PremiumIRR, s.Cash)
	}
	end := in.Now.AddDate(0, 0, a.DurationDays)
	for _, existing := range s.Protections {
		if existing.AssetID == a.AssetID && existing.StartTime.Before(end) && in.Now.Before(existing.EndTime) {
			r.fail(MsgOverlappingProtection, "%s until %s", existing.ID, existing.EndTime.Format(time.DateOnly))
			break
		}
	}
}

// MaxBorrow returns how much more can be borrowed against a holding.
func MaxBorrow(s State, id AssetID, maxLTV float64, prices Prices) Money {
	h, ok := s.Holding(id)
	if !ok {
		return Money{}
	}
	limit := prices.Value(h).MulFloat(maxLTV).Sub(activeDebt(s.Loans, id))
	return limit.Max(Money{})
}

func validateBorrow(r *ValidationResult, s State, a Borrow, in Inputs) {
	if !a.AssetID.Known() {
		r.fail(MsgUnknownAsset, "%q", a.AssetID)
		return
	}
	h, ok := s.Holding(a.AssetID)
	if !ok {
		r.fail(MsgNoHolding, "%s", a.AssetID)
		return
	}
	if h.Frozen {
		r.fail(MsgAssetFrozen, "%s", a.AssetID)
		return
	}
	if !a.AmountIRR.IsPositive() {
		r.fail(MsgNonPositiveAmount, "%s", a.AmountIRR)
	}
	if a.Installments < 1 || a.TermDays < 1 {
		r.fail(MsgInvalidLoanTerms, "%d installments over %d days", a.Installments, a.TermDays)
	}
	if a.InterestIRR.IsNegative() {
		r.fail(MsgInvalidLoanTerms, "negative interest %s", a.InterestIRR)
	}
	if !in.Prices.Value(h).IsPositive() {
		r.fail(MsgNoPrice, "%s", a.AssetID)
		return
	}
	maxBorrow := MaxBorrow(s, a.AssetID, a.MaxLTV, in.Prices)
	r.Meta.MaxBorrow = ptr(maxBorrow)
	if a.AmountIRR.GreaterThan(maxBorrow) {
		r.fail(MsgExceedsMaxBorrow, "%s > %s", a.AmountIRR, maxBorrow)
	}
}

func validateRepay(r *ValidationResult, s State, a Repay) {
	l, ok := s.Loan(a.LoanID)
	if !ok {
		r.fail(MsgUnknownLoan, "%q", a.LoanID)
		return
	}
	if l.Status != LoanActive {
		r.fail(MsgLoanNotActive, "%s is %s", l.ID, l.Status)
		return
	}
	outstanding := l.Outstanding()
	r.Meta.Outstanding = ptr(outstanding)
	if !a.AmountIRR.IsPositive() {
		r.fail(MsgNonPositiveAmount, "%s", a.AmountIRR)
		return
	}
	if a.AmountIRR.GreaterThan(outstanding) {
		r.fail(MsgExceedsOutstanding, "%s > %s", a.AmountIRR, outstanding)
	}
	if a.AmountIRR.GreaterThan(s.Cash) {
		r.Meta.Required = ptr(a.AmountIRR)
		r.Meta.Available = ptr(s.Cash)
		r.fail(MsgInsufficientCash, "%s > %s", a.AmountIRR, s.Cash)
	}
}

func validateRebalance(r *ValidationResult, s State, a Rebalance, in Inputs, p Policy) {
	if !a.Mode.Valid() {
		r.fail(MsgUnsupportedMode, "%q", a.Mode)
	}
	if a.Strategy != "" && !a.Strategy.Valid() {
		r.fail(MsgUnsupportedStrategy, "%q", a.Strategy)
	}
	if !r.OK {
		return
	}
	drift := s.Snapshot(in.Prices).MaxDrift(s.Target)
	if remaining := cooldownRemaining(s, in.Now, p); remaining > 0 && !(drift > p.EmergencyDrift) {
		r.Meta.CooldownRemaining = remaining
		r.fail(MsgCooldown, "%s remaining", remaining.Round(time.Minute))
	}
	if drift < p.RebalanceMinDrift {
		r.fail(MsgAlreadyBalanced, "max drift %s", Percent(drift))
	}
	if len(a.Trades) > 0 {
		validateTradeList(r, s, a.Trades, in, p)
	}
}

func cooldownRemaining(s State, now time.Time, p Policy) time.Duration {
	if s.LastRebalanceAt.IsZero() {
		return 0
	}
	return max(p.Cooldown-now.Sub(s.LastRebalanceAt), 0)
}

// validateTradeList checks that a previously planned trade list can still be
// executed: every sell within the unfrozen value, every buy priced, and cash
// never negative.
func validateTradeList(r *ValidationResult, s State, trades []PlannedTrade, in Inputs, p Policy) {
	cash := s.Cash
	for _, t := range trades {
		if !validateAsset(r, t.AssetID, in, p) {
			continue
		}
		switch t.Side {
		case Sell:
			h, ok := s.Holding(t.AssetID)
			if !ok {
				r.fail(MsgNoHolding, "%s", t.AssetID)
				continue
			}
			avail := in.Prices.Value(h)
			if h.Frozen {
				avail = Money{}
			}
			if t.AmountIRR.GreaterThan(avail) {
				r.fail(MsgExceedsAvailable, "sell %s %s > %s", t.AssetID, t.AmountIRR, avail)
			}
			cash = cash.Add(t.AmountIRR)
		case Buy:
			cash = cash.Sub(t.AmountIRR)
		default:
			r.fail(MsgInvalidSide, "%q", t.Side)
		}
	}
	if cash.IsNegative() {
		r.fail(MsgInsufficientCash, "trades leave %s", cash)
	}
}

func validateLiquidation(r *ValidationResult, s State, a Liquidation, in Inputs) {
	l, ok := s.Loan(a.LoanID)
	if !ok {
		r.fail(MsgUnknownLoan, "%q", a.LoanID)
		return
	}
	if l.Status != LoanActive {
		r.fail(MsgLoanNotActive, "%s is %s", l.ID, l.Status)
		return
	}
	h, ok := s.Holding(l.CollateralAssetID)
	if !ok {
		r.fail(MsgNoHolding, "%s", l.CollateralAssetID)
		return
	}
	unit, ok := in.Prices.UnitValue(h)
	if !ok {
		r.fail(MsgNoPrice, "%s", l.CollateralAssetID)
		return
	}
	if unit.GreaterThan(l.LiquidationPriceIRR) {
		r.fail(MsgNotLiquidatable, "%s price %s above %s", l.CollateralAssetID, unit, l.LiquidationPriceIRR)
	}
}
