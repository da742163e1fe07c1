package portfolio

import (
	"time"

	"github.com/blumarkets/portfolio/allocation"
)

// ProtectionQuote is the priced offer for a protection.
type ProtectionQuote struct {
	PremiumIRR Money `json:"premiumIrr"`
}

// LoanQuote is the priced offer for a loan. Zero fields fall back to the
// draft, then to the policy.
type LoanQuote struct {
	MaxLTV       float64 `json:"maxLtv,omitempty"`
	InterestIRR  Money   `json:"interestIrr"`
	Installments int     `json:"installments,omitempty"`
	TermDays     int     `json:"termDays,omitempty"`
}

// Inputs are the external values a transition reads. The engine never fetches them itself.
type Inputs struct {
	Prices          Prices             `json:"prices"`
	Now             time.Time          `json:"now"`
	ProtectionQuote *ProtectionQuote   `json:"protectionQuote,omitempty"`
	LoanQuote       *LoanQuote         `json:"loanQuote,omitempty"`
	Factors         allocation.Factors `json:"factors,omitempty"`
	// History holds daily prices per asset, oldest first.
	History map[string][]float64 `json:"history,omitempty"`
}

// PendingAction is a previewed action waiting for confirmation.
type PendingAction struct {
	Kind       Kind
	Payload    Action
	Before     Snapshot
	After      Snapshot
	Validation ValidationResult
	Classification
	FrictionCopy []string
	Plan         *RebalancePlan
	PreviewedAt  time.Time
	StateVersion uint64
}

// PreviewResult is what a preview reports to the caller.
type PreviewResult struct {
	OK                bool           `json:"ok"`
	Kind              Kind           `json:"kind"`
	Payload           Action         `json:"payload"`
	Before            Snapshot       `json:"before"`
	After             Snapshot       `json:"after"`
	Boundary          Boundary       `json:"boundary,omitempty"`
	MovesTowardTarget bool           `json:"movesTowardTarget"`
	FrictionCopy      []string       `json:"frictionCopy,omitempty"`
	ValidationErrors  []string       `json:"validationErrors,omitempty"`
	Meta              ValidationMeta `json:"meta"`
	Plan              *RebalancePlan `json:"plan,omitempty"`
}

// Result converts the pending action to a caller facing result.
func (pa PendingAction) Result() PreviewResult {
	return PreviewResult{
		OK:                pa.Validation.OK,
		Kind:              pa.Kind,
		Payload:           pa.Payload,
		Before:            pa.Before,
		After:             pa.After,
		Boundary:          pa.Boundary,
		MovesTowardTarget: pa.MovesTowardTarget,
		FrictionCopy:      pa.FrictionCopy,
		ValidationErrors:  pa.Validation.Errors,
		Meta:              pa.Validation.Meta,
		Plan:              pa.Plan,
	}
}

// previewID stands in for identifiers that are only allocated at commit.
func previewID() string { return "preview" }

// Preview computes the consequence of a draft without touching the state.
//
// An incomplete draft is a contract violation and returns a *ContractError.
// A complete draft that fails validation returns a PendingAction whose
// Validation is not OK; it has no boundary and After equals Before.
func Preview(s State, draft Action, in Inputs, p Policy) (PendingAction, error) {
	if err := checkComplete(draft); err != nil {
		return PendingAction{}, err
	}
	a, err := resolve(s, draft, in, p)
	if err != nil {
		return PendingAction{}, err
	}
	before := s.Snapshot(in.Prices)
	pa := PendingAction{
		Kind:         a.Kind(),
		Payload:      a,
		Before:       before,
		After:        before,
		PreviewedAt:  in.Now,
		StateVersion: s.Version,
	}
	pa.Validation = Validate(s, a, in, p)
	if !pa.Validation.OK {
		return pa, nil
	}
	if r, ok := a.(Rebalance); ok {
		plan := PlanRebalance(PlanInput{
			Holdings: s.Holdings,
			Cash:     s.Cash,
			Prices:   in.Prices,
			Target:   s.Target,
			Mode:     r.Mode,
			Strategy: r.Strategy,
			Factors:  in.Factors,
			History:  in.History,
			Policy:   p,
		})
		pa.Plan = &plan
		if len(plan.Trades) == 0 {
			pa.Validation.fail(MsgEmptyPlan, "")
			return pa, nil
		}
		r.Trades = plan.Trades
		pa.Payload = r
	}
	next := apply(s, pa.Payload, in, p, previewID)
	pa.After = next.Snapshot(in.Prices)
	pa.Classification = Classify(before, pa.After, s.Target, p.Boundaries)
	pa.FrictionCopy = p.FrictionCopy.For(pa.Boundary)
	return pa, nil
}

// resolve fills the defaults and quoted values of a complete draft.
func resolve(s State, a Action, in Inputs, p Policy) (Action, error) {
	switch a := a.(type) {
	case AddFunds, Trade, Repay, Liquidation:
		return a, nil
	case Protect:
		if in.ProtectionQuote == nil {
			return nil, &ContractError{Kind: a.Kind(), Err: ErrMissingQuote}
		}
		a.PremiumIRR = in.ProtectionQuote.PremiumIRR
		if a.DurationDays == 0 {
			a.DurationDays = p.DefaultProtectionDays
		}
		if a.NotionalIRR.IsZero() {
			if h, ok := s.Holding(a.AssetID); ok {
				a.NotionalIRR = in.Prices.Value(h)
			}
		}
		return a, nil
	case Borrow:
		q := in.LoanQuote
		if q == nil {
			return nil, &ContractError{Kind: a.Kind(), Err: ErrMissingQuote}
		}
		a.InterestIRR = q.InterestIRR
		if q.Installments > 0 {
			a.Installments = q.Installments
		}
		if q.TermDays > 0 {
			a.TermDays = q.TermDays
		}
		if a.Installments == 0 {
			a.Installments = p.DefaultInstallments
		}
		if a.TermDays == 0 {
			a.TermDays = p.DefaultTermDays
		}
		a.MaxLTV = q.MaxLTV
		if a.MaxLTV <= 0 {
			if m, ok := LookupAsset(a.AssetID); ok {
				a.MaxLTV = p.MaxLTV[m.Layer]
			}
		}
		return a, nil
	case Rebalance:
		if a.Strategy == "" {
			a.Strategy = allocation.Default
		}
		a.Trades = nil
		return a, nil
	default:
		panic("unknown action type")
	}
}
