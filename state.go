package portfolio

import (
	"fmt"
	"slices"
	"time"
)

// State is the canonical state of one portfolio. Only a commit produces a new State.
type State struct {
	Cash            Money          `json:"cash"`
	Holdings        []Holding      `json:"holdings"`
	Loans           []Loan         `json:"loans,omitempty"`
	Protections     []Protection   `json:"protections,omitempty"`
	Target          TargetLayerPct `json:"target"`
	LastRebalanceAt time.Time      `json:"lastRebalanceAt,omitzero"`
	Version         uint64         `json:"version"`
}

// NewState returns an empty portfolio aiming at target.
func NewState(target TargetLayerPct) State {
	return State{Target: target.clone()}
}

// Validate checks the invariants of a state loaded from outside the engine.
func (s State) Validate() error {
	if err := s.Target.Validate(); err != nil {
		return err
	}
	if s.Cash.IsNegative() {
		return fmt.Errorf("cash must be >= 0, got %s", s.Cash)
	}
	seen := make(map[AssetID]bool, len(s.Holdings))
	for _, h := range s.Holdings {
		if !h.AssetID.Known() {
			return fmt.Errorf("unknown asset %q in holdings", h.AssetID)
		}
		if seen[h.AssetID] {
			return fmt.Errorf("duplicate holding of %s", h.AssetID)
		}
		seen[h.AssetID] = true
		if h.Quantity.IsNegative() {
			return fmt.Errorf("holding of %s has negative quantity %s", h.AssetID, h.Quantity)
		}
	}
	for _, l := range s.Loans {
		if l.Status != LoanActive {
			continue
		}
		i := findHolding(s.Holdings, l.CollateralAssetID)
		if i < 0 || !s.Holdings[i].Frozen {
			return fmt.Errorf("loan %s collateral %s is not a frozen holding", l.ID, l.CollateralAssetID)
		}
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	c := s
	c.Holdings = slices.Clone(s.Holdings)
	c.Loans = make([]Loan, len(s.Loans))
	for i, l := range s.Loans {
		c.Loans[i] = l.clone()
	}
	c.Protections = slices.Clone(s.Protections)
	c.Target = s.Target.clone()
	return c
}

// Snapshot values the state against prices.
func (s State) Snapshot(p Prices) Snapshot {
	return NewSnapshot(s.Holdings, s.Cash, p)
}

// Holding returns the holding of an asset.
func (s State) Holding(id AssetID) (Holding, bool) {
	i := findHolding(s.Holdings, id)
	if i < 0 {
		return Holding{}, false
	}
	return s.Holdings[i], true
}

// Loan returns a loan by ID.
func (s State) Loan(id string) (Loan, bool) {
	i := slices.IndexFunc(s.Loans, func(l Loan) bool { return l.ID == id })
	if i < 0 {
		return Loan{}, false
	}
	return s.Loans[i], true
}

// ActiveLoans returns the loans still ACTIVE.
func (s State) ActiveLoans() []Loan {
	var res []Loan
	for _, l := range s.Loans {
		if l.Status == LoanActive {
			res = append(res, l)
		}
	}
	return res
}

// ActiveProtections returns the protections covering instant now.
func (s State) ActiveProtections(now time.Time) []Protection {
	var res []Protection
	for _, p := range s.Protections {
		if p.ActiveAt(now) {
			res = append(res, p)
		}
	}
	return res
}
