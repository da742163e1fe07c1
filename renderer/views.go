package renderer

import (
	"fmt"
	"slices"
	"time"

	"github.com/blumarkets/portfolio"
)

type previewView struct {
	portfolio.PreviewResult
	Action string
	Layers []layerChange
	Delta  portfolio.Money
}

type commitView struct {
	portfolio.CommitResult
	Action string
}

// layerChange is one row of the before/after layer table.
type layerChange struct {
	Layer  portfolio.Layer
	Before float64
	After  float64
	Target float64
}

func compareLayers(before, after portfolio.Snapshot, target portfolio.TargetLayerPct) []layerChange {
	rows := make([]layerChange, 0, len(portfolio.Layers))
	for _, l := range portfolio.Layers {
		rows = append(rows, layerChange{
			Layer:  l,
			Before: before.LayerPct[l],
			After:  after.LayerPct[l],
			Target: target[l],
		})
	}
	return rows
}

type layerRow struct {
	Layer  portfolio.Layer
	Value  portfolio.Money
	Pct    float64
	Target float64
	Drift  float64
}

type holdingRow struct {
	portfolio.Holding
	Value     portfolio.Money
	Protected bool
}

type protectionRow struct {
	portfolio.Protection
	Left time.Duration
}

type snapshotView struct {
	Portfolio   string
	At          time.Time
	Snapshot    portfolio.Snapshot
	Status      portfolio.DriftStatus
	MaxDrift    float64
	Boundary    portfolio.Boundary
	Version     uint64
	Layers      []layerRow
	Holdings    []holdingRow
	Loans       []portfolio.Loan
	Protections []protectionRow
}

func newSnapshotView(id string, s portfolio.State, snap portfolio.Snapshot, table portfolio.BoundaryTable, now time.Time) snapshotView {
	maxDrift := snap.MaxDrift(s.Target)
	v := snapshotView{
		Portfolio: id,
		At:        now,
		Snapshot:  snap,
		Status:    snap.Status(s.Target),
		MaxDrift:  maxDrift,
		Boundary:  table.Band(maxDrift),
		Version:   s.Version,
		Loans:     s.ActiveLoans(),
	}
	for _, l := range portfolio.Layers {
		v.Layers = append(v.Layers, layerRow{
			Layer:  l,
			Value:  snap.LayerIRR[l],
			Pct:    snap.LayerPct[l],
			Target: s.Target[l],
			Drift:  snap.LayerPct[l] - s.Target[l],
		})
	}
	protections := s.ActiveProtections(now)
	for _, h := range s.Holdings {
		v.Holdings = append(v.Holdings, holdingRow{
			Holding: h,
			Value:   snap.HoldingsIRRByAsset[h.AssetID],
			Protected: slices.ContainsFunc(protections, func(p portfolio.Protection) bool {
				return p.AssetID == h.AssetID
			}),
		})
	}
	for _, p := range protections {
		v.Protections = append(v.Protections, protectionRow{Protection: p, Left: p.Remaining(now)})
	}
	return v
}

// Describe returns a one line reading of an action.
func Describe(a portfolio.Action) string {
	switch a := a.(type) {
	case portfolio.AddFunds:
		return fmt.Sprintf("Add %s", a.AmountIRR)
	case portfolio.Trade:
		if a.Side == portfolio.Sell && a.Quantity.IsPositive() {
			return fmt.Sprintf("Sell %s %s", a.Quantity, a.AssetID)
		}
		return fmt.Sprintf("%s %s of %s", titleSide(a.Side), a.AmountIRR, a.AssetID)
	case portfolio.Protect:
		return fmt.Sprintf("Protect %s of %s for %d days", a.NotionalIRR, a.AssetID, a.DurationDays)
	case portfolio.Borrow:
		return fmt.Sprintf("Borrow %s against %s in %d installments", a.AmountIRR, a.AssetID, a.Installments)
	case portfolio.Repay:
		return fmt.Sprintf("Repay %s on loan %s", a.AmountIRR, a.LoanID)
	case portfolio.Rebalance:
		return fmt.Sprintf("Rebalance (%s, %s)", a.Mode, a.Strategy)
	case portfolio.Liquidation:
		return fmt.Sprintf("Liquidate %s %s for loan %s", a.Quantity, a.AssetID, a.LoanID)
	case nil:
		return "-"
	default:
		return string(a.Kind())
	}
}

func titleSide(s portfolio.Side) string {
	if s == portfolio.Sell {
		return "Sell"
	}
	return "Buy"
}
