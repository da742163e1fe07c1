package portfolio

import (
	"fmt"
	"math"
	"strings"
)

// Boundary grades how far an action leaves the portfolio from its target.
type Boundary string

const (
	Safe       Boundary = "SAFE"
	Drift      Boundary = "DRIFT"
	Structural Boundary = "STRUCTURAL"
	Stress     Boundary = "STRESS"
)

// ParseBoundary converts a case-insensitive boundary name.
func ParseBoundary(s string) (Boundary, error) {
	switch b := Boundary(strings.ToUpper(strings.TrimSpace(s))); b {
	case Safe, Drift, Structural, Stress:
		return b, nil
	}
	return "", fmt.Errorf("unknown boundary %q", s)
}

// Default upper bounds of maxDrift for each boundary. Anything above
// DefaultStructuralMaxDrift is STRESS.
const (
	DefaultSafeMaxDrift       = 0.05
	DefaultDriftMaxDrift      = 0.10
	DefaultStructuralMaxDrift = 0.20
)

// BoundaryTable holds the ascending maxDrift thresholds of the classifier.
type BoundaryTable struct {
	SafeMax       float64 `yaml:"safe_max" json:"safeMax"`
	DriftMax      float64 `yaml:"drift_max" json:"driftMax"`
	StructuralMax float64 `yaml:"structural_max" json:"structuralMax"`
}

func DefaultBoundaryTable() BoundaryTable {
	return BoundaryTable{
		SafeMax:       DefaultSafeMaxDrift,
		DriftMax:      DefaultDriftMaxDrift,
		StructuralMax: DefaultStructuralMaxDrift,
	}
}

// Validate checks that thresholds are positive and ascending.
func (t BoundaryTable) Validate() error {
	if !(t.SafeMax > 0 && t.SafeMax < t.DriftMax && t.DriftMax < t.StructuralMax) {
		return fmt.Errorf("boundary thresholds must be positive and ascending: %v < %v < %v", t.SafeMax, t.DriftMax, t.StructuralMax)
	}
	return nil
}

// Band maps a maxDrift value to its boundary. NaN is STRESS.
func (t BoundaryTable) Band(maxDrift float64) Boundary {
	switch {
	case math.IsNaN(maxDrift):
		return Stress
	case maxDrift <= t.SafeMax:
		return Safe
	case maxDrift <= t.DriftMax:
		return Drift
	case maxDrift <= t.StructuralMax:
		return Structural
	default:
		return Stress
	}
}

// Classification is the boundary reading of a before/after pair.
type Classification struct {
	Boundary          Boundary `json:"boundary"`
	MovesTowardTarget bool     `json:"movesTowardTarget"`
	DriftBefore       float64  `json:"driftBefore"`
	DriftAfter        float64  `json:"driftAfter"`
}

// Classify grades the after snapshot and tells whether it is strictly closer to
// target than before. It is total and deterministic.
func Classify(before, after Snapshot, target TargetLayerPct, table BoundaryTable) Classification {
	db, da := before.MaxDrift(target), after.MaxDrift(target)
	return Classification{
		Boundary:          table.Band(da),
		MovesTowardTarget: da < db,
		DriftBefore:       db,
		DriftAfter:        da,
	}
}

// FrictionCopy is the user facing copy attached to a preview per boundary.
type FrictionCopy map[Boundary][]string

func DefaultFrictionCopy() FrictionCopy {
	return FrictionCopy{
		Safe: nil,
		Drift: {
			"This moves your portfolio away from its target allocation.",
		},
		Structural: {
			"This significantly changes your portfolio structure.",
			"Review the layer breakdown before confirming.",
		},
		Stress: {
			"This leaves your portfolio far from its target allocation.",
			"Consider a smaller amount or a rebalance afterwards.",
			"Confirm only if this is intentional.",
		},
	}
}

// For returns a copy of the lines for b.
func (f FrictionCopy) For(b Boundary) []string {
	lines := f[b]
	if len(lines) == 0 {
		return nil
	}
	return append([]string(nil), lines...)
}
