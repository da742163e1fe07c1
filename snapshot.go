package portfolio

import (
	"math"
)

// Snapshot is the valuation of a portfolio at one instant.
//
// It is a pure function of (holdings, cash, prices): it is never stored by the
// engine and two computations from the same inputs are identical.
type Snapshot struct {
	TotalIRR           Money             `json:"totalIrr"`
	CashIRR            Money             `json:"cashIrr"`
	HoldingsIRR        Money             `json:"holdingsIrr"`
	HoldingsIRRByAsset map[AssetID]Money `json:"holdingsIrrByAsset"`
	LayerIRR           map[Layer]Money   `json:"layerIrr"`
	LayerPct           map[Layer]float64 `json:"layerPct"`
}

// NewSnapshot values holdings and cash against prices.
//
// When nothing but cash is held, every layer percentage is 0.
func NewSnapshot(holdings []Holding, cash Money, prices Prices) Snapshot {
	s := Snapshot{
		CashIRR:            cash,
		HoldingsIRRByAsset: make(map[AssetID]Money, len(holdings)),
		LayerIRR:           make(map[Layer]Money, len(Layers)),
		LayerPct:           make(map[Layer]float64, len(Layers)),
	}
	for _, l := range Layers {
		s.LayerIRR[l] = Money{}
		s.LayerPct[l] = 0
	}
	for _, h := range holdings {
		v := prices.Value(h)
		s.HoldingsIRRByAsset[h.AssetID] = s.HoldingsIRRByAsset[h.AssetID].Add(v)
		l := h.Layer()
		s.LayerIRR[l] = s.LayerIRR[l].Add(v)
		s.HoldingsIRR = s.HoldingsIRR.Add(v)
	}
	s.TotalIRR = s.HoldingsIRR.Add(cash)
	if s.HoldingsIRR.IsPositive() {
		for _, l := range Layers {
			s.LayerPct[l] = s.LayerIRR[l].Ratio(s.HoldingsIRR)
		}
	}
	return s
}

// Drift returns the signed distance of a layer from its target.
func (s Snapshot) Drift(t TargetLayerPct, l Layer) float64 {
	return s.LayerPct[l] - t[l]
}

// MaxDrift returns the largest absolute layer drift from target.
//
// A portfolio without holdings is as far from its target as its largest target weight.
func (s Snapshot) MaxDrift(t TargetLayerPct) float64 {
	m := 0.0
	for _, l := range Layers {
		d := math.Abs(s.Drift(t, l))
		if math.IsNaN(d) {
			return math.NaN()
		}
		m = max(m, d)
	}
	return m
}

// Clone returns a deep copy, so that the maps can be shared safely.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.HoldingsIRRByAsset = make(map[AssetID]Money, len(s.HoldingsIRRByAsset))
	for k, v := range s.HoldingsIRRByAsset {
		c.HoldingsIRRByAsset[k] = v
	}
	c.LayerIRR = make(map[Layer]Money, len(s.LayerIRR))
	for k, v := range s.LayerIRR {
		c.LayerIRR[k] = v
	}
	c.LayerPct = make(map[Layer]float64, len(s.LayerPct))
	for k, v := range s.LayerPct {
		c.LayerPct[k] = v
	}
	return c
}

// DriftStatus is a coarse reading of how far a portfolio is from its target.
type DriftStatus string

const (
	Balanced      DriftStatus = "BALANCED"
	NeedsReview   DriftStatus = "ATTENTION"
	OffTarget     DriftStatus = "OFF_TARGET"
	balancedBand              = 0.05
	attentionBand             = 0.10
)

// Status classifies the snapshot drift for display.
func (s Snapshot) Status(t TargetLayerPct) DriftStatus {
	d := s.MaxDrift(t)
	switch {
	case d < balancedBand:
		return Balanced
	case d < attentionBand:
		return NeedsReview
	default:
		return OffTarget
	}
}
