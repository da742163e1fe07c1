package portfolio

import (
	"fmt"
	"math"
)

// targetSumTolerance is how far the layer weights of a target may sum away from 1.
const targetSumTolerance = 1e-9

// TargetLayerPct is the desired fraction of holdings value per layer.
type TargetLayerPct map[Layer]float64

// NewTarget builds a validated target.
func NewTarget(foundation, growth, upside float64) (TargetLayerPct, error) {
	t := TargetLayerPct{Foundation: foundation, Growth: growth, Upside: upside}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustTarget is like NewTarget but panics on invalid weights.
func MustTarget(foundation, growth, upside float64) TargetLayerPct {
	t, err := NewTarget(foundation, growth, upside)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks that every layer is present, non negative and that the weights sum to 1.
func (t TargetLayerPct) Validate() error {
	if len(t) != len(Layers) {
		return fmt.Errorf("target must define exactly %d layers, got %d", len(Layers), len(t))
	}
	sum := 0.0
	for _, l := range Layers {
		v, ok := t[l]
		if !ok {
			return fmt.Errorf("target is missing layer %s", l)
		}
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("target weight for %s must be >= 0, got %v", l, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > targetSumTolerance {
		return fmt.Errorf("target weights must sum to 1, got %v", sum)
	}
	return nil
}

func (t TargetLayerPct) clone() TargetLayerPct {
	c := make(TargetLayerPct, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}
