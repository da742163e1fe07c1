// Package allocation computes intra-layer weights: how the amount bought into
// (or sold out of) a layer is split between the assets of that layer.
//
// Every strategy returns non negative weights that sum to 1. Inputs that leave
// no meaningful score (no factors, zeros, NaN) fall back to equal weight.
package allocation

import (
	"fmt"
	"math"
	"strings"
)

type Strategy string

const (
	EqualWeight        Strategy = "EQUAL_WEIGHT"
	RiskParity         Strategy = "RISK_PARITY"
	Conservative       Strategy = "CONSERVATIVE"
	Balanced           Strategy = "BALANCED"
	Aggressive         Strategy = "AGGRESSIVE"
	MomentumTilt       Strategy = "MOMENTUM_TILT"
	MaxDiversification Strategy = "MAX_DIVERSIFICATION"
)

// Default is used when no strategy is requested.
const Default = RiskParity

// exponents biases the four HRAM factors of a preset.
type exponents struct {
	risk, momentum, correlation, liquidity float64
}

var presets = map[Strategy]exponents{
	RiskParity:         {1, 1, 1, 1},
	Conservative:       {1.5, 0.5, 1, 1},
	Balanced:           {0.5, 1, 1, 1},
	Aggressive:         {-0.5, 1.5, 1, 1},
	MomentumTilt:       {1, 3, 1, 1},
	MaxDiversification: {0.5, 0.5, 4, 1},
}

// Strategies lists the supported strategies.
func Strategies() []Strategy {
	return []Strategy{EqualWeight, RiskParity, Conservative, Balanced, Aggressive, MomentumTilt, MaxDiversification}
}

// Valid reports whether s is supported.
func (s Strategy) Valid() bool {
	if s == EqualWeight {
		return true
	}
	_, ok := presets[s]
	return ok
}

// ParseStrategy converts a case-insensitive strategy name. An empty string is Default.
func ParseStrategy(s string) (Strategy, error) {
	if strings.TrimSpace(s) == "" {
		return Default, nil
	}
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unsupported strategy %q", s)
	}
	return st, nil
}

// Bounds limits a single weight. They are applied only when feasible for the
// number of assets (n*Min <= 1 <= n*Max).
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

var DefaultBounds = Bounds{Min: 0.05, Max: 0.40}

const clampPasses = 3

// Weights returns one weight per id, in the order of ids.
func Weights(s Strategy, ids []string, factors Factors, b Bounds) []float64 {
	n := len(ids)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}
	exp, ok := presets[s]
	if !ok {
		return equal(n)
	}
	w := make([]float64, n)
	for i, id := range ids {
		w[i] = score(factors.lookup(id), exp)
	}
	if !normalize(w) {
		return equal(n)
	}
	if b.feasible(n) {
		for range clampPasses {
			for i := range w {
				w[i] = min(max(w[i], b.Min), b.Max)
			}
			normalize(w)
		}
	}
	return w
}

// score is the HRAM score of one asset with preset exponents.
func score(f Factor, e exponents) float64 {
	vol := max(f.Volatility, 0)
	risk := 1 / (vol + 1e-6)
	mom := max(0.1, 1+0.3*f.Momentum)
	corr := 1 - 0.2*min(max(f.Correlation, -1), 1)
	liq := f.Liquidity
	if liq <= 0 {
		liq = 1
	}
	return math.Pow(risk, e.risk) * math.Pow(mom, e.momentum) * math.Pow(corr, e.correlation) * math.Pow(liq, e.liquidity)
}

// normalize scales w to sum 1 in place. It returns false if that is not possible.
func normalize(w []float64) bool {
	total := 0.0
	for _, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		total += v
	}
	if total <= 0 || math.IsInf(total, 0) {
		return false
	}
	for i := range w {
		w[i] /= total
	}
	return true
}

func equal(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

func (b Bounds) feasible(n int) bool {
	if b.Min < 0 || b.Max <= 0 || b.Min > b.Max {
		return false
	}
	return float64(n)*b.Min <= 1 && float64(n)*b.Max >= 1
}
