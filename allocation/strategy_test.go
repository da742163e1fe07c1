package allocation

import (
	"math"
	"testing"
)

var growth = []string{"BNB", "BTC", "ETH", "KAG", "QQQ", "XRP"}

var growthFactors = Factors{
	"BTC": {Volatility: 0.45, Liquidity: 1.1},
	"ETH": {Volatility: 0.55, Liquidity: 1.1},
	"BNB": {Volatility: 0.60, Liquidity: 1},
	"XRP": {Volatility: 0.70, Liquidity: 1},
	"KAG": {Volatility: 0.25, Liquidity: 1},
	"QQQ": {Volatility: 0.22, Liquidity: 1},
}

func TestWeights_SumToOne(t *testing.T) {
	inputs := []struct {
		name    string
		ids     []string
		factors Factors
	}{
		{"growth", growth, growthFactors},
		{"no factors", growth, nil},
		{"two assets", []string{"PAXG", "USDT"}, Factors{"USDT": {Volatility: 0.001}, "PAXG": {Volatility: 0.12}}},
		{"single", []string{"SOL"}, nil},
		{"negative momentum", []string{"A", "B", "C"}, Factors{"A": {Volatility: 0.3, Momentum: -10}, "B": {Volatility: 0.3}, "C": {Volatility: 0.3, Momentum: 2}}},
		{"nan volatility", []string{"A", "B"}, Factors{"A": {Volatility: math.NaN()}, "B": {Volatility: 0.2}}},
	}
	for _, s := range Strategies() {
		for _, in := range inputs {
			t.Run(string(s)+"/"+in.name, func(t *testing.T) {
				w := Weights(s, in.ids, in.factors, DefaultBounds)
				if len(w) != len(in.ids) {
					t.Fatalf("Weights() returned %d weights, want %d", len(w), len(in.ids))
				}
				sum := 0.0
				for i, v := range w {
					if v < 0 || math.IsNaN(v) {
						t.Errorf("weight[%d] = %v, want >= 0", i, v)
					}
					sum += v
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("sum of weights = %v, want 1", sum)
				}
			})
		}
	}
}

func TestWeights_Empty(t *testing.T) {
	if got := Weights(RiskParity, nil, nil, DefaultBounds); got != nil {
		t.Errorf("Weights(nil) = %v, want nil", got)
	}
}

func TestWeights_EqualWeight(t *testing.T) {
	w := Weights(EqualWeight, growth, growthFactors, DefaultBounds)
	for i, v := range w {
		if math.Abs(v-1.0/6) > 1e-12 {
			t.Errorf("weight[%d] = %v, want %v", i, v, 1.0/6)
		}
	}
}

func TestWeights_RiskParityFavorsLowVolatility(t *testing.T) {
	w := Weights(RiskParity, growth, growthFactors, DefaultBounds)
	idx := func(id string) int {
		for i, v := range growth {
			if v == id {
				return i
			}
		}
		t.Fatalf("unknown id %s", id)
		return -1
	}
	if !(w[idx("QQQ")] > w[idx("XRP")]) {
		t.Errorf("QQQ weight %v should exceed XRP weight %v", w[idx("QQQ")], w[idx("XRP")])
	}
	if !(w[idx("XRP")] < w[idx("BTC")]) {
		t.Errorf("XRP weight %v should be below BTC weight %v", w[idx("XRP")], w[idx("BTC")])
	}
}

func TestWeights_AggressiveFavorsHighVolatility(t *testing.T) {
	w := Weights(Aggressive, []string{"LOW", "HIGH"}, Factors{"LOW": {Volatility: 0.2}, "HIGH": {Volatility: 0.9}}, Bounds{})
	if !(w[1] > w[0]) {
		t.Errorf("Aggressive weights = %v, want HIGH > LOW", w)
	}
}

func TestWeights_ClampFeasible(t *testing.T) {
	// USDT is 100x less volatile than the rest and would take nearly everything.
	ids := []string{"A", "B", "C", "USDT"}
	f := Factors{"A": {Volatility: 0.5}, "B": {Volatility: 0.5}, "C": {Volatility: 0.5}, "USDT": {Volatility: 0.001}}
	w := Weights(RiskParity, ids, f, DefaultBounds)
	if w[3] > 0.5 {
		t.Errorf("USDT weight = %v, want it pulled toward the 0.40 cap", w[3])
	}
	unclamped := Weights(RiskParity, ids, f, Bounds{})
	if unclamped[3] < 0.9 {
		t.Errorf("unclamped USDT weight = %v, want > 0.9", unclamped[3])
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", Default, false},
		{"equal_weight", EqualWeight, false},
		{" MOMENTUM_TILT ", MomentumTilt, false},
		{"magic", "", true},
	}
	for _, tc := range tests {
		got, err := ParseStrategy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
