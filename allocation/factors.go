package allocation

import (
	"math"
	"slices"
)

// Factor holds the inputs of the HRAM score of one asset.
type Factor struct {
	Volatility  float64 `json:"volatility"`  // annualized
	Momentum    float64 `json:"momentum"`    // last price / moving average - 1
	Correlation float64 `json:"correlation"` // average correlation with the other assets
	Liquidity   float64 `json:"liquidity"`
}

// Factors maps asset IDs to their factors.
type Factors map[string]Factor

// neutral is used for assets with no factor at all.
var neutral = Factor{Volatility: 0.5, Liquidity: 1}

func (f Factors) lookup(id string) Factor {
	if v, ok := f[id]; ok {
		return v
	}
	return neutral
}

// Overlay returns a copy of f where every asset present in o takes o's factor.
// A zero liquidity in o keeps the liquidity of f.
func (f Factors) Overlay(o Factors) Factors {
	res := make(Factors, len(f)+len(o))
	for k, v := range f {
		res[k] = v
	}
	for k, v := range o {
		if v.Liquidity <= 0 {
			v.Liquidity = res[k].Liquidity
		}
		res[k] = v
	}
	return res
}

// Windows sets the number of samples used for each factor.
type Windows struct {
	Volatility  int
	Momentum    int
	Correlation int
}

var DefaultWindows = Windows{Volatility: 30, Momentum: 50, Correlation: 60}

func (w Windows) lookback() int {
	return max(w.Volatility+1, w.Momentum, w.Correlation+1)
}

// FactorsFromHistory derives factors from daily price series.
//
// Assets with fewer samples than the longest window are left out, so that the
// caller keeps their static profile. Correlations are computed among the
// assets that qualify. Liquidity is not derived from prices and is left 0.
func FactorsFromHistory(history map[string][]float64, w Windows) Factors {
	if w.Volatility < 2 || w.Momentum < 1 || w.Correlation < 2 {
		w = DefaultWindows
	}
	need := w.lookback()
	var ids []string
	for id, series := range history {
		if len(series) >= need && positive(series[len(series)-need:]) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	returns := make(map[string][]float64, len(ids))
	res := make(Factors, len(ids))
	for _, id := range ids {
		series := history[id]
		r := pctChange(series[len(series)-max(w.Volatility, w.Correlation)-1:])
		returns[id] = r[len(r)-w.Correlation:]
		res[id] = Factor{
			Volatility: stdev(r[len(r)-w.Volatility:]) * math.Sqrt(365),
			Momentum:   series[len(series)-1]/mean(series[len(series)-w.Momentum:]) - 1,
		}
	}
	for _, id := range ids {
		// average of the correlation column, the asset itself included
		total := 0.0
		for _, other := range ids {
			if other == id {
				total++
				continue
			}
			total += correlation(returns[id], returns[other])
		}
		f := res[id]
		f.Correlation = total / float64(len(ids))
		res[id] = f
	}
	return res
}

// RecentVolatility returns the mean, over the assets with at least samples
// prices, of the standard deviation of their last samples-1 daily returns.
// It is false when no asset qualifies.
func RecentVolatility(history map[string][]float64, samples int) (float64, bool) {
	if samples < 3 {
		return 0, false
	}
	ids := make([]string, 0, len(history))
	for id := range history {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	total, n := 0.0, 0
	for _, id := range ids {
		series := history[id]
		if len(series) < samples || !positive(series[len(series)-samples:]) {
			continue
		}
		total += stdev(pctChange(series[len(series)-samples:]))
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

func positive(xs []float64) bool {
	for _, x := range xs {
		if !(x > 0) {
			return false
		}
	}
	return true
}

func pctChange(prices []float64) []float64 {
	r := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		r[i-1] = prices[i]/prices[i-1] - 1
	}
	return r
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// correlation is the Pearson correlation of two equally long series. A
// constant series has no defined correlation and counts as 0.
func correlation(a, b []float64) float64 {
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}
