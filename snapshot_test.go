package portfolio

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewSnapshot_Balanced(t *testing.T) {
	s := balancedState()
	snap := s.Snapshot(testPrices(t0))

	if got, want := snap.HoldingsIRR, M(10_000_000_000); !got.Equal(want) {
		t.Errorf("HoldingsIRR = %s, want %s", got, want)
	}
	if got, want := snap.TotalIRR, M(10_000_000_000); !got.Equal(want) {
		t.Errorf("TotalIRR = %s, want %s", got, want)
	}
	for _, l := range Layers {
		if got, want := snap.LayerPct[l], testTarget[l]; math.Abs(got-want) > 1e-12 {
			t.Errorf("LayerPct[%s] = %v, want %v", l, got, want)
		}
	}
	if got, want := snap.HoldingsIRRByAsset[XRP], M(2_000_000_000); !got.Equal(want) {
		t.Errorf("HoldingsIRRByAsset[XRP] = %s, want %s", got, want)
	}
	if got := snap.MaxDrift(testTarget); got > 1e-12 {
		t.Errorf("MaxDrift() = %v, want 0", got)
	}
	if got := snap.Status(testTarget); got != Balanced {
		t.Errorf("Status() = %s, want %s", got, Balanced)
	}
}

func TestNewSnapshot_LayerPctSumsToOne(t *testing.T) {
	for name, s := range map[string]State{"balanced": balancedState(), "drifted": driftedState()} {
		t.Run(name, func(t *testing.T) {
			snap := s.Snapshot(testPrices(t0))
			sum := 0.0
			for _, l := range Layers {
				sum += snap.LayerPct[l]
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("sum of LayerPct = %v, want 1", sum)
			}
			if got, want := snap.TotalIRR, snap.HoldingsIRR.Add(snap.CashIRR); !got.Equal(want) {
				t.Errorf("TotalIRR = %s, want holdings + cash = %s", got, want)
			}
		})
	}
}

func TestNewSnapshot_AllCash(t *testing.T) {
	s := NewState(testTarget)
	s.Cash = M(10_000_000)
	snap := s.Snapshot(testPrices(t0))
	for _, l := range Layers {
		if got := snap.LayerPct[l]; got != 0 {
			t.Errorf("LayerPct[%s] = %v, want 0", l, got)
		}
		if !snap.LayerIRR[l].IsZero() {
			t.Errorf("LayerIRR[%s] = %s, want 0", l, snap.LayerIRR[l])
		}
	}
	if got, want := snap.TotalIRR, M(10_000_000); !got.Equal(want) {
		t.Errorf("TotalIRR = %s, want %s", got, want)
	}
	if got, want := snap.MaxDrift(testTarget), 0.5; got != want {
		t.Errorf("MaxDrift() = %v, want %v", got, want)
	}
}

func TestNewSnapshot_Deterministic(t *testing.T) {
	s := driftedState()
	p := testPrices(t0)
	a := s.Snapshot(p)
	b := s.Snapshot(p)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("two snapshots of the same inputs differ:\n%+v\n%+v", a, b)
	}
}

func TestNewSnapshot_MissingQuoteIsZero(t *testing.T) {
	s := balancedState()
	p := testPrices(t0)
	delete(p.Quotes, SOL)
	snap := s.Snapshot(p)
	if !snap.HoldingsIRRByAsset[SOL].IsZero() {
		t.Errorf("SOL value = %s, want 0", snap.HoldingsIRRByAsset[SOL])
	}
	if got, want := snap.HoldingsIRR, M(8_500_000_000); !got.Equal(want) {
		t.Errorf("HoldingsIRR = %s, want %s", got, want)
	}
}

func TestNewSnapshot_DirectIRRWins(t *testing.T) {
	s := balancedState()
	p := testPrices(t0)
	p.DirectIRR = map[AssetID]decimal.Decimal{SOL: decimal.NewFromInt(80_000_000), ETH: decimal.Zero}
	snap := s.Snapshot(p)
	if got, want := snap.HoldingsIRRByAsset[SOL], M(1_600_000_000); !got.Equal(want) {
		t.Errorf("SOL value = %s, want %s", got, want)
	}
	// a zero direct price falls back to the quote
	if got, want := snap.HoldingsIRRByAsset[ETH], M(1_500_000_000); !got.Equal(want) {
		t.Errorf("ETH value = %s, want %s", got, want)
	}
}

func TestNewSnapshot_FixedIncomeAccrual(t *testing.T) {
	h := Holding{AssetID: IRRFixedIncome, Quantity: Q(10), AcquiredAt: t0}
	tests := []struct {
		name string
		at   time.Time
		want Money
	}{
		{"same day", t0.Add(5 * time.Hour), M(5_000_000)},
		{"one year", t0.AddDate(0, 0, 365), M(6_500_000)},
		{"73 days", t0.AddDate(0, 0, 73), M(5_300_000)},
		{"before acquisition", t0.AddDate(0, 0, -10), M(5_000_000)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := NewSnapshot([]Holding{h}, Money{}, Prices{At: tc.at})
			if got := snap.HoldingsIRR; !got.Equal(tc.want) {
				t.Errorf("HoldingsIRR = %s, want %s", got, tc.want)
			}
			if got := snap.LayerPct[Foundation]; got != 1 {
				t.Errorf("LayerPct[FOUNDATION] = %v, want 1", got)
			}
		})
	}
}

func TestSnapshot_Status(t *testing.T) {
	snap := driftedState().Snapshot(testPrices(t0))
	if got, want := snap.MaxDrift(testTarget), 0.15; math.Abs(got-want) > 1e-9 {
		t.Errorf("MaxDrift() = %v, want %v", got, want)
	}
	if got := snap.Status(testTarget); got != OffTarget {
		t.Errorf("Status() = %s, want %s", got, OffTarget)
	}
}
