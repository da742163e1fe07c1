package portfolio

import (
	"errors"
	"slices"
	"testing"
)

func entry(id string) LedgerEntry {
	return LedgerEntry{ID: id, Timestamp: t0, Kind: KindAddFunds, Payload: AddFunds{AmountIRR: M(1_000_000)}}
}

func TestLedger_Append(t *testing.T) {
	l := NewLedger()
	for i, id := range []string{"a", "b", "c"} {
		got, err := l.Append(entry(id))
		if err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
		if got.Seq != uint64(i+1) {
			t.Errorf("Append(%s).Seq = %d, want %d", id, got.Seq, i+1)
		}
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
	if last, ok := l.Last(); !ok || last.ID != "c" {
		t.Errorf("Last() = %v, %v, want c", last.ID, ok)
	}
	if got := l.Entry(1).ID; got != "b" {
		t.Errorf("Entry(1).ID = %s, want b", got)
	}
}

func TestLedger_AppendErrors(t *testing.T) {
	l := NewLedger()
	if _, err := l.Append(entry("a")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		entry LedgerEntry
		want  error
	}{
		{"duplicate id", entry("a"), ErrDuplicateEntry},
		{"missing id", entry(""), ErrDuplicateEntry},
		{"gap", func() LedgerEntry { e := entry("x"); e.Seq = 3; return e }(), ErrOutOfSequence},
		{"replay", func() LedgerEntry { e := entry("y"); e.Seq = 1; return e }(), ErrOutOfSequence},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.Append(tc.entry); !errors.Is(err, tc.want) {
				t.Errorf("Append() error = %v, want %v", err, tc.want)
			}
		})
	}
	if _, err := l.Append(LedgerEntry{ID: "z"}); err == nil {
		t.Errorf("Append() of an entry without payload should fail")
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d after rejected appends, want 1", l.Len())
	}

	// an explicit next Seq is accepted
	e := entry("b")
	e.Seq = 2
	if _, err := l.Append(e); err != nil {
		t.Errorf("Append() with Seq 2 error = %v", err)
	}
}

func TestLedger_EntriesAreCopies(t *testing.T) {
	l := NewLedger()
	e := entry("r")
	e.Kind = KindRebalance
	e.Payload = Rebalance{Mode: Smart, Trades: []PlannedTrade{{AssetID: BTC, Side: Sell, AmountIRR: M(10)}}}
	if _, err := l.Append(e); err != nil {
		t.Fatal(err)
	}
	// mutating the caller's slice does not change the ledger
	e.Payload.(Rebalance).Trades[0].AmountIRR = M(99)
	got := l.Entry(0).Payload.(Rebalance).Trades[0].AmountIRR
	if !got.Equal(M(10)) {
		t.Errorf("stored trade amount = %s, want 10", got)
	}
}

func TestLedger_Since(t *testing.T) {
	l := NewLedger()
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := l.Append(entry(id)); err != nil {
			t.Fatal(err)
		}
	}
	ids := func(seq uint64) []string {
		var res []string
		for e := range l.Since(seq) {
			res = append(res, e.ID)
		}
		return res
	}
	if got := ids(2); !slices.Equal(got, []string{"c", "d"}) {
		t.Errorf("Since(2) = %v, want [c d]", got)
	}
	if got := ids(0); len(got) != 4 {
		t.Errorf("Since(0) = %v, want all", got)
	}
	if got := ids(10); len(got) != 0 {
		t.Errorf("Since(10) = %v, want none", got)
	}
}
