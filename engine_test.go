package portfolio

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// Buying a little of one upside asset from an all-cash portfolio is far from
// target and must not be classified SAFE.
func TestEngine_BuyFromCash(t *testing.T) {
	s := NewState(testTarget)
	s.Cash = M(10_000_000)
	e := NewEngine("p1", s, DefaultPolicy(), WithIDGenerator(sequentialIDs()))
	in := testInputs(t0)

	if err := e.Start(KindTrade); err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, FieldSide, "buy")
	mustSet(t, e, FieldAsset, "sol")
	mustSet(t, e, FieldAmount, "2000000")

	res, err := e.Preview(in)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !res.OK {
		t.Fatalf("Preview() errors = %v", res.ValidationErrors)
	}
	if got := res.After.LayerPct[Upside]; got <= 0 {
		t.Errorf("After.LayerPct[UPSIDE] = %v, want > 0", got)
	}
	if res.Boundary == Safe {
		t.Errorf("Boundary = %s, want anything but SAFE", res.Boundary)
	}
	if len(res.FrictionCopy) == 0 {
		t.Errorf("FrictionCopy is empty for boundary %s", res.Boundary)
	}
	if got := e.Phase(); got != PhasePending {
		t.Errorf("Phase() = %s, want %s", got, PhasePending)
	}

	cr, err := e.Confirm(in)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if want := M(8_000_000); !cr.NewCashIRR.Equal(want) {
		t.Errorf("NewCashIRR = %s, want %s", cr.NewCashIRR, want)
	}
	if len(cr.UpdatedHoldings) != 1 || cr.UpdatedHoldings[0].AssetID != SOL {
		t.Errorf("UpdatedHoldings = %+v, want one SOL holding", cr.UpdatedHoldings)
	}
	if !reflect.DeepEqual(cr.LedgerEntry.After, res.After) {
		t.Errorf("committed After differs from previewed After:\n%+v\n%+v", cr.LedgerEntry.After, res.After)
	}
	if cr.LedgerEntry.Boundary != res.Boundary {
		t.Errorf("committed Boundary = %s, want %s", cr.LedgerEntry.Boundary, res.Boundary)
	}
	if cr.LedgerEntry.Seq != 1 || cr.LedgerEntry.ID != "id-1" {
		t.Errorf("entry Seq = %d ID = %s, want 1 id-1", cr.LedgerEntry.Seq, cr.LedgerEntry.ID)
	}
	if got := e.Phase(); got != PhaseCommitted {
		t.Errorf("Phase() = %s, want %s", got, PhaseCommitted)
	}
	if got := e.State().Version; got != 1 {
		t.Errorf("Version = %d, want 1", got)
	}
}

// A second rebalance an hour later, with moderate drift, hits the cooldown.
func TestEngine_RebalanceCooldown(t *testing.T) {
	e := NewEngine("p1", driftedState(), DefaultPolicy())
	in := testInputs(t0)

	if err := e.Start(KindRebalance); err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, FieldMode, "smart")
	res, err := e.Preview(in)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !res.OK || res.Plan == nil || len(res.Plan.Trades) == 0 {
		t.Fatalf("Preview() = ok %v plan %+v errors %v", res.OK, res.Plan, res.ValidationErrors)
	}
	if !res.MovesTowardTarget {
		t.Errorf("MovesTowardTarget = false, want true")
	}
	cr, err := e.Confirm(in)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !reflect.DeepEqual(cr.LedgerEntry.After, res.After) {
		t.Errorf("committed After differs from previewed After")
	}
	if got := e.State().LastRebalanceAt; !got.Equal(t0) {
		t.Errorf("LastRebalanceAt = %s, want %s", got, t0)
	}

	later := testInputs(t0.Add(time.Hour))
	later.Prices.Quotes[SOL] = decimal.NewFromInt(195)
	drift := e.Snapshot(later.Prices).MaxDrift(testTarget)
	if drift < 0.01 || drift > 0.10 {
		t.Fatalf("drift after the price move = %v, want between 1%% and 10%%", drift)
	}

	if err := e.Start(KindRebalance); err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, FieldMode, "smart")
	res, err = e.Preview(later)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if res.OK || !hasErrorString(res.ValidationErrors, MsgCooldown) {
		t.Errorf("Preview() errors = %v, want %q", res.ValidationErrors, MsgCooldown)
	}
	if got, want := res.Meta.CooldownRemaining, 23*time.Hour; got != want {
		t.Errorf("CooldownRemaining = %s, want %s", got, want)
	}
	if got := e.Phase(); got != PhasePreviewing {
		t.Errorf("Phase() = %s, want %s", got, PhasePreviewing)
	}
}

func TestEngine_StalePreview(t *testing.T) {
	e := NewEngine("p1", balancedState(), DefaultPolicy())
	in := testInputs(t0)

	e.StartWith(Trade{Side: Sell, AssetID: SOL, AmountIRR: M(1_500_000_000)})
	res, err := e.Preview(in)
	if err != nil || !res.OK {
		t.Fatalf("Preview() = %v, %v", res.ValidationErrors, err)
	}

	// SOL halves: the same amount now needs 40 SOL
	crash := testInputs(t0.Add(time.Minute))
	crash.Prices.Quotes[SOL] = decimal.NewFromInt(75)
	before := e.State()
	_, err = e.Confirm(crash)
	if !errors.Is(err, ErrStalePreview) {
		t.Fatalf("Confirm() error = %v, want %v", err, ErrStalePreview)
	}
	var stale *StalePreviewError
	if !errors.As(err, &stale) || !hasErrorString(stale.Errors, MsgExceedsAvailable) {
		t.Errorf("Confirm() error = %#v, want a StalePreviewError with %q", err, MsgExceedsAvailable)
	}
	if !reflect.DeepEqual(e.State(), before) {
		t.Errorf("a stale confirm modified the state")
	}
	if len(e.Entries()) != 0 {
		t.Errorf("a stale confirm wrote to the ledger")
	}
	if got := e.Phase(); got != PhaseNone {
		t.Errorf("Phase() = %s, want %s", got, PhaseNone)
	}
	if _, err := e.Confirm(crash); err != ErrNoPendingAction {
		t.Errorf("second Confirm() error = %v, want %v", err, ErrNoPendingAction)
	}
}

func TestEngine_Phases(t *testing.T) {
	e := NewEngine("p1", NewState(testTarget), DefaultPolicy())
	in := testInputs(t0)

	if got := e.Phase(); got != PhaseNone {
		t.Errorf("initial Phase() = %s, want %s", got, PhaseNone)
	}
	if err := e.Set(FieldAmount, "1"); err != ErrWrongPhase {
		t.Errorf("Set() without draft error = %v, want %v", err, ErrWrongPhase)
	}
	if _, err := e.Preview(in); err != ErrWrongPhase {
		t.Errorf("Preview() without draft error = %v, want %v", err, ErrWrongPhase)
	}
	if _, err := e.Confirm(in); err != ErrNoPendingAction {
		t.Errorf("Confirm() without pending error = %v, want %v", err, ErrNoPendingAction)
	}

	if err := e.Start(KindAddFunds); err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, FieldAmount, "5000000")
	if _, err := e.Preview(in); err != nil {
		t.Fatal(err)
	}
	if got := e.Phase(); got != PhasePending {
		t.Errorf("Phase() = %s, want %s", got, PhasePending)
	}

	// editing a pending action sends it back to draft
	mustSet(t, e, FieldAmount, "6000000")
	if got := e.Phase(); got != PhasePreviewing {
		t.Errorf("Phase() after Set = %s, want %s", got, PhasePreviewing)
	}
	if _, ok := e.Pending(); ok {
		t.Errorf("Pending() after Set should be empty")
	}
	if _, err := e.Confirm(in); err != ErrNoPendingAction {
		t.Errorf("Confirm() after Set error = %v, want %v", err, ErrNoPendingAction)
	}

	if _, err := e.Preview(in); err != nil {
		t.Fatal(err)
	}
	e.Cancel()
	if got := e.Phase(); got != PhaseNone {
		t.Errorf("Phase() after Cancel = %s, want %s", got, PhaseNone)
	}
	if e.Draft() != nil {
		t.Errorf("Draft() after Cancel = %v, want nil", e.Draft())
	}
	if !e.State().Cash.IsZero() {
		t.Errorf("cancelled action changed cash to %s", e.State().Cash)
	}
}

func TestEngine_ContractErrors(t *testing.T) {
	e := NewEngine("p1", NewState(testTarget), DefaultPolicy())
	in := testInputs(t0)

	var ce *ContractError
	if err := e.Start(KindLiquidation); !errors.As(err, &ce) || !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Start(LIQUIDATION) error = %v, want %v", err, ErrUnknownKind)
	}

	if err := e.Start(KindTrade); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(FieldLoan, "L1"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Set(loan) on a trade error = %v, want %v", err, ErrUnknownField)
	}
	if err := e.Set(FieldSide, "hold"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Set(side, hold) error = %v, want %v", err, ErrInvalidValue)
	}
	if err := e.Set(FieldAmount, "lots"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Set(amount, lots) error = %v, want %v", err, ErrInvalidValue)
	}

	mustSet(t, e, FieldSide, "buy")
	_, err := e.Preview(in)
	if !errors.As(err, &ce) || !errors.Is(err, ErrMissingField) || ce.Field != FieldAsset {
		t.Errorf("Preview() of incomplete draft error = %v, want missing %s", err, FieldAsset)
	}

	if err := e.Start(KindProtect); err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, FieldAsset, "BTC")
	if _, err := e.Preview(in); !errors.Is(err, ErrMissingQuote) {
		t.Errorf("Preview() of protect without quote error = %v, want %v", err, ErrMissingQuote)
	}
}

func TestEngine_BorrowRepay(t *testing.T) {
	e := NewEngine("p1", balancedState(), DefaultPolicy(), WithIDGenerator(sequentialIDs()))
	in := testInputs(t0)
	in.LoanQuote = &LoanQuote{InterestIRR: M(10_000_000)}

	commit := func(a Action) CommitResult {
		t.Helper()
		e.StartWith(a)
		res, err := e.Preview(in)
		if err != nil || !res.OK {
			t.Fatalf("Preview(%s) = %v, %v", a.Kind(), res.ValidationErrors, err)
		}
		cr, err := e.Confirm(in)
		if err != nil {
			t.Fatalf("Confirm(%s) error = %v", a.Kind(), err)
		}
		return cr
	}

	commit(AddFunds{AmountIRR: M(10_000_000)})
	commit(Borrow{AssetID: ETH, AmountIRR: M(500_000_000), Installments: 2})

	s := e.State()
	if len(s.Loans) != 1 {
		t.Fatalf("len(Loans) = %d, want 1", len(s.Loans))
	}
	loan := s.Loans[0]
	if want := M(510_000_000); !loan.Outstanding().Equal(want) {
		t.Errorf("Outstanding() = %s, want %s", loan.Outstanding(), want)
	}
	if n := len(loan.Installments); n != 2 || !loan.Installments[n-1].DueAt.Equal(t0.AddDate(0, 0, DefaultPolicy().DefaultTermDays)) {
		t.Errorf("Installments = %+v, want 2 over the default term", loan.Installments)
	}
	if h, _ := s.Holding(ETH); !h.Frozen {
		t.Errorf("ETH is not frozen after borrowing against it")
	}
	if want := M(510_000_000); !s.Cash.Equal(want) {
		t.Errorf("Cash = %s, want %s", s.Cash, want)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("State.Validate() = %v", err)
	}

	commit(Repay{LoanID: loan.ID, AmountIRR: M(255_000_000)})
	if l, _ := e.State().Loan(loan.ID); l.Status != LoanActive {
		t.Errorf("Status after partial repay = %s, want %s", l.Status, LoanActive)
	}
	commit(Repay{LoanID: loan.ID, AmountIRR: M(255_000_000)})

	s = e.State()
	if l, _ := s.Loan(loan.ID); l.Status != LoanRepaid {
		t.Errorf("Status after full repay = %s, want %s", l.Status, LoanRepaid)
	}
	if h, _ := s.Holding(ETH); h.Frozen {
		t.Errorf("ETH still frozen after the loan is repaid")
	}
	if !s.Cash.IsZero() {
		t.Errorf("Cash = %s, want 0", s.Cash)
	}

	entries := e.Entries()
	if len(entries) != 4 {
		t.Fatalf("len(Entries()) = %d, want 4", len(entries))
	}
	for i, entry := range entries {
		if entry.Seq != uint64(i+1) {
			t.Errorf("entries[%d].Seq = %d", i, entry.Seq)
		}
	}
	if entries[1].Kind != KindBorrow {
		t.Errorf("entries[1].Kind = %s, want %s", entries[1].Kind, KindBorrow)
	}
}

func TestEngine_Liquidate(t *testing.T) {
	e := NewEngine("p1", balancedState(), DefaultPolicy())
	in := testInputs(t0)
	in.LoanQuote = &LoanQuote{InterestIRR: M(10_000_000)}

	e.StartWith(Borrow{AssetID: ETH, AmountIRR: M(500_000_000)})
	if res, err := e.Preview(in); err != nil || !res.OK {
		t.Fatalf("Preview() = %v, %v", res.ValidationErrors, err)
	}
	if _, err := e.Confirm(in); err != nil {
		t.Fatal(err)
	}
	loanID := e.State().Loans[0].ID

	if _, err := e.Liquidate(loanID, in); !errors.Is(err, ErrNotLiquidatable) {
		t.Errorf("Liquidate() at the current price error = %v, want %v", err, ErrNotLiquidatable)
	}
	if _, err := e.Liquidate("nope", in); !errors.Is(err, ErrNotLiquidatable) {
		t.Errorf("Liquidate(nope) error = %v, want %v", err, ErrNotLiquidatable)
	}

	// ETH at 1000 USD is 5e8 IRR, below the liquidation price of about 5.67e8
	crash := testInputs(t0.AddDate(0, 0, 1))
	crash.Prices.Quotes[ETH] = decimal.NewFromInt(1000)
	cr, err := e.Liquidate(loanID, crash)
	if err != nil {
		t.Fatalf("Liquidate() error = %v", err)
	}
	if cr.LedgerEntry.Kind != KindLiquidation {
		t.Errorf("entry Kind = %s, want %s", cr.LedgerEntry.Kind, KindLiquidation)
	}
	s := e.State()
	if l, _ := s.Loan(loanID); l.Status != LoanLiquidated || !l.Outstanding().IsZero() {
		t.Errorf("loan = %+v, want liquidated and settled", l)
	}
	if _, ok := s.Holding(ETH); ok {
		t.Errorf("ETH collateral is still held")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("State.Validate() = %v", err)
	}
}

func TestEngine_LogsCommits(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewState(testTarget)
	e := NewEngine("p1", s, DefaultPolicy(), WithLogger(logger))
	in := testInputs(t0)

	e.StartWith(AddFunds{AmountIRR: M(5_000_000)})
	if _, err := e.Preview(in); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Confirm(in); err != nil {
		t.Fatal(err)
	}
	last := hook.LastEntry()
	if last == nil || last.Message != "committed" || last.Level != logrus.InfoLevel {
		t.Fatalf("last log entry = %+v, want info committed", last)
	}
	if got := last.Data["portfolio"]; got != "p1" {
		t.Errorf("portfolio field = %v, want p1", got)
	}
	if got := last.Data["kind"]; got != KindAddFunds {
		t.Errorf("kind field = %v, want %s", got, KindAddFunds)
	}
}

func TestEngine_ConcurrentReaders(t *testing.T) {
	e := NewEngine("p1", NewState(testTarget), DefaultPolicy())
	in := testInputs(t0)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = e.Snapshot(in.Prices)
				_ = e.Entries()
			}
		}()
	}
	for range 10 {
		e.StartWith(AddFunds{AmountIRR: M(1_000_000)})
		if _, err := e.Preview(in); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Confirm(in); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if want := M(10_000_000); !e.State().Cash.Equal(want) {
		t.Errorf("Cash = %s, want %s", e.State().Cash, want)
	}
	if got := len(e.Entries()); got != 10 {
		t.Errorf("len(Entries()) = %d, want 10", got)
	}
}

func TestEngine_Persister(t *testing.T) {
	errDown := errors.New("store down")
	var saved []LedgerEntry
	fail := true
	persist := func(next State, entry LedgerEntry) error {
		if fail {
			return errDown
		}
		if want := M(5_000_000); !next.Cash.Equal(want) {
			t.Errorf("persisted Cash = %s, want %s", next.Cash, want)
		}
		saved = append(saved, entry)
		return nil
	}
	e := NewEngine("p1", NewState(testTarget), DefaultPolicy(), WithPersister(persist), WithIDGenerator(sequentialIDs()))
	in := testInputs(t0)

	deposit := func() (CommitResult, error) {
		e.StartWith(AddFunds{AmountIRR: M(5_000_000)})
		if _, err := e.Preview(in); err != nil {
			t.Fatal(err)
		}
		return e.Confirm(in)
	}

	if _, err := deposit(); !errors.Is(err, errDown) {
		t.Fatalf("Confirm() error = %v, want %v", err, errDown)
	}
	if s := e.State(); !s.Cash.IsZero() || s.Version != 0 {
		t.Errorf("state after a failed persist = %+v, want unchanged", s)
	}
	if n := len(e.Entries()); n != 0 {
		t.Errorf("len(Entries()) = %d, want 0", n)
	}

	fail = false
	cr, err := deposit()
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if len(saved) != 1 || saved[0].Seq != 1 || saved[0].ID != cr.LedgerEntry.ID {
		t.Errorf("saved = %+v, want the committed entry with seq 1", saved)
	}
}
