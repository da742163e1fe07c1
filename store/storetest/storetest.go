// Package storetest checks that a store.Store implementation keeps the rules
// every store shares.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Commit is one committed action, as a store receives it.
type Commit struct {
	State portfolio.State
	Entry portfolio.LedgerEntry
}

// History commits a deposit, a purchase and a loan on a new portfolio and
// returns the initial state and the commits in order.
func History(t *testing.T) (portfolio.State, []Commit) {
	t.Helper()
	initial := portfolio.NewState(portfolio.MustTarget(0.5, 0.35, 0.15))
	var commits []Commit
	n := 0
	e := portfolio.NewEngine("p1", initial, portfolio.DefaultPolicy(),
		portfolio.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
		portfolio.WithPersister(func(next portfolio.State, entry portfolio.LedgerEntry) error {
			commits = append(commits, Commit{next, entry})
			return nil
		}))

	prices := portfolio.Prices{
		Quotes: map[portfolio.AssetID]decimal.Decimal{
			portfolio.USDT: decimal.NewFromInt(1),
			portfolio.ETH:  decimal.NewFromInt(3000),
		},
		FXRate: decimal.NewFromInt(500_000),
		At:     t0,
	}
	in := portfolio.Inputs{Prices: prices, Now: t0, LoanQuote: &portfolio.LoanQuote{InterestIRR: portfolio.M(9_000_000)}}
	for _, a := range []portfolio.Action{
		portfolio.AddFunds{AmountIRR: portfolio.M(5_000_000_000)},
		portfolio.Trade{Side: portfolio.Buy, AssetID: portfolio.ETH, AmountIRR: portfolio.M(1_500_000_000)},
		portfolio.Borrow{AssetID: portfolio.ETH, AmountIRR: portfolio.M(300_000_000)},
	} {
		e.StartWith(a)
		res, err := e.Preview(in)
		require.NoError(t, err)
		require.True(t, res.OK, "preview of %s: %v", a.Kind(), res.ValidationErrors)
		_, err = e.Confirm(in)
		require.NoError(t, err)
	}
	require.Len(t, commits, 3)
	return initial, commits
}

// Run runs the conformance tests against stores built by open. Every call to
// open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, open(t)) })
	t.Run("Commit", func(t *testing.T) { testCommit(t, open(t)) })
	t.Run("CommitRejects", func(t *testing.T) { testCommitRejects(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("List", func(t *testing.T) { testList(t, open(t)) })
	t.Run("Open", func(t *testing.T) { testOpen(t, open(t)) })
}

func testCreateAndLoad(t *testing.T, st store.Store) {
	ctx := context.Background()
	initial, _ := History(t)

	require.NoError(t, st.Create(ctx, "p1", initial))
	assert.ErrorIs(t, st.Create(ctx, "p1", initial), store.ErrDuplicateKey)
	assert.ErrorIs(t, st.Create(ctx, "", initial), store.ErrInvalidInput)

	got, err := st.LoadState(ctx, "p1")
	require.NoError(t, err)
	assertJSONEqual(t, initial, got)

	entries, err := st.Entries(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testCommit(t *testing.T, st store.Store) {
	ctx := context.Background()
	initial, commits := History(t)
	require.NoError(t, st.Create(ctx, "p1", initial))

	for _, c := range commits {
		require.NoError(t, st.Commit(ctx, "p1", c.State, c.Entry))
	}

	got, err := st.LoadState(ctx, "p1")
	require.NoError(t, err)
	last := commits[len(commits)-1]
	assertJSONEqual(t, last.State, got)
	assert.Len(t, got.ActiveLoans(), 1)

	entries, err := st.Entries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, len(commits))
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, commits[i].Entry.Kind, e.Kind)
		assertJSONEqual(t, commits[i].Entry, e)
	}
}

func testCommitRejects(t *testing.T, st store.Store) {
	ctx := context.Background()
	initial, commits := History(t)
	require.NoError(t, st.Create(ctx, "p1", initial))
	first, second := commits[0], commits[1]

	assert.ErrorIs(t, st.Commit(ctx, "p1", second.State, second.Entry), store.ErrDuplicateKey, "gap in sequence")
	require.NoError(t, st.Commit(ctx, "p1", first.State, first.Entry))
	assert.ErrorIs(t, st.Commit(ctx, "p1", first.State, first.Entry), store.ErrDuplicateKey, "replayed entry")

	reused := second
	reused.Entry.ID = first.Entry.ID
	assert.ErrorIs(t, st.Commit(ctx, "p1", reused.State, reused.Entry), store.ErrDuplicateKey, "reused entry id")

	mismatch := second
	mismatch.State.Version = 7
	assert.ErrorIs(t, st.Commit(ctx, "p1", mismatch.State, mismatch.Entry), store.ErrInvalidInput)

	// rejected commits change nothing
	got, err := st.LoadState(ctx, "p1")
	require.NoError(t, err)
	assertJSONEqual(t, first.State, got)
	entries, err := st.Entries(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func testNotFound(t *testing.T, st store.Store) {
	ctx := context.Background()
	_, commits := History(t)

	_, err := st.LoadState(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Entries(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, st.Commit(ctx, "nope", commits[0].State, commits[0].Entry), store.ErrNotFound)
}

func testList(t *testing.T, st store.Store) {
	ctx := context.Background()
	initial, _ := History(t)

	ids, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, st.Create(ctx, id, initial))
	}
	ids, err = st.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func testOpen(t *testing.T, st store.Store) {
	ctx := context.Background()
	initial, commits := History(t)
	require.NoError(t, st.Create(ctx, "p1", initial))
	for _, c := range commits {
		require.NoError(t, st.Commit(ctx, "p1", c.State, c.Entry))
	}

	s, ledger, err := store.Open(ctx, st, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(commits)), s.Version)
	assert.Equal(t, len(commits), ledger.Len())

	// an engine resumed from the store continues the sequence
	e := portfolio.NewEngine("p1", s, portfolio.DefaultPolicy(), portfolio.WithLedger(ledger),
		portfolio.WithPersister(store.Persister(ctx, st, "p1")))
	e.StartWith(portfolio.AddFunds{AmountIRR: portfolio.M(2_000_000)})
	in := portfolio.Inputs{Prices: portfolio.Prices{FXRate: decimal.NewFromInt(500_000), At: t0}, Now: t0}
	_, err = e.Preview(in)
	require.NoError(t, err)
	cr, err := e.Confirm(in)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(commits)+1), cr.LedgerEntry.Seq)

	entries, err := st.Entries(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, entries, len(commits)+1)
}

func assertJSONEqual(t *testing.T, want, got any) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}
