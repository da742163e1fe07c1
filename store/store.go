// Package store persists portfolios: the current state of each one and its
// append-only ledger.
//
// Implementations live in the sub packages. They all keep the same rules: a
// portfolio is created once, and Commit saves the new state together with the
// next ledger entry or not at all.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/blumarkets/portfolio"
)

var (
	// ErrNotFound is returned when a portfolio does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a portfolio or a ledger entry already
	// exists. Ledgers are append-only and never updated.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the persistence of many portfolios.
type Store interface {
	// Create registers a new portfolio with its initial state.
	Create(ctx context.Context, id string, s portfolio.State) error
	// LoadState returns the current state of a portfolio.
	LoadState(ctx context.Context, id string) (portfolio.State, error)
	// Commit atomically replaces the state and appends the entry, whose Seq
	// must follow the last stored one.
	Commit(ctx context.Context, id string, s portfolio.State, e portfolio.LedgerEntry) error
	// Entries returns the ledger in sequence order.
	Entries(ctx context.Context, id string) ([]portfolio.LedgerEntry, error)
	// List returns the portfolio IDs in lexical order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// CheckCommit validates the arguments of Commit.
func CheckCommit(id string, s portfolio.State, e portfolio.LedgerEntry) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: missing portfolio id", ErrInvalidInput)
	case e.ID == "" || e.Seq == 0 || e.Payload == nil:
		return fmt.Errorf("%w: incomplete ledger entry", ErrInvalidInput)
	case s.Version != e.Seq:
		return fmt.Errorf("%w: state version %d does not match entry %d", ErrInvalidInput, s.Version, e.Seq)
	}
	return nil
}

// Open loads a portfolio and rebuilds its ledger.
func Open(ctx context.Context, st Store, id string) (portfolio.State, *portfolio.Ledger, error) {
	s, err := st.LoadState(ctx, id)
	if err != nil {
		return portfolio.State{}, nil, err
	}
	entries, err := st.Entries(ctx, id)
	if err != nil {
		return portfolio.State{}, nil, err
	}
	ledger := portfolio.NewLedger()
	for _, e := range entries {
		if _, err := ledger.Append(e); err != nil {
			return portfolio.State{}, nil, fmt.Errorf("portfolio %s: %w", id, err)
		}
	}
	if uint64(ledger.Len()) != s.Version {
		return portfolio.State{}, nil, fmt.Errorf("portfolio %s: state version %d but %d ledger entries", id, s.Version, ledger.Len())
	}
	if err := s.Validate(); err != nil {
		return portfolio.State{}, nil, fmt.Errorf("portfolio %s: %w", id, err)
	}
	return s, ledger, nil
}

// Persister adapts st to portfolio.WithPersister for portfolio id.
func Persister(ctx context.Context, st Store, id string) portfolio.Persister {
	return func(next portfolio.State, e portfolio.LedgerEntry) error {
		return st.Commit(ctx, id, next, e)
	}
}
