// Package memory is an in-memory store.Store, for tests and ephemeral servers.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/store"
)

// Store keeps portfolios as JSON documents, so that callers never share
// memory with it.
type Store struct {
	mu   sync.RWMutex
	data map[string]*record // keyed by portfolio id
}

type record struct {
	state   []byte
	entries [][]byte
	ids     map[string]bool
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]*record)}
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Create registers a new portfolio. Returns ErrDuplicateKey if id exists.
func (s *Store) Create(_ context.Context, id string, st portfolio.State) error {
	if id == "" {
		return store.ErrInvalidInput
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; exists {
		return store.ErrDuplicateKey
	}
	s.data[id] = &record{state: data, ids: make(map[string]bool)}
	return nil
}

// LoadState returns the current state. Returns ErrNotFound if id does not exist.
func (s *Store) LoadState(_ context.Context, id string) (portfolio.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return portfolio.State{}, store.ErrNotFound
	}
	var st portfolio.State
	err := json.Unmarshal(r.state, &st)
	return st, err
}

// Commit saves st and appends e.
func (s *Store) Commit(_ context.Context, id string, st portfolio.State, e portfolio.LedgerEntry) error {
	if err := store.CheckCommit(id, st, e); err != nil {
		return err
	}
	state, err := json.Marshal(st)
	if err != nil {
		return err
	}
	entry, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[id]
	if !exists {
		return store.ErrNotFound
	}
	if e.Seq != uint64(len(r.entries))+1 || r.ids[e.ID] {
		return store.ErrDuplicateKey
	}
	r.state = state
	r.entries = append(r.entries, entry)
	r.ids[e.ID] = true
	return nil
}

// Entries returns the ledger of id.
func (s *Store) Entries(_ context.Context, id string) ([]portfolio.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := make([]portfolio.LedgerEntry, len(r.entries))
	for i, data := range r.entries {
		if err := json.Unmarshal(data, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// List returns every portfolio id.
func (s *Store) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
