// Package file stores portfolios in a directory.
//
// Portfolio "john/main" is made of two files: john/main.jsonl holds the
// ledger, one JSON entry per line, and john/main.state.json the current state.
// The ledger file is only ever appended to.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/store"
)

const (
	ledgerExt = ".jsonl"
	stateExt  = ".state.json"
)

// Store is a directory of portfolios. It is safe for concurrent use within a
// process, but not across processes.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create store directory %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) paths(id string) (ledger, state string, err error) {
	if id == "" || !filepath.IsLocal(id) {
		return "", "", fmt.Errorf("%w: portfolio id %q", store.ErrInvalidInput, id)
	}
	base := filepath.Join(s.dir, filepath.FromSlash(id))
	return base + ledgerExt, base + stateExt, nil
}

// Create writes the initial state and an empty ledger.
func (s *Store) Create(_ context.Context, id string, st portfolio.State) error {
	ledgerPath, statePath, err := s.paths(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return fmt.Errorf("could not create directory for %q: %w", id, err)
	}
	f, err := os.OpenFile(statePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return store.ErrDuplicateKey
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.WriteFile(ledgerPath, nil, 0o644)
}

// LoadState reads the state file.
func (s *Store) LoadState(_ context.Context, id string) (portfolio.State, error) {
	_, statePath, err := s.paths(id)
	if err != nil {
		return portfolio.State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return readState(statePath)
}

func readState(path string) (portfolio.State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return portfolio.State{}, store.ErrNotFound
	}
	if err != nil {
		return portfolio.State{}, err
	}
	var st portfolio.State
	if err := json.Unmarshal(data, &st); err != nil {
		return portfolio.State{}, fmt.Errorf("could not decode state file %q: %w", path, err)
	}
	return st, nil
}

// Commit appends e to the ledger file, then replaces the state file.
func (s *Store) Commit(_ context.Context, id string, st portfolio.State, e portfolio.LedgerEntry) error {
	if err := store.CheckCommit(id, st, e); err != nil {
		return err
	}
	ledgerPath, statePath, err := s.paths(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	var line bytes.Buffer
	if err := portfolio.EncodeEntry(&line, e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(statePath); errors.Is(err, fs.ErrNotExist) {
		return store.ErrNotFound
	}
	ledger, err := readLedger(ledgerPath)
	if err != nil {
		return err
	}
	if e.Seq != uint64(ledger.Len())+1 {
		return store.ErrDuplicateKey
	}
	for prev := range ledger.Entries() {
		if prev.ID == e.ID {
			return store.ErrDuplicateKey
		}
	}

	// the new state is ready on disk before the entry is appended
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	f, err := os.OpenFile(ledgerPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error opening ledger file %q for writing: %w", ledgerPath, err)
	}
	if _, err := f.Write(line.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, statePath)
}

// Entries decodes the ledger file.
func (s *Store) Entries(_ context.Context, id string) ([]portfolio.LedgerEntry, error) {
	ledgerPath, _, err := s.paths(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := readLedger(ledgerPath)
	if err != nil {
		return nil, err
	}
	return slices.Collect(ledger.Entries()), nil
}

func readLedger(path string) (*portfolio.Ledger, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not open ledger file %q: %w", path, err)
	}
	defer f.Close()

	ledger, err := portfolio.DecodeLedger(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode ledger file %q: %w", path, err)
	}
	return ledger, nil
}

// List walks the directory for state files. A portfolio ID is the path of
// its files relative to the store directory, without extension.
func (s *Store) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, stateExt) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(strings.TrimSuffix(rel, stateExt)))
		return nil
	})
	slices.Sort(ids)
	return ids, err
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
