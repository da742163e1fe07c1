package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/store"
	"github.com/jackc/pgx/v5"
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store on a migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn, applies the migrations and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Create inserts a portfolio. Returns ErrDuplicateKey if id exists.
func (s *Store) Create(ctx context.Context, id string, st portfolio.State) error {
	if id == "" {
		return store.ErrInvalidInput
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO portfolios (id, version, state) VALUES ($1, $2, $3)`, id, st.Version, data)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

// LoadState returns the state of id. Returns ErrNotFound if it does not exist.
func (s *Store) LoadState(ctx context.Context, id string) (portfolio.State, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM portfolios WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if isNotFoundError(err) {
			return portfolio.State{}, store.ErrNotFound
		}
		return portfolio.State{}, fmt.Errorf("get portfolio: %w", err)
	}
	var st portfolio.State
	if err := json.Unmarshal(data, &st); err != nil {
		return portfolio.State{}, fmt.Errorf("decode portfolio %s: %w", id, err)
	}
	return st, nil
}

// Commit inserts the entry and updates the state in one transaction. The
// portfolio row is locked so that concurrent commits are serialized.
func (s *Store) Commit(ctx context.Context, id string, st portfolio.State, e portfolio.LedgerEntry) error {
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

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var version uint64
		err := tx.QueryRow(ctx, `SELECT version FROM portfolios WHERE id = $1 FOR UPDATE`, id).Scan(&version)
		if err != nil {
			if isNotFoundError(err) {
				return store.ErrNotFound
			}
			return fmt.Errorf("lock portfolio: %w", err)
		}
		var count uint64
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM ledger_entries WHERE portfolio_id = $1`, id).Scan(&count); err != nil {
			return fmt.Errorf("count ledger entries: %w", err)
		}
		if e.Seq != count+1 {
			return store.ErrDuplicateKey
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_entries (portfolio_id, seq, entry_id, kind, ts, data)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, e.Seq, e.ID, string(e.Kind), e.Timestamp, entry)
		if err != nil {
			if isDuplicateKeyError(err) {
				return store.ErrDuplicateKey
			}
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE portfolios SET version = $2, state = $3, updated_at = now() WHERE id = $1`, id, st.Version, state)
		if err != nil {
			return fmt.Errorf("update portfolio: %w", err)
		}
		return nil
	})
}

// Entries returns the ledger of id ordered by sequence.
func (s *Store) Entries(ctx context.Context, id string) ([]portfolio.LedgerEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM portfolios WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `SELECT data FROM ledger_entries WHERE portfolio_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("get ledger entries: %w", err)
	}
	defer rows.Close()

	result := []portfolio.LedgerEntry{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		var e portfolio.LedgerEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// List returns every portfolio id.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	return ids, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
