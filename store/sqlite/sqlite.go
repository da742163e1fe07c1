// Package sqlite is a store.Store on a SQLite database, through gorm and the
// pure Go glebarez driver.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/store"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// portfolioRow is the current state of a portfolio, as JSON.
type portfolioRow struct {
	ID        string `gorm:"primaryKey"`
	Version   uint64
	State     string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (portfolioRow) TableName() string { return "portfolios" }

// entryRow is one ledger entry, as JSON. Rows are never updated.
type entryRow struct {
	PortfolioID string    `gorm:"primaryKey"`
	Seq         uint64    `gorm:"primaryKey;autoIncrement:false"`
	EntryID     string    `gorm:"uniqueIndex;not null"`
	Kind        string    `gorm:"not null"`
	Timestamp   time.Time `gorm:"index"`
	Data        string    `gorm:"type:text;not null"`
}

func (entryRow) TableName() string { return "ledger_entries" }

// Store persists portfolios in SQLite.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// New opens, and migrates, the database at path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&portfolioRow{}, &entryRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a portfolio. Returns ErrDuplicateKey if id exists.
func (s *Store) Create(ctx context.Context, id string, st portfolio.State) error {
	if id == "" {
		return store.ErrInvalidInput
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&portfolioRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return store.ErrDuplicateKey
		}
		return tx.Create(&portfolioRow{ID: id, Version: st.Version, State: string(data)}).Error
	})
}

// LoadState returns the state of id.
func (s *Store) LoadState(ctx context.Context, id string) (portfolio.State, error) {
	var row portfolioRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return portfolio.State{}, store.ErrNotFound
	}
	if err != nil {
		return portfolio.State{}, fmt.Errorf("get portfolio: %w", err)
	}
	var st portfolio.State
	if err := json.Unmarshal([]byte(row.State), &st); err != nil {
		return portfolio.State{}, fmt.Errorf("decode portfolio %s: %w", id, err)
	}
	return st, nil
}

// Commit updates the state row and inserts the entry in one transaction.
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

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row portfolioRow
		err := tx.Select("id", "version").First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		var count, taken int64
		if err := tx.Model(&entryRow{}).Where("portfolio_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if err := tx.Model(&entryRow{}).Where("entry_id = ?", e.ID).Count(&taken).Error; err != nil {
			return err
		}
		if e.Seq != uint64(count)+1 || taken > 0 {
			return store.ErrDuplicateKey
		}

		if err := tx.Create(&entryRow{
			PortfolioID: id,
			Seq:         e.Seq,
			EntryID:     e.ID,
			Kind:        string(e.Kind),
			Timestamp:   e.Timestamp,
			Data:        string(entry),
		}).Error; err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return tx.Model(&portfolioRow{}).Where("id = ?", id).
			Updates(map[string]any{"version": st.Version, "state": string(state)}).Error
	})
}

// Entries returns the ledger of id ordered by sequence.
func (s *Store) Entries(ctx context.Context, id string) ([]portfolio.LedgerEntry, error) {
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&portfolioRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}

	var rows []entryRow
	if err := db.Where("portfolio_id = ?", id).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get ledger entries: %w", err)
	}
	result := make([]portfolio.LedgerEntry, len(rows))
	for i, row := range rows {
		if err := json.Unmarshal([]byte(row.Data), &result[i]); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", row.EntryID, err)
		}
	}
	return result, nil
}

// List returns every portfolio id.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).Model(&portfolioRow{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
