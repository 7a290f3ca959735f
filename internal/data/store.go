// Package data provides the local daily-price store: a single-file
// SQLite database with an in-memory cache in front of it.
package data

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/pkg/types"
)

// Store reads and writes per-instrument daily price tables. Rows come
// back ascending by date; the cache is invalidated per instrument on
// write.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	db     *sql.DB
	cache  map[string][]types.PriceBar
}

// NewStore opens (or creates) the SQLite database at path and ensures
// the schema exists. WAL mode keeps ingest writes from blocking reads.
func NewStore(logger *zap.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger.Info("price store opened", zap.String("path", path))
	return &Store{
		logger: logger,
		db:     db,
		cache:  make(map[string][]types.PriceBar),
	}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_bars (
			code       TEXT NOT NULL,
			date       TEXT NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL,
			amount     REAL,
			turnover   REAL,
			pct_change REAL,
			PRIMARY KEY (code, date)
		);

		CREATE TABLE IF NOT EXISTS instruments (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);
	`)
	return err
}

// SaveBars upserts a batch of price rows for one instrument in a
// single transaction and drops the instrument's cache entry.
func (s *Store) SaveBars(ctx context.Context, code string, bars []types.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_bars
			(code, date, open, high, low, close, volume, amount, turnover, pct_change)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(code, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount, b.Turnover, b.PctChange); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s %s: %w", code, b.Date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, code)
	s.mu.Unlock()
	return nil
}

// SaveInstrument upserts an instrument's display name.
func (s *Store) SaveInstrument(ctx context.Context, code, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO instruments (code, name) VALUES (?, ?)`, code, name)
	if err != nil {
		return fmt.Errorf("sqlite upsert instrument %s: %w", code, err)
	}
	return nil
}

// LoadBars returns the full ascending-date price table for one
// instrument. A missing instrument yields an empty slice.
func (s *Store) LoadBars(ctx context.Context, code string) ([]types.PriceBar, error) {
	s.mu.RLock()
	if cached, ok := s.cache[code]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume, amount, turnover, pct_change
		FROM daily_bars WHERE code = ? ORDER BY date ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars %s: %w", code, err)
	}
	defer rows.Close()

	var bars []types.PriceBar
	for rows.Next() {
		var b types.PriceBar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Amount, &b.Turnover, &b.PctChange); err != nil {
			return nil, fmt.Errorf("sqlite scan bars %s: %w", code, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[code] = bars
	s.mu.Unlock()
	return bars, nil
}

// LoadAll returns every instrument's price table keyed by code.
func (s *Store) LoadAll(ctx context.Context) (map[string][]types.PriceBar, error) {
	codes, err := s.ListCodes(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]types.PriceBar, len(codes))
	for _, code := range codes {
		bars, err := s.LoadBars(ctx, code)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			out[code] = bars
		}
	}
	return out, nil
}

// ListCodes returns all instrument codes with stored bars, ascending.
func (s *Store) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT code FROM daily_bars ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Names returns the code-to-name mapping for all known instruments.
func (s *Store) Names(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name FROM instruments`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, err
		}
		names[code] = name
	}
	return names, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SortBars sorts rows ascending by date in place; ingest payloads are
// not trusted to arrive ordered.
func SortBars(bars []types.PriceBar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
}
