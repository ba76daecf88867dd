package candlecache

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tickerdeck/services/marketdata"
)

// DefaultDBFile is the cache database file name under the data directory.
const DefaultDBFile = "market.db"

// Store persists daily bars, the symbol directory and computed levels in
// a local SQLite database. Provider outages fall back to this cache.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Global cache store
var GlobalStore *Store

// Init opens the cache database under dataDir and creates tables.
func Init(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := Open(filepath.Join(dataDir, DefaultDBFile))
	if err != nil {
		return err
	}

	GlobalStore = store
	log.Printf("Candle cache initialized at %s", filepath.Join(dataDir, DefaultDBFile))
	return nil
}

// Open opens a store at path. Use ":memory:" for throwaway databases.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	barsTable := `
		CREATE TABLE IF NOT EXISTS daily_bars (
			symbol VARCHAR NOT NULL,
			day VARCHAR NOT NULL,
			t_ms INTEGER NOT NULL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume REAL,
			PRIMARY KEY (symbol, day)
		)
	`
	if _, err := s.db.Exec(barsTable); err != nil {
		return fmt.Errorf("failed to create daily_bars table: %w", err)
	}
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_daily_bars_symbol_t ON daily_bars(symbol, t_ms)")

	symbolsTable := `
		CREATE TABLE IF NOT EXISTS symbols (
			symbol VARCHAR PRIMARY KEY,
			name VARCHAR,
			active BOOLEAN DEFAULT true,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.Exec(symbolsTable); err != nil {
		return fmt.Errorf("failed to create symbols table: %w", err)
	}

	levelsTable := `
		CREATE TABLE IF NOT EXISTS levels (
			symbol VARCHAR PRIMARY KEY,
			as_of TIMESTAMP,
			lml REAL,
			lmh REAL,
			ppml REAL,
			ppmh REAL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.Exec(levelsTable); err != nil {
		return fmt.Errorf("failed to create levels table: %w", err)
	}

	syncTable := `
		CREATE TABLE IF NOT EXISTS sync_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind VARCHAR,
			total INTEGER,
			ok INTEGER,
			failed INTEGER,
			errors VARCHAR,
			synced_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.Exec(syncTable); err != nil {
		return fmt.Errorf("failed to create sync_history table: %w", err)
	}

	return nil
}

// === Daily bars ===

// UpsertDailyBars inserts or replaces daily bars for a symbol. The day
// key is the UTC date of the bar timestamp.
func (s *Store) UpsertDailyBars(symbol string, bars []marketdata.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.db.Prepare(`
		INSERT OR REPLACE INTO daily_bars (symbol, day, t_ms, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	symbol = strings.ToUpper(symbol)
	for _, b := range bars {
		day := time.UnixMilli(b.T).UTC().Format("2006-01-02")
		if _, err := stmt.Exec(symbol, day, b.T, b.O, b.H, b.L, b.C, b.V); err != nil {
			log.Printf("Warning: failed to insert bar for %s on %s: %v", symbol, day, err)
		}
	}
	return nil
}

// DailyBars returns bars for symbol with timestamps in [from, to], ascending.
func (s *Store) DailyBars(symbol string, from, to time.Time) ([]marketdata.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT t_ms, open, high, low, close, volume FROM daily_bars
		WHERE symbol = ? AND t_ms >= ? AND t_ms <= ? ORDER BY t_ms ASC`

	rows, err := s.db.Query(query, strings.ToUpper(symbol), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBars(rows)
}

// RecentDailyBars returns the most recent limit bars for symbol, ascending.
func (s *Store) RecentDailyBars(symbol string, limit int) ([]marketdata.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT t_ms, open, high, low, close, volume FROM (
			SELECT t_ms, open, high, low, close, volume FROM daily_bars
			WHERE symbol = ? ORDER BY t_ms DESC LIMIT ?
		) ORDER BY t_ms ASC`

	rows, err := s.db.Query(query, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBars(rows)
}

// LatestBar returns the newest bar for symbol. The second return is
// false when the cache has none.
func (s *Store) LatestBar(symbol string) (marketdata.Candle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b marketdata.Candle
	query := `SELECT t_ms, open, high, low, close, volume FROM daily_bars
		WHERE symbol = ? ORDER BY t_ms DESC LIMIT 1`
	err := s.db.QueryRow(query, strings.ToUpper(symbol)).Scan(&b.T, &b.O, &b.H, &b.L, &b.C, &b.V)
	if err != nil {
		if err == sql.ErrNoRows {
			return marketdata.Candle{}, false, nil
		}
		return marketdata.Candle{}, false, err
	}
	return b, true, nil
}

// PruneBarsBefore deletes bars older than t and returns the count removed.
func (s *Store) PruneBarsBefore(t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM daily_bars WHERE t_ms < ?", t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TrackedSymbols returns the distinct symbols that have cached bars.
func (s *Store) TrackedSymbols() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

// BarCount returns the total number of cached bars.
func (s *Store) BarCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM daily_bars").Scan(&count)
	return count, err
}

func scanBars(rows *sql.Rows) ([]marketdata.Candle, error) {
	var bars []marketdata.Candle
	for rows.Next() {
		var b marketdata.Candle
		if err := rows.Scan(&b.T, &b.O, &b.H, &b.L, &b.C, &b.V); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// === Symbol directory ===

// UpsertSymbols inserts or updates directory entries.
func (s *Store) UpsertSymbols(matches []marketdata.SymbolMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.db.Prepare(`
		INSERT OR REPLACE INTO symbols (symbol, name, active, updated_at)
		VALUES (?, ?, true, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, m := range matches {
		if m.Symbol == "" {
			continue
		}
		if _, err := stmt.Exec(strings.ToUpper(m.Symbol), m.Name, now); err != nil {
			log.Printf("Warning: failed to upsert symbol %s: %v", m.Symbol, err)
		}
	}
	return nil
}

// SearchSymbols matches directory entries by symbol prefix or name substring.
func (s *Store) SearchSymbols(search string, limit int) ([]marketdata.SymbolMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 || limit > 100 {
		limit = 10
	}

	pattern := strings.ToUpper(search) + "%"
	namePattern := "%" + strings.ToLower(search) + "%"
	query := `SELECT symbol, name FROM symbols
		WHERE active AND (symbol LIKE ? OR LOWER(name) LIKE ?)
		ORDER BY symbol LIMIT ?`

	rows, err := s.db.Query(query, pattern, namePattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []marketdata.SymbolMatch
	for rows.Next() {
		var m marketdata.SymbolMatch
		if err := rows.Scan(&m.Symbol, &m.Name); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// === Levels ===

// StoredLevels is a cached level set for one symbol. Absent levels stay nil.
type StoredLevels struct {
	Symbol        string     `json:"symbol"`
	AsOf          time.Time  `json:"as_of"`
	LastMonthLow  *float64   `json:"lml"`
	LastMonthHigh *float64   `json:"lmh"`
	PrevMonthLow  *float64   `json:"ppml"`
	PrevMonthHigh *float64   `json:"ppmh"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SaveLevels inserts or replaces the cached level set for a symbol.
func (s *Store) SaveLevels(lv *StoredLevels) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT OR REPLACE INTO levels (symbol, as_of, lml, lmh, ppml, ppmh, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query,
		strings.ToUpper(lv.Symbol), lv.AsOf,
		lv.LastMonthLow, lv.LastMonthHigh, lv.PrevMonthLow, lv.PrevMonthHigh,
		time.Now(),
	)
	return err
}

// LoadLevels returns the cached level set for a symbol, or nil when absent.
func (s *Store) LoadLevels(symbol string) (*StoredLevels, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lv StoredLevels
	var lml, lmh, ppml, ppmh sql.NullFloat64
	var asOf, updatedAt sql.NullTime

	query := `SELECT symbol, as_of, lml, lmh, ppml, ppmh, updated_at FROM levels WHERE symbol = ?`
	err := s.db.QueryRow(query, strings.ToUpper(symbol)).Scan(
		&lv.Symbol, &asOf, &lml, &lmh, &ppml, &ppmh, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if asOf.Valid {
		lv.AsOf = asOf.Time
	}
	if updatedAt.Valid {
		lv.UpdatedAt = updatedAt.Time
	}
	if lml.Valid {
		lv.LastMonthLow = &lml.Float64
	}
	if lmh.Valid {
		lv.LastMonthHigh = &lmh.Float64
	}
	if ppml.Valid {
		lv.PrevMonthLow = &ppml.Float64
	}
	if ppmh.Valid {
		lv.PrevMonthHigh = &ppmh.Float64
	}
	return &lv, nil
}

// === Sync history ===

// SaveSyncHistory records a sync run.
func (s *Store) SaveSyncHistory(kind string, total, ok, failed int, errs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO sync_history (kind, total, ok, failed, errors, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, kind, total, ok, failed, errs, time.Now())
	return err
}

// LastSyncTime returns the most recent sync time for a kind, or nil.
func (s *Store) LastSyncTime(kind string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var syncedAt sql.NullTime
	query := `SELECT synced_at FROM sync_history WHERE kind = ? ORDER BY synced_at DESC LIMIT 1`
	err := s.db.QueryRow(query, kind).Scan(&syncedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if syncedAt.Valid {
		return &syncedAt.Time, nil
	}
	return nil, nil
}
