package movers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tickerdeck/models"
	"tickerdeck/services/marketdata"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Scan defaults
const (
	DefaultWindow       = "1d"
	DefaultThresholdPct = 3.0
	DefaultConcurrency  = 8

	fetchTimeout   = 15 * time.Second
	archiveTimeout = 10 * time.Second
)

// ErrScanInProgress is returned when a scan is requested while another
// one is still running.
var ErrScanInProgress = errors.New("mover scan already in progress")

// ErrNoSymbols is returned when a scan has nothing to look at.
var ErrNoSymbols = errors.New("no symbols to scan")

// ScanConfig holds parameters for one big-mover scan
type ScanConfig struct {
	Window       string   `json:"window"`        // window grammar, e.g. 1d, 5d, 1m
	ThresholdPct float64  `json:"threshold_pct"` // minimum |change %| to report
	Symbols      []string `json:"symbols"`       // nil = every watched symbol
	Concurrency  int      `json:"concurrency"`
	Trigger      string   `json:"trigger"` // scheduled, manual
}

// Broadcaster pushes scan results to connected clients.
type Broadcaster interface {
	BroadcastMessage(msgType string, data interface{})
}

// ScanArchiver stores completed scans outside the primary database.
type ScanArchiver interface {
	ArchiveMoverScan(ctx context.Context, scan *models.MoverScan) error
}

// Scanner finds symbols whose price moved more than a threshold over a
// window. One scan runs at a time.
type Scanner struct {
	db          *gorm.DB
	market      *marketdata.Service
	broadcaster Broadcaster
	archiver    ScanArchiver

	mu         sync.Mutex
	isScanning bool
}

// NewScanner creates a scanner. broadcaster and archiver may be nil.
func NewScanner(db *gorm.DB, market *marketdata.Service, broadcaster Broadcaster, archiver ScanArchiver) *Scanner {
	return &Scanner{
		db:          db,
		market:      market,
		broadcaster: broadcaster,
		archiver:    archiver,
	}
}

// IsScanning reports whether a scan is currently running
func (s *Scanner) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isScanning
}

// scanTimespan picks the bar size for a scan window: intraday bars for
// windows up to one day, daily bars beyond.
func scanTimespan(window string) marketdata.Timespan {
	d, err := marketdata.ParseWindow(window)
	if err == nil && d <= 24*time.Hour {
		return marketdata.Timespan15Min
	}
	return marketdata.TimespanDay
}

// Scan fetches candles for every symbol, computes the window change and
// records symbols that moved at least the threshold. Per-symbol fetch
// failures are counted and logged, never fatal.
func (s *Scanner) Scan(ctx context.Context, cfg ScanConfig) (*models.MoverScan, error) {
	s.mu.Lock()
	if s.isScanning {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	s.isScanning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isScanning = false
		s.mu.Unlock()
	}()

	// Set defaults
	if cfg.Window == "" {
		cfg.Window = DefaultWindow
	}
	if cfg.ThresholdPct <= 0 {
		cfg.ThresholdPct = DefaultThresholdPct
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Trigger == "" {
		cfg.Trigger = models.ScanTriggerScheduled
	}
	if _, err := marketdata.ParseWindow(cfg.Window); err != nil {
		return nil, fmt.Errorf("invalid scan window: %w", err)
	}

	symbols := cfg.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = s.WatchedSymbols()
		if err != nil {
			return nil, fmt.Errorf("failed to load watched symbols: %w", err)
		}
	}
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	start := time.Now()
	timespan := scanTimespan(cfg.Window)

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	var failed atomic.Int64
	var mu sync.Mutex
	var results []models.MoverResult

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				failed.Add(1)
				return
			}

			fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
			defer cancel()

			candles, err := s.market.FetchCandles(fetchCtx, symbol, timespan, cfg.Window)
			if err != nil {
				log.Printf("Warning: mover scan failed for %s: %v", symbol, err)
				failed.Add(1)
				return
			}

			pct, ok := marketdata.ChangePercent(candles)
			if !ok {
				return
			}
			if pct < cfg.ThresholdPct && pct > -cfg.ThresholdPct {
				return
			}

			direction := models.MoverDirectionUp
			if pct < 0 {
				direction = models.MoverDirectionDown
			}
			first, last := candles[0], candles[len(candles)-1]

			mu.Lock()
			results = append(results, models.MoverResult{
				Symbol:    strings.ToUpper(symbol),
				ChangePct: decimal.NewFromFloat(pct).Round(4),
				Direction: direction,
				FirstT:    first.T,
				LastT:     last.T,
				FirstOpen: decimal.NewFromFloat(first.O),
				LastClose: decimal.NewFromFloat(last.C),
			})
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()

	// Biggest absolute move first.
	sort.Slice(results, func(i, j int) bool {
		return results[i].ChangePct.Abs().GreaterThan(results[j].ChangePct.Abs())
	})

	scan := &models.MoverScan{
		Window:       cfg.Window,
		ThresholdPct: decimal.NewFromFloat(cfg.ThresholdPct),
		SymbolCount:  len(symbols),
		MoverCount:   len(results),
		FailedCount:  int(failed.Load()),
		Trigger:      cfg.Trigger,
		StartedAt:    start,
		DurationMs:   time.Since(start).Milliseconds(),
		Results:      results,
	}

	if s.db != nil {
		if err := s.db.Create(scan).Error; err != nil {
			log.Printf("Warning: failed to persist mover scan: %v", err)
		}
	}

	log.Printf("Mover scan complete: %d movers out of %d symbols (window %s, threshold %.2f%%, %d failed, took %dms)",
		scan.MoverCount, scan.SymbolCount, scan.Window, cfg.ThresholdPct, scan.FailedCount, scan.DurationMs)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastMessage("movers", scan)
	}
	if s.archiver != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.archiver.ArchiveMoverScan(archiveCtx, scan); err != nil {
			log.Printf("Warning: failed to archive mover scan: %v", err)
		}
	}

	return scan, nil
}

// WatchedSymbols returns the distinct symbols across all watch lists.
func (s *Scanner) WatchedSymbols() ([]string, error) {
	if s.db == nil {
		return nil, nil
	}
	var symbols []string
	err := s.db.Model(&models.WatchItem{}).
		Distinct().
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

// LatestScan returns the most recent scan with its results, or nil when
// no scan has run yet.
func (s *Scanner) LatestScan() (*models.MoverScan, error) {
	var scan models.MoverScan
	err := s.db.Preload("Results").Order("id DESC").First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// History returns recent scans without their result rows.
func (s *Scanner) History(limit int) ([]models.MoverScan, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var scans []models.MoverScan
	err := s.db.Order("id DESC").Limit(limit).Find(&scans).Error
	if err != nil {
		return nil, err
	}
	return scans, nil
}
