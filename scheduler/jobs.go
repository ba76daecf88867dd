package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"tickerdeck/models"
	"tickerdeck/services/alerts"
	"tickerdeck/services/barsync"
	"tickerdeck/services/candlecache"
	"tickerdeck/services/levels"
	"tickerdeck/services/movers"
)

// Config carries the services and tuning the scheduled jobs run against.
type Config struct {
	Alerts  *alerts.Engine
	Scanner *movers.Scanner
	Syncer  *barsync.Syncer
	Cache   *candlecache.Store

	ScanIntervalMin  int     // minutes between scheduled mover scans
	ScanWindow       string  // window passed to scheduled scans, e.g. 1d
	ScanThresholdPct float64 // minimum |change %| for scheduled scans
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron *gocron.Scheduler
	db   *gorm.DB
	cfg  Config
}

// NewScheduler creates a new scheduler instance
func NewScheduler(db *gorm.DB, cfg Config) *Scheduler {
	if cfg.ScanIntervalMin <= 0 {
		cfg.ScanIntervalMin = 5
	}
	if cfg.ScanWindow == "" {
		cfg.ScanWindow = movers.DefaultWindow
	}
	if cfg.ScanThresholdPct <= 0 {
		cfg.ScanThresholdPct = movers.DefaultThresholdPct
	}
	return &Scheduler{
		cron: gocron.NewScheduler(time.UTC),
		db:   db,
		cfg:  cfg,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Sweep price alerts every minute during market hours
	s.cron.Every(1).Minute().Do(func() {
		if levels.IsMarketOpen(time.Now()) {
			s.sweepAlerts()
		}
	})

	// Scan for big movers during market hours
	s.cron.Every(s.cfg.ScanIntervalMin).Minutes().Do(func() {
		if levels.IsMarketOpen(time.Now()) {
			s.runMoverScan()
		}
	})

	// Sync daily bars at 21:30 UTC (after the New York close)
	s.cron.Every(1).Day().At("21:30").Do(func() {
		s.syncDailyBars()
	})

	// Cleanup old data weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// sweepAlerts evaluates active alerts against live quotes
func (s *Scheduler) sweepAlerts() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fired, err := s.cfg.Alerts.Sweep(ctx)
	if err != nil {
		log.Printf("Error sweeping alerts: %v", err)
		return
	}
	if fired > 0 {
		log.Printf("Alert sweep fired %d alerts", fired)
	}
}

// runMoverScan runs a scheduled big-mover scan over the watched universe
func (s *Scheduler) runMoverScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, err := s.cfg.Scanner.Scan(ctx, movers.ScanConfig{
		Window:       s.cfg.ScanWindow,
		ThresholdPct: s.cfg.ScanThresholdPct,
		Trigger:      models.ScanTriggerScheduled,
	})
	if err != nil && !errors.Is(err, movers.ErrScanInProgress) && !errors.Is(err, movers.ErrNoSymbols) {
		log.Printf("Error running mover scan: %v", err)
	}
}

// syncDailyBars pulls daily bars for every tracked symbol into the cache
func (s *Scheduler) syncDailyBars() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := s.cfg.Syncer.Sync(ctx, nil, ""); err != nil {
		switch {
		case errors.Is(err, barsync.ErrSyncInProgress):
			log.Println("Daily bar sync skipped: a sync is already running")
		case errors.Is(err, barsync.ErrNoSymbols):
			log.Println("Daily bar sync skipped: no symbols tracked")
		default:
			log.Printf("Error syncing daily bars: %v", err)
		}
	}
}

// cleanupOldData removes old data to save storage
func (s *Scheduler) cleanupOldData() {
	log.Println("Cleaning up old data...")

	// Prune cached bars older than two years
	if s.cfg.Cache != nil {
		twoYearsAgo := time.Now().AddDate(-2, 0, 0)
		if n, err := s.cfg.Cache.PruneBarsBefore(twoYearsAgo); err != nil {
			log.Printf("Error pruning cached bars: %v", err)
		} else if n > 0 {
			log.Printf("Pruned %d cached bars", n)
		}
	}

	// Delete triggered alerts older than 30 days
	thirtyDaysAgo := time.Now().AddDate(0, 0, -30)
	if err := s.db.Where("is_triggered = ? AND triggered_at < ?", true, thirtyDaysAgo).
		Delete(&models.Alert{}).Error; err != nil {
		log.Printf("Error cleaning up old alerts: %v", err)
	}

	// Delete mover scans older than 90 days, keeping the most recent scan
	s.pruneOldScans(time.Now().AddDate(0, 0, -90))

	log.Println("Cleanup completed")
}

// pruneOldScans deletes scans recorded before the cutoff. The most recent
// scan survives regardless of age so /api/v1/movers never goes empty.
func (s *Scheduler) pruneOldScans(cutoff time.Time) {
	var latestID uint
	if err := s.db.Model(&models.MoverScan{}).
		Select("id").Order("started_at DESC").Limit(1).
		Scan(&latestID).Error; err != nil {
		log.Printf("Error finding latest mover scan: %v", err)
		return
	}

	var ids []uint
	if err := s.db.Model(&models.MoverScan{}).
		Where("started_at < ? AND id <> ?", cutoff, latestID).
		Pluck("id", &ids).Error; err != nil {
		log.Printf("Error loading old mover scans: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	if err := s.db.Where("scan_id IN ?", ids).Delete(&models.MoverResult{}).Error; err != nil {
		log.Printf("Error cleaning up old mover results: %v", err)
		return
	}
	if err := s.db.Where("id IN ?", ids).Delete(&models.MoverScan{}).Error; err != nil {
		log.Printf("Error cleaning up old mover scans: %v", err)
		return
	}
	log.Printf("Deleted %d old mover scans", len(ids))
}
