package scheduler

// Package scheduler provides scheduled job management for the tickerdeck backend.
// It handles:
// - Price alert sweeps during market hours
// - Periodic big-mover scans over the watched universe
// - Nightly daily-bar sync into the local candle cache
// - Weekly cleanup of stale bars, alerts and scan history
//
// The main scheduler is implemented in jobs.go
