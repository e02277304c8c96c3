// Package gc runs the periodic maintenance that keeps the catalog and the
// storage backends consistent.
//
// A maintenance run has three phases, each best-effort and independent of
// the others:
//   - expired upload sessions are cancelled (temp files, chunks, row)
//   - records whose reference count is zero are claimed and their bytes
//     deleted
//   - journaled deletions that failed earlier are retried
//
// Runs are triggered by the Collector's ticker in single-process setups, or
// by an asynq scheduler (see TaskHandler) when a fleet of processes must
// run one sweep per tick between them.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/content"
)

// SessionSweeper reclaims expired upload sessions. *upload.Coordinator
// implements it.
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (*content.SweepResult, error)
}

// ContentSweeper removes unreferenced content. *content.Store implements it.
type ContentSweeper interface {
	SweepUnreferenced(ctx context.Context) (*content.SweepResult, error)
	RetryPendingDeletions(ctx context.Context) (*content.SweepResult, error)
}

// Collector performs periodic maintenance.
//
// Thread Safety: Safe for concurrent use. Runs never overlap; a RunNow
// issued while the ticker run is in progress waits for it.
type Collector struct {
	sessions SessionSweeper
	content  ContentSweeper
	config   Config
	metrics  Metrics

	runMu sync.Mutex
	last  *Stats

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

const (
	// DefaultInterval is the ticker period when none is configured.
	DefaultInterval = time.Hour

	// DefaultTimeout bounds a ticker run when none is configured.
	DefaultTimeout = 10 * time.Minute
)

// Config contains configuration for the maintenance collector.
type Config struct {
	// Enabled controls whether the ticker worker runs (default: false)
	Enabled bool

	// Interval is how often to run maintenance (default: 1h)
	Interval time.Duration

	// Timeout bounds a single ticker run (default: 10m)
	Timeout time.Duration

	// Metrics is optional; nil disables metrics
	Metrics Metrics
}

// NewCollector creates a maintenance collector.
//
// The collector is initialized but not started. Call Start() to begin
// background maintenance.
//
// Parameters:
//   - sessions: Expired session sweeper (nil skips the phase)
//   - contentStore: Unreferenced content sweeper
//   - config: Collector configuration
//
// Returns:
//   - *Collector: Initialized collector (not started)
//   - error: Returns error if contentStore is nil
func NewCollector(sessions SessionSweeper, contentStore ContentSweeper, config Config) (*Collector, error) {
	if contentStore == nil {
		return nil, fmt.Errorf("gc: content sweeper is required")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}

	return &Collector{
		sessions: sessions,
		content:  contentStore,
		config:   config,
		metrics:  config.Metrics,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins background maintenance.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Maintenance collector disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting maintenance collector: interval=%s timeout=%s", c.config.Interval, c.config.Timeout)
		c.started = true
		go c.worker()
	})
}

// Stop stops the collector and waits for an in-progress run to finish.
// Safe to call multiple times.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: Returns error if context expires before shutdown completes
func (c *Collector) Stop(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if !c.started {
			return
		}

		logger.Info("Stopping maintenance collector...")
		select {
		case <-c.doneCh:
			logger.Info("Maintenance collector stopped successfully")
		case <-ctx.Done():
			logger.Warn("Maintenance collector shutdown timeout")
			err = ctx.Err()
		}
	})
	return err
}

// RunNow triggers an immediate maintenance run and blocks until it
// completes or ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *Stats: Run statistics (also set when some phases failed)
//   - error: The phase errors joined, or nil
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running maintenance (manual trigger)...")
	return c.collect(ctx)
}

// LastRun returns the statistics of the most recent run, or nil.
func (c *Collector) LastRun() *Stats {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.last
}

// worker is the background goroutine that runs periodic maintenance.
func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Maintenance run failed: %v (%s)", err, stats.Summary())
			} else {
				logger.Info("Maintenance run completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single maintenance run. Every phase runs even when an
// earlier one failed.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	var errs []error

	// ========================================================================
	// Phase 1: Expired upload sessions
	// ========================================================================

	if c.sessions != nil {
		res, err := c.sessions.SweepExpired(ctx)
		stats.ExpiredSessions, stats.Failed = add(res, stats.ExpiredSessions, stats.Failed)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep expired sessions: %w", err))
		}
	}

	// ========================================================================
	// Phase 2: Unreferenced records
	// ========================================================================

	if ctx.Err() == nil {
		res, err := c.content.SweepUnreferenced(ctx)
		stats.Unreferenced, stats.Failed = add(res, stats.Unreferenced, stats.Failed)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep unreferenced files: %w", err))
		}
	}

	// ========================================================================
	// Phase 3: Journaled deletions
	// ========================================================================

	if ctx.Err() == nil {
		res, err := c.content.RetryPendingDeletions(ctx)
		stats.PendingDeleted, stats.Failed = add(res, stats.PendingDeleted, stats.Failed)
		if err != nil {
			errs = append(errs, fmt.Errorf("retry pending deletions: %w", err))
		}
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	stats.EndTime = time.Now()
	c.last = stats
	err := errors.Join(errs...)
	c.metrics.ObserveRun(stats, err)
	return stats, err
}

func add(res *content.SweepResult, removed, failed int) (int, int) {
	if res == nil {
		return removed, failed
	}
	return removed + len(res.Removed), failed + len(res.Failed)
}

// Stats contains statistics from a maintenance run.
type Stats struct {
	StartTime       time.Time // When the run started
	EndTime         time.Time // When the run ended
	ExpiredSessions int       // Upload sessions reclaimed
	Unreferenced    int       // Zero-reference records removed
	PendingDeleted  int       // Journaled deletions completed
	Failed          int       // Items that could not be processed
}

// Duration returns the total run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("expired_sessions=%d unreferenced=%d pending_deleted=%d failed=%d duration=%s",
		s.ExpiredSessions, s.Unreferenced, s.PendingDeleted, s.Failed, s.Duration())
}
