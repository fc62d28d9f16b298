package links

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReaperConfig describes a periodic purge of expired links.
type ReaperConfig struct {
	Purger   Purger
	Interval time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Reaper reclaims storage held by expired links. Reads never depend on it.
type Reaper struct {
	purger   Purger
	interval time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// NewReaper returns nil when the purger is missing or the interval is not positive.
func NewReaper(cfg ReaperConfig) *Reaper {
	if cfg.Purger == nil || cfg.Interval <= 0 {
		return nil
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reaper{
		purger:   cfg.Purger,
		interval: cfg.Interval,
		clock:    clock,
		logger:   logger,
	}
}

// Run purges once per interval until ctx is done.
func (reaper *Reaper) Run(ctx context.Context) {
	if reaper == nil {
		return
	}
	ticker := time.NewTicker(reaper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaper.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce deletes expired links and returns how many were removed.
func (reaper *Reaper) PurgeOnce(ctx context.Context) int64 {
	removed, err := reaper.purger.PurgeExpired(ctx, reaper.clock())
	if err != nil {
		reaper.logger.Warn("expired link purge failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		reaper.logger.Info("expired links purged", zap.Int64("removed", removed))
	}
	return removed
}
