// ABOUTME: Scheduled purge of soft-deleted messages
// ABOUTME: Runs on a cron expression and hard-deletes messages deleted longer ago than the TTL

package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/2389/discuss-gateway/internal/metrics"
)

// Defaults for an enabled purge with no explicit schedule.
const (
	DefaultCron = "0 3 * * *"
	DefaultTTL  = 30 * 24 * time.Hour
)

// ErrRunning is returned by RunOnce when a purge is already in progress.
var ErrRunning = errors.New("purge already running")

// Purger is the part of store.Store the purge needs.
type Purger interface {
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}

// Config controls the schedule.
type Config struct {
	Enabled bool
	Cron    string
	TTL     time.Duration
}

// Manager runs purges on a schedule.
type Manager struct {
	cfg     Config
	purger  Purger
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// New validates cfg and creates a Manager. Empty fields take the defaults.
func New(cfg Config, purger Purger, m *metrics.Metrics, logger *slog.Logger) (*Manager, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if !gronx.New().IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", cfg.Cron)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		purger:  purger,
		metrics: m,
		logger:  logger.With("component", "retention"),
		now:     time.Now,
	}, nil
}

// Run purges on schedule until ctx is cancelled. It returns immediately when disabled.
func (rm *Manager) Run(ctx context.Context) {
	if !rm.cfg.Enabled {
		rm.logger.Info("retention disabled")
		return
	}
	rm.logger.Info("retention enabled", "cron", rm.cfg.Cron, "ttl", rm.cfg.TTL)

	for {
		next, err := gronx.NextTickAfter(rm.cfg.Cron, rm.now(), false)
		if err != nil {
			rm.logger.Error("failed to compute next purge", "cron", rm.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := rm.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunning) {
				rm.logger.Error("purge failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce purges messages soft-deleted more than TTL ago and returns how many were removed.
func (rm *Manager) RunOnce(ctx context.Context) (int64, error) {
	rm.mu.Lock()
	if rm.running {
		rm.mu.Unlock()
		return 0, ErrRunning
	}
	rm.running = true
	rm.mu.Unlock()

	defer func() {
		rm.mu.Lock()
		rm.running = false
		rm.mu.Unlock()
	}()

	cutoff := rm.now().Add(-rm.cfg.TTL)
	start := time.Now()
	n, err := rm.purger.PurgeDeleted(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging messages deleted before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	rm.metrics.Purged(n)
	rm.logger.Info("purge complete", "purged", n, "cutoff", cutoff, "duration", time.Since(start))
	return n, nil
}
