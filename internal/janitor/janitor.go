// Package janitor prunes the snapshots of finished runs on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/chatflow/internal/metrics"
	"github.com/rendis/chatflow/internal/store"
)

// Defaults for Config.
const (
	DefaultSchedule  = "@hourly"
	DefaultRetention = 7 * 24 * time.Hour
)

// Config controls when the janitor runs and what it removes.
type Config struct {
	Schedule  string        // cron spec, descriptors such as @hourly accepted
	Retention time.Duration // finished snapshots older than this are deleted
}

// Janitor deletes completed and failed snapshots past their retention.
type Janitor struct {
	snapshots store.SnapshotStore
	metrics   *metrics.Collector
	logger    *slog.Logger
	schedule  cron.Schedule
	retention time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Janitor. The schedule is parsed eagerly.
func New(snapshots store.SnapshotStore, cfg Config, m *metrics.Collector, logger *slog.Logger) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{
		snapshots: snapshots,
		metrics:   m,
		logger:    logger.With(slog.String("component", "janitor")),
		schedule:  schedule,
		retention: cfg.Retention,
		now:       time.Now,
	}, nil
}

// Start launches the background loop. It runs until Stop or until ctx is
// done.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return fmt.Errorf("janitor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(loopCtx, j.done)
	j.logger.Info("janitor started", slog.Duration("retention", j.retention))
	return nil
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := j.now()
		timer := time.NewTimer(j.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := j.Prune(ctx); err != nil {
				j.logger.Error("snapshot pruning failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Prune deletes every finished snapshot older than the retention and
// returns how many were removed. A snapshot that disappears concurrently is
// not an error. Stores that can reclaim space are vacuumed after a prune
// that removed anything.
func (j *Janitor) Prune(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.retention)
	threads, err := j.snapshots.ListFinished(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list finished snapshots: %w", err)
	}

	pruned := 0
	for _, threadID := range threads {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := j.snapshots.Delete(ctx, threadID); err != nil {
			j.logger.Warn("failed to delete snapshot",
				slog.String("thread_id", threadID), slog.String("error", err.Error()))
			continue
		}
		pruned++
	}

	j.metrics.SnapshotsPruned(pruned)
	if pruned == 0 {
		return 0, nil
	}
	j.logger.Info("pruned finished snapshots", slog.Int("count", pruned), slog.Time("cutoff", cutoff))
	if v, ok := j.snapshots.(store.Vacuumer); ok {
		if err := v.Vacuum(ctx); err != nil {
			j.logger.Warn("vacuum after prune failed", slog.String("error", err.Error()))
		}
	}
	return pruned, nil
}

// Stop shuts the loop down and waits for an in-flight prune to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil
	j.logger.Info("janitor stopped")
}
