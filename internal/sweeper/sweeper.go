package sweeper

import (
	"context"
	"time"

	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// Sweeper deletes memories that have outlived their project's retention
// policy. Runs are idempotent: a sweep over an already-clean database
// deletes nothing.
type Sweeper struct {
	store     *store.Store
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	bus       *event.Bus
	hour      int
	batchSize int
}

// New creates a sweeper that fires daily at the given hour (UTC).
func New(s *store.Store, logger *telemetry.Logger, metrics *telemetry.Metrics,
	bus *event.Bus, hour, batchSize int) *Sweeper {
	if hour < 0 || hour > 23 {
		hour = 3
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Sweeper{store: s, logger: logger, metrics: metrics, bus: bus,
		hour: hour, batchSize: batchSize}
}

// Run blocks until ctx is cancelled, sweeping once per day at the
// configured hour.
func (sw *Sweeper) Run(ctx context.Context) {
	for {
		next := sw.nextRun(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := sw.SweepOnce(ctx); err != nil && sw.logger != nil {
				sw.logger.Error("Retention sweep failed", "error", err)
			}
		}
	}
}

func (sw *Sweeper) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), sw.hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// SweepOnce sweeps every project with a bounded retention policy and
// returns the total number of memories deleted. A failure in one project
// is logged and does not stop the others.
func (sw *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	started := time.Now().UTC()
	sw.bus.Emit(event.NewEvent(event.SweepStarted, nil))

	projects, err := sw.store.ListRetentionProjects()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, p := range projects {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		days := store.RetentionDays(p.MemoryRetention)
		if days <= 0 {
			continue
		}
		cutoff := started.AddDate(0, 0, -days)

		deleted, err := sw.sweepProject(ctx, p.ID, cutoff)
		if err != nil {
			if sw.logger != nil {
				sw.logger.Error("Project sweep failed", "project_id", p.ID, "error", err)
			}
			continue
		}
		if deleted > 0 {
			if sw.logger != nil {
				sw.logger.Info("Swept expired memories",
					"project_id", p.ID, "deleted", deleted, "retention", p.MemoryRetention)
			}
			sw.bus.Emit(event.NewEvent(event.MemorySwept, map[string]interface{}{
				"project_id": p.ID,
				"deleted":    deleted,
			}))
		}
		total += deleted
	}

	if sw.metrics != nil && total > 0 {
		sw.metrics.AddSweptMemories(total)
	}
	sw.bus.Emit(event.NewEvent(event.SweepCompleted, map[string]interface{}{
		"deleted":     total,
		"duration_ms": time.Since(started).Milliseconds(),
	}))
	return total, nil
}

func (sw *Sweeper) sweepProject(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := sw.store.DeleteExpiredBatch(projectID, cutoff, sw.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(sw.batchSize) {
			return total, nil
		}
	}
}
