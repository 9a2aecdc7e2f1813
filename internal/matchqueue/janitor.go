package matchqueue

import (
	"context"
	"time"

	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/contract"
)

// Janitor periodically evicts queue entries whose heartbeat has gone stale,
// covering clients that vanished without deleting their row.
type Janitor struct {
	repo     contract.QueueRepository
	log      logger.ILogger
	interval time.Duration
	maxAge   time.Duration
}

func NewJanitor(repo contract.QueueRepository, log logger.ILogger) *Janitor {
	return &Janitor{
		repo:     repo,
		log:      log,
		interval: StaleEntryAge,
		maxAge:   StaleEntryAge,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval. Sweep
// failures are logged and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	evicted, err := j.repo.DeleteStale(sweepCtx, j.maxAge)
	if err != nil {
		j.log.Warn("Janitor", "Stale sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if evicted > 0 {
		j.log.Info("Janitor", "Evicted stale queue entries", map[string]interface{}{"count": evicted})
	}
}
