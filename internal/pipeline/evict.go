package pipeline

import (
	"context"
	"log/slog"
	"time"
)

type EvictStore interface {
	EvictStale(ctx context.Context, watermark time.Time, grace time.Duration) (deleted, retained int, err error)
}

// Evictor removes records that no fetch pass has refreshed within the grace
// period. A record missed by only one pass is counted as retained instead.
type Evictor struct {
	store  EvictStore
	grace  time.Duration
	logger *slog.Logger
}

func NewEvictor(st EvictStore, grace time.Duration, logger *slog.Logger) *Evictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evictor{store: st, grace: grace, logger: logger}
}

// Evict deletes records with updated_at before watermark minus the grace
// period. watermark must be the start time of the pass that just completed.
func (e *Evictor) Evict(ctx context.Context, watermark time.Time) (deleted, retained int, err error) {
	deleted, retained, err = e.store.EvictStale(ctx, watermark, e.grace)
	if err != nil {
		return 0, 0, err
	}
	e.logger.Info("evicted stale repositories",
		"deleted", deleted,
		"retained", retained,
		"cutoff", watermark.Add(-e.grace).UTC().Format(time.RFC3339))
	return deleted, retained, nil
}
