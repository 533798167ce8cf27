package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type PresenceSweeper interface {
	SweepStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// PresenceSweep marks users offline whose heartbeat is older than MaxAge,
// covering instances that died without running disconnect handlers.
type PresenceSweep struct {
	Presence PresenceSweeper
	MaxAge   time.Duration
	Logger   *zap.Logger
}

func (PresenceSweep) Name() string { return "presence_sweep" }

func (j PresenceSweep) Run(ctx context.Context) error {
	n, err := j.Presence.SweepStale(ctx, j.MaxAge)
	if err != nil {
		return err
	}
	if n > 0 && j.Logger != nil {
		j.Logger.Info("stale presence swept", zap.Int("users", n))
	}
	return nil
}

type ContentPurger interface {
	PurgeDeleted(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

const defaultPurgeBatch = 500

// PurgeDeletedContent erases the stored content of messages deleted more
// than Retention ago. Rows stay as tombstones. A zero Retention keeps content.
type PurgeDeletedContent struct {
	Messages  ContentPurger
	Retention time.Duration
	BatchSize int
	Logger    *zap.Logger

	now func() time.Time
}

func (PurgeDeletedContent) Name() string { return "purge_deleted_content" }

func (j PurgeDeletedContent) Run(ctx context.Context) error {
	if j.Retention <= 0 {
		return nil
	}
	batch := j.BatchSize
	if batch <= 0 {
		batch = defaultPurgeBatch
	}
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	cutoff := now().Add(-j.Retention)

	var total int64
	for {
		n, err := j.Messages.PurgeDeleted(ctx, cutoff, batch)
		if err != nil {
			return err
		}
		total += n
		if n < int64(batch) {
			break
		}
	}
	if total > 0 && j.Logger != nil {
		j.Logger.Info("deleted content purged", zap.Int64("messages", total))
	}
	return nil
}
