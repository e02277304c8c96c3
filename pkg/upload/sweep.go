package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/content"
)

// SweepExpired cancels every session that is past its expiry and not
// completed. A session that cannot be cancelled is logged and reported in
// the result; the sweep carries on with the others.
func (c *Coordinator) SweepExpired(ctx context.Context) (*content.SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &content.SweepResult{Failed: make(map[string]error), StartTime: time.Now()}
	now := c.now()

	for {
		expired, err := c.sessions.ListExpiredSessions(ctx, now, c.cfg.SweepBatchSize)
		if err != nil {
			result.EndTime = time.Now()
			return result, fmt.Errorf("list expired sessions: %w", err)
		}

		progressed := false
		for _, sess := range expired {
			if _, failed := result.Failed[sess.ID]; failed {
				continue
			}
			if err := ctx.Err(); err != nil {
				result.EndTime = time.Now()
				return result, err
			}

			if _, err := c.Cancel(ctx, sess.ID); err != nil {
				logger.Warn("upload: failed to reclaim expired session %s: %v", sess.ID, err)
				result.Failed[sess.ID] = err
				continue
			}
			result.Removed = append(result.Removed, sess.ID)
			progressed = true
		}

		// A page made only of sessions that already failed would be listed
		// again forever.
		if !progressed || len(expired) < c.cfg.SweepBatchSize {
			break
		}
	}

	result.EndTime = time.Now()
	c.metrics.RecordExpired(len(result.Removed), len(result.Failed))
	if len(result.Removed)+len(result.Failed) > 0 {
		logger.Info("upload: expired session sweep %s", result.Summary())
	}
	return result, nil
}
