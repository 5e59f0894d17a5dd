package dispatch

import (
	"context"
	"time"

	"github.com/memsql/errors"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// poll asks the log client for the next batch. Poll failures are never fatal:
// each one is reported and retried after the backoff delay. poll only returns an
// error when ctx is done.
//
// Only one poll is ever outstanding since the loop calls poll again only after
// the previous batch has been dispatched.
func (c *Consumer) poll(ctx context.Context) (dispatchmodels.Batch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.setState(Polling)
		if debugPoll {
			c.logf("[dispatch] Debug: consumer %s polling topics %v with timeout %s", c.name, c.topics, c.pollTimeout)
		}
		batch, err := c.client.Poll(ctx, c.pollTimeout)
		if err == nil {
			PollCounts.WithLabelValues(c.name, "success").Inc()
			return batch, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		PollCounts.WithLabelValues(c.name, "failure").Inc()
		_ = c.recordError("poll", errors.Errorf("consumer (%s) failed to poll messages for topics %v: %w", c.name, c.topics, err))
		c.setState(Backoff)
		if !sleep(ctx, c.backoffDelay) {
			return nil, ctx.Err()
		}
	}
}

// sleep waits for d. It returns false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
