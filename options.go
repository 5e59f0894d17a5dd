package dispatch

import (
	"time"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// Opt configures a Consumer. Options are applied by New and are fixed for the
// life of the Consumer.
type Opt func(*Consumer)

// WithDeliveryOrder picks the dispatch strategy. The default is Unordered.
func WithDeliveryOrder(order dispatchmodels.DeliveryOrder) Opt {
	return func(c *Consumer) {
		c.order = order
	}
}

// WithPollTimeout bounds how long a single poll may wait for messages.
func WithPollTimeout(d time.Duration) Opt {
	return func(c *Consumer) {
		c.pollTimeout = d
	}
}

// WithBackoffDelay is the pause between a failed poll and the next attempt.
func WithBackoffDelay(d time.Duration) Opt {
	return func(c *Consumer) {
		c.backoffDelay = d
	}
}

// WithDrainTimeout limits how long Stop waits for in-flight deliveries before
// cancelling them and returning ErrDrainTimeout.
func WithDrainTimeout(d time.Duration) Opt {
	return func(c *Consumer) {
		c.drainTimeout = d
	}
}

// WithGroupKey overrides how Ordered delivery groups messages. Messages with
// the same key are delivered one at a time in fetch order. The default is
// dispatchmodels.ByPartition. Ignored for Unordered delivery.
func WithGroupKey(key dispatchmodels.GroupKey) Opt {
	return func(c *Consumer) {
		c.groupKey = key
	}
}

// WithErrorHandler receives errors that the log client reports asynchronously.
// They are always logged and counted; the handler is an extra sink. It must
// not block.
func WithErrorHandler(handler func(error)) Opt {
	return func(c *Consumer) {
		c.errorHandler = handler
	}
}

func WithTracer(tracer dispatchmodels.Tracer) Opt {
	return func(c *Consumer) {
		c.tracer = tracer
	}
}

func WithTracerConfig(tracerConfig dispatchmodels.TracerConfig) Opt {
	return func(c *Consumer) {
		c.tracerConfig = tracerConfig
	}
}

// WithName names the consumer in logs and metrics labels. The default is
// "consumer-" followed by a uuid.
func WithName(name string) Opt {
	return func(c *Consumer) {
		if name != "" {
			c.name = name
		}
	}
}
