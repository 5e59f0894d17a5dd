package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/memsql/errors"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// deliver hands one message to the delivery target. Failures are counted and
// logged; beyond that they are the target's concern. A failed delivery is just as
// finished as a successful one.
func (c *Consumer) deliver(ctx context.Context, msg *dispatchmodels.Message) {
	start := time.Now()
	item := noteDeliveryStart(msg.Topic)
	c.inFlight.Add(1)
	InFlightDeliveries.WithLabelValues(c.name).Inc()
	defer func() {
		noteDeliveryEnd(item)
		c.inFlight.Add(-1)
		InFlightDeliveries.WithLabelValues(c.name).Dec()
		DeliveryLatency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
	}()
	if debugDelivery {
		c.logf("[dispatch] Debug: consumer %s delivering %s", c.name, msg.Coordinates())
	}
	err := c.callTarget(ctx, msg)
	if err != nil {
		DeliveryCounts.WithLabelValues(msg.Topic, "failure").Inc()
		_ = c.recordError("delivery", errors.Errorf("consumer (%s) delivery of message (%s) with key (%s) failed: %w", c.name, msg.Coordinates(), string(msg.Key), err))
		return
	}
	DeliveryCounts.WithLabelValues(msg.Topic, "success").Inc()
	if debugDelivery {
		c.logf("[dispatch] Debug: consumer %s delivered %s in %s", c.name, msg.Coordinates(), time.Since(start))
	}
}

// callTarget invokes the target inside a panic catcher. A panic counts as a failed delivery.
func (c *Consumer) callTarget(ctx context.Context, msg *dispatchmodels.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.Errorf("%s", fmt.Sprint(r))
			}
			err = errors.Errorf("panic in delivery target for message (%s) in consumer (%s): %w", msg.Coordinates(), c.name, err)
			DeliveryPanicCounts.WithLabelValues(msg.Topic).Inc()
		}
	}()
	return c.target.Deliver(ctx, msg)
}
