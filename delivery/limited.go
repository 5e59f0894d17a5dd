package delivery

import (
	"context"
	"time"

	"github.com/singlestore-labs/simultaneous"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

type deliveryLimiterType struct{}

const limiterStuckMessageAfter = time.Minute

// Limited caps the number of concurrent deliveries to the wrapped target.
// Unordered dispatch of a large batch otherwise calls the target once per
// message all at the same time.
type Limited struct {
	target  dispatchmodels.DeliveryTarget
	limiter *simultaneous.Limit[deliveryLimiterType]
}

var _ dispatchmodels.DeliveryTarget = &Limited{}

func NewLimited(target dispatchmodels.DeliveryTarget, maximum int, tracer dispatchmodels.Tracer) *Limited {
	if maximum < 1 {
		maximum = 1
	}
	return &Limited{
		target: target,
		limiter: simultaneous.New[deliveryLimiterType](maximum).SetForeverMessaging(
			limiterStuckMessageAfter,
			func(ctx context.Context) {
				if tracer != nil {
					tracer.Logf("[dispatch] all %d delivery slots have been busy for %s", maximum, limiterStuckMessageAfter)
				}
			},
			func(ctx context.Context) {
				if tracer != nil {
					tracer.Logf("[dispatch] delivery slots are available again")
				}
			},
		),
	}
}

func (l *Limited) Deliver(ctx context.Context, msg *dispatchmodels.Message) error {
	limited := l.limiter.Forever(ctx)
	defer limited.Done()
	return l.target.Deliver(ctx, msg)
}
