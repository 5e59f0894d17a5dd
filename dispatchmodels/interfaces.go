package dispatchmodels

import (
	"context"
	"time"
)

// LogClient is the partitioned log as seen by the dispatch loop. A LogClient
// is used by exactly one loop.
//
// Offsets are advanced implicitly: the loop never asks for a new batch until the
// previous batch has been fully delivered, so a client may commit the previous
// batch at the start of Poll (commit-after-delivery) or when handing the batch out.
// Clients that implement BatchAcknowledger are told directly.
type LogClient interface {
	Subscribe(ctx context.Context, topics []string) error
	// Poll returns the next batch, waiting at most timeout for messages. An
	// empty batch with a nil error is a normal result.
	Poll(ctx context.Context, timeout time.Duration) (Batch, error)
	Unsubscribe(ctx context.Context) error
	// SetErrorHandler registers a callback for errors the client encounters
	// and recovers from on its own, outside of Poll.
	SetErrorHandler(func(error))
}

// BatchAcknowledger may be implemented by a LogClient that wants to know when
// every delivery for a batch has returned. Acknowledge is not called for a batch
// whose deliveries were abandoned by a forced stop.
type BatchAcknowledger interface {
	Acknowledge(ctx context.Context, batch Batch) error
}

// DeliveryTarget consumes one message. A nil return is a successful delivery.
//
// Deliver is called from a goroutine owned by the loop. It must eventually
// return for every message: the loop cannot poll again until every delivery for
// the current batch has returned. Retries and dead lettering are the target's
// concern.
type DeliveryTarget interface {
	Deliver(ctx context.Context, msg *Message) error
}

// DeliveryFunc adapts a function to DeliveryTarget
type DeliveryFunc func(ctx context.Context, msg *Message) error

var _ DeliveryTarget = DeliveryFunc(nil)

func (f DeliveryFunc) Deliver(ctx context.Context, msg *Message) error { return f(ctx, msg) }

type Tracer interface {
	Logf(string, ...any)
}

// TracerFunc adapts a printf-style function to Tracer
type TracerFunc func(string, ...any)

func (f TracerFunc) Logf(format string, args ...any) { f(format, args...) }

// TracerConfig is optional. When BeginSpan is set, each batch dispatch is wrapped in
// a span. The returned function must be called exactly once.
type TracerConfig struct {
	BeginSpan func(ctx context.Context, kv map[string]string) (context.Context, func())
}
