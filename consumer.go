package dispatch

import (
	"context"
	"log"
	"os"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/memsql/errors"
	"github.com/singlestore-labs/once"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

var (
	debugPoll     = os.Getenv("DISPATCH_DEBUG_POLL") == "true"
	debugDelivery = os.Getenv("DISPATCH_DEBUG_DELIVERY") == "true"
	debugState    = os.Getenv("DISPATCH_DEBUG_STATE") == "true"
)

const (
	// DefaultPollTimeout is long enough to amortize round trips to the log and
	// short enough that a poll is never a long blocking unit of work.
	DefaultPollTimeout  = 1000 * time.Millisecond
	DefaultBackoffDelay = 200 * time.Millisecond
	DefaultDrainTimeout = 30 * time.Second

	unsubscribeTimeout = 10 * time.Second
)

// Consumer pulls batches from a LogClient and hands every message to a
// DeliveryTarget. It never polls again until every delivery for the current
// batch has returned, which bounds in-flight deliveries to one batch.
//
// A Consumer is used once: Start, then Stop.
type Consumer struct {
	name         string
	topics       []string
	client       dispatchmodels.LogClient
	target       dispatchmodels.DeliveryTarget
	order        dispatchmodels.DeliveryOrder
	groupKey     dispatchmodels.GroupKey
	dispatcher   batchDispatcher
	pollTimeout  time.Duration
	backoffDelay time.Duration
	drainTimeout time.Duration
	tracer       dispatchmodels.Tracer
	tracerConfig dispatchmodels.TracerConfig
	errorHandler func(error)

	state    atomic.Int32
	inFlight atomic.Int64
	forced   atomic.Bool

	// startLock serializes Start and Stop. cancel and hardCancel are set by Start.
	startLock  sync.Mutex
	cancel     context.CancelFunc // stops polling and backoff
	hardCancel context.CancelFunc // aborts in-flight deliveries

	unsubscribeOnce func()
	done            chan struct{}
	closeDone       func()
}

// batchDispatcher is the part of the loop that differs by delivery order. dispatch
// must not return until deliver has returned for every message in the batch.
type batchDispatcher interface {
	dispatch(ctx context.Context, batch dispatchmodels.Batch, deliver func(context.Context, *dispatchmodels.Message))
}

// New creates a Consumer. Nothing is started: call Start.
func New(client dispatchmodels.LogClient, target dispatchmodels.DeliveryTarget, topics []string, opts ...Opt) (*Consumer, error) {
	if isNil(client) {
		return nil, errors.Alertf("dispatch consumer requires a log client")
	}
	if isNil(target) {
		return nil, errors.Alertf("dispatch consumer requires a delivery target")
	}
	c := &Consumer{
		name:         "consumer-" + uuid.New().String(),
		topics:       uniqueTopics(topics),
		client:       client,
		target:       target,
		order:        dispatchmodels.Unordered,
		groupKey:     dispatchmodels.ByPartition,
		pollTimeout:  DefaultPollTimeout,
		backoffDelay: DefaultBackoffDelay,
		drainTimeout: DefaultDrainTimeout,
		done:         make(chan struct{}),
	}
	if len(c.topics) == 0 {
		return nil, dispatchmodels.ErrNoTopics.Errorf("dispatch consumer requires at least one topic")
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollTimeout <= 0 || c.backoffDelay <= 0 || c.drainTimeout <= 0 {
		return nil, errors.Alertf("dispatch consumer (%s) timings must be positive: poll timeout (%s) backoff delay (%s) drain timeout (%s)",
			c.name, c.pollTimeout, c.backoffDelay, c.drainTimeout)
	}
	switch c.order {
	case dispatchmodels.Unordered:
		c.dispatcher = unordered{}
	case dispatchmodels.Ordered:
		if c.groupKey == nil {
			return nil, errors.Alertf("dispatch consumer (%s) ordered delivery requires a group key", c.name)
		}
		c.dispatcher = ordered{groupKey: c.groupKey}
	default:
		return nil, errors.Alertf("dispatch consumer (%s) invalid delivery order (%s)", c.name, c.order)
	}
	c.closeDone = once.New(func() { close(c.done) }).Do
	c.unsubscribeOnce = once.New(c.unsubscribe).Do
	c.setState(Created)
	return c, nil
}

// isNil catches typed nils hiding in interfaces
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func uniqueTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	unique := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		unique = append(unique, topic)
	}
	return unique
}

func (c *Consumer) Name() string                                { return c.name }
func (c *Consumer) Topics() []string                            { return append([]string(nil), c.topics...) }
func (c *Consumer) DeliveryOrder() dispatchmodels.DeliveryOrder { return c.order }

// Done is closed once the Consumer has stopped and every delivery it started
// has returned. After a forced Stop, Done may close well after Stop returns.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Start registers the error handler, subscribes, and starts the poll loop in
// the background. If subscribing fails, the error is returned and the Consumer
// is Stopped without ever polling.
//
// Cancelling ctx after Start returns stops polling the same way Stop does.
// Deliveries do not see ctx cancellation: they are only cancelled when a Stop
// gives up waiting for them.
func (c *Consumer) Start(ctx context.Context) error {
	c.startLock.Lock()
	defer c.startLock.Unlock()
	if state := c.State(); state != Created {
		return dispatchmodels.ErrAlreadyStarted.Errorf("consumer (%s) cannot start from state (%s)", c.name, state)
	}
	c.setState(Subscribing)
	c.client.SetErrorHandler(c.handleClientError)
	err := c.client.Subscribe(ctx, c.topics)
	if err != nil {
		c.setState(Stopped)
		c.closeDone()
		return c.recordError("subscribe", errors.Errorf("consumer (%s) could not subscribe to topics %v: %w", c.name, c.topics, err))
	}
	loopCtx, cancel := context.WithCancel(ctx)
	deliveryCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.hardCancel = hardCancel
	c.setState(Polling)
	c.logf("[dispatch] consumer %s subscribed to topics %v with %s delivery", c.name, c.topics, c.order)
	go c.run(loopCtx, deliveryCtx)
	return nil
}

// Stop ends polling, waits for in-flight deliveries, and unsubscribes.
//
// The wait is bounded by the drain timeout (WithDrainTimeout) and by ctx. If
// either runs out first, delivery contexts are cancelled, the log client is
// unsubscribed without waiting further, and ErrDrainTimeout is returned. The
// abandoned deliveries are still tracked: Done closes when they return.
//
// Calling Stop again after a forced stop returns nil at once.
func (c *Consumer) Stop(ctx context.Context) error {
	c.startLock.Lock()
	cancel := c.cancel
	if cancel == nil {
		c.setState(Stopped)
		c.closeDone()
		c.startLock.Unlock()
		return nil
	}
	c.startLock.Unlock()
	if c.forced.Load() {
		return nil
	}
	cancel()

	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	running := c.inFlight.Load()
	if c.forced.Swap(true) {
		return nil
	}
	c.hardCancel()
	c.unsubscribeOnce()
	c.setState(Stopped)
	return c.recordError("drain", dispatchmodels.ErrDrainTimeout.Errorf("consumer (%s) stopped with %d deliveries still running", c.name, running))
}

// run is the poll loop. It exits when ctx is cancelled, but only between batches.
func (c *Consumer) run(ctx context.Context, deliveryCtx context.Context) {
	defer c.finish()
	for {
		batch, err := c.poll(ctx)
		if err != nil {
			c.logf("[dispatch] consumer %s done polling topics %v", c.name, c.topics)
			return
		}
		if deliveryCtx.Err() != nil {
			// a forced stop finished while the poll was outstanding; the batch is
			// left unacknowledged
			c.logf("[dispatch] consumer %s dropping batch of %d polled after a forced stop", c.name, len(batch))
			return
		}
		c.dispatchBatch(deliveryCtx, batch)
		if ctx.Err() != nil {
			c.logf("[dispatch] consumer %s stopping after draining batch for topics %v", c.name, c.topics)
			return
		}
	}
}

func (c *Consumer) finish() {
	c.unsubscribeOnce()
	c.hardCancel()
	c.setState(Stopped)
	c.closeDone()
}

func (c *Consumer) unsubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	err := c.client.Unsubscribe(ctx)
	if err != nil {
		_ = c.recordError("unsubscribe", errors.Errorf("consumer (%s) could not unsubscribe from topics %v: %w", c.name, c.topics, err))
		return
	}
	c.logf("[dispatch] consumer %s unsubscribed from topics %v", c.name, c.topics)
}

func (c *Consumer) dispatchBatch(ctx context.Context, batch dispatchmodels.Batch) {
	BatchSizes.WithLabelValues(c.name).Observe(float64(len(batch)))
	if len(batch) == 0 {
		return
	}
	for _, msg := range batch {
		MessagesPolled.WithLabelValues(msg.Topic).Inc()
	}
	c.setState(Dispatching)
	start := time.Now()
	ctx, doneSpan := c.beginSpan(ctx, map[string]string{
		"action":   "dispatch batch",
		"consumer": c.name,
		"order":    c.order.String(),
		"size":     strconv.Itoa(len(batch)),
	})
	defer doneSpan()
	if debugPoll {
		c.logf("[dispatch] Debug: consumer %s dispatching batch of %d from %v", c.name, len(batch), batch.Topics())
	}
	c.dispatcher.dispatch(ctx, batch, c.deliver)
	BatchLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if debugPoll {
		c.logf("[dispatch] Debug: consumer %s batch of %d resolved in %s", c.name, len(batch), time.Since(start))
	}
	c.acknowledge(ctx, batch)
}

// acknowledge tells the client that the batch is done. Batches that were cut
// short by a forced stop are not acknowledged.
func (c *Consumer) acknowledge(ctx context.Context, batch dispatchmodels.Batch) {
	acknowledger, ok := c.client.(dispatchmodels.BatchAcknowledger)
	if !ok || ctx.Err() != nil {
		return
	}
	ackCtx, cancel := context.WithTimeout(ctx, unsubscribeTimeout)
	defer cancel()
	err := acknowledger.Acknowledge(ackCtx, batch)
	if err != nil {
		_ = c.recordError("acknowledge", errors.Errorf("consumer (%s) could not acknowledge batch of (%d) from %v: %w", c.name, len(batch), batch.Topics(), err))
	}
}

// handleClientError receives errors that the log client recovers from by itself.
// They are reported and otherwise ignored.
func (c *Consumer) handleClientError(err error) {
	if err == nil {
		return
	}
	ClientErrorCounts.WithLabelValues(c.name).Inc()
	_ = c.recordError("log client", errors.Errorf("consumer (%s) log client for topics %v: %w", c.name, c.topics, err))
	if c.errorHandler != nil {
		c.errorHandler(err)
	}
}

func (c *Consumer) beginSpan(ctx context.Context, kv map[string]string) (context.Context, func()) {
	if c.tracerConfig.BeginSpan == nil {
		return ctx, func() {}
	}
	return c.tracerConfig.BeginSpan(ctx, kv)
}

func (c *Consumer) logf(format string, args ...any) {
	if c.tracer != nil {
		c.tracer.Logf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

func (c *Consumer) recordError(category string, err error) error {
	ErrorCounts.WithLabelValues(category).Inc()
	c.logf("[dispatch] %s error: %+v", category, err)
	return err
}
