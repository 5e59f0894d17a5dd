// Package kafkalog is a dispatch LogClient backed by a Kafka consumer group.
package kafkalog

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/memsql/errors"
	"github.com/segmentio/kafka-go"
	"github.com/singlestore-labs/generic"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

var (
	debugFetch  = os.Getenv("DISPATCH_DEBUG_FETCH") == "true"
	debugCommit = os.Getenv("DISPATCH_DEBUG_COMMIT") == "true"
	debugKafka  = os.Getenv("DISPATCH_DEBUG_KAFKA") == "true"
)

var commitBackoffPolicy = backoff.Exponential(
	backoff.WithMinInterval(100*time.Millisecond),
	backoff.WithMaxInterval(5*time.Second),
	backoff.WithJitterFactor(0.05),
	backoff.WithMaxRetries(5),
)

// messageReader is the part of *kafka.Reader that Client uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Client consumes topics as a member of a Kafka consumer group.
//
// Offsets are committed only for acknowledged batches: a batch is acknowledged
// once every delivery in it has returned. Commits that fail are retried with
// the next Poll and again at Unsubscribe. A batch that is never acknowledged is
// fetched again by whichever group member next owns its partitions.
type Client struct {
	config    Config
	tracer    dispatchmodels.Tracer
	clientID  string
	tlsConfig *tls.Config

	// replaced in tests
	newReader      func(kafka.ReaderConfig) messageReader
	readPartitions func(ctx context.Context, topics []string) ([]kafka.Partition, error)

	handlerLock  sync.Mutex
	errorHandler func(error)

	lock   sync.Mutex
	reader messageReader
	topics []string
	// completed holds the highest acknowledged and not yet committed message per partition
	completed map[string]kafka.Message
}

var (
	_ dispatchmodels.LogClient         = &Client{}
	_ dispatchmodels.BatchAcknowledger = &Client{}
)

// New validates the config and prepares a client. No connection is made until Subscribe.
func New(config Config, tracer dispatchmodels.Tracer) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:    config.withDefaults(),
		tracer:    tracer,
		clientID:  "dispatch-" + uuid.New().String(),
		completed: make(map[string]kafka.Message),
	}
	if config.TLS != nil {
		tlsConfig, err := config.TLS.Build()
		if err != nil {
			return nil, err
		}
		c.tlsConfig = tlsConfig
	}
	c.newReader = func(rc kafka.ReaderConfig) messageReader { return kafka.NewReader(rc) }
	c.readPartitions = c.readBrokerPartitions
	return c, nil
}

func (c *Client) SetErrorHandler(handler func(error)) {
	c.handlerLock.Lock()
	defer c.handlerLock.Unlock()
	c.errorHandler = handler
}

func (c *Client) reportError(err error) {
	c.handlerLock.Lock()
	handler := c.errorHandler
	c.handlerLock.Unlock()
	if handler != nil {
		handler(err)
		return
	}
	c.logf("[dispatch] kafka log error: %+v", err)
}

func (c *Client) logf(format string, args ...any) {
	if c.tracer != nil {
		c.tracer.Logf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

// Subscribe checks that every topic exists and joins the consumer group.
func (c *Client) Subscribe(ctx context.Context, topics []string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.reader != nil {
		return dispatchmodels.ErrAlreadySubscribed.Errorf("kafka log group (%s) already subscribed to %v", c.config.GroupID, c.topics)
	}
	if len(topics) == 0 {
		return dispatchmodels.ErrNoTopics.Errorf("kafka log group (%s) subscribe", c.config.GroupID)
	}
	partitions, err := c.readPartitions(ctx, topics)
	if err != nil {
		return errors.Errorf("kafka log could not read partitions for topics %v: %w", topics, err)
	}
	found := make(map[string]bool)
	for _, p := range partitions {
		found[p.Topic] = true
	}
	for _, topic := range topics {
		if !found[topic] {
			return errors.Errorf("kafka log topic (%s) does not exist: %w", topic, kafka.UnknownTopicOrPartition)
		}
	}
	startOffset, err := c.config.startOffset()
	if err != nil {
		return err
	}
	readerConfig := kafka.ReaderConfig{
		Brokers:        c.config.Brokers,
		GroupID:        c.config.GroupID,
		GroupTopics:    append([]string(nil), topics...),
		Dialer:         c.dialer(),
		MinBytes:       1,
		MaxBytes:       c.config.MaxBytes,
		StartOffset:    startOffset,
		CommitInterval: 0, // commits are synchronous, from Acknowledge
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			c.reportError(errors.Errorf("kafka reader for group (%s): %s", c.config.GroupID, fmt.Sprintf(msg, args...)))
		}),
	}
	if debugKafka {
		readerConfig.Logger = kafka.LoggerFunc(func(msg string, args ...interface{}) {
			c.logf("[dispatch] Debug: kafka reader "+msg, args...)
		})
	}
	c.reader = c.newReader(readerConfig)
	c.topics = append([]string(nil), topics...)
	c.logf("[dispatch] kafka log joined group %s for topics %v", c.config.GroupID, c.topics)
	return nil
}

func (c *Client) readBrokerPartitions(ctx context.Context, topics []string) ([]kafka.Partition, error) {
	dialer := c.dialer()
	var lastErr error
	for _, i := range rand.Perm(len(c.config.Brokers)) {
		broker := c.config.Brokers[i]
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			c.logf("[dispatch] kafka log could not connect to broker %s to read partitions: %v", broker, err)
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(topics...)
		_ = conn.Close()
		if err != nil {
			if errors.Is(err, kafka.UnknownTopicOrPartition) {
				return nil, err
			}
			c.logf("[dispatch] kafka log could not read partitions from broker %s: %v", broker, err)
			lastErr = err
			continue
		}
		return partitions, nil
	}
	return nil, errors.Errorf("no broker of %v answered: %w", c.config.Brokers, lastErr)
}

// Poll retries commits of anything acknowledged but not yet committed and then
// gathers up to MaxPollRecords messages. It waits up to timeout for the first
// message and then at most Linger for more. The commit retry shares the timeout
// with the fetch; offsets that still fail to commit are kept for the next
// attempt.
func (c *Client) Poll(ctx context.Context, timeout time.Duration) (dispatchmodels.Batch, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.reader == nil {
		return nil, dispatchmodels.ErrNotSubscribed.Errorf("kafka log group (%s) poll", c.config.GroupID)
	}
	deadline := time.Now().Add(timeout)
	commitCtx, commitCancel := context.WithDeadline(ctx, deadline)
	err := c.commitCompleted(commitCtx)
	commitCancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.reportError(errors.Errorf("kafka log group (%s) still has uncommitted offsets, will retry: %w", c.config.GroupID, err))
	}
	windowCtx, cancel := context.WithDeadline(ctx, deadline)
	defer func() { cancel() }()
	fetched := make([]kafka.Message, 0, c.config.MaxPollRecords)
	for len(fetched) < c.config.MaxPollRecords {
		msg, err := c.reader.FetchMessage(windowCtx)
		if err != nil {
			if windowCtx.Err() != nil {
				break
			}
			FetchErrorCounts.WithLabelValues(c.config.GroupID).Inc()
			if len(fetched) > 0 {
				// hand out what we have; the error will come back on the next fetch
				c.logf("[dispatch] kafka log fetch for group %s failed after %d messages: %v", c.config.GroupID, len(fetched), err)
				break
			}
			return nil, errors.Errorf("kafka log fetch for group (%s) failed: %w", c.config.GroupID, err)
		}
		if debugFetch {
			c.logf("[dispatch] Debug: kafka log fetched %s/%d@%d key %s", msg.Topic, msg.Partition, msg.Offset, string(msg.Key))
		}
		if len(fetched) == 0 {
			if linger := time.Now().Add(c.config.Linger); linger.Before(deadline) {
				cancel()
				windowCtx, cancel = context.WithDeadline(ctx, linger)
			}
		}
		fetched = append(fetched, msg)
	}
	if len(fetched) == 0 && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	for _, msg := range fetched {
		if !msg.Time.IsZero() {
			TransmissionLatency.WithLabelValues(msg.Topic).Observe(time.Since(msg.Time).Seconds())
		}
	}
	return generic.TransformSlice(fetched, fromKafka), nil
}

// Acknowledge records that every delivery of the batch has returned and commits
// the batch's offsets.
func (c *Client) Acknowledge(ctx context.Context, batch dispatchmodels.Batch) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, msg := range batch {
		key := partitionKey(msg.Topic, msg.Partition)
		if prior, ok := c.completed[key]; ok && prior.Offset >= msg.Offset {
			continue
		}
		c.completed[key] = kafka.Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Time:      msg.Time,
		}
	}
	if c.reader == nil {
		return dispatchmodels.ErrNotSubscribed.Errorf("kafka log group (%s) acknowledge", c.config.GroupID)
	}
	return c.commitCompleted(ctx)
}

// commitCompleted must be called with c.lock held
func (c *Client) commitCompleted(ctx context.Context) error {
	if len(c.completed) == 0 {
		return nil
	}
	messages := generic.Values(c.completed)
	if debugCommit {
		c.logf("[dispatch] Debug: kafka log committing %d partitions for group %s", len(messages), c.config.GroupID)
	}
	backoffCtx, backoffCancel := context.WithCancel(ctx)
	defer backoffCancel()
	b := commitBackoffPolicy.Start(backoffCtx)
	for {
		err := c.reader.CommitMessages(ctx, messages...)
		if err == nil {
			CommitCounts.WithLabelValues("success").Inc()
			for _, msg := range messages {
				if !msg.Time.IsZero() {
					CommitLatency.WithLabelValues(msg.Topic).Observe(time.Since(msg.Time).Seconds())
				}
			}
			clear(c.completed)
			return nil
		}
		CommitCounts.WithLabelValues("failure").Inc()
		if !backoff.Continue(b) {
			return errors.Errorf("kafka log commit of (%d) partitions for group (%s) failed: %w", len(messages), c.config.GroupID, err)
		}
		if errors.Is(err, kafka.NotCoordinatorForGroup) {
			c.logf("[dispatch] warning: commit failed due to not coordinator for group %s; will retry: %v", c.config.GroupID, err)
		} else {
			c.reportError(errors.Errorf("kafka log commit of (%d) partitions for group (%s) failed, will retry: %w", len(messages), c.config.GroupID, err))
		}
	}
}

// Unsubscribe commits acknowledged offsets and leaves the consumer group.
func (c *Client) Unsubscribe(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.reader == nil {
		return dispatchmodels.ErrNotSubscribed.Errorf("kafka log group (%s) unsubscribe", c.config.GroupID)
	}
	commitErr := c.commitCompleted(ctx)
	closeErr := c.reader.Close()
	c.reader = nil
	c.logf("[dispatch] kafka log left group %s for topics %v", c.config.GroupID, c.topics)
	if commitErr != nil {
		return commitErr
	}
	if closeErr != nil {
		return errors.Errorf("kafka log close reader for group (%s): %w", c.config.GroupID, closeErr)
	}
	return nil
}

func partitionKey(topic string, partition int) string {
	return topic + ":" + strconv.Itoa(partition)
}

func fromKafka(msg kafka.Message) *dispatchmodels.Message {
	return &dispatchmodels.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers: generic.TransformSlice(msg.Headers, func(h kafka.Header) dispatchmodels.Header {
			return dispatchmodels.Header{Key: h.Key, Value: h.Value}
		}),
		Time: msg.Time,
	}
}
