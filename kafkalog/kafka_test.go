package kafkalog_test

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/singlestore-labs/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singlestore-labs/dispatch"
	"github.com/singlestore-labs/dispatch/dispatchmodels"
	"github.com/singlestore-labs/dispatch/dispatchtest"
	"github.com/singlestore-labs/dispatch/kafkalog"
)

func createTopic(t *testing.T, broker string, topic string, partitions int) {
	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	controller, err := conn.Controller()
	require.NoError(t, err)
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer func() { _ = controllerConn.Close() }()
	require.NoError(t, controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}))
}

func TestKafkaOrderedDispatch(t *testing.T) {
	brokers := dispatchtest.KafkaBrokers(t)
	ctx, _ := dispatchtest.AutoCancel(context.Background(), t)
	tracer := dispatchtest.Tracer(t, "KAF")

	topic := "dispatch-test-" + uuid.New().String()
	createTopic(t, brokers[0], topic, 2)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	defer func() { _ = writer.Close() }()
	const count = 20
	var msgs []kafka.Message
	for i := 0; i < count; i++ {
		msgs = append(msgs, kafka.Message{
			Key:   []byte("key-" + strconv.Itoa(i%4)),
			Value: []byte(strconv.Itoa(i)),
		})
	}
	require.NoError(t, wait.For(func() (bool, error) {
		err := writer.WriteMessages(ctx, msgs...)
		if err != nil {
			t.Logf("write failed, will retry: %v", err)
			return false, nil
		}
		return true, nil
	}, wait.WithLimit(time.Minute), wait.WithMinInterval(time.Second)))

	client, err := kafkalog.New(kafkalog.Config{
		Brokers:        brokers,
		GroupID:        "dispatch-test-" + uuid.New().String(),
		MaxPollRecords: 7,
		SASL:           saslFromEnv(t),
	}, tracer)
	require.NoError(t, err)

	timeline := dispatchtest.NewTimeline()
	target := dispatchtest.NewRecordingTarget(timeline)
	consumer, err := dispatch.New(client, target, []string{topic},
		dispatch.WithDeliveryOrder(dispatchmodels.Ordered),
		dispatch.WithTracer(tracer),
		dispatch.WithName(t.Name()))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))

	require.NoError(t, wait.For(func() (bool, error) {
		return len(target.Finished()) >= count, nil
	}, wait.WithLimit(2*time.Minute), wait.WithMinInterval(100*time.Millisecond)))
	require.NoError(t, consumer.Stop(ctx))
	<-consumer.Done()

	started := target.Started()
	lastOffset := map[string]int64{}
	for _, coordinates := range started {
		var partition string
		var offset int64
		for i := len(coordinates) - 1; i >= 0; i-- {
			if coordinates[i] == '@' {
				offset, err = strconv.ParseInt(coordinates[i+1:], 10, 64)
				require.NoError(t, err)
				partition = coordinates[:i]
				break
			}
		}
		if prior, ok := lastOffset[partition]; ok {
			assert.Greaterf(t, offset, prior, "order within %s", partition)
		}
		lastOffset[partition] = offset
	}
}

func saslFromEnv(t *testing.T) kafkalog.SASLConfig {
	var sc kafkalog.SASLConfig
	require.NoError(t, sc.UnmarshalText([]byte(os.Getenv("DISPATCH_KAFKA_SASL"))))
	return sc
}
