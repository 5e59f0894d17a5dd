// Package dispatchtest has test doubles for exercising dispatch consumers
// without a real log or downstream.
package dispatchtest

import (
	"context"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/memsql/ntest"
	"github.com/singlestore-labs/once"
	"github.com/stretchr/testify/assert"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

type T = ntest.T

type Cancel func()

var verbose = os.Getenv("DISPATCH_TEST_VERBOSE_SPANS") == "true"

// KafkaBrokers skips the test unless DISPATCH_KAFKA_BROKERS is set
func KafkaBrokers(t T) []string {
	brokers := os.Getenv("DISPATCH_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("DISPATCH_KAFKA_BROKERS must be set to run this test")
	}
	return strings.Split(brokers, " ")
}

func AutoCancel(ctx context.Context, t T) (context.Context, Cancel) {
	ctx, cancel := context.WithCancel(ctx)
	onlyOnce := once.New(cancel)
	t.Cleanup(onlyOnce.Do)
	return ctx, onlyOnce.Do
}

func Tracer(t T, prefix string) dispatchmodels.Tracer {
	if prefix == "" {
		return t
	}
	return ntest.ExtraDetailLogger(t, prefix)
}

// GetTracerConfig returns a TracerConfig that fails the test if any span
// is not closed exactly once by the end of the test.
func GetTracerConfig(t T) dispatchmodels.TracerConfig {
	var counter atomic.Int32
	return dispatchmodels.TracerConfig{
		BeginSpan: func(ctx context.Context, kv map[string]string) (context.Context, func()) {
			spanID := t.Name() + strconv.Itoa(int(counter.Add(1)))
			if verbose {
				t.Logf("starting span %s with %v", spanID, kv)
			}
			stack := string(debug.Stack())
			var closed atomic.Int32
			t.Cleanup(func() {
				assert.Equalf(t, int32(1), closed.Load(), "count of times span %s %v has been closed, span started at %s", spanID, kv, stack)
			})
			return ctx, func() {
				if verbose {
					t.Logf("ending span %s with %v", spanID, kv)
				}
				closed.Add(1)
			}
		},
	}
}

// Msg builds a message. The key is "k<offset>" and the value is the coordinates.
func Msg(topic string, partition int, offset int64) *dispatchmodels.Message {
	m := &dispatchmodels.Message{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       []byte("k" + strconv.FormatInt(offset, 10)),
	}
	m.Value = []byte(m.Coordinates())
	return m
}

// KeyedMsg is Msg with an explicit key
func KeyedMsg(topic string, partition int, offset int64, key string) *dispatchmodels.Message {
	m := Msg(topic, partition, offset)
	m.Key = []byte(key)
	return m
}
