// Package dispatchmodels has the types and interfaces shared between the
// dispatch loop and the log clients and delivery targets that plug into it.
package dispatchmodels

import (
	"strconv"
	"time"
)

// Message is one record pulled from the log. Messages are never modified
// after they are fetched.
type Message struct {
	Topic     string
	Partition int
	Offset    int64 // monotonic within a partition
	Key       []byte
	Value     []byte
	Headers   []Header
	Time      time.Time
}

type Header struct {
	Key   string
	Value []byte
}

// Batch is the result of one poll. It may be empty. Fetch order is preserved.
type Batch []*Message

// Coordinates identifies the message within the log: topic/partition@offset
func (m *Message) Coordinates() string {
	return m.Topic + "/" + strconv.Itoa(m.Partition) + "@" + strconv.FormatInt(m.Offset, 10)
}

// Header returns the value of the first header with the given key
func (m *Message) Header(key string) ([]byte, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// Topics lists the distinct topics in the batch in the order first seen
func (b Batch) Topics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, msg := range b {
		if _, ok := seen[msg.Topic]; ok {
			continue
		}
		seen[msg.Topic] = struct{}{}
		topics = append(topics, msg.Topic)
	}
	return topics
}
