package dispatch

import (
	"sync"
	"time"

	"github.com/muir/gwrap"
)

// deliveriesInProgressM tracks how long deliveries are taking so that stuck
// delivery targets show up in metrics before the batch they block is done.
// Only the oldest delivery per topic is reported, every 10 seconds.
var deliveriesInProgressM gwrap.SyncMap[string, *deliveryInProgressQueue]

const updateFrequency = 10 * time.Second

func init() {
	go func() {
		for {
			time.Sleep(updateFrequency)
			reportLongestDeliveries()
		}
	}()
}

func reportLongestDeliveries() {
	deliveriesInProgressM.Range(func(topic string, q *deliveryInProgressQueue) bool {
		LongestDeliveryLatency.WithLabelValues(topic).Set(q.oldest().Seconds())
		return true
	})
}

type deliveryInProgressQueue struct {
	mu    sync.Mutex
	queue *gwrap.PriorityQueue[int64, *deliveryInProgressItem]
}

type deliveryInProgressItem struct {
	gwrap.PQItemEmbed[int64]
	startTime time.Time
	q         *deliveryInProgressQueue
}

// oldest returns how long the longest running delivery has been running
func (q *deliveryInProgressQueue) oldest() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queue.Len() == 0 {
		return 0
	}
	item := q.queue.Dequeue()
	q.queue.Enqueue(item, item.startTime.UnixNano())
	return time.Since(item.startTime)
}

func noteDeliveryStart(topic string) *deliveryInProgressItem {
	now := time.Now()
	item := &deliveryInProgressItem{
		startTime: now,
	}
	q, _ := deliveriesInProgressM.LoadOrStore(topic, &deliveryInProgressQueue{
		queue: gwrap.NewPriorityQueue[int64, *deliveryInProgressItem](),
	})
	item.q = q
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue.Enqueue(item, now.UnixNano())
	return item
}

func noteDeliveryEnd(item *deliveryInProgressItem) {
	item.q.mu.Lock()
	defer item.q.mu.Unlock()
	item.q.queue.Remove(item)
}
