package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const prefix = "dispatch_"

var timeBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

func mustRegister[C prometheus.Collector](collector C) C {
	prometheus.MustRegister(collector)
	return collector
}

var ErrorCounts = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "errors",
		Help: "Number of errors (by category) from the dispatch loop",
	},
	[]string{"category"},
))

var PollCounts = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "polls",
		Help: "Number of polls (by consumer and result) issued to the log client",
	},
	[]string{"consumer", "result"},
))

var MessagesPolled = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "messages_polled",
		Help: "Number of messages received from the log (by topic)",
	},
	[]string{"topic"},
))

var BatchSizes = mustRegister(prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "batch_size",
		Help:    "Number of messages per polled batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	},
	[]string{"consumer"},
))

var BatchLatency = mustRegister(prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "batch_dispatch_seconds",
		Help:    "Time from receiving a batch until every delivery in it returned (seconds)",
		Buckets: timeBuckets,
	},
	[]string{"consumer"},
))

var DeliveryCounts = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "deliveries",
		Help: "Number of deliveries (by topic and outcome)",
	},
	[]string{"topic", "outcome"},
))

var DeliveryLatency = mustRegister(prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "delivery_latencies",
		Help:    "Per-message delivery times (seconds)",
		Buckets: timeBuckets,
	},
	[]string{"topic"},
))

var DeliveryPanicCounts = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "delivery_panic",
		Help: "Number of delivery target panics (by topic)",
	},
	[]string{"topic"},
))

var InFlightDeliveries = mustRegister(prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "in_flight_deliveries",
		Help: "Deliveries started and not yet returned",
	},
	[]string{"consumer"},
))

var ClientErrorCounts = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "client_errors",
		Help: "Number of asynchronous errors reported by the log client",
	},
	[]string{"consumer"},
))

var LoopState = mustRegister(prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "loop_state",
		Help: "Current state of the consumer: 0 created, 1 subscribing, 2 polling, 3 dispatching, 4 backoff, 5 stopped",
	},
	[]string{"consumer"},
))

var LongestDeliveryLatency = mustRegister(prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "unfinished_delivery_time",
		Help: "Deliveries that have been running for a while (seconds)",
	},
	[]string{"topic"},
))
