package kafkalog

import (
	"github.com/prometheus/client_golang/prometheus"
)

const prefix = "dispatch_kafka_"

func mustRegister[C prometheus.Collector](collector C) C {
	prometheus.MustRegister(collector)
	return collector
}

var CommitCounts = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "commits",
		Help: "Number of offset commits (by result)",
	},
	[]string{"result"},
))

var FetchErrorCounts = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "fetch_errors",
		Help: "Number of failed fetches (by consumer group)",
	},
	[]string{"group"},
))

var TransmissionLatency = mustRegister(prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "transmission_latency",
		Help:    "Time from message creation until it was fetched (seconds)",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 60, 300, 1800},
	},
	[]string{"topic"},
))

var CommitLatency = mustRegister(prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "ack_latency",
		Help:    "Time from message creation until its offset was committed (seconds)",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 60, 300, 1800},
	},
	[]string{"topic"},
))
