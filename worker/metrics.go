// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sendAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayproxy",
			Subsystem: "send",
			Name:      "attempts_total",
			Help:      "Number of target calls attempted by the Send Worker, by outcome.",
		},
		[]string{"outcome"}, // sent, transport_error, status_error
	)

	replyAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayproxy",
			Subsystem: "reply",
			Name:      "attempts_total",
			Help:      "Number of reply deliveries attempted, by outcome.",
		},
		[]string{"outcome"}, // completed, transport_error, status_error
	)

	requeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayproxy",
			Subsystem: "requeue",
			Name:      "activities_total",
			Help:      "Number of SENT_FAILED activities moved back to SCHEDULED.",
		},
	)

	cleanedUpTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayproxy",
			Subsystem: "cleanup",
			Name:      "activities_total",
			Help:      "Number of COMPLETED activities deleted after retention expiry.",
		},
	)

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relayproxy",
			Name:      "worker_tick_seconds",
			Help:      "Time spent in one worker tick.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
)

func init() {
	prometheus.MustRegister(sendAttempts, replyAttempts, requeuedTotal, cleanedUpTotal, tickDuration)
}
