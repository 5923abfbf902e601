package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_connections_total",
		Help: "Total websocket connections accepted",
	})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connections_active",
		Help: "Currently open websocket connections",
	})

	connectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_connections_rejected_total",
		Help: "Connections rejected by the accept rate limiter",
	})

	topicsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_topics",
		Help: "Current number of topics",
	})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_subscribers",
		Help: "Current number of subscriptions across all topics",
	})

	framesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_frames_received_total",
		Help: "Client frames read from websocket connections",
	})

	messagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_messages_published_total",
		Help: "Successful publishes across all topics",
	})

	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_events_delivered_total",
		Help: "Event frames delivered to subscribers during fan-out",
	})

	replayedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_events_replayed_total",
		Help: "Event frames replayed from history on subscribe",
	})

	droppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_sends_total",
		Help: "Fan-out sends that failed on a dead connection",
	})
)
