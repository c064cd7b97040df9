package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operationsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "proclean_sync_operations_queued_total",
	Help: "The total number of operations queued while the remote system was unreachable",
}, []string{"type"})

var operationsReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "proclean_sync_operations_replayed_total",
	Help: "The total number of replay attempts by outcome",
}, []string{"type", "result"})

var drainsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "proclean_sync_drains_total",
	Help: "The total number of drain passes over the sync queue",
})

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "proclean_sync_queue_depth",
	Help: "The number of operations waiting in the sync queue",
})
