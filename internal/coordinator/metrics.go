package coordinator

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
        Name: "coord_sessions_created_total",
        Help: "Total jam sessions created",
    })

    metricSessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "coord_sessions_ended_total",
        Help: "Total jam sessions ended",
    }, []string{"reason"})

    metricJoins = promauto.NewCounter(prometheus.CounterOpts{
        Name: "coord_joins_total",
        Help: "Total successful guest joins",
    })

    metricRelays = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "coord_relays_total",
        Help: "Host command messages relayed to guests",
    }, []string{"type"})

    metricRelayUnauthorized = promauto.NewCounter(prometheus.CounterOpts{
        Name: "coord_relay_unauthorized_total",
        Help: "Relay attempts dropped for lack of host authority",
    })

    metricFanoutDrops = promauto.NewCounter(prometheus.CounterOpts{
        Name: "coord_fanout_drops_total",
        Help: "Guest connections dropped for a full outbound queue",
    })

    metricRTT = promauto.NewHistogram(prometheus.HistogramOpts{
        Name:    "coord_rtt_ms",
        Help:    "Round-trip time samples per connection",
        Buckets: prometheus.ExponentialBuckets(5, 1.6, 12),
    })
)
