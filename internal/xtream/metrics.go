package xtream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xtreamcache",
	Subsystem: "provider",
	Name:      "requests_total",
	Help:      "player_api calls by action and outcome.",
}, []string{"action", "outcome"}) // outcome: ok, transport_error, parse_error
