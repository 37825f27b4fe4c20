package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xtreamcache",
		Subsystem: "refresh",
		Name:      "attempts_total",
		Help:      "Refresh attempts by terminal result.",
	}, []string{"result"}) // success, failure, cancelled, superseded

	refreshInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xtreamcache",
		Subsystem: "refresh",
		Name:      "in_flight",
		Help:      "1 while a refresh is running.",
	})

	refreshProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xtreamcache",
		Subsystem: "refresh",
		Name:      "progress",
		Help:      "Fraction of categories synchronized in the current refresh.",
	})

	lastSuccessTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xtreamcache",
		Subsystem: "refresh",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last published snapshot.",
	})

	snapshotEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xtreamcache",
		Subsystem: "snapshot",
		Name:      "entries",
		Help:      "Entries in the currently published snapshot.",
	})
)
