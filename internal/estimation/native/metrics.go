package native

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheAccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoter",
		Subsystem: "native_price_cache",
		Name:      "access_total",
		Help:      "Native price cache accesses by outcome.",
	}, []string{"result"})

	cacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quoter",
		Subsystem: "native_price_cache",
		Name:      "entries",
		Help:      "Number of entries the native price cache holds.",
	})

	outdatedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quoter",
		Subsystem: "native_price_cache",
		Name:      "outdated_entries",
		Help:      "Number of cache entries the background task considers outdated.",
	})

	backgroundUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quoter",
		Subsystem: "native_price_cache",
		Name:      "background_updates_total",
		Help:      "Number of prices refreshed by the background task.",
	})

	batchFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoter",
		Subsystem: "native_price_cache",
		Name:      "batch_fetches_total",
		Help:      "Number of batched upstream fetches by outcome.",
	}, []string{"result"})
)
