package competition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesWon = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoter",
		Subsystem: "competition",
		Name:      "queries_won_total",
		Help:      "Number of winning estimates per estimator and order kind.",
	}, []string{"estimator", "order_kind"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoter",
		Subsystem: "competition",
		Name:      "requests_total",
		Help:      "Estimator requests that were executed or saved by early returns.",
	}, []string{"status"})
)
