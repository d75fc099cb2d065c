package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// strategyRequests tracks resolutions by strategy and outcome
	strategyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinekit_strategy_requests_total",
			Help: "Total strategy resolutions by strategy and outcome",
		},
		[]string{"strategy", "outcome"}, // outcome: "hit", "network", "stale", "fallback", "error"
	)

	// swrRefreshes counts background revalidations
	swrRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_swr_refreshes_total",
			Help: "Total stale-while-revalidate background refreshes",
		},
	)

	// revalidations counts 304 Not Modified answers
	revalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_revalidations_total",
			Help: "Total 304 Not Modified revalidations",
		},
	)
)
