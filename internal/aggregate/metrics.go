package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sourceCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apidirectory_source_calls_total",
		Help: "Source calls made by the aggregation engine by source, operation and result (success, not_found, error)",
	},
	[]string{"source", "operation", "result"},
)
