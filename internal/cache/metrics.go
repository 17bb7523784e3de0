package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apidirectory_cache_requests_total",
			Help: "Cache lookups by store and result (hit, miss)",
		},
		[]string{"store", "result"},
	)

	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apidirectory_cache_evictions_total",
			Help: "Entries removed from a store by reason (expired, integrity, invalidated)",
		},
		[]string{"store", "reason"},
	)

	cachePersistWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apidirectory_cache_persist_writes_total",
			Help: "Snapshot writes of the persistent cache by result (written, unchanged, failed)",
		},
		[]string{"result"},
	)
)
