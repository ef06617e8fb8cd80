package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dedupLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_lookups_total",
		Help: "Total number of replay cache lookups by backend and result",
	}, []string{"backend", "result"})

	dedupRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_records_total",
		Help: "Total number of decisions written to the replay cache by backend and result",
	}, []string{"backend", "result"})

	dedupEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_evictions_total",
		Help: "Total number of replay cache entries evicted before a retry arrived",
	}, []string{"backend"})
)

func recordLookup(backend string, hit bool, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	dedupLookupsTotal.WithLabelValues(backend, result).Inc()
}

func recordWrite(backend, result string) {
	dedupRecordsTotal.WithLabelValues(backend, result).Inc()
}
