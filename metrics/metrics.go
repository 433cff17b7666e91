// Package metrics provides a Prometheus-backed implementation of the
// resolver's Observer hook.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swr_cache_hits_total",
			Help: "Total cache hits, by tier.",
		},
		[]string{"tier"},
	)

	MissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swr_cache_misses_total",
			Help: "Total cache misses.",
		},
	)

	FetchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swr_cache_fetch_errors_total",
			Help: "Total remote fetches that failed after all retries.",
		},
	)

	RevalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swr_cache_revalidations_total",
			Help: "Total background revalidations started.",
		},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		HitsTotal,
		MissesTotal,
		FetchErrorsTotal,
		RevalidationsTotal,
	)
}

// Observer implements goswrcache.Observer on the package counters.
type Observer struct{}

func NewObserver() Observer { return Observer{} }

func (Observer) Hit(_, tier string) {
	HitsTotal.WithLabelValues(tier).Inc()
}

func (Observer) Miss(string) {
	MissesTotal.Inc()
}

func (Observer) FetchError(string, error) {
	FetchErrorsTotal.Inc()
}

func (Observer) Revalidate(string) {
	RevalidationsTotal.Inc()
}
