package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solswap_attempts_total", Help: "Swap attempts by terminal state"},
		[]string{"state"},
	)
	SimulationWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "solswap_simulation_warnings_total", Help: "Simulations that reported an error but were submitted anyway"},
	)
	FeedResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solswap_price_feed_results_total", Help: "Price feed lookups by status"},
		[]string{"status"},
	)
	RecomputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solswap_price_recomputes_total", Help: "Price sync recomputes by outcome"},
		[]string{"outcome"},
	)
	BalanceWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solswap_balance_warnings_total", Help: "Balance lookups that degraded to zero"},
		[]string{"network"},
	)
)

func init() {
	prometheus.MustRegister(AttemptsTotal, SimulationWarningsTotal, FeedResultsTotal, RecomputesTotal, BalanceWarningsTotal)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
