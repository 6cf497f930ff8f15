package sync

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Structs

// Metrics bundles the counters of the replication core. When no
// Prometheus address is configured all counters discard their input.
type Metrics struct {
	Merges      metrics.Counter
	Conflicts   metrics.Counter
	Resolutions metrics.Counter
	OpsApplied  metrics.Counter
}

// Functions

// NewMetrics wires the replication counters to Prometheus if an address
// is supplied, to discard backends otherwise.
func NewMetrics(prometheusAddr string) *Metrics {

	if prometheusAddr == "" {
		return &Metrics{
			Merges:      discard.NewCounter(),
			Conflicts:   discard.NewCounter(),
			Resolutions: discard.NewCounter(),
			OpsApplied:  discard.NewCounter(),
		}
	}

	return &Metrics{
		Merges: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "weave",
			Subsystem: "sync",
			Name:      "merges_total",
			Help:      "Number of merge attempts",
		}, []string{"crdt_type", "result"}),
		Conflicts: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "weave",
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Number of merges surfacing a conflict",
		}, []string{"crdt_type"}),
		Resolutions: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "weave",
			Subsystem: "sync",
			Name:      "resolutions_total",
			Help:      "Number of manually resolved conflicts",
		}, []string{"option"}),
		OpsApplied: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "weave",
			Subsystem: "sync",
			Name:      "operations_applied_total",
			Help:      "Number of replayed remote operations",
		}, []string{"crdt_type"}),
	}
}

// RunPromHTTP exposes collected metrics via HTTP if an address is
// configured.
func RunPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	http.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)

	err := http.ListenAndServe(addr, nil)
	level.Error(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
}
